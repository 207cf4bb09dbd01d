/*
 * Fork Journal
 *
 * Copyright 2019 Dapper Labs, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *   http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package controller

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dapperlabs/fork-journal/auth"
	errors "github.com/dapperlabs/fork-journal/middleware/errors"
	"github.com/dapperlabs/fork-journal/model"
	"github.com/dapperlabs/fork-journal/reconcile"
)

// JournalHandler serves the journal of the session found in the request cookie.
type JournalHandler struct {
	sessions *Sessions
	auth     *auth.Authenticator
	logger   *logrus.Entry
}

func NewJournalHandler(sessions *Sessions, authenticator *auth.Authenticator, logger *logrus.Entry) *JournalHandler {
	return &JournalHandler{
		sessions: sessions,
		auth:     authenticator,
		logger:   logger,
	}
}

// Routes mounts the journal endpoints, the session middleware must run before them.
func (h *JournalHandler) Routes(r chi.Router) {
	r.Get("/", h.Get)
	r.Delete("/", h.Clear)
	r.Post("/translate", h.SwitchAccount)

	r.Route("/transactions", func(r chi.Router) {
		r.Post("/", h.Append)

		r.Route("/{id}", func(r chi.Router) {
			r.Delete("/", h.Remove)
			r.Post("/retry", h.Retry)
			r.Post("/confirm", h.Confirm)
			r.Post("/fail", h.Fail)
			r.Post("/rollback", h.Rollback)
			r.Post("/decode", h.Decode)
		})
	})
}

type failInput struct {
	Reason string `json:"reason"`
}

type switchAccountInput struct {
	Account       *model.Address `json:"account"`
	RetainHistory bool           `json:"retainHistory"`
}

func (h *JournalHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.use(w, r, func(engine *reconcile.Engine) (any, error) {
		return engine.Snapshot(), nil
	})
}

func (h *JournalHandler) Append(w http.ResponseWriter, r *http.Request) {
	var tx model.Transaction
	if err := render.DecodeJSON(r.Body, &tx); err != nil {
		errors.Render(w, r, h.logger, errors.NewUserError(err.Error()))
		return
	}

	if err := tx.Validate(); err != nil {
		errors.Render(w, r, h.logger, errors.NewUserError(err.Error()))
		return
	}

	h.use(w, r, func(engine *reconcile.Engine) (any, error) {
		return engine.Append(r.Context(), tx)
	})
}

func (h *JournalHandler) Remove(w http.ResponseWriter, r *http.Request) {
	h.useRecord(w, r, func(engine *reconcile.Engine, id uuid.UUID) (any, error) {
		return engine.Remove(r.Context(), id)
	})
}

func (h *JournalHandler) Retry(w http.ResponseWriter, r *http.Request) {
	h.useRecord(w, r, func(engine *reconcile.Engine, id uuid.UUID) (any, error) {
		return engine.Retry(r.Context(), id)
	})
}

func (h *JournalHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.useRecord(w, r, func(engine *reconcile.Engine, id uuid.UUID) (any, error) {
		return engine.Confirm(r.Context(), id)
	})
}

func (h *JournalHandler) Fail(w http.ResponseWriter, r *http.Request) {
	var input failInput
	if r.ContentLength != 0 {
		if err := render.DecodeJSON(r.Body, &input); err != nil {
			errors.Render(w, r, h.logger, errors.NewUserError(err.Error()))
			return
		}
	}

	h.useRecord(w, r, func(engine *reconcile.Engine, id uuid.UUID) (any, error) {
		return engine.Fail(r.Context(), id, input.Reason)
	})
}

func (h *JournalHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	h.useRecord(w, r, func(engine *reconcile.Engine, id uuid.UUID) (any, error) {
		return engine.Rollback(r.Context(), id)
	})
}

func (h *JournalHandler) Decode(w http.ResponseWriter, r *http.Request) {
	h.useRecord(w, r, func(engine *reconcile.Engine, id uuid.UUID) (any, error) {
		return engine.Decode(r.Context(), id)
	})
}

func (h *JournalHandler) Clear(w http.ResponseWriter, r *http.Request) {
	h.use(w, r, func(engine *reconcile.Engine) (any, error) {
		removed, err := engine.Clear(r.Context())
		if err != nil {
			return nil, err
		}

		return reconcile.ReplayResult{
			Journal: engine.Snapshot(),
			Removed: removed,
		}, nil
	})
}

// SwitchAccount changes the account the session executes as. It excludes every other
// request of the session until the journal is translated.
func (h *JournalHandler) SwitchAccount(w http.ResponseWriter, r *http.Request) {
	var input switchAccountInput
	if err := render.DecodeJSON(r.Body, &input); err != nil {
		errors.Render(w, r, h.logger, errors.NewUserError(err.Error()))
		return
	}

	if input.Account == nil {
		errors.Render(w, r, h.logger, errors.NewUserError("account is required"))
		return
	}

	id, err := h.auth.GetOrCreateSession(r.Context())
	if err != nil {
		errors.Render(w, r, h.logger, err)
		return
	}

	result, err := h.sessions.SwitchAccount(r.Context(), id, *input.Account, input.RetainHistory)
	if err != nil {
		errors.Render(w, r, h.logger, err)
		return
	}

	render.JSON(w, r, result)
}

func (h *JournalHandler) use(w http.ResponseWriter, r *http.Request, fn func(engine *reconcile.Engine) (any, error)) {
	id, err := h.auth.GetOrCreateSession(r.Context())
	if err != nil {
		errors.Render(w, r, h.logger, err)
		return
	}

	var res any
	err = h.sessions.Use(id, func(engine *reconcile.Engine) error {
		var err error
		res, err = fn(engine)
		return err
	})
	if err != nil {
		errors.Render(w, r, h.logger, err)
		return
	}

	render.JSON(w, r, res)
}

func (h *JournalHandler) useRecord(
	w http.ResponseWriter,
	r *http.Request,
	fn func(engine *reconcile.Engine, id uuid.UUID) (any, error),
) {
	id, err := model.UnmarshalUUID(chi.URLParam(r, "id"))
	if err != nil {
		errors.Render(w, r, h.logger, errors.NewUserError("invalid record id"))
		return
	}

	h.use(w, r, func(engine *reconcile.Engine) (any, error) {
		return fn(engine, id)
	})
}
