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
	"github.com/dapperlabs/fork-journal/deployment"
	errors "github.com/dapperlabs/fork-journal/middleware/errors"
	"github.com/dapperlabs/fork-journal/model"
)

// DeploymentsHandler serves the deployment slice ledger. The session id of the
// request is recorded as the user creating, completing or cancelling.
type DeploymentsHandler struct {
	ledger *deployment.Ledger
	auth   *auth.Authenticator
	logger *logrus.Entry
}

func NewDeploymentsHandler(ledger *deployment.Ledger, authenticator *auth.Authenticator, logger *logrus.Entry) *DeploymentsHandler {
	return &DeploymentsHandler{
		ledger: ledger,
		auth:   authenticator,
		logger: logger,
	}
}

func (h *DeploymentsHandler) Routes(r chi.Router) {
	r.Route("/deployments", func(r chi.Router) {
		r.Post("/", h.CreateDeployment)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetDeployment)
			r.Post("/slices", h.CreateSlice)
			r.Get("/slices", h.ListSlices)
		})
	})

	r.Route("/slices/{id}", func(r chi.Router) {
		r.Get("/", h.GetSlice)
		r.Post("/complete", h.Complete)
		r.Post("/cancel", h.Cancel)
	})
}

type createDeploymentInput struct {
	Title string `json:"title"`
}

type createSliceInput struct {
	Steps []model.ExecutionStep `json:"steps"`
	From  model.Address         `json:"from"`
}

type completeInput struct {
	TransactionHash     string     `json:"transactionHash"`
	SignedTransactionID *uuid.UUID `json:"signedTransactionId"`
}

func (h *DeploymentsHandler) CreateDeployment(w http.ResponseWriter, r *http.Request) {
	var input createDeploymentInput
	if err := render.DecodeJSON(r.Body, &input); err != nil {
		errors.Render(w, r, h.logger, errors.NewUserError(err.Error()))
		return
	}

	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	d, err := h.ledger.CreateDeployment(r.Context(), model.NewDeployment{
		Title:       input.Title,
		CreatedByID: userID,
	})
	if err != nil {
		errors.Render(w, r, h.logger, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, d)
}

func (h *DeploymentsHandler) GetDeployment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}

	d, err := h.ledger.GetDeployment(r.Context(), id)
	if err != nil {
		errors.Render(w, r, h.logger, err)
		return
	}

	render.JSON(w, r, d)
}

func (h *DeploymentsHandler) CreateSlice(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}

	var input createSliceInput
	if err := render.DecodeJSON(r.Body, &input); err != nil {
		errors.Render(w, r, h.logger, errors.NewUserError(err.Error()))
		return
	}

	slice, err := h.ledger.CreateSlice(r.Context(), model.NewDeploymentSlice{
		DeploymentID: id,
		Steps:        input.Steps,
		From:         input.From,
	})
	if err != nil {
		errors.Render(w, r, h.logger, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, slice)
}

func (h *DeploymentsHandler) ListSlices(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}

	slices, err := h.ledger.ListSlices(r.Context(), id)
	if err != nil {
		errors.Render(w, r, h.logger, err)
		return
	}

	render.JSON(w, r, slices)
}

func (h *DeploymentsHandler) GetSlice(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}

	slice, err := h.ledger.GetSlice(r.Context(), id)
	if err != nil {
		errors.Render(w, r, h.logger, err)
		return
	}

	render.JSON(w, r, slice)
}

func (h *DeploymentsHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}

	var input completeInput
	if err := render.DecodeJSON(r.Body, &input); err != nil {
		errors.Render(w, r, h.logger, errors.NewUserError(err.Error()))
		return
	}

	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	slice, err := h.ledger.Complete(r.Context(), id, userID, input.TransactionHash, input.SignedTransactionID)
	if err != nil {
		errors.Render(w, r, h.logger, err)
		return
	}

	render.JSON(w, r, slice)
}

func (h *DeploymentsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}

	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	slice, err := h.ledger.Cancel(r.Context(), id, userID)
	if err != nil {
		errors.Render(w, r, h.logger, err)
		return
	}

	render.JSON(w, r, slice)
}

func (h *DeploymentsHandler) id(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := model.UnmarshalUUID(chi.URLParam(r, "id"))
	if err != nil {
		errors.Render(w, r, h.logger, errors.NewUserError("invalid id"))
		return uuid.Nil, false
	}
	return id, true
}

func (h *DeploymentsHandler) user(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, err := h.auth.GetOrCreateSession(r.Context())
	if err != nil {
		errors.Render(w, r, h.logger, err)
		return uuid.Nil, false
	}
	return userID, true
}
