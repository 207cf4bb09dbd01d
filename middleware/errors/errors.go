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

package errors

import (
	"context"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/render"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dapperlabs/fork-journal/blockchain"
	"github.com/dapperlabs/fork-journal/deployment"
	"github.com/dapperlabs/fork-journal/journal"
	"github.com/dapperlabs/fork-journal/reconcile"
)

type errCtxKeyType string

var sentryLevelCtxKey = errCtxKeyType("sentry-level")

// SentryLogLevel is a helper method that gets the log level from the context.
func SentryLogLevel(ctx context.Context) (sentry.Level, bool) {
	sentryLevel, ok := ctx.Value(sentryLevelCtxKey).(sentry.Level)
	return sentryLevel, ok
}

type response struct {
	Error   string                   `json:"error"`
	Failure *reconcile.ReplayFailure `json:"failure,omitempty"`
}

// Status maps an error to the HTTP status reported to the client.
func Status(err error) int {
	var userErr *UserError

	switch {
	case errors.Is(err, reconcile.ErrReplayFailure):
		return http.StatusConflict
	case errors.Is(err, journal.ErrNotFound),
		errors.Is(err, deployment.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, journal.ErrInvalidTransition),
		errors.Is(err, journal.ErrOrderingViolation),
		errors.Is(err, deployment.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, journal.ErrUntranslatableTransaction),
		errors.Is(err, blockchain.ErrUnsupportedOperation),
		errors.Is(err, deployment.ErrNoSteps):
		return http.StatusUnprocessableEntity
	case errors.Is(err, reconcile.ErrResourceUnavailable),
		errors.Is(err, reconcile.ErrClosed),
		errors.Is(err, reconcile.ErrNoResolver):
		return http.StatusServiceUnavailable
	case errors.As(err, &userErr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Render writes err to the client. Server errors are reported to sentry and hidden
// behind a generic message, client errors are only logged.
func Render(w http.ResponseWriter, r *http.Request, entry *logrus.Entry, err error) {
	status := Status(err)
	contextEntry := entry.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
	})

	res := response{Error: err.Error()}

	var failure *reconcile.ReplayFailure
	if errors.As(err, &failure) {
		res.Failure = failure
	}

	level := sentry.LevelWarning
	if status >= http.StatusInternalServerError {
		level = sentry.LevelError
	}

	switch status {
	case http.StatusInternalServerError:
		contextEntry.WithError(err).Error("Request Server Error")
		res.Error = ServerErr.Error()
		captureException(r, level, err)
	case http.StatusServiceUnavailable:
		contextEntry.WithError(err).Error("Request Unavailable Error")
		captureException(r, level, err)
	default:
		contextEntry.WithError(err).Warn("Request Client Error")
	}

	render.Status(r, status)
	render.JSON(w, r, res)
}

func captureException(r *http.Request, level sentry.Level, err error) {
	hub := sentry.GetHubFromContext(r.Context())
	if hub == nil {
		hub = sentry.CurrentHub()
	}

	client := hub.Client()
	if client == nil {
		return
	}

	ctx := context.WithValue(r.Context(), sentryLevelCtxKey, level)
	client.CaptureException(err, &sentry.EventHint{Context: ctx, OriginalException: err}, hub.Scope())
}
