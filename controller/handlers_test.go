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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
	"github.com/google/uuid"
	gsessions "github.com/gorilla/sessions"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dapperlabs/fork-journal/auth"
	"github.com/dapperlabs/fork-journal/blockchain"
	"github.com/dapperlabs/fork-journal/deployment"
	"github.com/dapperlabs/fork-journal/journal"
	"github.com/dapperlabs/fork-journal/middleware/httpcontext"
	"github.com/dapperlabs/fork-journal/model"
	"github.com/dapperlabs/fork-journal/sessions"
	"github.com/dapperlabs/fork-journal/storage"
)

// client keeps the session cookie between requests the way a browser does.
type client struct {
	t       *testing.T
	handler http.Handler
	cookies []*http.Cookie
}

func (c *client) do(method, path string, body any) *httptest.ResponseRecorder {
	var payload bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&payload).Encode(body))
	}

	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	for _, cookie := range c.cookies {
		req.AddCookie(cookie)
	}

	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)

	if cookies := rec.Result().Cookies(); len(cookies) > 0 {
		c.cookies = cookies
	}

	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func newTestClient(t *testing.T, forks blockchain.Factory) *client {
	logger := logrus.NewEntry(logrus.StandardLogger())
	authenticator := auth.NewAuthenticator()

	s := NewSessions(forks, 4)
	t.Cleanup(s.Close)

	r := chi.NewRouter()
	r.Use(httpcontext.Middleware())
	r.Use(sessions.Middleware(gsessions.NewCookieStore([]byte("428ce08c21b93e5f0eca24fbeb0c7673"))))

	r.Route("/journal", NewJournalHandler(s, authenticator, logger).Routes)
	NewDeploymentsHandler(deployment.NewLedger(storage.NewInMemory()), authenticator, logger).Routes(r)

	return &client{t: t, handler: r}
}

type replayResponse struct {
	Journal  []journal.Record `json:"journal"`
	Removed  []journal.Record `json:"removed"`
	Replayed []journal.Record `json:"replayed"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Failure *struct {
		Failed    *journal.Record  `json:"failed"`
		Survivors []uuid.UUID      `json:"survivors"`
		Dropped   []journal.Record `json:"dropped"`
		Reason    string           `json:"reason"`
	} `json:"failure"`
}

func Test_JournalHandler(t *testing.T) {

	t.Run("append and remove", func(t *testing.T) {
		c := newTestClient(t, &memoryForks{})

		var ids []uuid.UUID
		for _, b := range []byte{0x01, 0x02, 0x03} {
			rec := c.do(http.MethodPost, "/journal/transactions", model.Transaction{To: target, Data: []byte{b}})
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			ids = append(ids, decode[journal.Record](t, rec).ID)
		}

		rec := c.do(http.MethodGet, "/journal", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decode[[]journal.Record](t, rec), 3)

		rec = c.do(http.MethodDelete, "/journal/transactions/"+ids[1].String(), nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		res := decode[replayResponse](t, rec)
		require.Len(t, res.Removed, 1)
		assert.Equal(t, ids[1], res.Removed[0].ID)
		require.Len(t, res.Replayed, 1)
		assert.Equal(t, []byte{0x03}, res.Replayed[0].Transaction.Data)
		assert.Len(t, res.Journal, 2)
	})

	t.Run("sessions are isolated", func(t *testing.T) {
		forks := &memoryForks{}
		c := newTestClient(t, forks)

		rec := c.do(http.MethodPost, "/journal/transactions", model.Transaction{To: target, Data: []byte{0x01}})
		require.Equal(t, http.StatusOK, rec.Code)

		other := &client{t: t, handler: c.handler}
		rec = other.do(http.MethodGet, "/journal", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, decode[[]journal.Record](t, rec))
	})

	t.Run("status transitions", func(t *testing.T) {
		c := newTestClient(t, &memoryForks{})

		rec := c.do(http.MethodPost, "/journal/transactions", model.Transaction{To: target, Data: []byte{0x01}})
		require.Equal(t, http.StatusOK, rec.Code)
		id := decode[journal.Record](t, rec).ID

		rec = c.do(http.MethodPost, "/journal/transactions/"+id.String()+"/rollback", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, journal.RolledBack, decode[journal.Record](t, rec).Status)

		rec = c.do(http.MethodPost, "/journal/transactions/"+id.String()+"/confirm", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("replay failure", func(t *testing.T) {
		c := newTestClient(t, &memoryForks{rule: func(applied []model.Transaction, tx model.Transaction) string {
			if len(tx.Data) > 0 && tx.Data[0] == 0x02 && len(applied) == 0 {
				return "missing dependency"
			}
			return ""
		}})

		var ids []uuid.UUID
		for _, b := range []byte{0x01, 0x02} {
			rec := c.do(http.MethodPost, "/journal/transactions", model.Transaction{To: target, Data: []byte{b}})
			require.Equal(t, http.StatusOK, rec.Code)
			ids = append(ids, decode[journal.Record](t, rec).ID)
		}

		rec := c.do(http.MethodDelete, "/journal/transactions/"+ids[0].String(), nil)
		require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

		res := decode[errorResponse](t, rec)
		require.NotNil(t, res.Failure)
		require.NotNil(t, res.Failure.Failed)
		assert.Equal(t, journal.Failed, res.Failure.Failed.Status)
		assert.NotEmpty(t, res.Failure.Reason)
	})

	t.Run("client errors", func(t *testing.T) {
		c := newTestClient(t, &memoryForks{})

		rec := c.do(http.MethodDelete, "/journal/transactions/"+uuid.New().String(), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = c.do(http.MethodDelete, "/journal/transactions/not-an-id", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = c.do(http.MethodPost, "/journal/transactions", model.Transaction{To: target, Operation: 7})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = c.do(http.MethodPost, "/journal/translate", map[string]any{"retainHistory": true})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("clear", func(t *testing.T) {
		c := newTestClient(t, &memoryForks{})

		rec := c.do(http.MethodPost, "/journal/transactions", model.Transaction{To: target, Data: []byte{0x01}})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = c.do(http.MethodDelete, "/journal", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		res := decode[replayResponse](t, rec)
		assert.Len(t, res.Removed, 1)
		assert.Empty(t, res.Journal)
	})
}

func Test_DeploymentsHandler(t *testing.T) {
	c := newTestClient(t, &memoryForks{})

	rec := c.do(http.MethodPost, "/deployments", map[string]any{"title": "safe upgrade"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	d := decode[model.Deployment](t, rec)

	rec = c.do(http.MethodGet, "/deployments/"+d.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "safe upgrade", decode[model.Deployment](t, rec).Title)

	rec = c.do(http.MethodPost, "/deployments/"+d.ID.String()+"/slices", map[string]any{"steps": []any{}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	step := model.ExecutionStep{Account: target, Transaction: model.Transaction{To: target, Data: []byte{0x01}}}

	var slices []model.DeploymentSlice
	for i := 0; i < 2; i++ {
		rec = c.do(http.MethodPost, "/deployments/"+d.ID.String()+"/slices", map[string]any{
			"steps": []model.ExecutionStep{step},
			"from":  target,
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		slices = append(slices, decode[model.DeploymentSlice](t, rec))
	}
	assert.Equal(t, 0, slices[0].Index)
	assert.Equal(t, 1, slices[1].Index)

	rec = c.do(http.MethodPost, "/slices/"+slices[0].ID.String()+"/complete", map[string]any{"transactionHash": "0xabc"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotNil(t, decode[model.DeploymentSlice](t, rec).CompletedAt)

	rec = c.do(http.MethodPost, "/slices/"+slices[0].ID.String()+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = c.do(http.MethodGet, "/slices/"+slices[0].ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[model.DeploymentSlice](t, rec)
	assert.True(t, got.IsCompleted())
	assert.Equal(t, "0xabc", got.TransactionHash)

	rec = c.do(http.MethodGet, "/slices/"+uuid.New().String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = c.do(http.MethodPost, "/slices/"+slices[1].ID.String()+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = c.do(http.MethodGet, "/deployments/"+d.ID.String()+"/slices", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.DeploymentSlice](t, rec), 2)

	rec = c.do(http.MethodGet, "/deployments/"+uuid.New().String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
