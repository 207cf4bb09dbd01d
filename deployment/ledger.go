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

// Package deployment keeps the ordered slices of multi-step deployments.
package deployment

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dapperlabs/fork-journal/model"
	"github.com/dapperlabs/fork-journal/storage"
)

var (
	ErrNotFound     = errors.New("deployment not found")
	ErrInvalidState = errors.New("invalid deployment slice state")
	ErrNoSteps      = errors.New("deployment slice has no steps")
)

type Ledger struct {
	store storage.Store
	now   func() time.Time
}

func NewLedger(store storage.Store) *Ledger {
	return &Ledger{
		store: store,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (l *Ledger) CreateDeployment(ctx context.Context, input model.NewDeployment) (*model.Deployment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dep := &model.Deployment{
		ID:          uuid.New(),
		Title:       input.Title,
		CreatedByID: input.CreatedByID,
	}

	if err := l.store.InsertDeployment(dep); err != nil {
		return nil, errors.Wrap(err, "failed to store deployment")
	}

	return dep, nil
}

func (l *Ledger) GetDeployment(ctx context.Context, id uuid.UUID) (*model.Deployment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var dep model.Deployment
	if err := l.store.GetDeployment(id, &dep); err != nil {
		return nil, notFound(err, "deployment %s", id)
	}

	return &dep, nil
}

// CreateSlice appends a slice to the deployment at the index following its last slice.
func (l *Ledger) CreateSlice(ctx context.Context, input model.NewDeploymentSlice) (*model.DeploymentSlice, error) {
	if len(input.Steps) == 0 {
		return nil, ErrNoSteps
	}

	if _, err := l.GetDeployment(ctx, input.DeploymentID); err != nil {
		return nil, err
	}

	slice := &model.DeploymentSlice{
		ID:           uuid.New(),
		DeploymentID: input.DeploymentID,
		Steps:        input.Steps,
		From:         input.From,
	}

	if err := l.store.InsertDeploymentSlice(slice); err != nil {
		return nil, errors.Wrap(err, "failed to store deployment slice")
	}

	return slice, nil
}

// GetSlice returns one slice. A slice with an impossible combination of terminal
// fields is reported as ErrInvalidState.
func (l *Ledger) GetSlice(ctx context.Context, id uuid.UUID) (*model.DeploymentSlice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var slice model.DeploymentSlice
	if err := l.store.GetDeploymentSlice(id, &slice); err != nil {
		return nil, notFound(err, "slice %s", id)
	}

	if err := assertDeploymentSlice(&slice); err != nil {
		return nil, err
	}

	return &slice, nil
}

// ListSlices returns the slices of the deployment by ascending index.
func (l *Ledger) ListSlices(ctx context.Context, deploymentID uuid.UUID) ([]*model.DeploymentSlice, error) {
	if _, err := l.GetDeployment(ctx, deploymentID); err != nil {
		return nil, err
	}

	var slices []*model.DeploymentSlice
	if err := l.store.GetSlicesForDeployment(deploymentID, &slices); err != nil {
		return nil, errors.Wrap(err, "failed to get deployment slices")
	}

	for _, s := range slices {
		if err := assertDeploymentSlice(s); err != nil {
			return nil, err
		}
	}

	return slices, nil
}

// Complete marks an active slice as completed by userID with the transaction
// executing it. The completion fields are written together or not at all.
func (l *Ledger) Complete(
	ctx context.Context,
	sliceID uuid.UUID,
	userID uuid.UUID,
	txHash string,
	signedTxID *uuid.UUID,
) (*model.DeploymentSlice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := l.now()

	var slice model.DeploymentSlice
	err := l.store.UpdateDeploymentSlice(sliceID, storage.SliceUpdate{
		Columns: func(current *model.DeploymentSlice) (map[string]any, error) {
			if err := checkActive(current); err != nil {
				return nil, err
			}
			return map[string]any{
				"completed_at":          now,
				"completed_by_id":       userID,
				"transaction_hash":      txHash,
				"signed_transaction_id": signedTxID,
			}, nil
		},
		Verify: func(updated *model.DeploymentSlice) error {
			if updated.CompletedAt == nil || updated.CompletedByID == nil || *updated.CompletedByID != userID {
				return errors.Wrapf(ErrInvalidState, "slice %s: completion was not persisted", sliceID)
			}
			return assertDeploymentSlice(updated)
		},
	}, &slice)
	if err != nil {
		return nil, notFound(err, "slice %s", sliceID)
	}

	return &slice, nil
}

// Cancel marks an active slice as cancelled by userID.
func (l *Ledger) Cancel(ctx context.Context, sliceID uuid.UUID, userID uuid.UUID) (*model.DeploymentSlice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := l.now()

	var slice model.DeploymentSlice
	err := l.store.UpdateDeploymentSlice(sliceID, storage.SliceUpdate{
		Columns: func(current *model.DeploymentSlice) (map[string]any, error) {
			if err := checkActive(current); err != nil {
				return nil, err
			}
			return map[string]any{
				"cancelled_at":    now,
				"cancelled_by_id": userID,
			}, nil
		},
		Verify: func(updated *model.DeploymentSlice) error {
			if updated.CancelledAt == nil || updated.CancelledByID == nil || *updated.CancelledByID != userID {
				return errors.Wrapf(ErrInvalidState, "slice %s: cancellation was not persisted", sliceID)
			}
			return assertDeploymentSlice(updated)
		},
	}, &slice)
	if err != nil {
		return nil, notFound(err, "slice %s", sliceID)
	}

	return &slice, nil
}

func checkActive(slice *model.DeploymentSlice) error {
	if err := assertDeploymentSlice(slice); err != nil {
		return err
	}
	if slice.IsCancelled() {
		return errors.Wrapf(ErrInvalidState, "slice %s was cancelled", slice.ID)
	}
	if slice.IsCompleted() {
		return errors.Wrapf(ErrInvalidState, "slice %s was already completed", slice.ID)
	}
	return nil
}

// assertDeploymentSlice fails on any combination of terminal fields other than none,
// the completion pair or the cancellation pair. Such a row is a defect and is reported.
func assertDeploymentSlice(slice *model.DeploymentSlice) error {
	completedAt, completedBy := slice.CompletedAt != nil, slice.CompletedByID != nil
	cancelledAt, cancelledBy := slice.CancelledAt != nil, slice.CancelledByID != nil

	var reason string
	switch {
	case completedAt != completedBy:
		reason = "partial completion"
	case cancelledAt != cancelledBy:
		reason = "partial cancellation"
	case completedAt && cancelledAt:
		reason = "both completed and cancelled"
	case !completedAt && (slice.TransactionHash != "" || slice.SignedTransactionID != nil):
		reason = "transaction recorded without completion"
	default:
		return nil
	}

	err := errors.Wrapf(ErrInvalidState, "slice %s: %s", slice.ID, reason)

	logrus.WithFields(logrus.Fields{
		"slice":      slice.ID,
		"deployment": slice.DeploymentID,
	}).WithError(err).Error("corrupt deployment slice")
	sentry.CaptureException(err)

	return err
}

func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, storage.ErrNotFound) {
		return errors.Wrapf(ErrNotFound, format, args...)
	}
	return err
}
