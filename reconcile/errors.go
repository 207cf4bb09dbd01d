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

package reconcile

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/dapperlabs/fork-journal/blockchain"
	"github.com/dapperlabs/fork-journal/journal"
)

var (
	// ErrReplayFailure matches every *ReplayFailure.
	ErrReplayFailure = errors.New("replay stopped before the end of the journal")
	// ErrResourceUnavailable is returned when the fork can not be reached or no longer exists.
	ErrResourceUnavailable = errors.New("simulated chain unavailable")
	// ErrExecutionReverted is the cause of a replay stopped by a reverted execution.
	ErrExecutionReverted = errors.New("execution reverted")
	// ErrClosed is returned for operations on a closed engine.
	ErrClosed = errors.New("journal session closed")
)

type unavailableError struct {
	cause error
}

func (e *unavailableError) Error() string {
	return fmt.Sprintf("%s: %s", ErrResourceUnavailable, e.cause)
}

func (e *unavailableError) Unwrap() error {
	return e.cause
}

func (e *unavailableError) Is(target error) bool {
	return target == ErrResourceUnavailable
}

// unavailable marks fork transport errors as ErrResourceUnavailable. Context errors
// and anything else are returned as they are.
func unavailable(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, blockchain.ErrForkUnavailable) || errors.Is(err, blockchain.ErrUnknownSnapshot) {
		return &unavailableError{cause: err}
	}
	return err
}

// ReplayFailure reports a replay that stopped before the end of the suffix.
// Records after the failure point are not in the journal anymore.
type ReplayFailure struct {
	// Failed is the record appended as Failed when an execution reverted. It is nil
	// when the fork could not execute the record at all.
	Failed *journal.Record
	// Survivors are the ids of the journal records after replay, in order.
	Survivors []uuid.UUID
	// Dropped are the records which were not replayed, in their original order.
	Dropped []journal.Record
	Cause   error
}

func (f *ReplayFailure) Error() string {
	return fmt.Sprintf("%s, %d records dropped: %s", ErrReplayFailure, len(f.Dropped), f.Cause)
}

func (f *ReplayFailure) Is(target error) bool {
	return target == ErrReplayFailure
}

func (f *ReplayFailure) Unwrap() error {
	return f.Cause
}

func (f *ReplayFailure) MarshalJSON() ([]byte, error) {
	reason := ""
	if f.Cause != nil {
		reason = f.Cause.Error()
	}

	return json.Marshal(struct {
		Failed    *journal.Record  `json:"failed,omitempty"`
		Survivors []uuid.UUID      `json:"survivors"`
		Dropped   []journal.Record `json:"dropped"`
		Reason    string           `json:"reason"`
	}{
		Failed:    f.Failed,
		Survivors: f.Survivors,
		Dropped:   f.Dropped,
		Reason:    reason,
	})
}
