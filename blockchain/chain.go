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

package blockchain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/dapperlabs/fork-journal/model"
)

var (
	// ErrForkUnavailable is returned when the fork can not be reached or was deleted.
	ErrForkUnavailable = errors.New("fork unavailable")
	// ErrUnknownSnapshot is returned when reverting to a snapshot the fork does not know,
	// or one superseded by an earlier revert.
	ErrUnknownSnapshot = errors.New("unknown snapshot")
	// ErrUnsupportedOperation is returned for calls the fork can not execute.
	ErrUnsupportedOperation = errors.New("unsupported operation")
)

// ExecutionResult is the outcome of executing a transaction on a fork.
//
// A reverted transaction still produces a snapshot: the fork advanced (block, nonce)
// even though the call had no effect.
type ExecutionResult struct {
	SnapshotID      uint64
	Reverted        bool
	RevertReason    string
	TransactionHash common.Hash
}

// Fork is a disposable, mutable simulated copy of a chain. It hides the transport from
// the consumer and communicates using journal native types.
//
// Implementations are not required to be safe for concurrent use: callers own the fork
// exclusively for the duration of every mutating call.
type Fork interface {
	// Execute applies the transaction to the current fork state and returns the id of a
	// snapshot of the resulting state.
	Execute(ctx context.Context, tx model.Transaction) (*ExecutionResult, error)

	// Snapshot captures the current state without executing anything and returns its id.
	Snapshot(ctx context.Context) (uint64, error)

	// RevertTo rolls the fork back to a snapshot previously returned by Execute or Snapshot.
	// Snapshots taken after it are superseded.
	RevertTo(ctx context.Context, snapshotID uint64) error

	// Delete discards the fork. Any later call fails with ErrForkUnavailable.
	Delete(ctx context.Context) error
}

// Impersonator is implemented by forks that can change the account executing
// transactions without being recreated.
type Impersonator interface {
	Impersonate(ctx context.Context, account common.Address) error
}

// Factory creates new forks.
type Factory interface {
	NewFork(ctx context.Context) (Fork, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(ctx context.Context) (Fork, error)

func (f FactoryFunc) NewFork(ctx context.Context) (Fork, error) {
	return f(ctx)
}
