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
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/dapperlabs/fork-journal/model"
)

var (
	_ Fork         = &MemoryFork{}
	_ Impersonator = &MemoryFork{}
)

// RevertRule decides whether a transaction reverts given the transactions already
// applied to the fork. It returns the revert reason, or an empty string on success.
type RevertRule func(applied []model.Transaction, tx model.Transaction) string

// MemoryFork is an in-process fork. It records the sequence of applied transactions
// instead of executing EVM code, which is enough to run the journal locally and to
// check that the fork state matches the journal.
type MemoryFork struct {
	mu        sync.Mutex
	rule      RevertRule
	applied   []model.Transaction
	snapshots map[uint64]int // snapshot id -> number of applied transactions
	counter   *uint64
	account   common.Address
	deleted   bool
}

type MemoryOption func(*MemoryFork)

// WithRevertRule sets the rule deciding which transactions revert.
func WithRevertRule(rule RevertRule) MemoryOption {
	return func(f *MemoryFork) {
		f.rule = rule
	}
}

// WithSnapshotCounter shares a snapshot counter between forks so ids keep increasing
// across fork recreation, the way a long-lived node hands them out.
func WithSnapshotCounter(counter *uint64) MemoryOption {
	return func(f *MemoryFork) {
		f.counter = counter
	}
}

func NewMemoryFork(opts ...MemoryOption) *MemoryFork {
	f := &MemoryFork{
		snapshots: map[uint64]int{},
		counter:   new(uint64),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewMemoryFactory returns a factory of memory forks sharing one snapshot counter.
func NewMemoryFactory(opts ...MemoryOption) Factory {
	counter := new(uint64)
	return FactoryFunc(func(ctx context.Context) (Fork, error) {
		return NewMemoryFork(append([]MemoryOption{WithSnapshotCounter(counter)}, opts...)...), nil
	})
}

func (f *MemoryFork) Execute(ctx context.Context, tx model.Transaction) (*ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.deleted {
		return nil, ErrForkUnavailable
	}

	result := &ExecutionResult{}
	if f.rule != nil {
		result.RevertReason = f.rule(f.applied, tx)
		result.Reverted = result.RevertReason != ""
	}

	if !result.Reverted {
		f.applied = append(f.applied, tx.Copy())
	}

	result.SnapshotID = atomic.AddUint64(f.counter, 1)
	result.TransactionHash = transactionHash(result.SnapshotID, tx)
	f.snapshots[result.SnapshotID] = len(f.applied)

	return result, nil
}

func (f *MemoryFork) Snapshot(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.deleted {
		return 0, ErrForkUnavailable
	}

	id := atomic.AddUint64(f.counter, 1)
	f.snapshots[id] = len(f.applied)
	return id, nil
}

func (f *MemoryFork) RevertTo(ctx context.Context, snapshotID uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.deleted {
		return ErrForkUnavailable
	}

	height, ok := f.snapshots[snapshotID]
	if !ok {
		return errors.Wrapf(ErrUnknownSnapshot, "snapshot %d", snapshotID)
	}

	for id := range f.snapshots {
		if id > snapshotID {
			delete(f.snapshots, id)
		}
	}
	f.applied = f.applied[:height]

	return nil
}

func (f *MemoryFork) Delete(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.deleted {
		return ErrForkUnavailable
	}

	f.deleted = true
	f.applied = nil
	f.snapshots = nil
	return nil
}

func (f *MemoryFork) Impersonate(ctx context.Context, account common.Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.deleted {
		return ErrForkUnavailable
	}
	f.account = account
	return nil
}

// Account returns the impersonated execution account.
func (f *MemoryFork) Account() common.Address {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.account
}

// State returns the transactions whose effects are live on the fork, in order.
func (f *MemoryFork) State() []model.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]model.Transaction, len(f.applied))
	for i, tx := range f.applied {
		out[i] = tx.Copy()
	}
	return out
}

func (f *MemoryFork) Deleted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleted
}

func transactionHash(snapshotID uint64, tx model.Transaction) common.Hash {
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], snapshotID)
	return crypto.Keccak256Hash(id[:], tx.To.Bytes(), tx.Data)
}
