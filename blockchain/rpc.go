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
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/getsentry/sentry-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dapperlabs/fork-journal/model"
)

var (
	_ Fork         = &rpcFork{}
	_ Impersonator = &rpcFork{}
)

// revertErrorCode is the JSON-RPC error code nodes use for reverted executions.
const revertErrorCode = 3

// rpcFork drives a forking node (anvil or hardhat compatible) over JSON-RPC. A fork
// owns its node exclusively: the state found at creation is captured as the base
// snapshot and restored when the fork is deleted.
//
// Node snapshot ids are consumed by evm_revert, while journal records keep their
// snapshot ids for as long as they exist. The fork therefore hands out its own
// monotonic ids and maps each one to the node id currently capturing that state,
// re-snapshotting after every revert.
type rpcFork struct {
	mu        sync.Mutex
	client    *rpc.Client
	from      common.Address
	counter   *uint64
	base      string
	snapshots map[uint64]string
	deleted   bool
	// release hands the node back once its base state is restored
	release func()
}

type sendArgs struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to"`
	Value *hexutil.Big    `json:"value,omitempty"`
	Data  hexutil.Bytes   `json:"data,omitempty"`
}

type receipt struct {
	Status hexutil.Uint64 `json:"status"`
}

// NewRPCFork wraps a client connected to a node nothing else uses. Transactions are
// sent from the impersonated execution account.
func NewRPCFork(ctx context.Context, client *rpc.Client, from common.Address) (Fork, error) {
	return newRPCFork(ctx, client, from, new(uint64))
}

func newRPCFork(ctx context.Context, client *rpc.Client, from common.Address, counter *uint64) (*rpcFork, error) {
	err := client.CallContext(ctx, nil, "anvil_impersonateAccount", from)
	if err != nil {
		return nil, classify(err, "failed to impersonate execution account")
	}

	f := &rpcFork{
		client:    client,
		from:      from,
		counter:   counter,
		snapshots: map[uint64]string{},
	}

	f.base, err = f.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	return f, nil
}

// endpoints leases node urls to forks, one fork per node at a time.
type endpoints struct {
	free chan string
}

func newEndpoints(urls []string) *endpoints {
	e := &endpoints{free: make(chan string, len(urls))}
	for _, url := range urls {
		e.free <- url
	}
	return e
}

func (e *endpoints) lease() (string, bool) {
	select {
	case url := <-e.free:
		return url, true
	default:
		return "", false
	}
}

func (e *endpoints) release(url string) {
	e.free <- url
}

// NewRPCFactory returns a factory handing every new fork one of the nodes at urls.
// A node serves a single fork until that fork is deleted, so at most len(urls) forks
// are live at once. Forks of one factory share their snapshot ids.
func NewRPCFactory(urls []string, from common.Address) Factory {
	counter := new(uint64)
	nodes := newEndpoints(urls)

	return FactoryFunc(func(ctx context.Context) (Fork, error) {
		url, ok := nodes.lease()
		if !ok {
			return nil, errors.Wrap(ErrForkUnavailable, "every fork node is in use")
		}

		client, err := rpc.DialContext(ctx, url)
		if err != nil {
			nodes.release(url)
			return nil, errors.Wrap(ErrForkUnavailable, err.Error())
		}

		fork, err := newRPCFork(ctx, client, from, counter)
		if err != nil {
			client.Close()
			nodes.release(url)
			return nil, err
		}

		fork.release = func() {
			nodes.release(url)
		}

		return fork, nil
	})
}

func (f *rpcFork) Execute(ctx context.Context, tx model.Transaction) (*ExecutionResult, error) {
	if tx.Operation != model.Call {
		return nil, errors.Wrapf(ErrUnsupportedOperation, "%s can not be sent from an account", tx.Operation)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.deleted {
		return nil, ErrForkUnavailable
	}

	to := tx.To
	args := sendArgs{
		From:  f.from,
		To:    &to,
		Value: (*hexutil.Big)(tx.Value),
		Data:  tx.Data,
	}

	result := &ExecutionResult{}

	err := f.client.CallContext(ctx, &result.TransactionHash, "eth_sendTransaction", args)
	switch {
	case isRevert(err):
		// the call reverted during auto-mining
		result.Reverted = true
		result.RevertReason = err.Error()
	case err != nil:
		return nil, classify(err, "failed to send transaction")
	default:
		var rcpt receipt
		err = f.client.CallContext(ctx, &rcpt, "eth_getTransactionReceipt", result.TransactionHash)
		if err != nil {
			return nil, classify(err, "failed to get transaction receipt")
		}
		if rcpt.Status == 0 {
			result.Reverted = true
			result.RevertReason = "execution reverted"
		}
	}

	result.SnapshotID, err = f.capture(ctx)
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Snapshot captures the current state without executing anything.
func (f *rpcFork) Snapshot(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.deleted {
		return 0, ErrForkUnavailable
	}

	return f.capture(ctx)
}

func (f *rpcFork) capture(ctx context.Context) (uint64, error) {
	nodeID, err := f.snapshot(ctx)
	if err != nil {
		return 0, err
	}

	id := atomic.AddUint64(f.counter, 1)
	f.snapshots[id] = nodeID

	return id, nil
}

func (f *rpcFork) RevertTo(ctx context.Context, snapshotID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.deleted {
		return ErrForkUnavailable
	}

	nodeID, ok := f.snapshots[snapshotID]
	if !ok {
		return errors.Wrapf(ErrUnknownSnapshot, "snapshot %d", snapshotID)
	}

	if err := f.revert(ctx, nodeID); err != nil {
		return errors.Wrapf(err, "snapshot %d", snapshotID)
	}

	for id := range f.snapshots {
		if id > snapshotID {
			delete(f.snapshots, id)
		}
	}

	// the node consumed the snapshot, capture the reverted state again under the same id
	nodeID, err := f.snapshot(ctx)
	if err != nil {
		return err
	}
	f.snapshots[snapshotID] = nodeID

	return nil
}

// Delete restores the state the node had when the fork was created and releases the
// node. A node whose state could not be restored is not handed out again.
func (f *rpcFork) Delete(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.deleted {
		return ErrForkUnavailable
	}
	f.deleted = true
	f.snapshots = nil

	defer f.client.Close()

	if err := f.revert(ctx, f.base); err != nil {
		sentry.CaptureException(errors.Wrap(err, "failed to restore fork node"))
		logrus.WithError(err).Error("fork node retired, its base state could not be restored")
		return err
	}

	if f.release != nil {
		f.release()
	}

	return nil
}

// Impersonate switches the account transactions are sent from.
func (f *rpcFork) Impersonate(ctx context.Context, account common.Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.deleted {
		return ErrForkUnavailable
	}

	err := f.client.CallContext(ctx, nil, "anvil_impersonateAccount", account)
	if err != nil {
		return classify(err, "failed to impersonate execution account")
	}
	f.from = account

	return nil
}

func (f *rpcFork) snapshot(ctx context.Context) (string, error) {
	var nodeID string
	err := f.client.CallContext(ctx, &nodeID, "evm_snapshot")
	if err != nil {
		return "", classify(err, "failed to snapshot fork")
	}
	return nodeID, nil
}

func (f *rpcFork) revert(ctx context.Context, nodeID string) error {
	var reverted bool
	err := f.client.CallContext(ctx, &reverted, "evm_revert", nodeID)
	if err != nil {
		return classify(err, "failed to revert fork")
	}
	if !reverted {
		return errors.Wrapf(ErrUnknownSnapshot, "node rejected snapshot %s", nodeID)
	}
	return nil
}

// isRevert reports whether the node rejected a transaction because its execution
// reverted, as opposed to a node or account problem.
func isRevert(err error) bool {
	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) {
		return false
	}
	if rpcErr.ErrorCode() == revertErrorCode {
		return true
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) && dataErr.ErrorData() != nil {
		return true
	}

	return strings.Contains(strings.ToLower(rpcErr.Error()), "revert")
}

// classify maps transport failures to ErrForkUnavailable and keeps context errors intact.
func classify(err error, msg string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(err, msg)
	}
	return errors.Wrap(ErrForkUnavailable, fmt.Sprintf("%s: %s", msg, err))
}
