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
	"math/big"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dapperlabs/fork-journal/model"
)

// node is a minimal forking node speaking the anvil JSON-RPC dialect.
type node struct {
	mu           sync.Mutex
	height       int
	nextSnapshot uint64
	snapshots    map[string]int
	impersonated common.Address
	sender       common.Address
}

// nodeError carries a JSON-RPC error code and data the way nodes report failures.
type nodeError struct {
	code int
	msg  string
	data interface{}
}

func (e *nodeError) Error() string          { return e.msg }
func (e *nodeError) ErrorCode() int         { return e.code }
func (e *nodeError) ErrorData() interface{} { return e.data }

type ethService struct{ n *node }

func (s *ethService) SendTransaction(args sendArgs) (common.Hash, error) {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()

	if len(args.Data) > 0 {
		switch args.Data[0] {
		case 0xff:
			return common.Hash{}, errors.New("execution reverted: boom")
		case 0xfe:
			return common.Hash{}, &nodeError{code: revertErrorCode, msg: "custom error", data: "0x08c379a0"}
		case 0xee:
			return common.Hash{}, errors.New("insufficient funds for gas * price + value")
		}
	}
	s.n.sender = args.From
	s.n.height++
	return common.BigToHash(big.NewInt(int64(s.n.height))), nil
}

func (s *ethService) GetTransactionReceipt(hash common.Hash) (*receipt, error) {
	return &receipt{Status: 1}, nil
}

type evmService struct{ n *node }

func (s *evmService) Snapshot() string {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()

	s.n.nextSnapshot++
	id := hexutil.EncodeUint64(s.n.nextSnapshot)
	s.n.snapshots[id] = s.n.height
	return id
}

func (s *evmService) Revert(id string) bool {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()

	height, ok := s.n.snapshots[id]
	if !ok {
		return false
	}
	delete(s.n.snapshots, id)
	s.n.height = height
	return true
}

type anvilService struct{ n *node }

func (s *anvilService) ImpersonateAccount(address common.Address) error {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()

	s.n.impersonated = address
	return nil
}

func newNodeServer(t *testing.T) (*node, *rpc.Server) {
	n := &node{snapshots: map[string]int{}}

	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("eth", &ethService{n}))
	require.NoError(t, server.RegisterName("evm", &evmService{n}))
	require.NoError(t, server.RegisterName("anvil", &anvilService{n}))
	t.Cleanup(server.Stop)

	return n, server
}

func newNode(t *testing.T) (*node, *rpc.Client) {
	n, server := newNodeServer(t)
	return n, rpc.DialInProc(server)
}

// newNodeURL serves a node over HTTP and returns its url.
func newNodeURL(t *testing.T) (*node, string) {
	n, server := newNodeServer(t)

	http := httptest.NewServer(server)
	t.Cleanup(http.Close)

	return n, http.URL
}

func (n *node) blocks() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.height
}

func Test_RPCFork(t *testing.T) {
	ctx := context.Background()
	avatar := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	target := common.HexToAddress("0x00000000000000000000000000000000000000c3")

	t.Run("execute and revert", func(t *testing.T) {
		n, client := newNode(t)

		fork, err := NewRPCFork(ctx, client, avatar)
		require.NoError(t, err)
		assert.Equal(t, avatar, n.impersonated)

		for i := 1; i <= 3; i++ {
			res, err := fork.Execute(ctx, model.Transaction{To: target, Data: []byte{byte(i)}})
			require.NoError(t, err)
			assert.Equal(t, uint64(i), res.SnapshotID)
			assert.False(t, res.Reverted)
		}
		assert.Equal(t, 3, n.height)

		require.NoError(t, fork.RevertTo(ctx, 1))
		assert.Equal(t, 1, n.height)

		res, err := fork.Execute(ctx, model.Transaction{To: target, Data: []byte{3}})
		require.NoError(t, err)
		assert.Equal(t, uint64(4), res.SnapshotID)

		// reverting to the same record twice works because the state is re-captured
		require.NoError(t, fork.RevertTo(ctx, 1))
		assert.Equal(t, 1, n.height)

		err = fork.RevertTo(ctx, 3)
		assert.True(t, errors.Is(err, ErrUnknownSnapshot))
	})

	t.Run("reverted call still produces snapshot", func(t *testing.T) {
		_, client := newNode(t)

		fork, err := NewRPCFork(ctx, client, avatar)
		require.NoError(t, err)

		res, err := fork.Execute(ctx, model.Transaction{To: target, Data: []byte{0xff}})
		require.NoError(t, err)
		assert.True(t, res.Reverted)
		assert.Contains(t, res.RevertReason, "boom")
		assert.Equal(t, uint64(1), res.SnapshotID)
	})

	t.Run("delegate calls are rejected", func(t *testing.T) {
		_, client := newNode(t)

		fork, err := NewRPCFork(ctx, client, avatar)
		require.NoError(t, err)

		_, err = fork.Execute(ctx, model.Transaction{To: target, Operation: model.DelegateCall})
		assert.True(t, errors.Is(err, ErrUnsupportedOperation))
	})

	t.Run("revert coded errors are reverts", func(t *testing.T) {
		_, client := newNode(t)

		fork, err := NewRPCFork(ctx, client, avatar)
		require.NoError(t, err)

		res, err := fork.Execute(ctx, model.Transaction{To: target, Data: []byte{0xfe}})
		require.NoError(t, err)
		assert.True(t, res.Reverted)
	})

	t.Run("node rejections are not reverts", func(t *testing.T) {
		n, client := newNode(t)

		fork, err := NewRPCFork(ctx, client, avatar)
		require.NoError(t, err)

		_, err = fork.Execute(ctx, model.Transaction{To: target, Data: []byte{0xee}})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrForkUnavailable))
		assert.Contains(t, err.Error(), "insufficient funds")
		assert.Equal(t, 0, n.blocks())
	})

	t.Run("snapshot without execution", func(t *testing.T) {
		n, client := newNode(t)

		fork, err := NewRPCFork(ctx, client, avatar)
		require.NoError(t, err)

		_, err = fork.Execute(ctx, model.Transaction{To: target})
		require.NoError(t, err)

		id, err := fork.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), id)

		_, err = fork.Execute(ctx, model.Transaction{To: target})
		require.NoError(t, err)
		assert.Equal(t, 2, n.blocks())

		require.NoError(t, fork.RevertTo(ctx, id))
		assert.Equal(t, 1, n.blocks())
	})

	t.Run("delete restores base state", func(t *testing.T) {
		n, client := newNode(t)

		err := client.Call(nil, "eth_sendTransaction", sendArgs{From: avatar, To: &target})
		require.NoError(t, err)

		fork, err := NewRPCFork(ctx, client, avatar)
		require.NoError(t, err)

		for i := 0; i < 2; i++ {
			_, err = fork.Execute(ctx, model.Transaction{To: target})
			require.NoError(t, err)
		}
		assert.Equal(t, 3, n.blocks())

		require.NoError(t, fork.Delete(ctx))
		assert.Equal(t, 1, n.blocks())

		_, err = fork.Execute(ctx, model.Transaction{To: target})
		assert.True(t, errors.Is(err, ErrForkUnavailable))
	})

	t.Run("impersonate switches sender", func(t *testing.T) {
		n, client := newNode(t)

		fork, err := NewRPCFork(ctx, client, avatar)
		require.NoError(t, err)

		other := common.HexToAddress("0x00000000000000000000000000000000000000b2")
		require.NoError(t, fork.(Impersonator).Impersonate(ctx, other))
		assert.Equal(t, other, n.impersonated)

		_, err = fork.Execute(ctx, model.Transaction{To: target})
		require.NoError(t, err)
		assert.Equal(t, other, n.sender)

		require.NoError(t, fork.Delete(ctx))
		err = fork.(Impersonator).Impersonate(ctx, avatar)
		assert.True(t, errors.Is(err, ErrForkUnavailable))
	})

	t.Run("shared snapshot counter", func(t *testing.T) {
		_, client := newNode(t)
		counter := new(uint64)

		first, err := newRPCFork(ctx, client, avatar, counter)
		require.NoError(t, err)
		second, err := newRPCFork(ctx, client, avatar, counter)
		require.NoError(t, err)

		a, err := first.Execute(ctx, model.Transaction{To: target})
		require.NoError(t, err)
		b, err := second.Execute(ctx, model.Transaction{To: target})
		require.NoError(t, err)

		assert.Equal(t, uint64(1), a.SnapshotID)
		assert.Equal(t, uint64(2), b.SnapshotID)
	})

	t.Run("unreachable node", func(t *testing.T) {
		factory := NewRPCFactory([]string{"http://127.0.0.1:1"}, avatar)

		_, err := factory.NewFork(ctx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrForkUnavailable))

		// a failed creation hands the endpoint back
		_, err = factory.NewFork(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "impersonate")
	})
}

func Test_RPCFactory(t *testing.T) {
	ctx := context.Background()
	avatar := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	target := common.HexToAddress("0x00000000000000000000000000000000000000c3")

	t.Run("forks own separate nodes", func(t *testing.T) {
		first, firstURL := newNodeURL(t)
		second, secondURL := newNodeURL(t)

		factory := NewRPCFactory([]string{firstURL, secondURL}, avatar)

		a, err := factory.NewFork(ctx)
		require.NoError(t, err)
		b, err := factory.NewFork(ctx)
		require.NoError(t, err)

		_, err = a.Execute(ctx, model.Transaction{To: target})
		require.NoError(t, err)
		_, err = b.Execute(ctx, model.Transaction{To: target})
		require.NoError(t, err)
		_, err = b.Execute(ctx, model.Transaction{To: target})
		require.NoError(t, err)

		// each node carries exactly one fork's transactions
		heights := []int{first.blocks(), second.blocks()}
		assert.ElementsMatch(t, []int{1, 2}, heights)

		// deleting one fork leaves the other fork's node alone
		require.NoError(t, a.Delete(ctx))
		assert.ElementsMatch(t, []int{0, 2}, []int{first.blocks(), second.blocks()})
	})

	t.Run("leases are exclusive", func(t *testing.T) {
		_, url := newNodeURL(t)

		factory := NewRPCFactory([]string{url}, avatar)

		fork, err := factory.NewFork(ctx)
		require.NoError(t, err)

		_, err = factory.NewFork(ctx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrForkUnavailable))

		require.NoError(t, fork.Delete(ctx))

		again, err := factory.NewFork(ctx)
		require.NoError(t, err)
		require.NoError(t, again.Delete(ctx))
	})

	t.Run("shared snapshot ids", func(t *testing.T) {
		_, firstURL := newNodeURL(t)
		_, secondURL := newNodeURL(t)

		factory := NewRPCFactory([]string{firstURL, secondURL}, avatar)

		a, err := factory.NewFork(ctx)
		require.NoError(t, err)
		b, err := factory.NewFork(ctx)
		require.NoError(t, err)

		x, err := a.Execute(ctx, model.Transaction{To: target})
		require.NoError(t, err)
		y, err := b.Execute(ctx, model.Transaction{To: target})
		require.NoError(t, err)
		assert.Greater(t, y.SnapshotID, x.SnapshotID)
	})
}
