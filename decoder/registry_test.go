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

package decoder

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dapperlabs/fork-journal/model"
)

const erc20ABI = `[
	{"type":"function","name":"transfer","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]}
]`

var (
	tokenAddress = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	recipient    = common.HexToAddress("0x00000000000000000000000000000000000000d4")
)

func transferCall(t *testing.T) model.Transaction {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	require.NoError(t, err)

	data, err := parsed.Pack("transfer", recipient, big.NewInt(1000))
	require.NoError(t, err)

	return model.Transaction{To: tokenAddress, Data: data}
}

func Test_Resolve(t *testing.T) {
	ctx := context.Background()

	t.Run("decodes known function", func(t *testing.T) {
		registry := NewRegistry(16)
		require.NoError(t, registry.Register(tokenAddress, "Token", erc20ABI))

		info, err := registry.Resolve(ctx, transferCall(t))
		require.NoError(t, err)

		assert.True(t, info.Verified)
		assert.Equal(t, "Token", info.Name)
		assert.Equal(t, "transfer", info.Function)
		assert.Equal(t, "transfer(address,uint256)", info.Signature)
		require.Len(t, info.Arguments, 2)
		assert.Equal(t, model.NamedValue{Name: "to", Type: "address", Value: recipient.Hex()}, info.Arguments[0])
		assert.Equal(t, "1000", info.Arguments[1].Value)
	})

	t.Run("resolving twice hits the cache", func(t *testing.T) {
		registry := NewRegistry(16)
		require.NoError(t, registry.Register(tokenAddress, "Token", erc20ABI))

		first, err := registry.Resolve(ctx, transferCall(t))
		require.NoError(t, err)
		second, err := registry.Resolve(ctx, transferCall(t))
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, 1, registry.cache.len())
	})

	t.Run("non positive capacity uses the default cache", func(t *testing.T) {
		for _, size := range []int{0, -1} {
			registry := NewRegistry(size)
			require.NotNil(t, registry.cache.cache)
			require.NoError(t, registry.Register(tokenAddress, "Token", erc20ABI))
			call := transferCall(t)

			var wg sync.WaitGroup
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					info, err := registry.Resolve(ctx, call)
					if assert.NoError(t, err) {
						assert.Equal(t, "transfer", info.Function)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, 1, registry.cache.len())
		}
	})

	t.Run("unknown contract is unverified", func(t *testing.T) {
		registry := NewRegistry(16)

		info, err := registry.Resolve(ctx, transferCall(t))
		require.NoError(t, err)
		assert.False(t, info.Verified)
		assert.Equal(t, tokenAddress, info.Address)
		assert.Empty(t, info.Function)
	})

	t.Run("unknown selector", func(t *testing.T) {
		registry := NewRegistry(16)
		require.NoError(t, registry.Register(tokenAddress, "Token", erc20ABI))

		_, err := registry.Resolve(ctx, model.Transaction{To: tokenAddress, Data: []byte{1, 2, 3, 4}})
		assert.True(t, errors.Is(err, ErrUndecodable))
	})

	t.Run("plain value transfer", func(t *testing.T) {
		registry := NewRegistry(16)
		require.NoError(t, registry.Register(tokenAddress, "Token", erc20ABI))

		info, err := registry.Resolve(ctx, model.Transaction{To: tokenAddress})
		require.NoError(t, err)
		assert.True(t, info.Verified)
		assert.Empty(t, info.Function)
	})

	t.Run("invalid abi", func(t *testing.T) {
		registry := NewRegistry(16)
		assert.Error(t, registry.Register(tokenAddress, "Token", "{"))
	})
}

func Test_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contracts.json")
	content := `[{"address":"` + tokenAddress.Hex() + `","name":"Token","abi":` + erc20ABI + `}]`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	registry := NewRegistry(16)
	n, err := registry.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	info, err := registry.Resolve(context.Background(), transferCall(t))
	require.NoError(t, err)
	assert.Equal(t, "transfer", info.Function)
}
