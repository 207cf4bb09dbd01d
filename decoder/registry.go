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

// Package decoder resolves human readable contract information for journal records.
package decoder

import (
	"context"
	"encoding/json"
	"math/big"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"

	"github.com/dapperlabs/fork-journal/model"
)

// ErrUndecodable is returned when calldata does not match the ABI of its target.
var ErrUndecodable = errors.New("calldata does not match contract ABI")

// Resolver resolves contract info for the target of a transaction.
type Resolver interface {
	Resolve(ctx context.Context, tx model.Transaction) (*model.ContractInfo, error)
}

var _ Resolver = &Registry{}

type contract struct {
	name string
	abi  abi.ABI
}

// Registry resolves contract info from ABIs registered per address.
type Registry struct {
	mu        sync.RWMutex
	contracts map[common.Address]contract
	cache     *infoCache
}

// NewRegistry returns an empty registry caching up to cacheSize resolved calls. A
// cacheSize of zero or less uses a default size.
func NewRegistry(cacheSize int) *Registry {
	return &Registry{
		contracts: map[common.Address]contract{},
		cache:     newInfoCache(cacheSize),
	}
}

// Register adds the JSON ABI of a contract deployed at address.
func (r *Registry) Register(address common.Address, name string, abiJSON string) error {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return errors.Wrapf(err, "failed to parse ABI of %s", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.contracts[address] = contract{name: name, abi: parsed}
	r.cache.reset()

	return nil
}

type knownContract struct {
	Address common.Address  `json:"address"`
	Name    string          `json:"name"`
	ABI     json.RawMessage `json:"abi"`
}

// LoadFile registers every contract listed in a JSON file of
// [{"address": ..., "name": ..., "abi": [...]}] entries.
func (r *Registry) LoadFile(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Wrap(err, "failed to read known contracts")
	}

	var known []knownContract
	if err := json.Unmarshal(raw, &known); err != nil {
		return 0, errors.Wrap(err, "failed to decode known contracts")
	}

	for _, k := range known {
		if err := r.Register(k.Address, k.Name, string(k.ABI)); err != nil {
			return 0, err
		}
	}

	return len(known), nil
}

// Resolve returns the info of the call target. Targets without a registered ABI
// resolve to unverified info carrying only the address.
func (r *Registry) Resolve(ctx context.Context, tx model.Transaction) (*model.ContractInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if info := r.cache.get(tx); info != nil {
		return info, nil
	}

	c, ok := r.contracts[tx.To]
	if !ok {
		return &model.ContractInfo{Address: tx.To}, nil
	}

	info := &model.ContractInfo{
		Address:  tx.To,
		Name:     c.name,
		Verified: true,
	}

	selector := tx.Selector()
	if selector == nil {
		r.cache.add(tx, info)
		return info, nil
	}

	method, err := c.abi.MethodById(selector)
	if err != nil {
		return nil, errors.Wrapf(ErrUndecodable, "unknown selector %s on %s", hexutil.Encode(selector), c.name)
	}

	values, err := method.Inputs.UnpackValues(tx.Data[len(selector):])
	if err != nil {
		return nil, errors.Wrapf(ErrUndecodable, "%s: %s", method.Sig, err)
	}

	info.Function = method.RawName
	info.Signature = method.Sig
	for i, input := range method.Inputs {
		info.Arguments = append(info.Arguments, model.NamedValue{
			Name:  input.Name,
			Type:  input.Type.String(),
			Value: formatValue(values[i]),
		})
	}

	r.cache.add(tx, info)

	return info, nil
}

// formatValue converts decoded ABI values into JSON friendly representations.
func formatValue(v interface{}) interface{} {
	switch val := v.(type) {
	case common.Address:
		return val.Hex()
	case *big.Int:
		return val.String()
	case []byte:
		return hexutil.Encode(val)
	case [32]byte:
		return hexutil.Encode(val[:])
	default:
		return val
	}
}
