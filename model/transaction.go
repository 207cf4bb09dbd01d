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

package model

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
)

// Operation is the execution mode of an encoded call.
type Operation uint8

const (
	Call         Operation = 0
	DelegateCall Operation = 1
)

func (o Operation) String() string {
	switch o {
	case Call:
		return "call"
	case DelegateCall:
		return "delegatecall"
	default:
		return "unknown"
	}
}

// Transaction is an encoded call to be executed against a fork.
type Transaction struct {
	To        Address
	Value     *big.Int
	Data      []byte
	Operation Operation
}

// Selector returns the 4 byte function selector of the calldata, if any.
func (t Transaction) Selector() []byte {
	if len(t.Data) < 4 {
		return nil
	}
	return t.Data[:4]
}

// Copy returns a deep copy so callers can rewrite calldata without aliasing.
func (t Transaction) Copy() Transaction {
	cpy := Transaction{
		To:        t.To,
		Operation: t.Operation,
	}
	if t.Value != nil {
		cpy.Value = new(big.Int).Set(t.Value)
	}
	if t.Data != nil {
		cpy.Data = append([]byte{}, t.Data...)
	}
	return cpy
}

func (t Transaction) Validate() error {
	if t.Operation != Call && t.Operation != DelegateCall {
		return errors.Wrapf(missingValuesError, "operation %d", t.Operation)
	}
	if t.Value != nil && t.Value.Sign() < 0 {
		return errors.New("value must not be negative")
	}
	return nil
}

type transactionJSON struct {
	To        Address        `json:"to"`
	Value     *hexutil.Big   `json:"value"`
	Data      hexutil.Bytes  `json:"data"`
	Operation hexutil.Uint64 `json:"operation"`
}

func (t Transaction) MarshalJSON() ([]byte, error) {
	return json.Marshal(transactionJSON{
		To:        t.To,
		Value:     (*hexutil.Big)(t.Value),
		Data:      t.Data,
		Operation: hexutil.Uint64(t.Operation),
	})
}

func (t *Transaction) UnmarshalJSON(data []byte) error {
	var tmp transactionJSON
	if err := json.Unmarshal(data, &tmp); err != nil {
		return errors.Wrap(err, "failed to decode transaction")
	}

	t.To = tmp.To
	t.Value = (*big.Int)(tmp.Value)
	t.Data = tmp.Data
	t.Operation = Operation(tmp.Operation)
	return nil
}

// ContractInfo is metadata resolved for the target of a transaction.
type ContractInfo struct {
	Address   Address      `json:"address"`
	Name      string       `json:"name"`
	Function  string       `json:"function,omitempty"`
	Signature string       `json:"signature,omitempty"`
	Arguments []NamedValue `json:"arguments,omitempty"`
	Verified  bool         `json:"verified"`
}

type NamedValue struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value any    `json:"value"`
}

var missingValuesError = errors.New("missing values")
