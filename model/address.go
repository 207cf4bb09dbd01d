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
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// addressWordLength is the size of an ABI encoded static word holding an address.
const addressWordLength = 32

type Address = common.Address

// NewAddressFromString parses a hex encoded address and fails on malformed input
// instead of silently zero-padding like common.HexToAddress.
func NewAddressFromString(address string) (Address, error) {
	if !common.IsHexAddress(address) {
		return Address{}, errors.Wrap(invalidAddressError, address)
	}
	return common.HexToAddress(address), nil
}

// NewAddressFromWord extracts an address from a left padded 32 byte ABI word.
func NewAddressFromWord(word []byte) (Address, bool) {
	if len(word) != addressWordLength {
		return Address{}, false
	}

	padding := word[:addressWordLength-common.AddressLength]
	if !bytes.Equal(padding, make([]byte, len(padding))) {
		return Address{}, false
	}

	return common.BytesToAddress(word[addressWordLength-common.AddressLength:]), true
}

// AddressWord returns the address as a left padded 32 byte ABI word.
func AddressWord(a Address) []byte {
	return common.LeftPadBytes(a.Bytes(), addressWordLength)
}

var invalidAddressError = fmt.Errorf("invalid address")
