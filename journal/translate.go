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

package journal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/dapperlabs/fork-journal/model"
)

const (
	selectorLength = 4
	wordLength     = 32
	addressPadding = wordLength - common.AddressLength
)

// TranslateReport lists which records were retargeted and which were not.
type TranslateReport struct {
	From       model.Address      `json:"from"`
	To         model.Address      `json:"to"`
	Translated []uuid.UUID        `json:"translated"`
	Failures   []TranslateFailure `json:"failures"`
}

type TranslateFailure struct {
	RecordID uuid.UUID `json:"recordId"`
	Err      error     `json:"-"`
}

func (f TranslateFailure) MarshalJSON() ([]byte, error) {
	reason := ""
	if f.Err != nil {
		reason = f.Err.Error()
	}
	return json.Marshal(struct {
		RecordID uuid.UUID `json:"recordId"`
		Reason   string    `json:"reason"`
	}{f.RecordID, reason})
}

// Err returns nil when every record was translated.
func (r *TranslateReport) Err() error {
	if r == nil || len(r.Failures) == 0 {
		return nil
	}

	ids := make([]string, len(r.Failures))
	for i, f := range r.Failures {
		ids[i] = f.RecordID.String()
	}

	return errors.Wrapf(ErrUntranslatableTransaction, "records %s", strings.Join(ids, ", "))
}

// retarget substitutes the execution target inside an encoded call. The address is
// replaced in the call target and in every ABI word of the calldata that holds it.
// Any other occurrence means the address is embedded in packed or nested data whose
// layout is unknown, so the call is rejected instead of being guessed at.
func retarget(tx model.Transaction, from, to model.Address) (model.Transaction, error) {
	out := tx.Copy()
	if from == to {
		return out, nil
	}

	if out.To == from {
		out.To = to
	}

	needle := from.Bytes()
	data := out.Data
	for offset := 0; offset < len(data); {
		i := bytes.Index(data[offset:], needle)
		if i < 0 {
			break
		}

		pos := offset + i
		if !isAddressWord(data, pos) {
			return tx, errors.Wrap(
				ErrUntranslatableTransaction,
				fmt.Sprintf("target %s embedded at unaligned calldata offset %d", from.Hex(), pos),
			)
		}

		copy(data[pos:pos+common.AddressLength], to.Bytes())
		offset = pos + common.AddressLength
	}

	return out, nil
}

// isAddressWord reports whether the address found at pos fills the low 20 bytes of a
// zero padded ABI argument word.
func isAddressWord(data []byte, pos int) bool {
	start := pos - addressPadding
	if start < selectorLength || (start-selectorLength)%wordLength != 0 {
		return false
	}
	_, ok := model.NewAddressFromWord(data[start : start+wordLength])
	return ok
}
