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

// Package journal holds the ordered log of transactions tentatively executed against a fork.
//
// A Journal is a value: every action dispatched through Reduce returns a new Journal and
// leaves the previous one untouched, so readers can keep a consistent view while the
// reconciliation engine works on the next state. Insertion order is execution order and
// the only order; snapshot ids increase strictly along it.
package journal

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/dapperlabs/fork-journal/model"
)

// Record is one executed transaction in the journal.
type Record struct {
	ID           uuid.UUID           `json:"id"`
	Transaction  model.Transaction   `json:"transaction"`
	SnapshotID   uint64              `json:"snapshotId"`
	Status       Status              `json:"status"`
	ContractInfo *model.ContractInfo `json:"contractInfo,omitempty"`
	Error        string              `json:"error,omitempty"`
	CreatedAt    time.Time           `json:"createdAt"`
}

type Journal struct {
	records []Record
}

// New returns a journal holding the provided records in order. It fails when the
// records break the snapshot ordering.
func New(records ...Record) (Journal, error) {
	j := Journal{}
	for _, r := range records {
		if last, ok := j.LastSnapshot(); ok && r.SnapshotID <= last {
			return Journal{}, ErrOrderingViolation
		}
		j.records = append(j.records, r)
	}
	return j, nil
}

// MarshalJSON encodes the journal as its list of records.
func (j Journal) MarshalJSON() ([]byte, error) {
	return json.Marshal(j.Records())
}

func (j Journal) Len() int {
	return len(j.records)
}

func (j Journal) IsEmpty() bool {
	return len(j.records) == 0
}

// Records returns a copy of the records in execution order.
func (j Journal) Records() []Record {
	out := make([]Record, len(j.records))
	copy(out, j.records)
	return out
}

func (j Journal) Lookup(id uuid.UUID) (Record, bool) {
	i := j.index(id)
	if i < 0 {
		return Record{}, false
	}
	return j.records[i], true
}

func (j Journal) Last() (Record, bool) {
	if j.IsEmpty() {
		return Record{}, false
	}
	return j.records[len(j.records)-1], true
}

func (j Journal) LastSnapshot() (uint64, bool) {
	last, ok := j.Last()
	if !ok {
		return 0, false
	}
	return last.SnapshotID, true
}

// Before returns the record directly preceding id.
func (j Journal) Before(id uuid.UUID) (Record, bool) {
	i := j.index(id)
	if i <= 0 {
		return Record{}, false
	}
	return j.records[i-1], true
}

// Suffix returns the records after id, in order.
func (j Journal) Suffix(id uuid.UUID) []Record {
	i := j.index(id)
	if i < 0 {
		return nil
	}
	out := make([]Record, len(j.records)-i-1)
	copy(out, j.records[i+1:])
	return out
}

func (j Journal) index(id uuid.UUID) int {
	for i := range j.records {
		if j.records[i].ID == id {
			return i
		}
	}
	return -1
}

// with returns a journal whose record at i is replaced.
func (j Journal) with(i int, r Record) Journal {
	records := j.Records()
	records[i] = r
	return Journal{records: records}
}
