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
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/dapperlabs/fork-journal/model"
)

// Action is a closed set of journal operations. Each variant handles itself in apply,
// so adding a variant without a handler does not compile.
type Action interface {
	apply(j Journal) (Result, error)
}

// Result is the outcome of a reduced action.
type Result struct {
	Journal Journal
	// Record is the appended or transitioned record.
	Record *Record
	// Removed holds the records dropped by Remove or Clear, in their original order.
	Removed []Record
	// Report is set by Translate.
	Report *TranslateReport
}

// Reduce applies the action to the journal. On error the returned result carries the
// unchanged journal.
func Reduce(j Journal, action Action) (Result, error) {
	res, err := action.apply(j)
	if err != nil {
		return Result{Journal: j}, err
	}
	return res, nil
}

var (
	_ Action = Append{}
	_ Action = Restore{}
	_ Action = Confirm{}
	_ Action = Fail{}
	_ Action = Rollback{}
	_ Action = Remove{}
	_ Action = Clear{}
	_ Action = Decode{}
	_ Action = Translate{}
)

// Append adds a pending record for a transaction whose execution produced SnapshotID.
// A record re-executed on a new fork passes its ID to keep it; otherwise one is
// generated.
type Append struct {
	ID          uuid.UUID
	Transaction model.Transaction
	SnapshotID  uint64
	At          time.Time
}

func (a Append) apply(j Journal) (Result, error) {
	id := a.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	at := a.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	return push(j, Record{
		ID:          id,
		Transaction: a.Transaction.Copy(),
		SnapshotID:  a.SnapshotID,
		Status:      Pending,
		CreatedAt:   at,
	})
}

// Restore puts a record back at the end of the journal as it was, except for the
// snapshot capturing its position on the current fork. It is used for records which
// are kept in history without being executed again.
type Restore struct {
	Record     Record
	SnapshotID uint64
}

func (a Restore) apply(j Journal) (Result, error) {
	record := a.Record
	record.Transaction = record.Transaction.Copy()
	record.SnapshotID = a.SnapshotID
	if record.ContractInfo != nil {
		info := *record.ContractInfo
		record.ContractInfo = &info
	}

	return push(j, record)
}

func push(j Journal, record Record) (Result, error) {
	if last, ok := j.LastSnapshot(); ok && record.SnapshotID <= last {
		return Result{}, errors.Wrapf(
			ErrOrderingViolation,
			"snapshot %d is not greater than last snapshot %d",
			record.SnapshotID,
			last,
		)
	}
	if j.index(record.ID) >= 0 {
		return Result{}, errors.Wrapf(ErrOrderingViolation, "record %s is already in the journal", record.ID)
	}

	records := append(j.Records(), record)

	return Result{
		Journal: Journal{records: records},
		Record:  &record,
	}, nil
}

type Confirm struct {
	ID uuid.UUID
}

func (a Confirm) apply(j Journal) (Result, error) {
	return transition(j, a.ID, Confirmed, "")
}

type Fail struct {
	ID     uuid.UUID
	Reason string
}

func (a Fail) apply(j Journal) (Result, error) {
	return transition(j, a.ID, Failed, a.Reason)
}

// Rollback marks a record whose effects were taken off the fork. Reason is optional.
type Rollback struct {
	ID     uuid.UUID
	Reason string
}

func (a Rollback) apply(j Journal) (Result, error) {
	return transition(j, a.ID, RolledBack, a.Reason)
}

func transition(j Journal, id uuid.UUID, to Status, reason string) (Result, error) {
	i := j.index(id)
	if i < 0 {
		return Result{}, errors.Wrapf(ErrNotFound, "record %s", id)
	}

	record := j.records[i]
	if !record.Status.canTransition(to) {
		return Result{}, errors.Wrapf(ErrInvalidTransition, "record %s: %s to %s", id, record.Status, to)
	}

	record.Status = to
	if reason != "" {
		record.Error = reason
	}

	return Result{
		Journal: j.with(i, record),
		Record:  &record,
	}, nil
}

// Remove drops the record and every record after it.
type Remove struct {
	ID uuid.UUID
}

func (a Remove) apply(j Journal) (Result, error) {
	i := j.index(a.ID)
	if i < 0 {
		return Result{}, errors.Wrapf(ErrNotFound, "record %s", a.ID)
	}

	records := j.Records()

	return Result{
		Journal: Journal{records: records[:i:i]},
		Removed: records[i:],
	}, nil
}

type Clear struct{}

func (a Clear) apply(j Journal) (Result, error) {
	return Result{
		Journal: Journal{},
		Removed: j.Records(),
	}, nil
}

// Decode attaches contract info to a record. The first attached info is kept, so
// decoding twice leaves the record unchanged.
type Decode struct {
	ID   uuid.UUID
	Info *model.ContractInfo
}

func (a Decode) apply(j Journal) (Result, error) {
	i := j.index(a.ID)
	if i < 0 {
		return Result{}, errors.Wrapf(ErrNotFound, "record %s", a.ID)
	}
	if a.Info == nil {
		return Result{}, errors.New("missing contract info")
	}

	record := j.records[i]
	if record.ContractInfo != nil {
		return Result{Journal: j, Record: &record}, nil
	}

	info := *a.Info
	record.ContractInfo = &info

	return Result{
		Journal: j.with(i, record),
		Record:  &record,
	}, nil
}

// Translate retargets every record from one execution context address to another.
// Records that cannot be retargeted are reported and left unchanged.
type Translate struct {
	From model.Address
	To   model.Address
}

func (a Translate) apply(j Journal) (Result, error) {
	records := j.Records()
	report := &TranslateReport{From: a.From, To: a.To}

	for i, record := range records {
		tx, err := retarget(record.Transaction, a.From, a.To)
		if err != nil {
			report.Failures = append(report.Failures, TranslateFailure{
				RecordID: record.ID,
				Err:      err,
			})
			continue
		}

		records[i].Transaction = tx
		report.Translated = append(report.Translated, record.ID)
	}

	return Result{
		Journal: Journal{records: records},
		Report:  report,
	}, nil
}
