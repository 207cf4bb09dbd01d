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

package reconcile

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/dapperlabs/fork-journal/journal"
)

type revertMode int

const (
	// deleteFork discards the fork, nothing is left to replay.
	deleteFork revertMode = iota
	// freshFork replaces the fork and replays onto the empty chain.
	freshFork
	// revertFork reverts the fork to the last record kept.
	revertFork
)

func (m revertMode) String() string {
	switch m {
	case deleteFork:
		return "delete"
	case freshFork:
		return "fresh"
	default:
		return "revert"
	}
}

// removalPlan is the effect-free part of a removal.
type removalPlan struct {
	mode revertMode
	// snapshot to revert to in revertFork mode
	snapshot uint64
	// prefix is the journal once the target and its suffix are removed
	prefix journal.Journal
	// removed holds the target followed by its suffix
	removed []journal.Record
	// replay holds the records to execute again, in order
	replay []journal.Record
}

// planRemoval computes how to remove the record id from j. When retry is set the
// target itself is replayed along with its suffix.
func planRemoval(j journal.Journal, id uuid.UUID, retry bool) (removalPlan, error) {
	res, err := journal.Reduce(j, journal.Remove{ID: id})
	if err != nil {
		return removalPlan{}, err
	}

	plan := removalPlan{
		prefix:  res.Journal,
		removed: res.Removed,
	}

	candidates := j.Suffix(id)
	if retry {
		candidates = append([]journal.Record{res.Removed[0]}, candidates...)
	}
	plan.replay = live(candidates)

	prev, ok := lastLive(plan.prefix)
	switch {
	case !ok && len(plan.replay) == 0:
		plan.mode = deleteFork
	case !ok:
		plan.mode = freshFork
	default:
		plan.mode = revertFork
		plan.snapshot = prev.SnapshotID
	}

	return plan, nil
}

// rollbackTarget returns the snapshot the fork must return to when rolling back the
// record id, which must be the last live record. ok is false when no live record
// precedes it.
func rollbackTarget(j journal.Journal, id uuid.UUID) (snapshot uint64, ok bool, err error) {
	target, found := j.Lookup(id)
	if !found {
		return 0, false, errors.Wrapf(journal.ErrNotFound, "record %s", id)
	}

	if target.Status == journal.RolledBack || len(live(j.Suffix(id))) > 0 {
		return 0, false, errors.Wrapf(journal.ErrInvalidTransition, "record %s is not the last live record", id)
	}

	prev, ok := j.Before(id)
	for ok && prev.Status == journal.RolledBack {
		prev, ok = j.Before(prev.ID)
	}
	if !ok {
		return 0, false, nil
	}
	return prev.SnapshotID, true, nil
}

// live filters out rolled back records, whose effects are not on the fork.
func live(records []journal.Record) []journal.Record {
	out := make([]journal.Record, 0, len(records))
	for _, r := range records {
		if r.Status != journal.RolledBack {
			out = append(out, r)
		}
	}
	return out
}

func lastLive(j journal.Journal) (journal.Record, bool) {
	records := j.Records()
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Status != journal.RolledBack {
			return records[i], true
		}
	}
	return journal.Record{}, false
}
