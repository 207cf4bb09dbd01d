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
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dapperlabs/fork-journal/model"
)

var (
	avatar   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	switched = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	token    = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

func newTx(to model.Address, data ...byte) model.Transaction {
	return model.Transaction{To: to, Value: big.NewInt(0), Data: data}
}

// appendAll appends transactions with snapshots 1..n.
func appendAll(t *testing.T, txs ...model.Transaction) Journal {
	j := Journal{}
	for i, tx := range txs {
		res, err := Reduce(j, Append{Transaction: tx, SnapshotID: uint64(i + 1)})
		require.NoError(t, err)
		j = res.Journal
	}
	return j
}

func Test_Append(t *testing.T) {

	t.Run("appends pending records in order", func(t *testing.T) {
		j := appendAll(t, newTx(token, 1), newTx(token, 2), newTx(token, 3))

		records := j.Records()
		require.Len(t, records, 3)
		for i, r := range records {
			assert.Equal(t, Pending, r.Status)
			assert.Equal(t, uint64(i+1), r.SnapshotID)
			assert.Equal(t, []byte{byte(i + 1)}, r.Transaction.Data)
			assert.NotEqual(t, uuid.Nil, r.ID)
		}
	})

	t.Run("out of order snapshot fails", func(t *testing.T) {
		j := appendAll(t, newTx(token), newTx(token))

		res, err := Reduce(j, Append{Transaction: newTx(token), SnapshotID: 2})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrOrderingViolation))
		assert.Equal(t, 2, res.Journal.Len())

		_, err = Reduce(j, Append{Transaction: newTx(token), SnapshotID: 1})
		assert.True(t, errors.Is(err, ErrOrderingViolation))
	})

	t.Run("previous journal value is untouched", func(t *testing.T) {
		j := appendAll(t, newTx(token))

		res, err := Reduce(j, Append{Transaction: newTx(token), SnapshotID: 5})
		require.NoError(t, err)

		assert.Equal(t, 1, j.Len())
		assert.Equal(t, 2, res.Journal.Len())
	})

	t.Run("keeps a provided id", func(t *testing.T) {
		id := uuid.New()

		res, err := Reduce(Journal{}, Append{ID: id, Transaction: newTx(token), SnapshotID: 1})
		require.NoError(t, err)
		assert.Equal(t, id, res.Record.ID)

		_, err = Reduce(res.Journal, Append{ID: id, Transaction: newTx(token), SnapshotID: 2})
		assert.True(t, errors.Is(err, ErrOrderingViolation))
	})

	t.Run("new rejects unordered records", func(t *testing.T) {
		_, err := New(Record{SnapshotID: 3}, Record{SnapshotID: 3})
		assert.True(t, errors.Is(err, ErrOrderingViolation))
	})
}

func Test_Restore(t *testing.T) {
	j := appendAll(t, newTx(token, 1))
	res, err := Reduce(j, Rollback{ID: j.Records()[0].ID})
	require.NoError(t, err)
	original := res.Record

	t.Run("keeps record under a new snapshot", func(t *testing.T) {
		res, err := Reduce(Journal{}, Restore{Record: *original, SnapshotID: 7})
		require.NoError(t, err)

		restored := res.Journal.Records()
		require.Len(t, restored, 1)
		assert.Equal(t, original.ID, restored[0].ID)
		assert.Equal(t, RolledBack, restored[0].Status)
		assert.Equal(t, original.CreatedAt, restored[0].CreatedAt)
		assert.Equal(t, uint64(7), restored[0].SnapshotID)
	})

	t.Run("keeps snapshot ordering", func(t *testing.T) {
		later := appendAll(t, newTx(token), newTx(token), newTx(token))

		_, err := Reduce(later, Restore{Record: Record{ID: uuid.New()}, SnapshotID: 3})
		assert.True(t, errors.Is(err, ErrOrderingViolation))
	})

	t.Run("rejects a record already in the journal", func(t *testing.T) {
		_, err := Reduce(res.Journal, Restore{Record: *original, SnapshotID: 9})
		assert.True(t, errors.Is(err, ErrOrderingViolation))
	})
}

func Test_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		action  func(id uuid.UUID) Action
		want    Status
		invalid bool
	}{
		{"confirm pending", Pending, func(id uuid.UUID) Action { return Confirm{ID: id} }, Confirmed, false},
		{"fail pending", Pending, func(id uuid.UUID) Action { return Fail{ID: id, Reason: "reverted"} }, Failed, false},
		{"rollback pending", Pending, func(id uuid.UUID) Action { return Rollback{ID: id} }, RolledBack, false},
		{"rollback confirmed", Confirmed, func(id uuid.UUID) Action { return Rollback{ID: id} }, RolledBack, false},
		{"confirm confirmed", Confirmed, func(id uuid.UUID) Action { return Confirm{ID: id} }, Confirmed, false},
		{"confirm rolled back", RolledBack, func(id uuid.UUID) Action { return Confirm{ID: id} }, RolledBack, true},
		{"fail confirmed", Confirmed, func(id uuid.UUID) Action { return Fail{ID: id} }, Confirmed, true},
		{"confirm failed", Failed, func(id uuid.UUID) Action { return Confirm{ID: id} }, Failed, true},
		{"rollback failed", Failed, func(id uuid.UUID) Action { return Rollback{ID: id} }, Failed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := Record{ID: uuid.New(), SnapshotID: 1, Status: tt.from}
			j, err := New(record)
			require.NoError(t, err)

			res, err := Reduce(j, tt.action(record.ID))
			if tt.invalid {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidTransition))
			} else {
				require.NoError(t, err)
				require.NotNil(t, res.Record)
			}

			got, ok := res.Journal.Lookup(record.ID)
			require.True(t, ok)
			assert.Equal(t, tt.want, got.Status)
		})
	}

	t.Run("unknown record", func(t *testing.T) {
		_, err := Reduce(Journal{}, Confirm{ID: uuid.New()})
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("fail records reason", func(t *testing.T) {
		j := appendAll(t, newTx(token))
		id := j.Records()[0].ID

		res, err := Reduce(j, Fail{ID: id, Reason: "execution reverted"})
		require.NoError(t, err)
		assert.Equal(t, "execution reverted", res.Record.Error)
	})
}

func Test_Remove(t *testing.T) {

	t.Run("removes record and suffix", func(t *testing.T) {
		j := appendAll(t, newTx(token, 1), newTx(token, 2), newTx(token, 3))
		records := j.Records()

		res, err := Reduce(j, Remove{ID: records[1].ID})
		require.NoError(t, err)

		require.Equal(t, 1, res.Journal.Len())
		assert.Equal(t, records[0].ID, res.Journal.Records()[0].ID)

		require.Len(t, res.Removed, 2)
		assert.Equal(t, records[1].ID, res.Removed[0].ID)
		assert.Equal(t, records[2].ID, res.Removed[1].ID)
	})

	t.Run("remove first empties journal", func(t *testing.T) {
		j := appendAll(t, newTx(token, 1), newTx(token, 2))

		res, err := Reduce(j, Remove{ID: j.Records()[0].ID})
		require.NoError(t, err)
		assert.True(t, res.Journal.IsEmpty())
		assert.Len(t, res.Removed, 2)
	})

	t.Run("append after remove keeps ordering relative to remaining records", func(t *testing.T) {
		j := appendAll(t, newTx(token, 1), newTx(token, 2), newTx(token, 3))

		res, err := Reduce(j, Remove{ID: j.Records()[1].ID})
		require.NoError(t, err)

		res, err = Reduce(res.Journal, Append{Transaction: newTx(token, 3), SnapshotID: 4})
		require.NoError(t, err)
		assert.Equal(t, 2, res.Journal.Len())
	})

	t.Run("unknown record", func(t *testing.T) {
		_, err := Reduce(appendAll(t, newTx(token)), Remove{ID: uuid.New()})
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("clear", func(t *testing.T) {
		j := appendAll(t, newTx(token), newTx(token))

		res, err := Reduce(j, Clear{})
		require.NoError(t, err)
		assert.True(t, res.Journal.IsEmpty())
		assert.Len(t, res.Removed, 2)
	})
}

func Test_Decode(t *testing.T) {
	j := appendAll(t, newTx(token, 1), newTx(token, 2))
	id := j.Records()[1].ID

	info := &model.ContractInfo{Address: token, Name: "Token", Function: "transfer"}

	first, err := Reduce(j, Decode{ID: id, Info: info})
	require.NoError(t, err)

	second, err := Reduce(first.Journal, Decode{ID: id, Info: &model.ContractInfo{Name: "Other"}})
	require.NoError(t, err)

	got, ok := second.Journal.Lookup(id)
	require.True(t, ok)
	require.NotNil(t, got.ContractInfo)
	assert.Equal(t, "Token", got.ContractInfo.Name)
	assert.Equal(t, Pending, got.Status)
	assert.Equal(t, id, second.Journal.Records()[1].ID)

	_, err = Reduce(j, Decode{ID: uuid.New(), Info: info})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func Test_Navigation(t *testing.T) {
	j := appendAll(t, newTx(token, 1), newTx(token, 2), newTx(token, 3))
	records := j.Records()

	before, ok := j.Before(records[1].ID)
	require.True(t, ok)
	assert.Equal(t, records[0].ID, before.ID)

	_, ok = j.Before(records[0].ID)
	assert.False(t, ok)

	suffix := j.Suffix(records[0].ID)
	require.Len(t, suffix, 2)
	assert.Equal(t, records[2].ID, suffix[1].ID)

	last, ok := j.LastSnapshot()
	require.True(t, ok)
	assert.Equal(t, uint64(3), last)
}
