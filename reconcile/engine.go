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

// Package reconcile keeps a journal consistent with the fork its records were executed on.
//
// The fork only knows how to revert to an earlier snapshot, so removing a record means
// reverting to the record before it and executing every later record again. All
// operations of an Engine touching the fork run one at a time in submission order.
package reconcile

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dapperlabs/fork-journal/blockchain"
	"github.com/dapperlabs/fork-journal/decoder"
	"github.com/dapperlabs/fork-journal/journal"
	"github.com/dapperlabs/fork-journal/model"
	"github.com/dapperlabs/fork-journal/telemetry"
)

// cleanupTimeout bounds fork calls restoring consistency after the caller's context
// was cancelled.
const cleanupTimeout = 10 * time.Second

// ErrNoResolver is returned by Decode when the engine has no contract resolver.
var ErrNoResolver = errors.New("contract decoding is not configured")

// ReplayResult describes an operation which replayed records on the fork.
type ReplayResult struct {
	Journal journal.Journal `json:"journal"`
	// Removed holds the records taken out of the journal, in their original order.
	Removed []journal.Record `json:"removed"`
	// Replayed holds the records executed again with their new snapshots. Records
	// replayed by Remove and Retry get new ids, Translate keeps them.
	Replayed []journal.Record `json:"replayed"`
	// Report is set by Translate.
	Report *journal.TranslateReport `json:"report,omitempty"`
}

type Option func(*Engine)

// WithResolver enables decoding contract info of records.
func WithResolver(resolver decoder.Resolver) Option {
	return func(e *Engine) {
		e.resolver = resolver
	}
}

// WithLogger sets the entry all engine logs are written to.
func WithLogger(entry *logrus.Entry) Option {
	return func(e *Engine) {
		e.logger = entry
	}
}

// WithAccount sets the execution account impersonated on every new fork.
func WithAccount(account model.Address) Option {
	return func(e *Engine) {
		e.account = &account
	}
}

// WithQueueSize sets how many operations may wait for the worker.
func WithQueueSize(size int) Option {
	return func(e *Engine) {
		e.queueSize = size
	}
}

// WithAutoDecode resolves contract info of every appended record in the background.
func WithAutoDecode() Option {
	return func(e *Engine) {
		e.autoDecode = true
	}
}

// Engine owns one journal and the fork handle it was executed on.
type Engine struct {
	factory    blockchain.Factory
	resolver   decoder.Resolver
	logger     *logrus.Entry
	queueSize  int
	autoDecode bool
	queue      *queue

	// fork and account are only touched by queued operations
	fork    blockchain.Fork
	account *model.Address

	mu      sync.RWMutex
	journal journal.Journal
}

func NewEngine(factory blockchain.Factory, opts ...Option) *Engine {
	e := &Engine{
		factory:   factory,
		queueSize: 16,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logrus.NewEntry(telemetry.Logger())
	}

	e.queue = newQueue(e.queueSize)

	return e
}

// Snapshot returns the current journal.
func (e *Engine) Snapshot() journal.Journal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.journal
}

// Account returns the execution account new forks impersonate, if any was set.
func (e *Engine) Account() (model.Address, bool) {
	var (
		account model.Address
		ok      bool
	)
	_ = e.queue.do(context.Background(), func(ctx context.Context) error {
		if e.account != nil {
			account, ok = *e.account, true
		}
		return nil
	})
	return account, ok
}

func (e *Engine) publish(j journal.Journal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.journal = j
}

// run queues fn as the operation name, tracing and measuring it.
func (e *Engine) run(ctx context.Context, name string, fn func(ctx context.Context) error, attrs ...attribute.KeyValue) error {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "journal."+name, attrs...)

	err := e.queue.do(ctx, fn)

	telemetry.EndSpan(span, err)
	telemetry.ObserveOperation(name, start, err)

	return err
}

// Append executes tx on the fork, creating the fork first if none is live, and
// records the outcome. A reverted execution is recorded as Failed.
func (e *Engine) Append(ctx context.Context, tx model.Transaction) (*journal.Record, error) {
	if err := tx.Validate(); err != nil {
		return nil, err
	}

	var record *journal.Record
	err := e.run(ctx, "append", func(ctx context.Context) error {
		j, err := e.ensureFork(ctx, e.Snapshot())
		if err != nil {
			return err
		}

		j, rec, err := e.execute(ctx, j, journal.Append{Transaction: tx})
		if err != nil {
			e.resync(ctx, j)
			return err
		}

		e.publish(j)
		record = &rec

		e.logger.WithFields(logrus.Fields{
			"record":   rec.ID,
			"snapshot": rec.SnapshotID,
			"status":   rec.Status,
		}).Debug("appended journal record")

		return nil
	}, attribute.String("to", tx.To.Hex()))
	if err != nil {
		return nil, err
	}

	if e.autoDecode && e.resolver != nil {
		e.decodeAsync(record.ID)
	}

	return record, nil
}

// Remove takes the record id and every later record out of the journal and executes
// the later ones again on the fork reverted to the record before id.
//
// When replay stops early the result is returned along with a *ReplayFailure.
func (e *Engine) Remove(ctx context.Context, id uuid.UUID) (*ReplayResult, error) {
	var result *ReplayResult
	err := e.run(ctx, "remove", func(ctx context.Context) error {
		var err error
		result, err = e.remove(ctx, id, false)
		return err
	}, attribute.String("record", id.String()))

	return result, err
}

// Retry executes a failed record and every later record again, in their original
// order, on the fork reverted to the record before it.
func (e *Engine) Retry(ctx context.Context, id uuid.UUID) (*ReplayResult, error) {
	var result *ReplayResult
	err := e.run(ctx, "retry", func(ctx context.Context) error {
		record, ok := e.Snapshot().Lookup(id)
		if !ok {
			return errors.Wrapf(journal.ErrNotFound, "record %s", id)
		}
		if record.Status != journal.Failed {
			return errors.Wrapf(journal.ErrInvalidTransition, "record %s is %s, only failed records can be retried", id, record.Status)
		}

		var err error
		result, err = e.remove(ctx, id, true)
		return err
	}, attribute.String("record", id.String()))

	return result, err
}

func (e *Engine) remove(ctx context.Context, id uuid.UUID, retry bool) (*ReplayResult, error) {
	plan, err := planRemoval(e.Snapshot(), id, retry)
	if err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"record":   id,
		"mode":     plan.mode,
		"snapshot": plan.snapshot,
		"replay":   len(plan.replay),
	}).Debug("removing journal record")

	result := &ReplayResult{
		Journal: plan.prefix,
		Removed: plan.removed,
	}

	switch plan.mode {
	case deleteFork:
		e.dropFork(ctx)
		e.publish(plan.prefix)
		return result, nil

	case freshFork:
		e.dropFork(ctx)
		if err := e.newFork(ctx); err != nil {
			e.publish(plan.prefix)
			return result, e.replayFailure(plan.prefix, nil, plan.replay, err)
		}

	case revertFork:
		if e.fork == nil {
			// the fork was lost earlier, rebuild the kept records first
			j, err := e.ensureFork(ctx, plan.prefix)
			if err != nil {
				e.publish(j)
				result.Journal = j

				var failure *ReplayFailure
				if errors.As(err, &failure) {
					failure.Dropped = append(failure.Dropped, plan.replay...)
					return result, failure
				}
				return result, e.replayFailure(j, nil, plan.replay, err)
			}
			plan.prefix = j
		} else if err := e.fork.RevertTo(ctx, plan.snapshot); err != nil {
			err = unavailable(err)
			e.dropFork(ctx)
			e.publish(plan.prefix)
			return result, e.replayFailure(plan.prefix, nil, plan.replay, err)
		}
	}

	j, replayed, err := e.replay(ctx, plan.prefix, plan.replay)
	e.publish(j)

	result.Journal = j
	result.Replayed = replayed

	return result, err
}

// Translate retargets the journal from one execution account to another and executes
// it again on a fresh fork impersonating the new account.
//
// Records keep their ids and their order. Records which can not be retargeted are not
// executed: they stay in the journal, rolled back with the reason, and are listed in
// the report. A record reverting on the new fork is recorded as failed and the rest of
// the journal is still executed. Only a fork failure stops the operation.
func (e *Engine) Translate(ctx context.Context, from, to model.Address) (*ReplayResult, error) {
	var result *ReplayResult
	err := e.run(ctx, "translate", func(ctx context.Context) error {
		current := e.Snapshot()

		translated, err := journal.Reduce(current, journal.Translate{From: from, To: to})
		if err != nil {
			return err
		}

		e.account = &to
		e.dropFork(ctx)

		records := translated.Journal.Records()
		result = &ReplayResult{
			Journal: journal.Journal{},
			Report:  translated.Report,
		}

		if len(records) == 0 {
			e.publish(journal.Journal{})
			return nil
		}

		if err := e.newFork(ctx); err != nil {
			e.publish(journal.Journal{})
			result.Removed = records
			return e.replayFailure(journal.Journal{}, nil, records, err)
		}

		if failures := len(translated.Report.Failures); failures > 0 {
			e.logger.WithField("failures", failures).Warn("journal records could not be retargeted")
		}

		j, replayed, err := e.retarget(ctx, current, records, translated.Report)
		e.publish(j)

		result.Journal = j
		result.Replayed = replayed

		return err
	}, attribute.String("from", from.Hex()), attribute.String("to", to.Hex()))

	return result, err
}

// retarget rebuilds the journal from translated records on the live fork. previous is
// the journal before translation.
func (e *Engine) retarget(ctx context.Context, previous journal.Journal, records []journal.Record, report *journal.TranslateReport) (journal.Journal, []journal.Record, error) {
	untranslatable := make(map[uuid.UUID]error, len(report.Failures))
	for _, f := range report.Failures {
		untranslatable[f.RecordID] = f.Err
	}

	j := journal.Journal{}
	var replayed []journal.Record

	for i, record := range records {
		if err := ctx.Err(); err != nil {
			return j, replayed, e.replayFailure(j, nil, records[i:], err)
		}

		reason, skip := untranslatable[record.ID]
		if skip || record.Status == journal.RolledBack {
			next, err := e.restore(ctx, j, record, reason)
			if err != nil {
				e.resync(ctx, j)
				return j, replayed, e.replayFailure(j, nil, records[i:], err)
			}
			j = next
			continue
		}

		next, rec, err := e.execute(ctx, j, journal.Append{
			ID:          record.ID,
			Transaction: record.Transaction,
			At:          record.CreatedAt,
		})
		if err != nil {
			e.resync(ctx, j)
			return j, replayed, e.replayFailure(j, nil, records[i:], err)
		}
		j = next

		// decoded info describes the call before retargeting
		if before, ok := previous.Lookup(record.ID); ok && record.ContractInfo != nil && sameCall(before.Transaction, record.Transaction) {
			if res, err := journal.Reduce(j, journal.Decode{ID: rec.ID, Info: record.ContractInfo}); err == nil {
				j, rec = res.Journal, *res.Record
			}
		}

		replayed = append(replayed, rec)
		telemetry.RecordReplayed(1)
	}

	return j, replayed, nil
}

// restore keeps a record in the journal without executing it. A record whose effects
// were live is rolled back with reason.
func (e *Engine) restore(ctx context.Context, j journal.Journal, record journal.Record, reason error) (journal.Journal, error) {
	snapshot, err := e.fork.Snapshot(ctx)
	if err != nil {
		return j, unavailable(err)
	}

	res, err := journal.Reduce(j, journal.Restore{Record: record, SnapshotID: snapshot})
	if err != nil {
		return j, err
	}

	if reason == nil || record.Status.IsTerminal() {
		return res.Journal, nil
	}

	res, err = journal.Reduce(res.Journal, journal.Rollback{ID: record.ID, Reason: reason.Error()})
	if err != nil {
		return j, err
	}
	return res.Journal, nil
}

func sameCall(a, b model.Transaction) bool {
	return a.To == b.To && a.Operation == b.Operation && bytes.Equal(a.Data, b.Data)
}

// Reset drops the journal and the fork and switches the execution account.
func (e *Engine) Reset(ctx context.Context, account model.Address) error {
	return e.run(ctx, "reset", func(ctx context.Context) error {
		e.account = &account
		e.dropFork(ctx)
		e.publish(journal.Journal{})
		return nil
	}, attribute.String("account", account.Hex()))
}

// Clear deletes the fork and empties the journal. It returns the removed records.
func (e *Engine) Clear(ctx context.Context) ([]journal.Record, error) {
	var removed []journal.Record
	err := e.run(ctx, "clear", func(ctx context.Context) error {
		res, err := journal.Reduce(e.Snapshot(), journal.Clear{})
		if err != nil {
			return err
		}

		e.dropFork(ctx)
		e.publish(res.Journal)
		removed = res.Removed

		return nil
	})

	return removed, err
}

func (e *Engine) Confirm(ctx context.Context, id uuid.UUID) (*journal.Record, error) {
	return e.transition(ctx, "confirm", journal.Confirm{ID: id}, id)
}

func (e *Engine) Fail(ctx context.Context, id uuid.UUID, reason string) (*journal.Record, error) {
	return e.transition(ctx, "fail", journal.Fail{ID: id, Reason: reason}, id)
}

func (e *Engine) transition(ctx context.Context, name string, action journal.Action, id uuid.UUID) (*journal.Record, error) {
	var record *journal.Record
	err := e.run(ctx, name, func(ctx context.Context) error {
		res, err := journal.Reduce(e.Snapshot(), action)
		if err != nil {
			return err
		}
		e.publish(res.Journal)
		record = res.Record
		return nil
	}, attribute.String("record", id.String()))

	return record, err
}

// Rollback marks the last live record as rolled back and reverts the fork to the live
// record before it. Any other record is refused with journal.ErrInvalidTransition.
func (e *Engine) Rollback(ctx context.Context, id uuid.UUID) (*journal.Record, error) {
	var record *journal.Record
	err := e.run(ctx, "rollback", func(ctx context.Context) error {
		current := e.Snapshot()

		snapshot, ok, err := rollbackTarget(current, id)
		if err != nil {
			return err
		}

		res, err := journal.Reduce(current, journal.Rollback{ID: id})
		if err != nil {
			return err
		}

		switch {
		case !ok:
			e.dropFork(ctx)
		case e.fork != nil:
			if err := e.fork.RevertTo(ctx, snapshot); err != nil {
				// the journal is right, the fork is rebuilt from it on next use
				e.logger.WithError(err).Warn("failed to revert fork on rollback")
				e.dropFork(ctx)
			}
		}

		e.publish(res.Journal)
		record = res.Record

		return nil
	}, attribute.String("record", id.String()))

	return record, err
}

// Decode resolves the contract info of a record and attaches it. Resolution runs
// outside of the queue, only attaching the result is serialized.
func (e *Engine) Decode(ctx context.Context, id uuid.UUID) (*journal.Record, error) {
	if e.resolver == nil {
		return nil, ErrNoResolver
	}

	record, ok := e.Snapshot().Lookup(id)
	if !ok {
		return nil, errors.Wrapf(journal.ErrNotFound, "record %s", id)
	}
	if record.ContractInfo != nil {
		return &record, nil
	}

	info, err := e.resolver.Resolve(ctx, record.Transaction)
	if err != nil {
		return nil, err
	}

	return e.transition(ctx, "decode", journal.Decode{ID: id, Info: info}, id)
}

func (e *Engine) decodeAsync(id uuid.UUID) {
	go func() {
		_, err := e.Decode(context.Background(), id)
		switch {
		case err == nil, errors.Is(err, ErrClosed), errors.Is(err, journal.ErrNotFound):
		case errors.Is(err, decoder.ErrUndecodable):
			e.logger.WithError(err).WithField("record", id).Debug("record not decoded")
		default:
			e.logger.WithError(err).WithField("record", id).Warn("failed to decode record")
		}
	}()
}

// Close stops the engine and deletes its fork. Operations still queued fail with
// ErrClosed.
func (e *Engine) Close(ctx context.Context) error {
	e.queue.stop()

	if e.fork == nil {
		return nil
	}

	err := e.fork.Delete(ctx)
	e.fork = nil
	if err != nil && !errors.Is(err, blockchain.ErrForkUnavailable) {
		return unavailable(err)
	}

	return nil
}

// execute runs the appended transaction on the live fork and appends the outcome to j.
func (e *Engine) execute(ctx context.Context, j journal.Journal, entry journal.Append) (journal.Journal, journal.Record, error) {
	result, err := e.fork.Execute(ctx, entry.Transaction)
	if err != nil {
		return j, journal.Record{}, unavailable(err)
	}

	entry.SnapshotID = result.SnapshotID
	appended, err := journal.Reduce(j, entry)
	if err != nil {
		return j, journal.Record{}, err
	}

	var action journal.Action = journal.Confirm{ID: appended.Record.ID}
	if result.Reverted {
		action = journal.Fail{ID: appended.Record.ID, Reason: result.RevertReason}
	}

	res, err := journal.Reduce(appended.Journal, action)
	if err != nil {
		return j, journal.Record{}, err
	}

	return res.Journal, *res.Record, nil
}

// replay executes records on the live fork in order, appending each outcome to j.
// It stops at the first record which is not confirmed again.
func (e *Engine) replay(ctx context.Context, j journal.Journal, records []journal.Record) (journal.Journal, []journal.Record, error) {
	var replayed []journal.Record

	for i, record := range records {
		if err := ctx.Err(); err != nil {
			return j, replayed, e.replayFailure(j, nil, records[i:], err)
		}

		next, rec, err := e.execute(ctx, j, journal.Append{Transaction: record.Transaction})
		if err != nil {
			e.resync(ctx, j)
			return j, replayed, e.replayFailure(j, nil, records[i:], err)
		}

		j = next
		if record.ContractInfo != nil {
			if res, err := journal.Reduce(j, journal.Decode{ID: rec.ID, Info: record.ContractInfo}); err == nil {
				j, rec = res.Journal, *res.Record
			}
		}
		replayed = append(replayed, rec)
		telemetry.RecordReplayed(1)

		if rec.Status == journal.Failed {
			cause := errors.Wrap(ErrExecutionReverted, rec.Error)
			return j, replayed, e.replayFailure(j, &rec, records[i+1:], cause)
		}
	}

	return j, replayed, nil
}

func (e *Engine) replayFailure(j journal.Journal, failed *journal.Record, dropped []journal.Record, cause error) error {
	telemetry.RecordReplayFailure()

	survivors := make([]uuid.UUID, 0, j.Len())
	for _, r := range j.Records() {
		survivors = append(survivors, r.ID)
	}

	e.logger.WithError(cause).WithFields(logrus.Fields{
		"survivors": len(survivors),
		"dropped":   len(dropped),
	}).Warn("journal replay stopped")

	return &ReplayFailure{
		Failed:    failed,
		Survivors: survivors,
		Dropped:   append([]journal.Record(nil), dropped...),
		Cause:     cause,
	}
}

// ensureFork makes sure a fork is live before executing on top of j. When the fork
// was lost while j still has live records, they are executed again on a new fork
// and the rebuilt journal is returned.
func (e *Engine) ensureFork(ctx context.Context, j journal.Journal) (journal.Journal, error) {
	if e.fork != nil {
		return j, nil
	}

	if err := e.newFork(ctx); err != nil {
		return j, err
	}

	records := live(j.Records())
	if len(records) == 0 {
		return j, nil
	}

	e.logger.WithField("records", len(records)).Info("rebuilding fork from journal")

	rebuilt, _, err := e.replay(ctx, journal.Journal{}, records)
	e.publish(rebuilt)

	return rebuilt, err
}

func (e *Engine) newFork(ctx context.Context) error {
	fork, err := e.factory.NewFork(ctx)
	if err != nil {
		return unavailable(err)
	}

	if e.account != nil {
		if impersonator, ok := fork.(blockchain.Impersonator); ok {
			if err := impersonator.Impersonate(ctx, *e.account); err != nil {
				_ = fork.Delete(context.Background())
				return unavailable(err)
			}
		}
	}

	e.fork = fork
	return nil
}

// dropFork deletes the live fork, if any. The next append creates a new one.
func (e *Engine) dropFork(ctx context.Context) {
	if e.fork == nil {
		return
	}

	fork := e.fork
	e.fork = nil

	ctx, cancel := cleanupContext(ctx)
	defer cancel()

	err := fork.Delete(ctx)
	if err != nil && !errors.Is(err, blockchain.ErrForkUnavailable) {
		e.logger.WithError(err).Warn("failed to delete fork")
		sentry.CaptureException(err)
	}
}

// resync reverts the fork to the last live record of j after a failed execution
// left it in an unknown state. A fork which can not be reverted is dropped.
func (e *Engine) resync(ctx context.Context, j journal.Journal) {
	if e.fork == nil {
		return
	}

	last, ok := lastLive(j)
	if !ok {
		e.dropFork(ctx)
		return
	}

	ctx, cancel := cleanupContext(ctx)
	defer cancel()

	if err := e.fork.RevertTo(ctx, last.SnapshotID); err != nil {
		e.logger.WithError(err).Warn("failed to resync fork with journal")
		e.dropFork(ctx)
	}
}

// cleanupContext returns a context for restoring consistency which outlives a
// cancelled caller context.
func cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx.Err() == nil {
		return context.WithTimeout(ctx, cleanupTimeout)
	}
	return context.WithTimeout(context.Background(), cleanupTimeout)
}
