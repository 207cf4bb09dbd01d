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
	"context"
	"sync"

	"github.com/getsentry/sentry-go"
	"github.com/pkg/errors"
)

type operation struct {
	ctx  context.Context
	run  func(ctx context.Context) error
	done chan error
}

// queue runs operations one at a time in submission order on a single worker.
//
// Operations which were queued but not started when the queue stops fail with
// ErrClosed.
type queue struct {
	mu      sync.RWMutex
	closed  bool
	ops     chan operation
	quit    chan struct{}
	stopped chan struct{}
}

func newQueue(size int) *queue {
	q := &queue{
		ops:     make(chan operation, size),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go q.work()
	return q
}

// do submits run and waits for its outcome. Cancelling ctx while the operation is
// queued fails it without running, once started run observes ctx itself.
func (q *queue) do(ctx context.Context, run func(ctx context.Context) error) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return ErrClosed
	}

	op := operation{
		ctx:  ctx,
		run:  run,
		done: make(chan error, 1),
	}

	select {
	case q.ops <- op:
	case <-ctx.Done():
		q.mu.RUnlock()
		return ctx.Err()
	}
	q.mu.RUnlock()

	return <-op.done
}

// stop waits for the running operation and fails the queued ones.
func (q *queue) stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.stopped
		return
	}
	q.closed = true
	q.mu.Unlock()

	close(q.quit)
	<-q.stopped
}

func (q *queue) work() {
	defer close(q.stopped)

	for {
		select {
		case op := <-q.ops:
			op.done <- q.exec(op)
		case <-q.quit:
			for {
				select {
				case op := <-q.ops:
					op.done <- ErrClosed
				default:
					return
				}
			}
		}
	}
}

func (q *queue) exec(op operation) (err error) {
	if err := op.ctx.Err(); err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			sentry.CurrentHub().Recover(r)
			err = errors.Errorf("journal operation panicked: %v", r)
		}
	}()

	return op.run(op.ctx)
}
