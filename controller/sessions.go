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

package controller

import (
	"context"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/golang/groupcache/lru"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dapperlabs/fork-journal/blockchain"
	"github.com/dapperlabs/fork-journal/model"
	"github.com/dapperlabs/fork-journal/reconcile"
	"github.com/dapperlabs/fork-journal/telemetry"
)

const closeTimeout = 30 * time.Second

// Sessions holds one reconciliation engine per journal session.
//
// At most maxSessions engines are kept, the least recently used one is closed, deleting
// its fork, when another session starts.
type Sessions struct {
	mu      sync.Mutex
	engines *lru.Cache
	locks   *mutex
	factory blockchain.Factory
	options []reconcile.Option
	closing sync.WaitGroup
}

func NewSessions(factory blockchain.Factory, maxSessions int, options ...reconcile.Option) *Sessions {
	s := &Sessions{
		locks:   newMutex(),
		factory: factory,
		options: options,
	}

	s.engines = lru.New(maxSessions)
	s.engines.OnEvicted = s.evicted

	return s
}

func (s *Sessions) evicted(key lru.Key, value interface{}) {
	engine := value.(*reconcile.Engine)
	telemetry.SessionClosed()

	s.closing.Add(1)
	go func() {
		defer s.closing.Done()

		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()

		if err := engine.Close(ctx); err != nil {
			logrus.WithError(err).WithField("session", key).Warn("failed to close journal session")
			sentry.CaptureException(errors.Wrap(err, "failed to close journal session"))
		}
	}()
}

// engine returns the engine of the session, starting one if needed.
func (s *Sessions) engine(id uuid.UUID) *reconcile.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()

	if value, ok := s.engines.Get(id); ok {
		return value.(*reconcile.Engine)
	}

	options := append([]reconcile.Option{
		reconcile.WithLogger(telemetry.Logger().WithField("session", id)),
	}, s.options...)

	engine := reconcile.NewEngine(s.factory, options...)
	s.engines.Add(id, engine)
	telemetry.SessionOpened()

	return engine
}

// Use runs fn with the engine of the session. Uses of the same session may run
// concurrently, the engine orders their operations.
func (s *Sessions) Use(id uuid.UUID, fn func(engine *reconcile.Engine) error) error {
	s.locks.load(id).RLock()
	defer func() {
		s.locks.remove(id).RUnlock()
	}()

	return fn(s.engine(id))
}

// Exclusive runs fn with the engine of the session while no other use of the session
// is in progress.
func (s *Sessions) Exclusive(id uuid.UUID, fn func(engine *reconcile.Engine) error) error {
	s.locks.load(id).Lock()
	defer func() {
		s.locks.remove(id).Unlock()
	}()

	return fn(s.engine(id))
}

// SwitchAccount changes the execution account of the session. With retainHistory the
// journal is translated to the new account and replayed, otherwise it is dropped.
func (s *Sessions) SwitchAccount(
	ctx context.Context,
	id uuid.UUID,
	to model.Address,
	retainHistory bool,
) (*reconcile.ReplayResult, error) {
	var result *reconcile.ReplayResult

	err := s.Exclusive(id, func(engine *reconcile.Engine) error {
		from, ok := engine.Account()
		if ok && from == to {
			result = &reconcile.ReplayResult{Journal: engine.Snapshot()}
			return nil
		}

		if !retainHistory || !ok {
			if err := engine.Reset(ctx, to); err != nil {
				return err
			}
			result = &reconcile.ReplayResult{Journal: engine.Snapshot()}
			return nil
		}

		var err error
		result, err = engine.Translate(ctx, from, to)
		return err
	})

	return result, err
}

// End closes the session and deletes its fork.
func (s *Sessions) End(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.engines.Remove(id)
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.engines.Len()
}

// Close ends every session and waits for their forks to be deleted.
func (s *Sessions) Close() {
	s.mu.Lock()
	s.engines.Clear()
	s.mu.Unlock()

	s.closing.Wait()
}
