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

package blockchain

import (
	"context"

	"github.com/getsentry/sentry-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var _ Factory = &Pool{}

// NewPool creates a pool of size forks prepared ahead of time by the factory.
func NewPool(factory Factory, size int) *Pool {
	p := &Pool{
		factory:   factory,
		instances: make(chan Fork, size),
	}
	for i := 0; i < size; i++ {
		go p.create()
	}
	return p
}

// Pool is an instance pool that hides slow fork creation.
//
// A fork is created lazily on the first append of a session, which would otherwise make
// that append wait for the node to bootstrap. The pool hands out a prepared fork and
// replaces it in the background.
type Pool struct {
	factory   Factory
	instances chan Fork
}

// NewFork returns a fork from the pool or creates one when the pool is empty.
func (p *Pool) NewFork(ctx context.Context) (Fork, error) {
	select {
	case fork := <-p.instances:
		go p.create()
		return fork, nil
	default:
		logrus.Debug("fork pool empty, creating fork on demand")
		return p.factory.NewFork(ctx)
	}
}

// add a fork to the pool, only to be used internally.
func (p *Pool) add(fork Fork) {
	select {
	case p.instances <- fork:
	default:
		// pool is full, release the extra fork
		_ = fork.Delete(context.Background())
	}
}

// create a new fork for the pool, only to be used internally.
func (p *Pool) create() {
	fork, err := p.factory.NewFork(context.Background())
	if err != nil {
		sentry.CaptureException(errors.Wrap(err, "fork pool creation failure"))
		return
	}
	p.add(fork)
}
