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
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/dapperlabs/fork-journal/model"
)

var (
	_ Fork         = &timeoutFork{}
	_ Impersonator = &timeoutImpersonator{}
)

// WithTimeout bounds fork creation and every call made to the forks the factory
// creates. Calls already carrying an earlier deadline keep it.
func WithTimeout(factory Factory, timeout time.Duration) Factory {
	return FactoryFunc(func(ctx context.Context) (Fork, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		fork, err := factory.NewFork(ctx)
		if err != nil {
			return nil, err
		}

		bounded := &timeoutFork{fork: fork, timeout: timeout}
		if impersonator, ok := fork.(Impersonator); ok {
			return &timeoutImpersonator{timeoutFork: bounded, impersonator: impersonator}, nil
		}
		return bounded, nil
	})
}

type timeoutFork struct {
	fork    Fork
	timeout time.Duration
}

func (f *timeoutFork) Execute(ctx context.Context, tx model.Transaction) (*ExecutionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	return f.fork.Execute(ctx, tx)
}

func (f *timeoutFork) Snapshot(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	return f.fork.Snapshot(ctx)
}

func (f *timeoutFork) RevertTo(ctx context.Context, snapshotID uint64) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	return f.fork.RevertTo(ctx, snapshotID)
}

func (f *timeoutFork) Delete(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	return f.fork.Delete(ctx)
}

// timeoutImpersonator keeps the inner fork's ability to switch accounts visible.
type timeoutImpersonator struct {
	*timeoutFork
	impersonator Impersonator
}

func (f *timeoutImpersonator) Impersonate(ctx context.Context, account common.Address) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	return f.impersonator.Impersonate(ctx, account)
}
