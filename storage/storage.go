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

package storage

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/dapperlabs/fork-journal/model"
)

// SliceUpdate describes a read-modify-write of one deployment slice.
type SliceUpdate struct {
	// Columns computes the columns to write from the current row. Returning an error
	// aborts the update.
	Columns func(current *model.DeploymentSlice) (map[string]any, error)
	// Verify checks the row read back after the write. Returning an error rolls the
	// update back.
	Verify func(updated *model.DeploymentSlice) error
}

type Store interface {
	InsertDeployment(dep *model.Deployment) error
	GetDeployment(id uuid.UUID, dep *model.Deployment) error

	// InsertDeploymentSlice assigns the slice the index following the highest index
	// of its deployment and inserts it.
	InsertDeploymentSlice(slice *model.DeploymentSlice) error
	GetDeploymentSlice(id uuid.UUID, slice *model.DeploymentSlice) error
	GetSlicesForDeployment(deploymentID uuid.UUID, slices *[]*model.DeploymentSlice) error
	// UpdateDeploymentSlice applies update in a single database transaction and loads
	// the written row into slice.
	UpdateDeploymentSlice(id uuid.UUID, update SliceUpdate, slice *model.DeploymentSlice) error

	Ping() error
}

var ErrNotFound = errors.New("entity not found")
