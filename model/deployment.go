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

package model

import (
	"time"

	"github.com/google/uuid"
)

// Deployment is a multi-step, multi-account execution plan made of ordered slices.
type Deployment struct {
	ID          uuid.UUID `gorm:"primaryKey" json:"id"`
	Title       string    `json:"title"`
	CreatedByID uuid.UUID `json:"createdById"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ExecutionStep is a single transaction executed by one account of a slice.
type ExecutionStep struct {
	Account     Address     `json:"account"`
	Transaction Transaction `json:"transaction"`
	Label       string      `json:"label,omitempty"`
}

// DeploymentSlice is one ordered step group of a deployment.
//
// Completion and cancellation fields are mutually exclusive: a slice is either active,
// completed or cancelled, and the "at" and "by" fields of a terminal state are always
// set together.
type DeploymentSlice struct {
	ID                  uuid.UUID       `gorm:"primaryKey" json:"id"`
	DeploymentID        uuid.UUID       `gorm:"index:idx_deployment_slice_index,unique" json:"deploymentId"`
	Index               int             `gorm:"index:idx_deployment_slice_index,unique" json:"index"`
	Steps               []ExecutionStep `gorm:"serializer:json" json:"steps"`
	From                Address         `gorm:"serializer:json" json:"from"`
	CompletedAt         *time.Time      `json:"completedAt,omitempty"`
	CompletedByID       *uuid.UUID      `json:"completedById,omitempty"`
	CancelledAt         *time.Time      `json:"cancelledAt,omitempty"`
	CancelledByID       *uuid.UUID      `json:"cancelledById,omitempty"`
	TransactionHash     string          `json:"transactionHash,omitempty"`
	SignedTransactionID *uuid.UUID      `json:"signedTransactionId,omitempty"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

func (s *DeploymentSlice) IsCompleted() bool {
	return s.CompletedAt != nil
}

func (s *DeploymentSlice) IsCancelled() bool {
	return s.CancelledAt != nil
}

func (s *DeploymentSlice) IsActive() bool {
	return !s.IsCompleted() && !s.IsCancelled()
}

type NewDeployment struct {
	Title       string
	CreatedByID uuid.UUID
}

type NewDeploymentSlice struct {
	DeploymentID uuid.UUID
	Steps        []ExecutionStep
	From         Address
}
