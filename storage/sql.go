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
	"database/sql"
	"fmt"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dapperlabs/fork-journal/model"
	"github.com/dapperlabs/fork-journal/server/config"
)

var _ Store = &SQL{}

const PostgreSQL = "postgresql"

// NewInMemory database, a single connection is used since every sqlite memory
// connection opens its own database
func NewInMemory() *SQL {
	s := newSQL(sqlite.Open(":memory:"), logger.Warn)

	d, err := s.db.DB()
	if err != nil {
		panic(err)
	}
	d.SetMaxOpenConns(1)

	return s
}

func NewSqlite(path string) *SQL {
	return newSQL(sqlite.Open(path), logger.Warn)
}

func NewPostgreSQL(conf *config.DatabaseConfig) *SQL {
	cfg := postgres.Config{
		DSN: fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
			conf.Host,
			conf.User,
			conf.Password,
			conf.Name,
			conf.Port,
		),
	}

	return newSQL(postgres.New(cfg), logger.Error)
}

func newSQL(dial gorm.Dialector, level logger.LogLevel) *SQL {
	gormConf := &gorm.Config{
		Logger: logger.Default.LogMode(level),
	}

	db, err := gorm.Open(dial, gormConf)
	if err != nil {
		err := errors.Wrap(err, "failed to connect database")
		sentry.CaptureException(err)
		panic(err)
	}

	if config.Platform() == config.Staging && config.Journal().ForceMigration {
		_ = db.Migrator().DropTable("deployment_slices")
		_ = db.Migrator().DropTable("deployments")
	}

	migrate(db)

	d, err := db.DB()
	if err != nil {
		panic(err)
	}
	d.SetMaxIdleConns(5)

	return &SQL{
		db: db,
	}
}

func migrate(db *gorm.DB) {
	err := db.AutoMigrate(
		&model.Deployment{},
		&model.DeploymentSlice{},
	)
	if err != nil {
		err := errors.Wrap(err, "failed to migrate database")
		sentry.CaptureException(err)
		panic(err)
	}
}

type SQL struct {
	db *gorm.DB
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *SQL) InsertDeployment(dep *model.Deployment) error {
	return s.db.Create(dep).Error
}

func (s *SQL) GetDeployment(id uuid.UUID, dep *model.Deployment) error {
	return notFound(s.db.First(dep, id).Error)
}

func (s *SQL) InsertDeploymentSlice(slice *model.DeploymentSlice) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var last sql.NullInt64
		err := tx.Model(&model.DeploymentSlice{}).
			Where("deployment_id = ?", slice.DeploymentID).
			Select(`MAX("index")`).
			Scan(&last).Error
		if err != nil {
			return err
		}

		slice.Index = 0
		if last.Valid {
			slice.Index = int(last.Int64) + 1
		}

		return tx.Create(slice).Error
	})
}

func (s *SQL) GetDeploymentSlice(id uuid.UUID, slice *model.DeploymentSlice) error {
	return notFound(s.db.First(slice, id).Error)
}

func (s *SQL) GetSlicesForDeployment(deploymentID uuid.UUID, slices *[]*model.DeploymentSlice) error {
	return s.db.Where(&model.DeploymentSlice{DeploymentID: deploymentID}).
		Order("\"index\" asc").
		Find(slices).Error
}

func (s *SQL) UpdateDeploymentSlice(id uuid.UUID, update SliceUpdate, slice *model.DeploymentSlice) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var current model.DeploymentSlice
		if err := tx.First(&current, id).Error; err != nil {
			return notFound(err)
		}

		columns, err := update.Columns(&current)
		if err != nil {
			return err
		}

		// map updates also write zero values, see https://gorm.io/docs/update.html
		err = tx.Model(&model.DeploymentSlice{ID: id}).Updates(columns).Error
		if err != nil {
			return err
		}

		if err := tx.First(slice, id).Error; err != nil {
			return notFound(err)
		}

		if update.Verify != nil {
			return update.Verify(slice)
		}
		return nil
	})
}

func (s *SQL) Ping() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Ping()
}
