/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/seatunnel/seatunnelX/svcd/internal/config"
	"github.com/seatunnel/seatunnelX/svcd/internal/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB creates a file-backed SQLite database in a temp dir
// setupTestDB 在临时目录中创建基于文件的 SQLite 数据库
func setupTestDB(t *testing.T) (*gorm.DB, func()) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if err := db.AutoMigrate(&Transition{}); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	cleanup := func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
	}
	return db, cleanup
}

func genService() gopter.Gen {
	return gen.OneConstOf(string(config.ServiceCodingAgent), string(config.ServiceMessagingGateway))
}

func genStatus() gopter.Gen {
	return gen.OneConstOf(
		string(supervisor.StatusStopped),
		string(supervisor.StatusStarting),
		string(supervisor.StatusRunning),
		string(supervisor.StatusDegraded),
		string(supervisor.StatusError),
	)
}

// TransitionTestData is one generated row
type TransitionTestData struct {
	Service string
	Status  string
	PID     int
}

func genTransitionTestData() gopter.Gen {
	return gopter.CombineGens(
		genService(),
		genStatus(),
		gen.IntRange(0, 65535),
	).Map(func(vals []interface{}) TransitionTestData {
		return TransitionTestData{
			Service: vals[0].(string),
			Status:  vals[1].(string),
			PID:     vals[2].(int),
		}
	})
}

func TestProperty_HistoryFilteringAndOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	parameters.Rng.Seed(42)

	properties := gopter.NewProperties(parameters)

	// Property: filtering by service returns only that service, newest first
	// 属性：按服务过滤只返回该服务的记录，且最新在前
	properties.Property("service filter and newest-first order", prop.ForAll(
		func(rows []TransitionTestData) bool {
			db, cleanup := setupTestDB(t)
			defer cleanup()

			repo := NewRepository(db)
			ctx := context.Background()
			base := time.Now().Add(-time.Hour)

			want := 0
			for i, row := range rows {
				tr := &Transition{
					Service:   row.Service,
					Status:    row.Status,
					PID:       row.PID,
					CreatedAt: base.Add(time.Duration(i) * time.Second),
				}
				if err := repo.Record(ctx, tr); err != nil {
					t.Logf("Failed to record: %v", err)
					return false
				}
				if row.Service == string(config.ServiceCodingAgent) {
					want++
				}
			}

			results, total, err := repo.List(ctx, &Filter{Service: string(config.ServiceCodingAgent), Limit: len(rows) + 1})
			if err != nil {
				t.Logf("Failed to list: %v", err)
				return false
			}
			if int(total) != want || len(results) != want {
				t.Logf("Got %d rows (total %d), want %d", len(results), total, want)
				return false
			}
			for i, r := range results {
				if r.Service != string(config.ServiceCodingAgent) {
					return false
				}
				if i > 0 && r.CreatedAt.After(results[i-1].CreatedAt) {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(12, genTransitionTestData()),
	))

	// Property: the limit caps the page but not the total
	// 属性：limit 限制结果数量但不影响总数
	properties.Property("limit caps results", prop.ForAll(
		func(rows []TransitionTestData, limit int) bool {
			db, cleanup := setupTestDB(t)
			defer cleanup()

			repo := NewRepository(db)
			ctx := context.Background()
			for _, row := range rows {
				if err := repo.Record(ctx, &Transition{Service: row.Service, Status: row.Status, PID: row.PID}); err != nil {
					return false
				}
			}

			results, total, err := repo.List(ctx, &Filter{Limit: limit})
			if err != nil {
				return false
			}
			return int(total) == len(rows) && len(results) == min(limit, len(rows))
		},
		gen.SliceOfN(8, genTransitionTestData()),
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}

func TestRecordRejectsEmptyService(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	err := NewRepository(db).Record(context.Background(), &Transition{Status: "running"})
	assert.True(t, errors.Is(err, ErrServiceEmpty))
}

func TestListFiltersByStatusAndSince(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewRepository(db)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, repo.Record(ctx, &Transition{Service: "coding-agent", Status: "error", CreatedAt: old}))
	require.NoError(t, repo.Record(ctx, &Transition{Service: "coding-agent", Status: "error", LastError: "Max restarts exceeded"}))
	require.NoError(t, repo.Record(ctx, &Transition{Service: "coding-agent", Status: "running"}))

	since := time.Now().Add(-time.Hour)
	rows, total, err := repo.List(ctx, &Filter{Status: "error", Since: &since})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, rows, 1)
	assert.Equal(t, "Max restarts exceeded", rows[0].LastError)

	deleted, err := repo.DeleteBefore(ctx, since)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)
}

func TestOpenSQLiteAndUnsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	db, err := Open(config.HistoryConfig{Enabled: true, Type: DatabaseTypeSQLite, SQLitePath: path}, nil)
	require.NoError(t, err)
	defer Close(db)
	assert.True(t, db.Migrator().HasTable(&Transition{}))

	_, err = Open(config.HistoryConfig{Enabled: true, Type: "oracle"}, nil)
	assert.True(t, errors.Is(err, ErrUnsupportedDatabase))
}

func TestRecorderWritesSnapshots(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewRepository(db)

	rec := NewRecorder(repo, 0, nil)
	rec.Observe(supervisor.State{Name: config.ServiceMessagingGateway, Status: supervisor.StatusStarting, PID: 42})
	rec.Observe(supervisor.State{Name: config.ServiceMessagingGateway, Status: supervisor.StatusRunning, PID: 42})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rec.Close(ctx))
	require.NoError(t, rec.Close(ctx))

	// Snapshots after close are ignored
	rec.Observe(supervisor.State{Name: config.ServiceMessagingGateway, Status: supervisor.StatusStopped})

	rows, total, err := repo.List(context.Background(), &Filter{Service: "messaging-gateway"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Equal(t, 42, rows[0].PID)
	assert.Zero(t, rec.Dropped())
}

func TestFromStateTruncatesLongErrors(t *testing.T) {
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	tr := FromState(supervisor.State{Name: config.ServiceCodingAgent, Status: supervisor.StatusError, LastError: string(long)})
	assert.Len(t, tr.LastError, 1024)
	assert.Equal(t, "coding-agent", tr.Service)
}
