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
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"github.com/seatunnel/seatunnelX/svcd/internal/config"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database type constants
// 数据库类型常量
const (
	DatabaseTypeSQLite   = "sqlite"
	DatabaseTypeMySQL    = "mysql"
	DatabaseTypePostgres = "postgres"
)

// ErrUnsupportedDatabase indicates an unknown history.type
var ErrUnsupportedDatabase = errors.New("history: unsupported database type")

// Open connects to the configured database and migrates the schema.
// SQLite is used when no type is set.
// Open 连接配置的数据库并迁移表结构，未设置类型时使用 SQLite。
func Open(cfg config.HistoryConfig, log *zap.Logger) (*gorm.DB, error) {
	if log == nil {
		log = zap.NewNop()
	}

	dbType := cfg.Type
	if dbType == "" {
		dbType = DatabaseTypeSQLite
	}

	var dialector gorm.Dialector
	switch dbType {
	case DatabaseTypeSQLite:
		path := cfg.SQLitePath
		if path == "" {
			path = config.DefaultHistorySQLitePath
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("history: create sqlite directory: %w", err)
		}
		log.Info("Using SQLite history database", zap.String("path", path))
		dialector = sqlite.Open(path)
	case DatabaseTypeMySQL:
		log.Info("Using MySQL history database")
		dialector = mysql.Open(cfg.DSN)
	case DatabaseTypePostgres:
		log.Info("Using PostgreSQL history database")
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: %s (supported: sqlite, mysql, postgres)", ErrUnsupportedDatabase, dbType)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("history: connect %s: %w", dbType, err)
	}
	if err := db.AutoMigrate(&Transition{}); err != nil {
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return db, nil
}

// Close releases the underlying connection pool
// Close 释放底层连接池
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
