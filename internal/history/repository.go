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
	"time"

	"gorm.io/gorm"
)

// DefaultListLimit bounds queries that set no limit
const DefaultListLimit = 100

// ErrServiceEmpty indicates a transition without a service name
// ErrServiceEmpty 表示转换记录缺少服务名
var ErrServiceEmpty = errors.New("history: service name cannot be empty")

// Repository provides data access for status transitions
// Repository 提供状态转换的数据访问
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new Repository instance
// NewRepository 创建一个新的 Repository 实例
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Record inserts one transition
// Record 插入一条转换记录
func (r *Repository) Record(ctx context.Context, t *Transition) error {
	if t.Service == "" {
		return ErrServiceEmpty
	}
	return r.db.WithContext(ctx).Create(t).Error
}

// List returns matching transitions, newest first, and the total match count
// List 返回匹配的转换记录（最新在前）及匹配总数
func (r *Repository) List(ctx context.Context, filter *Filter) ([]*Transition, int64, error) {
	query := r.db.WithContext(ctx).Model(&Transition{})

	limit := DefaultListLimit
	if filter != nil {
		if filter.Service != "" {
			query = query.Where("service = ?", filter.Service)
		}
		if filter.Status != "" {
			query = query.Where("status = ?", filter.Status)
		}
		if filter.Since != nil {
			query = query.Where("created_at >= ?", *filter.Since)
		}
		if filter.Limit > 0 {
			limit = filter.Limit
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []*Transition
	if err := query.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// DeleteBefore removes transitions older than before
// DeleteBefore 删除早于指定时间的转换记录
func (r *Repository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("created_at < ?", before).Delete(&Transition{})
	return result.RowsAffected, result.Error
}
