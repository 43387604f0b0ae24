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

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Store holds the live service configurations.
// Store 保存运行时的服务配置。
//
// Updates only change what the next start will use; a running service keeps
// the configuration it was started with until it is restarted.
// 更新只影响下一次启动；正在运行的服务在重启前继续使用启动时的配置。
type Store struct {
	mu        sync.RWMutex
	services  map[ServiceName]ServiceConfig
	statePath string
	backupDir string
}

// stateFile 是持久化文件的结构
type stateFile struct {
	Services map[string]ServiceConfig `yaml:"services"`
}

// NewStore creates a Store seeded from cfg. statePath may be empty.
// NewStore 使用 cfg 初始化 Store，statePath 可以为空。
func NewStore(services map[string]ServiceConfig, statePath string) *Store {
	s := &Store{
		services:  make(map[ServiceName]ServiceConfig),
		statePath: statePath,
	}
	if statePath != "" {
		s.backupDir = filepath.Join(filepath.Dir(statePath), "config_backups")
	}
	for _, name := range KnownServices() {
		svc, ok := services[string(name)]
		if !ok {
			svc = DefaultServiceConfig(name)
		}
		s.services[name] = svc.Clone()
	}
	return s
}

// LoadOverrides merges a previously persisted state file over the store.
// A missing file is not an error.
// LoadOverrides 将之前持久化的状态文件合并到 Store，文件不存在不是错误。
func (s *Store) LoadOverrides() error {
	if s.statePath == "" {
		return nil
	}
	data, err := os.ReadFile(s.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read state file: %w", err)
	}

	var state stateFile
	if err := yaml.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to parse state file: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, svc := range state.Services {
		if !IsKnownService(name) {
			continue
		}
		if err := svc.Validate(); err != nil {
			return fmt.Errorf("state file services.%s: %w", name, err)
		}
		s.services[ServiceName(name)] = svc.Clone()
	}
	return nil
}

// Get returns a copy of one service configuration
// Get 返回一个服务配置的副本
func (s *Store) Get(name ServiceName) (ServiceConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	svc, ok := s.services[name]
	if !ok {
		return ServiceConfig{}, fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	return svc.Clone(), nil
}

// All returns copies of every service configuration
// All 返回所有服务配置的副本
func (s *Store) All() map[ServiceName]ServiceConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[ServiceName]ServiceConfig, len(s.services))
	for name, svc := range s.services {
		out[name] = svc.Clone()
	}
	return out
}

// Update applies patch to one service, validates the result and persists it.
// Update 对一个服务应用补丁，验证结果并持久化。
func (s *Store) Update(name ServiceName, patch ServicePatch) (ServiceConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.services[name]
	if !ok {
		return ServiceConfig{}, fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	next := patch.Apply(current)
	if err := next.Validate(); err != nil {
		return ServiceConfig{}, err
	}

	s.services[name] = next
	if err := s.persistLocked(); err != nil {
		s.services[name] = current
		return ServiceConfig{}, err
	}
	return next.Clone(), nil
}

// persistLocked 将所有服务配置写入状态文件（调用方需持有锁）
func (s *Store) persistLocked() error {
	if s.statePath == "" {
		return nil
	}

	state := stateFile{Services: make(map[string]ServiceConfig, len(s.services))}
	names := make([]string, 0, len(s.services))
	for name := range s.services {
		names = append(names, string(name))
	}
	sort.Strings(names)
	for _, name := range names {
		state.Services[name] = s.services[ServiceName(name)]
	}

	data, err := yaml.Marshal(&state)
	if err != nil {
		return fmt.Errorf("failed to encode state file: %w", err)
	}

	if _, err := os.Stat(s.statePath); err == nil {
		if _, err := s.backupLocked(); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(s.statePath), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	// 先写临时文件再重命名，避免写一半的状态文件
	tmp := s.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, s.statePath); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// backupLocked 备份当前状态文件
func (s *Store) backupLocked() (string, error) {
	if err := os.MkdirAll(s.backupDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405.000")
	backupPath := filepath.Join(s.backupDir, fmt.Sprintf("%s.%s.bak", filepath.Base(s.statePath), timestamp))

	content, err := os.ReadFile(s.statePath)
	if err != nil {
		return "", fmt.Errorf("failed to read original file: %w", err)
	}
	if err := os.WriteFile(backupPath, content, 0644); err != nil {
		return "", fmt.Errorf("failed to write backup file: %w", err)
	}
	return backupPath, nil
}
