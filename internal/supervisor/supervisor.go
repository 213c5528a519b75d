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

// Package supervisor coordinates the full lifecycle of one mongod instance:
// binary resolution, launch, optional superuser bootstrap, and shutdown.
// supervisor 包协调单个 mongod 实例的完整生命周期：
// 二进制解析、启动、可选的超级用户引导以及关闭。
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mongolaunch/mongolaunch/internal/admin"
	"github.com/mongolaunch/mongolaunch/internal/binary"
	"github.com/mongolaunch/mongolaunch/internal/config"
	"github.com/mongolaunch/mongolaunch/internal/launcher"
	"github.com/mongolaunch/mongolaunch/internal/shutdown"
)

var (
	// ErrStartupFailed wraps any error on the path from binary resolution
	// to readiness. The supervisor transitions to Failed, a terminal state.
	// ErrStartupFailed 包装从二进制解析到就绪路径上的任何错误。
	// 监督器进入 Failed 终态。
	ErrStartupFailed = errors.New("mongod startup failed")

	// ErrFailedState is returned by Start after a previous startup failed
	// ErrFailedState 在上次启动失败后由 Start 返回
	ErrFailedState = errors.New("supervisor is in failed state")

	// ErrBusy is returned when Start or Stop overlaps an in-flight transition
	// ErrBusy 在 Start 或 Stop 与进行中的状态转换重叠时返回
	ErrBusy = errors.New("lifecycle transition already in progress")
)

// bootstrapTimeout bounds the superuser creation right after readiness.
// bootstrapTimeout 限制就绪后立即执行的超级用户创建。
const bootstrapTimeout = 30 * time.Second

// State is the lifecycle state of the supervised instance.
// State 是受监督实例的生命周期状态。
type State string

const (
	StateNotStarted State = "not_started"
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateStopping   State = "stopping"
	StateStopped    State = "stopped"
	StateFailed     State = "failed"
)

// Supervisor owns at most one mongod handle at a time. All transitions are
// serialized; callers never see a half-started instance.
// Supervisor 同一时刻最多持有一个 mongod 句柄。所有状态转换串行化；
// 调用者绝不会看到半启动的实例。
type Supervisor struct {
	mu          sync.Mutex
	state       State
	handle      *launcher.Handle
	cfg         *config.InstanceConfig
	launcher    *launcher.Launcher
	log         *zap.Logger
	lastErr     error
	ownsDataDir bool
}

// New creates a supervisor for a resolved instance config.
// New 为已解析的实例配置创建监督器。
func New(cfg *config.InstanceConfig, log *zap.Logger) *Supervisor {
	return &Supervisor{
		state:    StateNotStarted,
		cfg:      cfg,
		launcher: launcher.NewLauncher(log),
		log:      log,
	}
}

// State returns the current lifecycle state.
// State 返回当前生命周期状态。
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Handle returns the current handle, or nil when nothing is running.
// Handle 返回当前句柄，无运行实例时返回 nil。
func (s *Supervisor) Handle() *launcher.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// Start resolves the mongod binary, launches it, and when auth is enabled
// bootstraps the superuser through the localhost exception. Calling Start
// while the instance is already running is a no-op returning the live handle.
// Any failure after the process was spawned force-terminates it before
// returning: a failed Start never leaves an orphan behind.
// Start 解析 mongod 二进制、启动它，并在启用认证时通过 localhost 例外引导超级用户。
// 实例已在运行时调用 Start 为空操作，返回当前句柄。
// 进程已派生后发生的任何失败都会在返回前强制终止它：失败的 Start 绝不遗留孤儿进程。
func (s *Supervisor) Start(ctx context.Context) (*launcher.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateRunning:
		return s.handle, nil
	case StateStarting, StateStopping:
		return nil, ErrBusy
	case StateFailed:
		return nil, fmt.Errorf("%w: %v", ErrFailedState, s.lastErr)
	}
	s.state = StateStarting

	h, err := s.start(ctx)
	if err != nil {
		s.state = StateFailed
		s.lastErr = err
		// Keep the cause in the chain so callers can distinguish download,
		// bind and timeout failures.
		// 在错误链中保留原因，使调用者能区分下载、端口占用与超时失败。
		return nil, fmt.Errorf("%w: %w", ErrStartupFailed, err)
	}

	s.state = StateRunning
	s.handle = h
	s.ownsDataDir = s.cfg.StorageLocation == ""
	s.log.Info("instance running",
		zap.String("instance_id", h.ID),
		zap.Int("pid", h.PID),
		zap.String("uri", h.URI()))
	return h, nil
}

func (s *Supervisor) start(ctx context.Context) (*launcher.Handle, error) {
	resolver, err := binary.NewResolver(s.cfg, s.log)
	if err != nil {
		return nil, err
	}
	binPath, err := resolver.Resolve(ctx, s.cfg.Version)
	if err != nil {
		return nil, err
	}

	h, err := s.launcher.Launch(ctx, s.cfg, binPath)
	if err != nil {
		return nil, err
	}

	if s.cfg.Auth {
		bctx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
		err = admin.EnsureSuperuser(bctx, h.Port, admin.Credential{
			Username: s.cfg.AuthUsername,
			Password: s.cfg.AuthPassword,
		})
		cancel()
		if err != nil {
			s.terminateAfterFailedStart(h)
			return nil, fmt.Errorf("superuser bootstrap: %w", err)
		}
	}
	return h, nil
}

// terminateAfterFailedStart tears down a process whose startup sequence did
// not complete. Graceful first, then SIGKILL.
// terminateAfterFailedStart 拆除启动序列未完成的进程。先优雅终止，再 SIGKILL。
func (s *Supervisor) terminateAfterFailedStart(h *launcher.Handle) {
	s.log.Warn("terminating mongod after failed startup",
		zap.String("instance_id", h.ID),
		zap.Int("pid", h.PID))
	_ = h.Signal(syscall.SIGTERM)
	if !h.WaitExit(5 * time.Second) {
		_ = h.Kill()
		h.WaitExit(5 * time.Second)
	}
}

// Stop ends the running instance. It is always safe to call: stopping an
// instance that never started, already stopped, or failed to start reports
// AlreadyStopped without error. A temp data directory created at launch is
// removed once the process is confirmed down.
// Stop 结束运行中的实例。任何时候调用都是安全的：停止从未启动、已停止或启动失败的实例
// 会无错误地报告 AlreadyStopped。启动时创建的临时数据目录在进程确认退出后移除。
func (s *Supervisor) Stop(ctx context.Context) (shutdown.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateStarting || s.state == StateStopping {
		return shutdown.Failed, ErrBusy
	}
	h := s.handle
	if h == nil {
		return shutdown.AlreadyStopped, nil
	}
	s.state = StateStopping

	outcome, err := shutdown.Stop(ctx, h, s.log)
	if outcome == shutdown.Failed {
		s.state = StateFailed
		s.lastErr = err
		return outcome, err
	}

	if s.ownsDataDir && h.DataDir != "" {
		if rmErr := os.RemoveAll(h.DataDir); rmErr != nil {
			s.log.Warn("failed to remove data directory",
				zap.String("path", h.DataDir),
				zap.Error(rmErr))
		}
	}

	s.state = StateStopped
	s.handle = nil
	return outcome, nil
}
