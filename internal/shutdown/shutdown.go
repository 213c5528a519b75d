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

// Package shutdown provides shutdown strategies for a launched mongod.
// shutdown 包提供已启动 mongod 的关闭策略。
//
// Two strategies exist and the choice is made from the auth flag captured
// in the handle's config snapshot at launch time, never inferred at stop
// time: an authenticated server rejects the generic signal-based path, so
// it gets an explicit shutdown command over an authenticated session.
// Both paths escalate to forcible termination after a bounded wait and
// both confirm the port is no longer listening before returning.
// 存在两种策略，选择依据是启动时在句柄配置快照中捕获的 auth 标志，
// 绝不在停止时推断：启用认证的服务器会拒绝基于信号的通用关闭路径，
// 因此它通过认证会话获得显式的 shutdown 命令。
// 两条路径在限定等待后都会升级为强制终止，并在返回前确认端口不再监听。
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mongolaunch/mongolaunch/internal/admin"
	"github.com/mongolaunch/mongolaunch/internal/launcher"
)

// ErrProcessLeaked indicates forcible termination also failed. This is a
// fatal operational error: a listening process survives the build run.
// ErrProcessLeaked 表示强制终止也失败了。这是致命的运维错误：
// 一个监听中的进程在构建运行之后仍然存活。
var ErrProcessLeaked = errors.New("mongod did not exit after forcible termination")

const (
	// forceKillWait bounds the wait after SIGKILL
	// forceKillWait 限制 SIGKILL 之后的等待时间
	forceKillWait = 5 * time.Second

	// portFreeWait bounds the post-exit wait for the kernel to release the port
	// portFreeWait 限制进程退出后等待内核释放端口的时间
	portFreeWait = 3 * time.Second
)

// Outcome is the result of a stop request.
// Outcome 是停止请求的结果。
type Outcome string

const (
	// StoppedGracefully means the graceful path ended the process
	// StoppedGracefully 表示优雅路径结束了进程
	StoppedGracefully Outcome = "stopped_gracefully"

	// StoppedForcibly means termination had to be escalated
	// StoppedForcibly 表示不得不升级为强制终止
	StoppedForcibly Outcome = "stopped_forcibly"

	// AlreadyStopped means there was nothing to stop
	// AlreadyStopped 表示没有需要停止的进程
	AlreadyStopped Outcome = "already_stopped"

	// Failed means no termination path converged
	// Failed 表示所有终止路径都未收敛
	Failed Outcome = "failed"
)

// Stop ends the process behind the handle using the strategy selected by the
// auth flag captured at launch. It is safe to call from failure and interrupt
// handlers: a nil handle or an already exited process yields AlreadyStopped.
// Stop 使用启动时捕获的 auth 标志所选定的策略结束句柄背后的进程。
// 它可以安全地从失败和中断处理程序中调用：nil 句柄或已退出的进程返回 AlreadyStopped。
func Stop(ctx context.Context, h *launcher.Handle, log *zap.Logger) (Outcome, error) {
	if h == nil || !h.Alive() {
		return AlreadyStopped, nil
	}

	graceful := false
	if h.Config.Auth {
		graceful = stopAuthenticated(ctx, h, log)
	} else {
		graceful = stopWithSignal(h, log)
	}

	if graceful {
		if !WaitPortFree(h.Port, portFreeWait) {
			// The process is gone but something still answers on the port
			// 进程已消失但端口上仍有应答
			return Failed, fmt.Errorf("%w: port %d still listening", ErrProcessLeaked, h.Port)
		}
		log.Info("mongod stopped gracefully",
			zap.String("instance_id", h.ID),
			zap.Int("port", h.Port))
		return StoppedGracefully, nil
	}

	// Escalate: forcible termination must converge
	// 升级：强制终止必须收敛
	log.Warn("graceful shutdown did not complete, killing mongod",
		zap.String("instance_id", h.ID),
		zap.Int("pid", h.PID))
	_ = h.Kill()
	if !h.WaitExit(forceKillWait) {
		return Failed, fmt.Errorf("%w: pid %d", ErrProcessLeaked, h.PID)
	}
	if !WaitPortFree(h.Port, portFreeWait) {
		return Failed, fmt.Errorf("%w: port %d still listening", ErrProcessLeaked, h.Port)
	}
	log.Info("mongod stopped forcibly",
		zap.String("instance_id", h.ID),
		zap.Int("port", h.Port))
	return StoppedForcibly, nil
}

// stopWithSignal is the generic graceful path for unauthenticated instances:
// SIGTERM, then a bounded wait for exit.
// stopWithSignal 是未认证实例的通用优雅路径：发送 SIGTERM，然后限时等待退出。
func stopWithSignal(h *launcher.Handle, log *zap.Logger) bool {
	if err := h.Signal(syscall.SIGTERM); err != nil {
		log.Warn("failed to send SIGTERM", zap.Int("pid", h.PID), zap.Error(err))
		return false
	}
	return h.WaitExit(h.Config.ShutdownTimeout)
}

// stopAuthenticated opens an authenticated session and issues the shutdown
// command. An authenticated server rejects the signal-based generic path, so
// this is the only graceful option when auth was enabled at launch.
// stopAuthenticated 打开认证会话并发出 shutdown 命令。
// 启用认证的服务器会拒绝基于信号的通用路径，因此这是启动时启用 auth 后唯一的优雅选项。
func stopAuthenticated(ctx context.Context, h *launcher.Handle, log *zap.Logger) bool {
	cmdCtx, cancel := context.WithTimeout(ctx, h.Config.ShutdownTimeout)
	defer cancel()

	err := admin.Shutdown(cmdCtx, h.Port, admin.Credential{
		Username: h.Config.AuthUsername,
		Password: h.Config.AuthPassword,
	})
	if err != nil {
		log.Warn("authenticated shutdown command failed",
			zap.Int("port", h.Port),
			zap.Error(err))
		return false
	}
	return h.WaitExit(h.Config.ShutdownTimeout)
}
