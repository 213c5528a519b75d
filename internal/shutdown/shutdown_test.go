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

package shutdown

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mongolaunch/mongolaunch/internal/config"
	"github.com/mongolaunch/mongolaunch/internal/launcher"
)

// launchFake launches a shell script through the real launcher so shutdown
// operates on a genuine handle
// launchFake 通过真实的启动器启动 shell 脚本，使关闭逻辑作用于真实句柄
func launchFake(t *testing.T, script string, raw config.RawOptions) *launcher.Handle {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake mongod script requires a POSIX shell")
	}

	bin := filepath.Join(t.TempDir(), "mongod")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"+script+"\n"), 0o755))

	raw.Logging = "none"
	if raw.StorageLocation == "" {
		raw.StorageLocation = t.TempDir()
	}
	if raw.ShutdownTimeout == 0 {
		raw.ShutdownTimeout = 2 * time.Second
	}
	cfg, err := config.Resolve(raw)
	require.NoError(t, err)

	l := launcher.NewLauncher(zap.NewNop())
	h, err := l.Launch(context.Background(), cfg, bin)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = h.Kill()
		h.WaitExit(3 * time.Second)
	})
	return h
}

// TestStopNilHandle tests that stopping nothing reports AlreadyStopped
// TestStopNilHandle 测试对空句柄的停止报告 AlreadyStopped
func TestStopNilHandle(t *testing.T) {
	outcome, err := Stop(context.Background(), nil, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, AlreadyStopped, outcome)
}

// TestStopExitedProcess tests stopping a process that already exited
// TestStopExitedProcess 测试停止已退出的进程
func TestStopExitedProcess(t *testing.T) {
	h := launchFake(t, `echo "waiting for connections"
sleep 30`, config.RawOptions{})

	require.NoError(t, h.Kill())
	require.True(t, h.WaitExit(3*time.Second))

	outcome, err := Stop(context.Background(), h, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, AlreadyStopped, outcome)
}

// TestStopGraceful tests the signal-based graceful path
// TestStopGraceful 测试基于信号的优雅路径
func TestStopGraceful(t *testing.T) {
	h := launchFake(t, `echo "waiting for connections"
sleep 30`, config.RawOptions{})

	outcome, err := Stop(context.Background(), h, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, StoppedGracefully, outcome)
	assert.False(t, h.Alive())
}

// TestStopEscalatesToKill tests escalation when SIGTERM is ignored
// TestStopEscalatesToKill 测试 SIGTERM 被忽略时的升级
func TestStopEscalatesToKill(t *testing.T) {
	// The script ignores TERM; only SIGKILL can end it
	// 脚本忽略 TERM；只有 SIGKILL 能结束它
	h := launchFake(t, `trap '' TERM
echo "waiting for connections"
while true; do sleep 1; done`, config.RawOptions{ShutdownTimeout: 1 * time.Second})

	start := time.Now()
	outcome, err := Stop(context.Background(), h, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, StoppedForcibly, outcome)
	assert.False(t, h.Alive())
	assert.Less(t, time.Since(start), 10*time.Second)
}

// TestStopIsIdempotent tests that a second stop is a harmless no-op
// TestStopIsIdempotent 测试第二次停止是无害的空操作
func TestStopIsIdempotent(t *testing.T) {
	h := launchFake(t, `echo "waiting for connections"
sleep 30`, config.RawOptions{})

	outcome, err := Stop(context.Background(), h, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, StoppedGracefully, outcome)

	outcome, err = Stop(context.Background(), h, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, AlreadyStopped, outcome)
}

// TestWaitPortFree tests the port convergence probe
// TestWaitPortFree 测试端口收敛探测
func TestWaitPortFree(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port

	assert.True(t, stillListening(port))
	assert.False(t, WaitPortFree(port, 300*time.Millisecond))

	require.NoError(t, ln.Close())
	assert.True(t, WaitPortFree(port, 3*time.Second))
	assert.False(t, stillListening(port))
}
