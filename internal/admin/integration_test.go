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

package admin_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mongolaunch/mongolaunch/internal/admin"
	"github.com/mongolaunch/mongolaunch/internal/config"
	"github.com/mongolaunch/mongolaunch/internal/launcher"
	"github.com/mongolaunch/mongolaunch/internal/shutdown"
)

// realMongod returns the path to a real mongod binary, or skips.
// realMongod 返回真实 mongod 二进制的路径，否则跳过测试。
func realMongod(t *testing.T) string {
	t.Helper()
	bin := os.Getenv("MONGOLAUNCH_TEST_MONGOD")
	if bin == "" {
		t.Skip("set MONGOLAUNCH_TEST_MONGOD to a mongod binary to run integration tests")
	}
	return bin
}

// TestIntegrationUnauthenticatedLifecycle tests ping, engine verification and
// graceful shutdown against a real server
// TestIntegrationUnauthenticatedLifecycle 针对真实服务器测试 ping、引擎验证和优雅关闭
func TestIntegrationUnauthenticatedLifecycle(t *testing.T) {
	bin := realMongod(t)

	cfg, err := config.Resolve(config.RawOptions{
		Logging:         "none",
		StorageLocation: t.TempDir(),
	})
	require.NoError(t, err)

	log := zap.NewNop()
	h, err := launcher.NewLauncher(log).Launch(context.Background(), cfg, bin)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = shutdown.Stop(context.Background(), h, log)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, admin.Ping(ctx, h.Port, nil))

	engine, err := admin.ServerStorageEngine(ctx, h.Port, nil)
	require.NoError(t, err)
	assert.Equal(t, string(cfg.StorageEngine), engine)

	outcome, err := shutdown.Stop(context.Background(), h, log)
	require.NoError(t, err)
	assert.Equal(t, shutdown.StoppedGracefully, outcome)
}

// TestIntegrationAuthenticatedShutdown tests superuser bootstrap, rejection of
// unauthenticated commands, and the authenticated shutdown path
// TestIntegrationAuthenticatedShutdown 针对真实服务器测试超级用户引导、
// 未认证命令的拒绝以及认证关闭路径
func TestIntegrationAuthenticatedShutdown(t *testing.T) {
	bin := realMongod(t)

	cfg, err := config.Resolve(config.RawOptions{
		Logging:         "none",
		StorageLocation: t.TempDir(),
		Auth:            true,
	})
	require.NoError(t, err)

	log := zap.NewNop()
	h, err := launcher.NewLauncher(log).Launch(context.Background(), cfg, bin)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = shutdown.Stop(context.Background(), h, log)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cred := admin.Credential{Username: cfg.AuthUsername, Password: cfg.AuthPassword}
	require.NoError(t, admin.EnsureSuperuser(ctx, h.Port, cred))

	// Once the superuser exists the localhost exception is gone: the same
	// administrative command must fail without credentials and succeed with
	// them.
	// 超级用户创建后 localhost 例外即失效：同一管理命令在无凭据时必须失败，
	// 带凭据时必须成功。
	_, err = admin.ServerStorageEngine(ctx, h.Port, nil)
	assert.Error(t, err, "unauthenticated administrative command must be rejected")

	engine, err := admin.ServerStorageEngine(ctx, h.Port, &cred)
	require.NoError(t, err)
	assert.Equal(t, string(cfg.StorageEngine), engine)

	require.NoError(t, admin.Ping(ctx, h.Port, &cred))

	outcome, err := shutdown.Stop(context.Background(), h, log)
	require.NoError(t, err)
	assert.Equal(t, shutdown.StoppedGracefully, outcome)
	assert.False(t, h.Alive())
}
