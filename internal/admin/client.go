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

// Package admin provides driver-based administrative access to a launched
// mongod instance: superuser provisioning, the authenticated shutdown
// command, and server verification helpers.
// admin 包提供基于驱动的 mongod 实例管理访问：超级用户配置、
// 认证关闭命令以及服务器验证辅助功能。
package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Common errors for administrative access
// 管理访问的常见错误
var (
	// ErrConnectFailed indicates no connection could be established
	// ErrConnectFailed 表示无法建立连接
	ErrConnectFailed = errors.New("failed to connect to mongod")

	// ErrCommandFailed indicates an administrative command failed
	// ErrCommandFailed 表示管理命令执行失败
	ErrCommandFailed = errors.New("administrative command failed")
)

// DefaultConnectTimeout bounds connection establishment.
// DefaultConnectTimeout 限制建立连接的时间。
const DefaultConnectTimeout = 10 * time.Second

// Credential carries a username/password pair, passed through as-is.
// Credential 携带用户名/密码对，原样传递。
type Credential struct {
	Username string
	Password string
}

// connect opens a direct connection to the local instance.
// connect 建立到本地实例的直连。
func connect(ctx context.Context, port int, cred *Credential) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(fmt.Sprintf("mongodb://127.0.0.1:%d", port)).
		SetDirect(true).
		SetConnectTimeout(DefaultConnectTimeout).
		SetServerSelectionTimeout(DefaultConnectTimeout)
	if cred != nil {
		opts = opts.SetAuth(options.Credential{
			Username:   cred.Username,
			Password:   cred.Password,
			AuthSource: "admin",
		})
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}
	return client, nil
}

// EnsureSuperuser provisions the configured superuser on a freshly started
// instance through the localhost exception. It must run before any other
// user exists; afterwards unauthenticated administrative commands fail.
// EnsureSuperuser 通过 localhost 例外在新启动的实例上配置超级用户。
// 它必须在任何其他用户存在之前运行；之后未认证的管理命令将失败。
func EnsureSuperuser(ctx context.Context, port int, cred Credential) error {
	client, err := connect(ctx, port, nil)
	if err != nil {
		return err
	}
	defer client.Disconnect(context.Background())

	cmd := bson.D{
		{Key: "createUser", Value: cred.Username},
		{Key: "pwd", Value: cred.Password},
		{Key: "roles", Value: bson.A{"root"}},
	}
	if err := client.Database("admin").RunCommand(ctx, cmd).Err(); err != nil {
		return fmt.Errorf("%w: createUser: %v", ErrCommandFailed, err)
	}
	return nil
}

// Shutdown issues the shutdown admin command over an authenticated session.
// The server closes all connections while executing it, so a network error
// on the command is treated as success.
// Shutdown 通过认证会话发出 shutdown 管理命令。服务器在执行该命令时会关闭所有连接，
// 因此命令返回网络错误视为成功。
func Shutdown(ctx context.Context, port int, cred Credential) error {
	client, err := connect(ctx, port, &cred)
	if err != nil {
		return err
	}
	defer client.Disconnect(context.Background())

	cmd := bson.D{{Key: "shutdown", Value: 1}}
	err = client.Database("admin").RunCommand(ctx, cmd).Err()
	if err == nil || isConnectionTeardown(err) {
		return nil
	}
	return fmt.Errorf("%w: shutdown: %v", ErrCommandFailed, err)
}

// ServerStorageEngine reports the storage engine of a running instance via
// serverStatus, used for post-launch verification.
// ServerStorageEngine 通过 serverStatus 报告运行实例的存储引擎，用于启动后验证。
func ServerStorageEngine(ctx context.Context, port int, cred *Credential) (string, error) {
	client, err := connect(ctx, port, cred)
	if err != nil {
		return "", err
	}
	defer client.Disconnect(context.Background())

	var status struct {
		StorageEngine struct {
			Name string `bson:"name"`
		} `bson:"storageEngine"`
	}
	res := client.Database("admin").RunCommand(ctx, bson.D{{Key: "serverStatus", Value: 1}})
	if err := res.Decode(&status); err != nil {
		return "", fmt.Errorf("%w: serverStatus: %v", ErrCommandFailed, err)
	}
	return status.StorageEngine.Name, nil
}

// Ping verifies the instance answers on its port, optionally authenticated.
// Ping 验证实例在其端口上应答，可选择使用认证。
func Ping(ctx context.Context, port int, cred *Credential) error {
	client, err := connect(ctx, port, cred)
	if err != nil {
		return err
	}
	return client.Disconnect(context.Background())
}

// isConnectionTeardown matches the errors the driver reports when the server
// drops connections mid-command during shutdown.
// isConnectionTeardown 匹配服务器在执行关闭命令期间断开连接时驱动报告的错误。
func isConnectionTeardown(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "socket was unexpectedly closed") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "EOF") ||
		strings.Contains(msg, "server selection error")
}
