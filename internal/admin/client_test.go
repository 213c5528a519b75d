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

package admin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestIsConnectionTeardown tests classification of shutdown-time driver errors
// TestIsConnectionTeardown 测试关闭期间驱动错误的分类
func TestIsConnectionTeardown(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil error", err: nil, want: false},
		{name: "socket closed mid-command", err: errors.New("connection(127.0.0.1:27017) socket was unexpectedly closed"), want: true},
		{name: "connection reset", err: errors.New("read tcp: connection reset by peer"), want: true},
		{name: "eof", err: errors.New("unexpected EOF"), want: true},
		{name: "server selection after teardown", err: errors.New("server selection error: context deadline exceeded"), want: true},
		{name: "auth failure is a real error", err: errors.New("auth error: sasl conversation error"), want: false},
		{name: "command rejected", err: errors.New("(Unauthorized) command shutdown requires authentication"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isConnectionTeardown(tt.err))
		})
	}
}

// TestPingNoServer tests that Ping fails fast when nothing listens
// TestPingNoServer 测试无监听进程时 Ping 快速失败
func TestPingNoServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := Ping(ctx, 1, nil)
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectFailed)
}
