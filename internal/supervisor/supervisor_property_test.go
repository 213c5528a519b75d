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

// Package supervisor 生命周期状态机属性测试
package supervisor

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/mongolaunch/mongolaunch/internal/config"
	"github.com/mongolaunch/mongolaunch/internal/shutdown"
)

// TestProperty_LifecycleInvariants 测试任意 Start/Stop 序列下的状态机不变量：
// 句柄存在当且仅当状态为 Running，且 Stop 永不失败
func TestProperty_LifecycleInvariants(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake mongod script requires a POSIX shell")
	}
	if testing.Short() {
		t.Skip("spawns many processes")
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 15

	properties := gopter.NewProperties(parameters)

	// 属性：对于任意操作序列（true=Start，false=Stop），
	// 每一步之后句柄与状态保持一致，且 Stop 不返回错误
	properties.Property("handle exists iff state is Running", prop.ForAll(
		func(ops []bool) bool {
			sup := newTestSupervisor(t, `echo "waiting for connections"
sleep 30`, config.RawOptions{ShutdownTimeout: 2 * time.Second})
			defer sup.Stop(context.Background()) //nolint:errcheck

			for _, start := range ops {
				if start {
					// Start 可能成功也可能因终态被拒绝，两者都合法
					_, _ = sup.Start(context.Background())
				} else {
					outcome, err := sup.Stop(context.Background())
					if err != nil || outcome == shutdown.Failed {
						return false
					}
				}

				running := sup.State() == StateRunning
				hasHandle := sup.Handle() != nil
				if running != hasHandle {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(5, gen.Bool()),
	))

	properties.TestingRun(t)
}
