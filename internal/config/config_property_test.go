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

// Package config 配置解析属性测试
package config

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_ResolveIsDeterministic 测试相同输入总是产生相同输出
func TestProperty_ResolveIsDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	// 属性：对于任意输入，两次 Resolve 的结果应一致（纯函数）
	properties.Property("Resolve twice yields identical results", prop.ForAll(
		func(port int, version string, auth bool, verbose bool) bool {
			raw := RawOptions{
				Port:           fmt.Sprintf("%d", port),
				Version:        version,
				Auth:           auth,
				VerboseLogging: verbose,
			}
			a, errA := Resolve(raw)
			b, errB := Resolve(raw)
			if (errA == nil) != (errB == nil) {
				return false
			}
			if errA != nil {
				return true
			}
			return a.Port == b.Port &&
				a.Version == b.Version &&
				a.StorageEngine == b.StorageEngine &&
				a.Auth == b.Auth &&
				a.Verbose == b.Verbose
		},
		gen.IntRange(1, 65535),
		gen.RegexMatch(`[0-9]\.[0-9]\.[0-9]{1,2}`),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// TestProperty_ValidPortsRoundTrip 测试合法端口字符串解析后原值保留
func TestProperty_ValidPortsRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	// 属性：任意 1..65535 的端口字符串解析后应得到相同的整数端口
	properties.Property("Port string survives resolution", prop.ForAll(
		func(port int) bool {
			cfg, err := Resolve(RawOptions{Port: fmt.Sprintf("%d", port)})
			if err != nil {
				return false
			}
			return cfg.Port == port
		},
		gen.IntRange(1, 65535),
	))

	properties.TestingRun(t)
}

// TestProperty_VersionNeverRewritten 测试版本字符串绝不被改写
func TestProperty_VersionNeverRewritten(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	// 属性：任意非空版本字符串在解析成功后应原样保留
	properties.Property("Version passes through verbatim", prop.ForAll(
		func(version string) bool {
			cfg, err := Resolve(RawOptions{Version: version})
			if err != nil {
				// 引擎校验可能拒绝已知的过旧版本，这不改变原样传递属性
				return true
			}
			return cfg.Version == version
		},
		gen.RegexMatch(`[0-9]{1,2}\.[0-9]{1,2}\.[0-9]{1,2}`).SuchThat(func(s string) bool { return len(s) > 0 }),
	))

	properties.TestingRun(t)
}
