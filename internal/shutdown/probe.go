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
	"fmt"
	"net"
	"time"
)

const (
	probeDialTimeout  = 250 * time.Millisecond
	probePollInterval = 100 * time.Millisecond
)

// stillListening reports whether anything accepts TCP connections on the
// loopback port. Used after termination to confirm convergence.
// stillListening 报告是否仍有进程在环回端口上接受 TCP 连接。
// 在终止后用于确认收敛。
func stillListening(port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), probeDialTimeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// WaitPortFree polls until the port stops accepting connections or the
// deadline passes. Returns true once the port is free.
// WaitPortFree 轮询直到端口不再接受连接或超过截止时间。端口空闲后返回 true。
func WaitPortFree(port int, within time.Duration) bool {
	deadline := time.Now().Add(within)
	for {
		if !stillListening(port) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(probePollInterval)
	}
}
