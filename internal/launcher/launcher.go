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

// Package launcher provides mongod process launching for mongolaunch.
// launcher 包提供 mongolaunch 的 mongod 进程启动功能。
//
// This package provides:
// 此包提供：
// - Argument vector construction from the resolved config / 根据解析后的配置构建参数向量
// - Readiness detection by output line scanning / 通过输出行扫描检测就绪状态
// - Log routing (console/file/none) / 日志路由（控制台/文件/丢弃）
// - Partial-start cleanup on timeout / 超时时清理部分启动的进程
package launcher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mongolaunch/mongolaunch/internal/config"
)

// Common errors for process launching
// 进程启动的常见错误
var (
	// ErrLaunchTimeout indicates the readiness marker did not appear in time
	// ErrLaunchTimeout 表示就绪标记未在限定时间内出现
	ErrLaunchTimeout = errors.New("timed out waiting for mongod readiness")

	// ErrBindFailure indicates the configured port is already in use
	// ErrBindFailure 表示配置的端口已被占用
	ErrBindFailure = errors.New("port is already in use")

	// ErrProcessExited indicates mongod exited before reporting readiness
	// ErrProcessExited 表示 mongod 在报告就绪前已退出
	ErrProcessExited = errors.New("mongod exited before reporting readiness")

	// ErrLaunchFailed indicates the process could not be started at all
	// ErrLaunchFailed 表示进程完全无法启动
	ErrLaunchFailed = errors.New("failed to start mongod")
)

// Readiness and failure markers scanned in mongod output. Both the legacy
// plain-text format and the 4.4+ structured log format contain them.
// 在 mongod 输出中扫描的就绪与失败标记。旧版纯文本格式和 4.4+ 结构化日志格式都包含它们。
const (
	readinessMarker   = "waiting for connections"
	bindFailureMarker = "address already in use"

	// consoleTag prefixes forwarded mongod lines on the console
	// consoleTag 是转发到控制台的 mongod 行的前缀
	consoleTag = "[mongod]"
)

// noiseMarkers identify low-level handshake/heartbeat diagnostics that are
// suppressed from forwarded output unless verbose logging is enabled.
// noiseMarkers 标识底层握手/心跳诊断行，除非启用详细日志，否则不转发。
var noiseMarkers = []string{
	"connection accepted",
	"connection ended",
	"client metadata",
	"received client hello",
	"isMaster",
}

// Handle represents a running mongod instance. It exists from successful
// launch until confirmed stopped and is owned exclusively by the supervisor.
// Handle 表示运行中的 mongod 实例。它从成功启动持续存在到确认停止，
// 并由 supervisor 独占持有。
type Handle struct {
	// ID is the unique identifier of this instance
	// ID 是此实例的唯一标识符
	ID string

	// PID is the mongod process ID
	// PID 是 mongod 进程 ID
	PID int

	// Port is the bound TCP port
	// Port 是绑定的 TCP 端口
	Port int

	// StartTime is when the process reported readiness
	// StartTime 是进程报告就绪的时间
	StartTime time.Time

	// Config is the config snapshot captured at launch
	// Config 是启动时捕获的配置快照
	Config *config.InstanceConfig

	// DataDir is the effective data directory
	// DataDir 是生效的数据目录
	DataDir string

	// cmd is the underlying exec.Cmd (internal use)
	// cmd 是底层的 exec.Cmd（内部使用）
	cmd *exec.Cmd

	// done is closed when the process exits
	// done 在进程退出时关闭
	done chan struct{}

	exitErr error
	exitMu  sync.Mutex
}

// URI returns the connection string for this instance.
// URI 返回此实例的连接字符串。
func (h *Handle) URI() string {
	return fmt.Sprintf("mongodb://127.0.0.1:%d", h.Port)
}

// Alive reports whether the process is still running.
// Alive 报告进程是否仍在运行。
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Signal sends a signal to the process. It is a no-op when the process has
// already exited, so shutdown paths can call it unconditionally.
// Signal 向进程发送信号。进程已退出时为空操作，因此关闭路径可无条件调用。
func (h *Handle) Signal(sig syscall.Signal) error {
	if !h.Alive() {
		return nil
	}
	proc, err := os.FindProcess(h.PID)
	if err != nil {
		return err
	}
	return proc.Signal(sig)
}

// Kill forcibly terminates the process.
// Kill 强制终止进程。
func (h *Handle) Kill() error {
	if !h.Alive() {
		return nil
	}
	return h.cmd.Process.Kill()
}

// WaitExit blocks until the process exits or the timeout elapses. It reports
// whether the process exited within the wait.
// WaitExit 阻塞直到进程退出或超时。它报告进程是否在等待时间内退出。
func (h *Handle) WaitExit(timeout time.Duration) bool {
	select {
	case <-h.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Done returns a channel closed when the process exits.
// Done 返回进程退出时关闭的通道。
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// ExitErr returns the process exit error once the process has exited.
// ExitErr 返回进程退出后的退出错误。
func (h *Handle) ExitErr() error {
	h.exitMu.Lock()
	defer h.exitMu.Unlock()
	return h.exitErr
}

// Launcher starts mongod processes and waits for readiness.
// Launcher 启动 mongod 进程并等待其就绪。
type Launcher struct {
	// out receives forwarded mongod lines in console mode
	// out 在控制台模式下接收转发的 mongod 行
	out io.Writer

	log *zap.Logger
}

// NewLauncher creates a Launcher forwarding console output to stdout.
// NewLauncher 创建将控制台输出转发到标准输出的 Launcher。
func NewLauncher(log *zap.Logger) *Launcher {
	return &Launcher{out: os.Stdout, log: log}
}

// SetOutput overrides the console destination, used by tests.
// SetOutput 覆盖控制台输出目标，供测试使用。
func (l *Launcher) SetOutput(w io.Writer) {
	l.out = w
}

// Launch starts mongod with arguments built from the config and blocks until
// the readiness marker appears or the startup timeout elapses. A partially
// started process is terminated before any error is returned, so a failed
// launch never leaks a process.
// Launch 使用根据配置构建的参数启动 mongod，并阻塞直到就绪标记出现或启动超时。
// 返回任何错误之前都会终止部分启动的进程，因此失败的启动不会泄漏进程。
func (l *Launcher) Launch(ctx context.Context, cfg *config.InstanceConfig, binaryPath string) (*Handle, error) {
	port := cfg.Port
	if port == 0 {
		freePort, err := allocateFreePort()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLaunchFailed, err)
		}
		port = freePort
	} else if inUse(port) {
		// Fail fast before spawning anything
		// 在启动任何进程之前快速失败
		return nil, fmt.Errorf("%w: port %d", ErrBindFailure, port)
	}

	dataDir := cfg.StorageLocation
	if dataDir == "" {
		tmp, err := os.MkdirTemp("", "mongolaunch-data-")
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLaunchFailed, err)
		}
		dataDir = tmp
	} else if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}

	args := BuildArgs(cfg, port, dataDir)
	cmd := exec.Command(binaryPath, args...)
	setProcGroupAttr(cmd)

	// Single pipe for both streams so one reader drains everything
	// 两个流共用一个管道，由单个读取器消费全部输出
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	sink, closeSink, err := l.openSink(cfg)
	if err != nil {
		pr.Close()
		pw.Close()
		return nil, err
	}

	l.log.Info("starting mongod",
		zap.String("binary", binaryPath),
		zap.Int("port", port),
		zap.String("version", cfg.Version),
		zap.String("storage_engine", string(cfg.StorageEngine)),
		zap.Bool("auth", cfg.Auth))

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		closeSink()
		return nil, fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}
	// The child owns the write end now
	// 写端现在归子进程所有
	pw.Close()

	handle := &Handle{
		ID:      uuid.NewString(),
		PID:     cmd.Process.Pid,
		Port:    port,
		Config:  cfg,
		DataDir: dataDir,
		cmd:     cmd,
		done:    make(chan struct{}),
	}

	// Readiness is signalled exactly once through a closed channel,
	// never through a shared flag.
	// 就绪通过只关闭一次的通道传递，绝不使用共享标志。
	ready := make(chan struct{})
	bindFailed := make(chan struct{})

	go l.consumeOutput(pr, cfg, sink, closeSink, ready, bindFailed)

	go func() {
		err := cmd.Wait()
		handle.exitMu.Lock()
		handle.exitErr = err
		handle.exitMu.Unlock()
		close(handle.done)
	}()

	select {
	case <-ready:
		handle.StartTime = time.Now()
		l.log.Info("mongod ready",
			zap.String("instance_id", handle.ID),
			zap.Int("pid", handle.PID),
			zap.Int("port", handle.Port))
		return handle, nil

	case <-bindFailed:
		l.reap(handle)
		return nil, fmt.Errorf("%w: port %d", ErrBindFailure, port)

	case <-handle.done:
		return nil, fmt.Errorf("%w: %v", ErrProcessExited, handle.ExitErr())

	case <-time.After(cfg.StartupTimeout):
		// Terminate the partially started process before surfacing the error
		// 在返回错误之前终止部分启动的进程
		l.reap(handle)
		return nil, fmt.Errorf("%w: after %s", ErrLaunchTimeout, cfg.StartupTimeout)

	case <-ctx.Done():
		l.reap(handle)
		return nil, ctx.Err()
	}
}

// consumeOutput drains the process output continuously, routes lines per the
// logging mode and watches for the readiness and bind-failure markers. The
// reader never stops before EOF: an unread pipe would block the child. The
// sink is closed here, after the final line has been written, never while
// the scanner may still be draining.
// consumeOutput 持续消费进程输出，按日志模式路由各行，并监视就绪与端口占用标记。
// 读取器在 EOF 之前绝不停止：未被读取的管道会阻塞子进程。
// sink 在此处关闭，即最后一行写入之后，绝不在扫描器可能仍在消费时关闭。
func (l *Launcher) consumeOutput(r io.ReadCloser, cfg *config.InstanceConfig, sink io.Writer, closeSink func(), ready, bindFailed chan<- struct{}) {
	defer r.Close()
	defer closeSink()

	seenReady := false
	seenBindFailure := false

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if !seenReady && containsFold(line, readinessMarker) {
			seenReady = true
			close(ready)
		}
		if !seenBindFailure && containsFold(line, bindFailureMarker) {
			seenBindFailure = true
			close(bindFailed)
		}

		if sink == nil {
			continue
		}
		if !cfg.Verbose && isNoise(line) {
			continue
		}
		if cfg.Logging == config.LoggingConsole {
			fmt.Fprintf(sink, "%s %s\n", consoleTag, line)
		} else {
			fmt.Fprintln(sink, line)
		}
	}
}

// openSink opens the destination for forwarded output: the console writer,
// the configured log file, or nil to discard.
// openSink 打开转发输出的目标：控制台输出、配置的日志文件，或 nil 表示丢弃。
func (l *Launcher) openSink(cfg *config.InstanceConfig) (io.Writer, func(), error) {
	switch cfg.Logging {
	case config.LoggingConsole:
		return l.out, func() {}, nil
	case config.LoggingFile:
		file, err := os.OpenFile(cfg.LogFilePath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: cannot open log file: %v", ErrLaunchFailed, err)
		}
		return file, func() { file.Close() }, nil
	default:
		return nil, func() {}, nil
	}
}

// reap terminates a partially started process and waits for it to exit.
// reap 终止部分启动的进程并等待其退出。
func (l *Launcher) reap(h *Handle) {
	if h.Alive() {
		_ = h.Signal(syscall.SIGTERM)
		if !h.WaitExit(3 * time.Second) {
			_ = h.Kill()
			h.WaitExit(3 * time.Second)
		}
	}
	l.log.Warn("terminated partially started mongod",
		zap.Int("pid", h.PID),
		zap.Int("port", h.Port))
}

// BuildArgs builds the mongod argument vector from the resolved config.
// Extra args and params are passed through verbatim.
// BuildArgs 根据解析后的配置构建 mongod 参数向量。额外参数原样传递。
func BuildArgs(cfg *config.InstanceConfig, port int, dataDir string) []string {
	args := []string{
		"--port", strconv.Itoa(port),
		"--dbpath", dataDir,
		"--bind_ip", "127.0.0.1",
	}

	if cfg.StorageEngine != "" {
		if branch, known := config.ReleaseBranch(cfg.Version); !known || branch.Core().Segments()[0] >= 3 {
			args = append(args, "--storageEngine", string(cfg.StorageEngine))
		}
	}

	if cfg.Auth {
		args = append(args, "--auth")
	} else {
		args = append(args, "--noauth")
	}

	// The journal flags were removed in 6.1; newer releases always journal
	// journal 相关参数在 6.1 中移除；更新的版本始终启用 journal
	if cfg.SupportsNoJournal() {
		if cfg.Journal {
			args = append(args, "--journal")
		} else {
			args = append(args, "--nojournal")
		}
	}

	if cfg.Verbose {
		args = append(args, "-v")
	}

	for _, key := range sortedKeys(cfg.ExtraArgs) {
		flag := key
		if !strings.HasPrefix(flag, "-") {
			flag = "--" + flag
		}
		value := cfg.ExtraArgs[key]
		if value == "" {
			args = append(args, flag)
		} else {
			args = append(args, flag, value)
		}
	}

	for _, key := range sortedKeys(cfg.ExtraParams) {
		args = append(args, "--setParameter", fmt.Sprintf("%s=%s", key, cfg.ExtraParams[key]))
	}

	return args
}

// containsFold is a case-insensitive substring match.
// containsFold 是不区分大小写的子串匹配。
func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// isNoise reports whether a line is low-level diagnostic noise.
// isNoise 报告某行是否为底层诊断噪音。
func isNoise(line string) bool {
	for _, marker := range noiseMarkers {
		if containsFold(line, marker) {
			return true
		}
	}
	return false
}

// sortedKeys returns map keys in a stable order for deterministic argv.
// sortedKeys 返回稳定顺序的 map 键，使参数向量具有确定性。
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// allocateFreePort asks the kernel for an unused TCP port.
// allocateFreePort 向内核申请一个未使用的 TCP 端口。
func allocateFreePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// inUse reports whether a TCP port on localhost is already bound.
// inUse 报告本机 TCP 端口是否已被绑定。
func inUse(port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return true
	}
	ln.Close()
	return false
}
