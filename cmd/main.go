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

// Package main is the entry point for the mongolaunch CLI.
// main 包是 mongolaunch CLI 的入口点。
//
// mongolaunch provisions a throwaway MongoDB instance for test runs:
// mongolaunch 为测试运行供应一次性 MongoDB 实例：
// - Downloads and caches the mongod binary for the requested version / 下载并缓存请求版本的 mongod 二进制
// - Launches mongod and waits for readiness / 启动 mongod 并等待就绪
// - Wraps a test command and always tears the instance down / 包装测试命令并始终拆除实例
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mongolaunch/mongolaunch/internal/config"
	"github.com/mongolaunch/mongolaunch/internal/logger"
	"github.com/mongolaunch/mongolaunch/internal/shutdown"
	"github.com/mongolaunch/mongolaunch/internal/supervisor"
)

// Version information, set at build time
// 版本信息，在构建时设置
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// configFile is the path to the configuration file
// configFile 是配置文件的路径
var configFile string

// flagOpts collects per-instance overrides from command line flags.
// Flags beat config file values, which beat environment values.
// flagOpts 收集来自命令行标志的实例级覆盖。
// 标志优先于配置文件值，配置文件值优先于环境变量值。
var flagOpts struct {
	port          string
	mongoVersion  string
	storageEngine string
	logging       string
	logFilePath   string
	verbose       bool
	dataDir       string
	auth          bool
	downloadURL   string
	logLevel      string
}

// rootCmd is the root command for the mongolaunch CLI
// rootCmd 是 mongolaunch CLI 的根命令
var rootCmd = &cobra.Command{
	Use:   "mongolaunch",
	Short: "mongolaunch - Throwaway MongoDB instances for test runs",
	Long: `mongolaunch manages the lifecycle of an embedded MongoDB instance.
mongolaunch 管理嵌入式 MongoDB 实例的生命周期。

It downloads and caches mongod binaries, launches an instance on a free
port, waits for readiness, and guarantees teardown when the run ends:
它下载并缓存 mongod 二进制、在空闲端口上启动实例、等待就绪，
并在运行结束时保证拆除：
- run:   wrap a test command with a live instance / 用存活实例包装测试命令
- start: run an instance in the foreground / 在前台运行实例
`,
}

// runCmd wraps a command: start mongod, run the command, always stop mongod.
// The wrapped command's exit code is propagated.
// runCmd 包装一个命令：启动 mongod、运行命令、始终停止 mongod。
// 被包装命令的退出码会被透传。
var runCmd = &cobra.Command{
	Use:   "run -- <command> [args...]",
	Short: "Run a command against a throwaway instance / 针对一次性实例运行命令",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runWrapped,
}

// startCmd runs an instance in the foreground until interrupted.
// startCmd 在前台运行实例直到被中断。
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run an instance in the foreground / 在前台运行实例",
	RunE:  runForeground,
}

// versionCmd shows version information
// versionCmd 显示版本信息
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information / 打印版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mongolaunch\n")
		fmt.Printf("  Version:    %s\n", Version)
		fmt.Printf("  Git Commit: %s\n", GitCommit)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		fmt.Printf("  Go Version: %s\n", runtime.Version())
		fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (yaml)")
	rootCmd.PersistentFlags().StringVar(&flagOpts.logLevel, "log-level", "info", "tool log level (debug, info, warn, error)")

	for _, cmd := range []*cobra.Command{runCmd, startCmd} {
		cmd.Flags().StringVar(&flagOpts.port, "port", "", `instance port ("auto" or a number)`)
		cmd.Flags().StringVar(&flagOpts.mongoVersion, "mongo-version", "", "MongoDB version or X.Y-LATEST alias")
		cmd.Flags().StringVar(&flagOpts.storageEngine, "storage-engine", "", "storage engine (wiredTiger, mmapv1)")
		cmd.Flags().StringVar(&flagOpts.logging, "logging", "", "mongod log routing (console, file, none)")
		cmd.Flags().StringVar(&flagOpts.logFilePath, "log-file", "", "mongod log file path (logging=file)")
		cmd.Flags().BoolVar(&flagOpts.verbose, "verbose", false, "verbose mongod logging")
		cmd.Flags().StringVar(&flagOpts.dataDir, "data-dir", "", "data directory (default: temp dir, removed on stop)")
		cmd.Flags().BoolVar(&flagOpts.auth, "auth", false, "enable authentication with a bootstrapped superuser")
		cmd.Flags().StringVar(&flagOpts.downloadURL, "download-url", "", "download base URL override")
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(versionCmd)
}

// resolveInstanceConfig merges config file, environment, and flags into a
// resolved instance config.
// resolveInstanceConfig 将配置文件、环境变量和标志合并为已解析的实例配置。
func resolveInstanceConfig(cmd *cobra.Command) (*config.InstanceConfig, error) {
	raw, err := config.LoadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Flags override file and environment only when set
	// 标志仅在设置时覆盖文件和环境变量
	if cmd.Flags().Changed("port") {
		raw.Port = flagOpts.port
	}
	if cmd.Flags().Changed("mongo-version") {
		raw.Version = flagOpts.mongoVersion
	}
	if cmd.Flags().Changed("storage-engine") {
		raw.StorageEngine = flagOpts.storageEngine
	}
	if cmd.Flags().Changed("logging") {
		raw.Logging = flagOpts.logging
	}
	if cmd.Flags().Changed("log-file") {
		raw.LogFilePath = flagOpts.logFilePath
	}
	if cmd.Flags().Changed("verbose") {
		raw.VerboseLogging = flagOpts.verbose
	}
	if cmd.Flags().Changed("data-dir") {
		raw.StorageLocation = flagOpts.dataDir
	}
	if cmd.Flags().Changed("auth") {
		raw.Auth = flagOpts.auth
	}
	if cmd.Flags().Changed("download-url") {
		raw.DownloadURL = flagOpts.downloadURL
	}

	return config.Resolve(raw)
}

// setupLogger builds the tool's own logger (distinct from mongod's output)
// and installs it as the package global.
// setupLogger 构建工具自身的日志器（与 mongod 的输出分离）并安装为包级全局日志器。
func setupLogger() *zap.Logger {
	logger.SetGlobal(logger.New(logger.Options{Level: flagOpts.logLevel}))
	return logger.L()
}

// runWrapped starts the instance, executes the wrapped command with the
// connection URI exported as MONGOLAUNCH_URI, and always stops the instance
// before returning. The command's exit code survives teardown.
// runWrapped 启动实例，执行被包装的命令并以 MONGOLAUNCH_URI 导出连接 URI，
// 返回前始终停止实例。命令的退出码在拆除后保留。
func runWrapped(cmd *cobra.Command, args []string) error {
	log := setupLogger()
	defer log.Sync() //nolint:errcheck

	cfg, err := resolveInstanceConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup := supervisor.New(cfg, log)
	h, err := sup.Start(ctx)
	if err != nil {
		return err
	}

	// Teardown is unconditional; its failure only surfaces when the wrapped
	// command itself succeeded or when a process leaked.
	// 拆除是无条件的；只有在被包装命令本身成功或进程泄漏时其失败才会显现。
	wrapped := exec.CommandContext(ctx, args[0], args[1:]...)
	wrapped.Stdout = os.Stdout
	wrapped.Stderr = os.Stderr
	wrapped.Stdin = os.Stdin
	wrapped.Env = append(os.Environ(),
		"MONGOLAUNCH_URI="+h.URI(),
		fmt.Sprintf("MONGOLAUNCH_PORT=%d", h.Port),
	)

	cmdErr := wrapped.Run()

	outcome, stopErr := sup.Stop(context.Background())
	if outcome == shutdown.Failed {
		log.Error("instance teardown failed", zap.Error(stopErr))
		if cmdErr == nil {
			return stopErr
		}
	} else if stopErr != nil {
		log.Warn("instance teardown reported an error", zap.Error(stopErr))
	}

	if cmdErr != nil {
		var exitErr *exec.ExitError
		if errors.As(cmdErr, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		return cmdErr
	}
	return nil
}

// runForeground starts the instance and blocks until SIGINT or SIGTERM.
// runForeground 启动实例并阻塞直到收到 SIGINT 或 SIGTERM。
func runForeground(cmd *cobra.Command, args []string) error {
	log := setupLogger()
	defer log.Sync() //nolint:errcheck

	cfg, err := resolveInstanceConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup := supervisor.New(cfg, log)
	h, err := sup.Start(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("mongod running at %s (pid %d), press Ctrl+C to stop\n", h.URI(), h.PID)

	// Block until a signal arrives or mongod exits on its own
	// 阻塞直到收到信号或 mongod 自行退出
	select {
	case <-ctx.Done():
	case <-h.Done():
		log.Warn("mongod exited unexpectedly", zap.Error(h.ExitErr()))
	}

	outcome, stopErr := sup.Stop(context.Background())
	if outcome == shutdown.Failed {
		return stopErr
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
