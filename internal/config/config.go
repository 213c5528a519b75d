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

// Package config provides instance configuration resolution for mongolaunch.
// config 包提供 mongolaunch 的实例配置解析功能。
//
// Configuration loading priority (highest to lowest):
// 配置加载优先级（从高到低）：
// 1. Command line arguments / 命令行参数
// 2. Environment variables (MONGOLAUNCH_*) / 环境变量（MONGOLAUNCH_*）
// 3. Configuration file / 配置文件
// 4. Default values / 默认值
//
// Resolve is a pure transformation: no process is spawned, no directory is
// created. Side effects belong to the launcher.
// Resolve 是纯转换：不启动进程、不创建目录。副作用属于 launcher。
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	goversion "github.com/hashicorp/go-version"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Common configuration errors
// 常见配置错误
var (
	// ErrInvalidPort indicates the port option is not "auto" or a valid TCP port
	// ErrInvalidPort 表示端口选项不是 "auto" 或有效的 TCP 端口
	ErrInvalidPort = errors.New("port must be \"auto\" or an integer between 1 and 65535")

	// ErrInvalidLogging indicates an unknown logging mode
	// ErrInvalidLogging 表示未知的日志模式
	ErrInvalidLogging = errors.New("logging must be one of console, file, none")

	// ErrMissingLogFile indicates logging=file without a file path
	// ErrMissingLogFile 表示 logging=file 但未提供文件路径
	ErrMissingLogFile = errors.New("log file path is required when logging is set to file")

	// ErrInvalidStorageEngine indicates an unknown storage engine
	// ErrInvalidStorageEngine 表示未知的存储引擎
	ErrInvalidStorageEngine = errors.New("storage engine must be one of wiredTiger, mmapv1")

	// ErrEngineUnsupported indicates an explicit engine selection on a release
	// that predates selectable storage engines
	// ErrEngineUnsupported 表示在不支持选择存储引擎的版本上显式指定了引擎
	ErrEngineUnsupported = errors.New("storage engine selection requires server version 3.0 or later")

	// ErrEngineRemoved indicates mmapv1 was requested on a release that no longer ships it
	// ErrEngineRemoved 表示在已移除 mmapv1 的版本上请求了该引擎
	ErrEngineRemoved = errors.New("mmapv1 storage engine was removed in server version 4.2")

	// ErrInvalidProxy indicates an incomplete proxy configuration
	// ErrInvalidProxy 表示代理配置不完整
	ErrInvalidProxy = errors.New("proxy port requires a proxy host")
)

// LoggingMode selects where mongod output is routed.
// LoggingMode 选择 mongod 输出的路由目标。
type LoggingMode string

const (
	// LoggingConsole forwards mongod output to the tool's stdout with a tag
	// LoggingConsole 将 mongod 输出带标签转发到工具的标准输出
	LoggingConsole LoggingMode = "console"

	// LoggingFile redirects mongod output to a file
	// LoggingFile 将 mongod 输出重定向到文件
	LoggingFile LoggingMode = "file"

	// LoggingNone discards mongod output
	// LoggingNone 丢弃 mongod 输出
	LoggingNone LoggingMode = "none"
)

// StorageEngine is the on-disk storage implementation selected at startup.
// StorageEngine 是启动时选择的磁盘存储实现。
type StorageEngine string

const (
	// EngineWiredTiger is the default engine for server 3.0 and later
	// EngineWiredTiger 是 3.0 及之后版本的默认引擎
	EngineWiredTiger StorageEngine = "wiredTiger"

	// EngineMMAPv1 is the legacy engine, removed in server 4.2
	// EngineMMAPv1 是旧版引擎，在 4.2 中移除
	EngineMMAPv1 StorageEngine = "mmapv1"
)

// Default configuration values
// 默认配置值
const (
	DefaultVersion         = "7.0.14"
	DefaultLogging         = LoggingConsole
	DefaultAuthUsername    = "mongolaunch"
	DefaultAuthPassword    = "mongolaunch"
	DefaultStartupTimeout  = 60 * time.Second
	DefaultShutdownTimeout = 10 * time.Second

	// PortAuto requests an automatically assigned free port
	// PortAuto 请求自动分配空闲端口
	PortAuto = "auto"
)

// Version thresholds for engine behavior
// 引擎行为的版本阈值
var (
	// engineSelectableSince is the first release with selectable storage engines
	// engineSelectableSince 是首个支持选择存储引擎的版本
	engineSelectableSince = goversion.Must(goversion.NewVersion("3.0.0"))

	// mmapv1RemovedSince is the first release without mmapv1
	// mmapv1RemovedSince 是首个移除 mmapv1 的版本
	mmapv1RemovedSince = goversion.Must(goversion.NewVersion("4.2.0"))

	// nojournalRemovedSince is the first release that rejects --nojournal
	// nojournalRemovedSince 是首个拒绝 --nojournal 参数的版本
	nojournalRemovedSince = goversion.Must(goversion.NewVersion("6.1.0"))
)

// RawOptions is the user-facing option set before resolution.
// RawOptions 是解析前面向用户的选项集合。
type RawOptions struct {
	// Port is "auto", empty (treated as auto), or a TCP port number
	// Port 是 "auto"、空（视为 auto）或 TCP 端口号
	Port string `mapstructure:"port"`

	// Version is a release tag, an X.Y-LATEST branch alias, or any string
	// accepted verbatim as an escape hatch
	// Version 是发行版标签、X.Y-LATEST 分支别名，或任意原样接受的字符串（逃生通道）
	Version string `mapstructure:"version"`

	// StorageEngine is wiredTiger, mmapv1, or empty for version-based default
	// StorageEngine 是 wiredTiger、mmapv1，或为空表示按版本取默认值
	StorageEngine string `mapstructure:"storage_engine"`

	// Logging is console, file, or none
	// Logging 是 console、file 或 none
	Logging string `mapstructure:"logging"`

	// LogFilePath is required iff Logging is file
	// LogFilePath 仅在 Logging 为 file 时必填
	LogFilePath string `mapstructure:"log_file_path"`

	// VerboseLogging includes driver handshake/heartbeat noise in forwarded output
	// VerboseLogging 在转发输出中包含驱动握手/心跳噪音
	VerboseLogging bool `mapstructure:"verbose_logging"`

	// StorageLocation is the data directory; empty means a generated temp directory
	// StorageLocation 是数据目录；为空表示生成临时目录
	StorageLocation string `mapstructure:"storage_location"`

	// Journal enables journaling
	// Journal 启用 journaling
	Journal bool `mapstructure:"journal"`

	// Auth enables authentication
	// Auth 启用认证
	Auth bool `mapstructure:"auth"`

	// AuthUsername is the superuser name provisioned when Auth is enabled
	// AuthUsername 是启用 Auth 时配置的超级用户名
	AuthUsername string `mapstructure:"auth_username"`

	// AuthPassword is the superuser password, passed through as-is
	// AuthPassword 是超级用户密码，原样传递
	AuthPassword string `mapstructure:"auth_password"`

	// ProxyHost and ProxyPort configure the download proxy
	// ProxyHost 和 ProxyPort 配置下载代理
	ProxyHost string `mapstructure:"proxy_host"`
	ProxyPort int    `mapstructure:"proxy_port"`

	// ArtifactStorePath overrides the local binary cache directory
	// ArtifactStorePath 覆盖本地二进制缓存目录
	ArtifactStorePath string `mapstructure:"artifact_store_path"`

	// DownloadURL overrides the binary download source
	// DownloadURL 覆盖二进制下载源
	DownloadURL string `mapstructure:"download_url"`

	// ExtraArgs are CLI flags passed to mongod verbatim
	// ExtraArgs 是原样传递给 mongod 的命令行参数
	ExtraArgs map[string]string `mapstructure:"extra_args"`

	// ExtraParams are setParameter values passed verbatim
	// ExtraParams 是原样传递的 setParameter 运行时参数
	ExtraParams map[string]string `mapstructure:"extra_params"`

	// StartupTimeout bounds the wait for the readiness marker
	// StartupTimeout 限制等待就绪标记的时间
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`

	// ShutdownTimeout bounds the graceful shutdown wait before forcible termination
	// ShutdownTimeout 限制优雅关闭的等待时间，超时后强制终止
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// InstanceConfig is the resolved, immutable instance configuration.
// InstanceConfig 是解析后的不可变实例配置。
type InstanceConfig struct {
	// Port is the requested TCP port; 0 requests auto-assignment at launch
	// Port 是请求的 TCP 端口；0 表示启动时自动分配
	Port int

	// Version is the requested version string (tag, alias, or verbatim)
	// Version 是请求的版本字符串（标签、别名或原样字符串）
	Version string

	// StorageEngine is the effective engine
	// StorageEngine 是生效的引擎
	StorageEngine StorageEngine

	// Logging routes mongod output
	// Logging 路由 mongod 输出
	Logging LoggingMode

	// LogFilePath is the target file for LoggingFile
	// LogFilePath 是 LoggingFile 模式的目标文件
	LogFilePath string

	// Verbose includes low-level diagnostic lines in forwarded output
	// Verbose 在转发输出中包含底层诊断行
	Verbose bool

	// StorageLocation is the data directory; empty means the launcher
	// generates a temp directory
	// StorageLocation 是数据目录；为空表示由 launcher 生成临时目录
	StorageLocation string

	// Journal enables journaling
	// Journal 启用 journaling
	Journal bool

	// Auth enables authentication
	// Auth 启用认证
	Auth bool

	// AuthUsername / AuthPassword are the superuser credential (pass-through)
	// AuthUsername / AuthPassword 是超级用户凭证（原样传递）
	AuthUsername string
	AuthPassword string

	// ProxyHost / ProxyPort configure the download proxy
	// ProxyHost / ProxyPort 配置下载代理
	ProxyHost string
	ProxyPort int

	// ArtifactStorePath overrides the binary cache directory
	// ArtifactStorePath 覆盖二进制缓存目录
	ArtifactStorePath string

	// DownloadURL overrides the binary download source
	// DownloadURL 覆盖二进制下载源
	DownloadURL string

	// ExtraArgs / ExtraParams are passed to mongod verbatim
	// ExtraArgs / ExtraParams 原样传递给 mongod
	ExtraArgs   map[string]string
	ExtraParams map[string]string

	// StartupTimeout / ShutdownTimeout bound the lifecycle waits
	// StartupTimeout / ShutdownTimeout 限制生命周期等待时间
	StartupTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// Resolve merges raw options with defaults and validates mutually exclusive
// options. It is a pure transformation.
// Resolve 将原始选项与默认值合并并校验互斥选项。它是纯转换。
func Resolve(raw RawOptions) (*InstanceConfig, error) {
	port, err := parsePort(raw.Port)
	if err != nil {
		return nil, err
	}

	ver := strings.TrimSpace(raw.Version)
	if ver == "" {
		ver = DefaultVersion
	}

	logging := LoggingMode(raw.Logging)
	if raw.Logging == "" {
		logging = DefaultLogging
	}
	switch logging {
	case LoggingConsole, LoggingFile, LoggingNone:
	default:
		return nil, fmt.Errorf("%w: got %q", ErrInvalidLogging, raw.Logging)
	}
	if logging == LoggingFile && strings.TrimSpace(raw.LogFilePath) == "" {
		return nil, ErrMissingLogFile
	}

	engine, err := resolveEngine(raw.StorageEngine, ver)
	if err != nil {
		return nil, err
	}

	if raw.ProxyPort != 0 && raw.ProxyHost == "" {
		return nil, ErrInvalidProxy
	}

	user := raw.AuthUsername
	if user == "" {
		user = DefaultAuthUsername
	}
	pass := raw.AuthPassword
	if pass == "" {
		pass = DefaultAuthPassword
	}

	startupTimeout := raw.StartupTimeout
	if startupTimeout <= 0 {
		startupTimeout = DefaultStartupTimeout
	}
	shutdownTimeout := raw.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}

	return &InstanceConfig{
		Port:              port,
		Version:           ver,
		StorageEngine:     engine,
		Logging:           logging,
		LogFilePath:       raw.LogFilePath,
		Verbose:           raw.VerboseLogging,
		StorageLocation:   raw.StorageLocation,
		Journal:           raw.Journal,
		Auth:              raw.Auth,
		AuthUsername:      user,
		AuthPassword:      pass,
		ProxyHost:         raw.ProxyHost,
		ProxyPort:         raw.ProxyPort,
		ArtifactStorePath: raw.ArtifactStorePath,
		DownloadURL:       raw.DownloadURL,
		ExtraArgs:         copyMap(raw.ExtraArgs),
		ExtraParams:       copyMap(raw.ExtraParams),
		StartupTimeout:    startupTimeout,
		ShutdownTimeout:   shutdownTimeout,
	}, nil
}

// parsePort parses the port option: "auto" or empty means auto-assignment.
// parsePort 解析端口选项："auto" 或空表示自动分配。
func parsePort(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, PortAuto) {
		return 0, nil
	}
	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("%w: got %q", ErrInvalidPort, s)
	}
	return port, nil
}

// resolveEngine validates an explicit engine choice against the release, or
// derives the version-based default when no engine was requested.
// resolveEngine 根据版本校验显式引擎选择，或在未指定引擎时推导基于版本的默认值。
func resolveEngine(requested, ver string) (StorageEngine, error) {
	branch, known := ReleaseBranch(ver)

	if requested != "" {
		engine := StorageEngine(requested)
		switch engine {
		case EngineWiredTiger, EngineMMAPv1:
		default:
			return "", fmt.Errorf("%w: got %q", ErrInvalidStorageEngine, requested)
		}
		if known {
			if branch.LessThan(engineSelectableSince) {
				return "", fmt.Errorf("%w: version %s", ErrEngineUnsupported, ver)
			}
			if engine == EngineMMAPv1 && branch.GreaterThanOrEqual(mmapv1RemovedSince) {
				return "", fmt.Errorf("%w: version %s", ErrEngineRemoved, ver)
			}
		}
		return engine, nil
	}

	// Version-based default: pre-3.0 releases only ship mmapv1
	// 基于版本的默认值：3.0 之前的版本仅提供 mmapv1
	if known && branch.LessThan(engineSelectableSince) {
		return EngineMMAPv1, nil
	}
	return EngineWiredTiger, nil
}

// ReleaseBranch extracts a comparable version from a release tag or an
// X.Y-LATEST alias. Unrecognized strings report ok=false and are treated by
// callers as modern releases (pass-through behavior).
// ReleaseBranch 从发行版标签或 X.Y-LATEST 别名中提取可比较的版本。
// 无法识别的字符串返回 ok=false，调用方将其视为新版本（原样传递行为）。
func ReleaseBranch(ver string) (*goversion.Version, bool) {
	s := ver
	if idx := strings.Index(s, "-"); idx > 0 {
		// "3.4-LATEST" style branch alias / "3.4-LATEST" 形式的分支别名
		s = s[:idx]
	}
	parsed, err := goversion.NewVersion(s)
	if err != nil {
		return nil, false
	}
	return parsed, true
}

// SupportsNoJournal reports whether the release still accepts --nojournal.
// SupportsNoJournal 报告该版本是否仍接受 --nojournal 参数。
func (c *InstanceConfig) SupportsNoJournal() bool {
	branch, known := ReleaseBranch(c.Version)
	if !known {
		return false
	}
	return branch.LessThan(nojournalRemovedSince)
}

// ProxyURL returns the download proxy URL, or empty when no proxy is configured.
// ProxyURL 返回下载代理 URL，未配置代理时返回空字符串。
func (c *InstanceConfig) ProxyURL() string {
	if c.ProxyHost == "" {
		return ""
	}
	if c.ProxyPort == 0 {
		return fmt.Sprintf("http://%s", c.ProxyHost)
	}
	return fmt.Sprintf("http://%s:%d", c.ProxyHost, c.ProxyPort)
}

func copyMap(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// NewViper builds a viper instance with mongolaunch defaults and env binding.
// NewViper 构建带有 mongolaunch 默认值和环境变量绑定的 viper 实例。
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("port", PortAuto)
	v.SetDefault("version", DefaultVersion)
	v.SetDefault("logging", string(DefaultLogging))
	v.SetDefault("startup_timeout", DefaultStartupTimeout)
	v.SetDefault("shutdown_timeout", DefaultShutdownTimeout)
	v.SetEnvPrefix("MONGOLAUNCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadFile reads raw options from a YAML config file on top of defaults.
// LoadFile 在默认值基础上从 YAML 配置文件读取原始选项。
func LoadFile(path string) (RawOptions, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return RawOptions{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	var raw RawOptions
	if err := v.Unmarshal(&raw); err != nil {
		return RawOptions{}, fmt.Errorf("failed to parse config: %w", err)
	}

	if path != "" {
		if err := loadCaseSensitiveSections(path, &raw); err != nil {
			return RawOptions{}, err
		}
	}
	return raw, nil
}

// loadCaseSensitiveSections re-reads the extra args/params sections straight
// from the YAML. Viper lowercases map keys during unmarshal, but mongod flags
// and setParameter names are case sensitive and must pass through verbatim.
// loadCaseSensitiveSections 直接从 YAML 重新读取额外参数部分。
// viper 在反序列化时会将 map 键转为小写，而 mongod 标志和 setParameter
// 名称区分大小写，必须原样传递。
func loadCaseSensitiveSections(path string, raw *RawOptions) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var sections struct {
		ExtraArgs   map[string]any `yaml:"extra_args"`
		ExtraParams map[string]any `yaml:"extra_params"`
	}
	if err := yaml.Unmarshal(data, &sections); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	raw.ExtraArgs = stringifyValues(sections.ExtraArgs)
	raw.ExtraParams = stringifyValues(sections.ExtraParams)
	return nil
}

// stringifyValues renders scalar YAML values as strings, so unquoted numbers
// and booleans work the same as quoted ones.
// stringifyValues 将标量 YAML 值渲染为字符串，使未加引号的数字和布尔值
// 与加引号的行为一致。
func stringifyValues(m map[string]any) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if v == nil {
			out[k] = ""
			continue
		}
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}
