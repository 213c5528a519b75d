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

// Package binary provides mongod binary resolution for mongolaunch.
// binary 包提供 mongolaunch 的 mongod 二进制解析功能。
//
// This package provides:
// 此包提供：
// - Release catalog with branch-latest aliases / 带分支最新版别名的发行版目录
// - Download URL construction per platform / 按平台构建下载 URL
// - Artifact store cache / 本地制品缓存
// - Download, verification and extraction / 下载、校验和解压
package binary

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	goversion "github.com/hashicorp/go-version"
	"go.uber.org/zap"

	"github.com/mongolaunch/mongolaunch/internal/config"
)

// Common errors for binary resolution
// 二进制解析的常见错误
var (
	// ErrDownloadFailed indicates the binary could not be fetched
	// ErrDownloadFailed 表示无法获取二进制文件
	ErrDownloadFailed = errors.New("mongod binary download failed")

	// ErrChecksumMismatch indicates the archive checksum verification failed
	// ErrChecksumMismatch 表示归档校验和验证失败
	ErrChecksumMismatch = errors.New("archive checksum mismatch")

	// ErrExtractionFailed indicates the archive extraction failed
	// ErrExtractionFailed 表示归档解压失败
	ErrExtractionFailed = errors.New("archive extraction failed")

	// ErrBinaryNotFound indicates no mongod binary was found in the archive
	// ErrBinaryNotFound 表示归档中未找到 mongod 二进制文件
	ErrBinaryNotFound = errors.New("mongod binary not found in archive")

	// ErrUnsupportedPlatform indicates no download target exists for this OS/arch
	// ErrUnsupportedPlatform 表示此操作系统/架构没有可用的下载目标
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)

// DefaultDownloadBase is the official release archive.
// DefaultDownloadBase 是官方发行版归档地址。
const DefaultDownloadBase = "https://fastdl.mongodb.org"

// DefaultDownloadTimeout bounds a single archive download.
// DefaultDownloadTimeout 限制单次归档下载的时间。
const DefaultDownloadTimeout = 30 * time.Minute

// branchLatestSuffix marks an X.Y-LATEST branch alias.
// branchLatestSuffix 标记 X.Y-LATEST 形式的分支别名。
const branchLatestSuffix = "-LATEST"

// releaseCatalog lists known releases per branch. The newest release of each
// branch is what an X.Y-LATEST alias resolves to. Versions outside the
// catalog are accepted verbatim.
// releaseCatalog 按分支列出已知发行版。X.Y-LATEST 别名解析到各分支的最新发行版。
// 目录之外的版本原样接受。
var releaseCatalog = map[string][]string{
	"2.6": {"2.6.0", "2.6.10", "2.6.12"},
	"3.0": {"3.0.2", "3.0.12", "3.0.15"},
	"3.2": {"3.2.1", "3.2.20", "3.2.22"},
	"3.4": {"3.4.5", "3.4.15", "3.4.24"},
	"3.6": {"3.6.5", "3.6.14", "3.6.23"},
	"4.0": {"4.0.2", "4.0.12", "4.0.28"},
	"4.2": {"4.2.8", "4.2.24"},
	"4.4": {"4.4.9", "4.4.29"},
	"5.0": {"5.0.14", "5.0.28"},
	"6.0": {"6.0.8", "6.0.19"},
	"7.0": {"7.0.5", "7.0.14"},
	"8.0": {"8.0.1", "8.0.3"},
}

// ResolveVersion resolves an X.Y-LATEST alias to the newest catalog release
// on that branch. Known release tags and unrecognized strings are returned
// verbatim: no catalog validation is applied.
// ResolveVersion 将 X.Y-LATEST 别名解析为该分支在目录中的最新发行版。
// 已知发行版标签和无法识别的字符串原样返回：不做目录校验。
func ResolveVersion(ver string) string {
	upper := strings.ToUpper(ver)
	if !strings.HasSuffix(upper, branchLatestSuffix) {
		return ver
	}
	branch := ver[:len(ver)-len(branchLatestSuffix)]
	releases, ok := releaseCatalog[branch]
	if !ok || len(releases) == 0 {
		// Unknown branch alias passes through verbatim
		// 未知分支别名原样传递
		return ver
	}

	sorted := make([]string, len(releases))
	copy(sorted, releases)
	sort.Slice(sorted, func(i, j int) bool {
		vi, erri := goversion.NewVersion(sorted[i])
		vj, errj := goversion.NewVersion(sorted[j])
		if erri != nil || errj != nil {
			return sorted[i] < sorted[j]
		}
		return vi.LessThan(vj)
	})
	return sorted[len(sorted)-1]
}

// KnownBranches returns the catalog branches, sorted.
// KnownBranches 返回目录中的分支列表（已排序）。
func KnownBranches() []string {
	branches := make([]string, 0, len(releaseCatalog))
	for b := range releaseCatalog {
		branches = append(branches, b)
	}
	sort.Strings(branches)
	return branches
}

// DownloadURL constructs the archive URL for a version on the current
// platform. A custom base overrides the official archive.
// DownloadURL 为当前平台上的版本构建归档 URL。自定义 base 覆盖官方归档地址。
func DownloadURL(base, version string) (string, error) {
	if base == "" {
		base = DefaultDownloadBase
	}

	arch := ""
	switch runtime.GOARCH {
	case "amd64":
		arch = "x86_64"
	case "arm64":
		arch = "aarch64"
	default:
		return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, runtime.GOOS, runtime.GOARCH)
	}

	switch runtime.GOOS {
	case "linux":
		return fmt.Sprintf("%s/linux/mongodb-linux-%s-%s.tgz", base, arch, version), nil
	case "darwin":
		// macOS arm64 archives use "arm64", not "aarch64"
		// macOS arm64 归档使用 "arm64" 而不是 "aarch64"
		if runtime.GOARCH == "arm64" {
			arch = "arm64"
		}
		return fmt.Sprintf("%s/osx/mongodb-macos-%s-%s.tgz", base, arch, version), nil
	case "windows":
		return fmt.Sprintf("%s/windows/mongodb-windows-%s-%s.zip", base, arch, version), nil
	default:
		return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, runtime.GOOS, runtime.GOARCH)
	}
}

// mongodFileName is the binary name on the current platform.
// mongodFileName 是当前平台上的二进制文件名。
func mongodFileName() string {
	if runtime.GOOS == "windows" {
		return "mongod.exe"
	}
	return "mongod"
}

// DefaultArtifactStore returns the default binary cache directory.
// DefaultArtifactStore 返回默认的二进制缓存目录。
func DefaultArtifactStore() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "mongolaunch", "artifacts")
	}
	return filepath.Join(home, ".mongolaunch", "artifacts")
}

// Resolver resolves a configured version to a runnable mongod binary,
// downloading and caching archives as needed.
// Resolver 将配置的版本解析为可运行的 mongod 二进制文件，按需下载并缓存归档。
type Resolver struct {
	// store is the artifact cache directory
	// store 是制品缓存目录
	store string

	// httpClient is the HTTP client for downloading archives
	// httpClient 是用于下载归档的 HTTP 客户端
	httpClient *http.Client

	// downloadURL overrides the constructed download source when set
	// downloadURL 设置时覆盖构建的下载源
	downloadURL string

	log *zap.Logger
}

// NewResolver creates a Resolver for the given instance configuration.
// The HTTP client honors the configured download proxy.
// NewResolver 为给定实例配置创建 Resolver。HTTP 客户端遵循配置的下载代理。
func NewResolver(cfg *config.InstanceConfig, log *zap.Logger) (*Resolver, error) {
	store := cfg.ArtifactStorePath
	if store == "" {
		store = DefaultArtifactStore()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxy := cfg.ProxyURL(); proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy configuration: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &Resolver{
		store: store,
		httpClient: &http.Client{
			Transport: transport,
			// Long timeout for large archives / 大归档文件的长超时
			Timeout: DefaultDownloadTimeout,
		},
		downloadURL: cfg.DownloadURL,
		log:         log,
	}, nil
}

// Resolve returns the path to a runnable mongod for the requested version,
// using the artifact cache when possible.
// Resolve 返回所请求版本的可运行 mongod 路径，优先使用制品缓存。
func (r *Resolver) Resolve(ctx context.Context, requested string) (string, error) {
	version := ResolveVersion(requested)
	binDir := filepath.Join(r.store, version, runtime.GOOS+"-"+runtime.GOARCH)
	binPath := filepath.Join(binDir, mongodFileName())

	if info, err := os.Stat(binPath); err == nil && !info.IsDir() {
		r.log.Debug("mongod binary found in artifact store",
			zap.String("version", version),
			zap.String("path", binPath))
		return binPath, nil
	}

	srcURL := r.downloadURL
	if srcURL == "" {
		var err error
		srcURL, err = DownloadURL("", version)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
		}
	}

	r.log.Info("downloading mongod archive",
		zap.String("version", version),
		zap.String("url", srcURL))

	archivePath, err := r.download(ctx, srcURL, version)
	if err != nil {
		return "", err
	}
	defer os.Remove(archivePath)

	// The official archive publishes a .sha256 sidecar next to each release;
	// custom mirrors may not, so a missing sidecar skips verification.
	// 官方归档在每个发行版旁发布 .sha256 附属文件；自定义镜像可能没有，
	// 因此附属文件缺失时跳过校验。
	if sum, ok := r.fetchChecksum(ctx, srcURL); ok {
		if err := VerifyChecksum(archivePath, sum); err != nil {
			return "", err
		}
		r.log.Debug("archive checksum verified", zap.String("version", version))
	}

	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	if err := extractMongod(archivePath, binPath); err != nil {
		return "", err
	}

	r.log.Info("mongod binary ready",
		zap.String("version", version),
		zap.String("path", binPath))
	return binPath, nil
}
