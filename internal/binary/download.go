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

package binary

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// download fetches the archive to a temp file under the artifact store.
// download 将归档下载到制品缓存下的临时文件。
func (r *Resolver) download(ctx context.Context, srcURL, version string) (string, error) {
	tmpDir := filepath.Join(r.store, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: unexpected status %s from %s", ErrDownloadFailed, resp.Status, srcURL)
	}

	tmpFile, err := os.CreateTemp(tmpDir, "mongod-"+version+"-*"+archiveExt(srcURL))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	written, err := io.Copy(tmpFile, resp.Body)
	closeErr := tmpFile.Close()
	if err != nil {
		os.Remove(tmpFile.Name())
		return "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	if closeErr != nil {
		os.Remove(tmpFile.Name())
		return "", fmt.Errorf("%w: %v", ErrDownloadFailed, closeErr)
	}

	r.log.Debug("archive downloaded",
		zap.String("version", version),
		zap.Int64("bytes", written))
	return tmpFile.Name(), nil
}

// checksumSuffix names the SHA-256 sidecar published next to each archive.
// checksumSuffix 是发布在每个归档旁的 SHA-256 附属文件的后缀。
const checksumSuffix = ".sha256"

// fetchChecksum retrieves the published SHA-256 sidecar for an archive URL.
// It reports ok=false when the source does not publish one.
// fetchChecksum 获取归档 URL 对应的已发布 SHA-256 附属文件。
// 源未发布时返回 ok=false。
func (r *Resolver) fetchChecksum(ctx context.Context, srcURL string) (string, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL+checksumSuffix, nil)
	if err != nil {
		return "", false
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.log.Debug("checksum sidecar not reachable", zap.Error(err))
		return "", false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		r.log.Debug("checksum sidecar not published", zap.String("status", resp.Status))
		return "", false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512))
	if err != nil {
		return "", false
	}
	// Sidecar format: "<hex digest>  <filename>"
	// 附属文件格式："<十六进制摘要>  <文件名>"
	fields := strings.Fields(string(body))
	if len(fields) == 0 || len(fields[0]) != sha256.Size*2 {
		return "", false
	}
	return fields[0], true
}

// archiveExt keeps the source extension so extraction can pick a format.
// archiveExt 保留源扩展名，以便解压时选择格式。
func archiveExt(srcURL string) string {
	if strings.HasSuffix(srcURL, ".zip") {
		return ".zip"
	}
	return ".tgz"
}

// VerifyChecksum verifies the SHA-256 checksum of a file.
// VerifyChecksum 验证文件的 SHA-256 校验和。
func VerifyChecksum(path, expected string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChecksumMismatch, err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return fmt.Errorf("%w: %v", ErrChecksumMismatch, err)
	}

	actual := hex.EncodeToString(hasher.Sum(nil))
	if !strings.EqualFold(actual, expected) {
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, expected, actual)
	}
	return nil
}

// extractMongod extracts the mongod binary out of a release archive.
// extractMongod 从发行版归档中提取 mongod 二进制文件。
func extractMongod(archivePath, destPath string) error {
	if strings.HasSuffix(archivePath, ".zip") {
		return extractMongodZip(archivePath, destPath)
	}
	return extractMongodTarGz(archivePath, destPath)
}

// extractMongodTarGz extracts bin/mongod from a .tgz archive.
// extractMongodTarGz 从 .tgz 归档中提取 bin/mongod。
func extractMongodTarGz(archivePath, destPath string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrExtractionFailed, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if !isMongodEntry(hdr.Name) {
			continue
		}
		return writeBinary(destPath, tr)
	}
	return ErrBinaryNotFound
}

// extractMongodZip extracts bin/mongod.exe from a .zip archive.
// extractMongodZip 从 .zip 归档中提取 bin/mongod.exe。
func extractMongodZip(archivePath, destPath string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	defer zr.Close()

	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() || !isMongodEntry(entry.Name) {
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrExtractionFailed, err)
		}
		err = writeBinary(destPath, rc)
		rc.Close()
		return err
	}
	return ErrBinaryNotFound
}

// isMongodEntry matches the mongod binary inside a release archive
// (mongodb-<platform>-<version>/bin/mongod).
// isMongodEntry 匹配发行版归档内的 mongod 二进制文件
// （mongodb-<platform>-<version>/bin/mongod）。
func isMongodEntry(name string) bool {
	base := filepath.Base(filepath.ToSlash(name))
	if base != "mongod" && base != "mongod.exe" {
		return false
	}
	return strings.Contains(filepath.ToSlash(name), "/bin/")
}

// writeBinary writes the extracted binary with execute permission.
// writeBinary 写出解压的二进制文件并赋予执行权限。
func writeBinary(destPath string, src io.Reader) error {
	out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o755)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(destPath)
		return fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(destPath)
		return fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	return nil
}
