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

// Package logger provides structured logging for mongolaunch.
// logger 包为 mongolaunch 提供结构化日志功能。
//
// Output goes to stderr by default so tool output stays separate from the
// wrapped test command's stdout. A rotating file sink can be added on top.
// 默认输出到 stderr，使工具日志与被包装测试命令的标准输出分离。
// 可在此基础上附加一个滚动日志文件输出。
package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Default log file rotation settings
// 默认日志文件滚动设置
const (
	DefaultMaxSizeMB  = 100
	DefaultMaxBackups = 3
	DefaultMaxAgeDays = 7
)

// Options configures the logger.
// Options 配置日志记录器。
type Options struct {
	// Level is one of "debug", "info", "warn", "error"
	// Level 是 "debug"、"info"、"warn"、"error" 之一
	Level string

	// File is an optional log file path; empty means stderr only
	// File 是可选的日志文件路径；为空表示仅输出到 stderr
	File string

	// MaxSizeMB is the maximum size of a log file before rotation
	// MaxSizeMB 是日志文件滚动前的最大大小
	MaxSizeMB int

	// MaxBackups is the number of rotated files to keep
	// MaxBackups 是保留的滚动文件数量
	MaxBackups int

	// MaxAgeDays is the maximum age of rotated files in days
	// MaxAgeDays 是滚动文件的最大保留天数
	MaxAgeDays int
}

var (
	global *zap.Logger
	mu     sync.RWMutex
)

// New builds a zap logger from the given options.
// New 根据给定选项构建 zap 日志记录器。
func New(opts Options) *zap.Logger {
	level := zapcore.InfoLevel
	switch opts.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(encCfg),
			zapcore.Lock(os.Stderr),
			level,
		),
	}

	// Attach rotating file sink when configured
	// 配置时附加滚动文件输出
	if opts.File != "" {
		maxSize := opts.MaxSizeMB
		if maxSize <= 0 {
			maxSize = DefaultMaxSizeMB
		}
		maxBackups := opts.MaxBackups
		if maxBackups <= 0 {
			maxBackups = DefaultMaxBackups
		}
		maxAge := opts.MaxAgeDays
		if maxAge <= 0 {
			maxAge = DefaultMaxAgeDays
		}
		fileSink := zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			MaxAge:     maxAge,
		})
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encCfg),
			fileSink,
			level,
		))
	}

	return zap.New(zapcore.NewTee(cores...))
}

// SetGlobal replaces the process-wide logger.
// SetGlobal 替换进程级日志记录器。
func SetGlobal(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	global = l
}

// L returns the process-wide logger, creating a default one if unset.
// L 返回进程级日志记录器，未设置时创建默认实例。
func L() *zap.Logger {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		global = New(Options{Level: "info"})
	}
	return global
}
