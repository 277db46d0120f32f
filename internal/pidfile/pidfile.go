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

// Package pidfile provides a handle over the PID file shared with the
// HomeControl daemon.
// pidfile 包提供对与 HomeControl 守护进程共享的 PID 文件的句柄。
//
// The daemon owns the file content: it writes its own PID after
// daemonizing and removes the file on clean exit. The supervisor only
// reads it, claims the path before a launch, and cleans up stale files.
// 守护进程拥有文件内容：它在守护化后写入自己的 PID，并在正常退出时删除该文件。
// 监管器只读取它、在启动前占位该路径、并清理过期文件。
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Common errors for PID file access
// PID 文件访问的常见错误
var (
	// ErrNotExist indicates the PID file does not exist
	// ErrNotExist 表示 PID 文件不存在
	ErrNotExist = errors.New("pid file does not exist")

	// ErrMalformed indicates the PID file does not contain a valid PID
	// ErrMalformed 表示 PID 文件不包含有效的 PID
	ErrMalformed = errors.New("pid file is malformed")

	// ErrClaimed indicates the PID file path is already claimed
	// ErrClaimed 表示 PID 文件路径已被占用
	ErrClaimed = errors.New("pid file already exists")
)

// File is a handle over a PID file at a fixed path
// File 是固定路径上 PID 文件的句柄
type File struct {
	path string
}

// New creates a handle for the PID file at path
// New 为 path 上的 PID 文件创建句柄
func New(path string) *File {
	return &File{path: path}
}

// Path returns the PID file path
// Path 返回 PID 文件路径
func (f *File) Path() string {
	return f.path
}

// Read reads the PID from the file. The file is a single line holding an
// integer, with an optional trailing newline.
// Read 从文件读取 PID。文件为单行整数，可带可选的结尾换行。
func (f *File) Read() (int, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotExist
		}
		return 0, fmt.Errorf("failed to read pid file %s: %w", f.path, err)
	}

	line := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(line)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, line)
	}

	return pid, nil
}

// Write writes a PID to the file with an exclusive create. It refuses to
// overwrite an existing file so that two concurrent starts cannot race on
// the same path.
// Write 以独占创建方式将 PID 写入文件。它拒绝覆盖已存在的文件，
// 以防两个并发启动在同一路径上竞争。
func (f *File) Write(pid int) error {
	file, err := os.OpenFile(f.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s", ErrClaimed, f.path)
		}
		return fmt.Errorf("failed to create pid file %s: %w", f.path, err)
	}
	defer file.Close()

	if _, err := fmt.Fprintf(file, "%d\n", pid); err != nil {
		return fmt.Errorf("failed to write pid file %s: %w", f.path, err)
	}

	return nil
}

// Claim creates the PID file path exclusively, with no content. The daemon
// overwrites the empty file with its own PID once it is up; an empty file
// reads back as malformed, which every caller treats as "stopped".
// Claim 以独占方式创建空的 PID 文件路径。守护进程启动后会用自己的 PID
// 覆盖该空文件；空文件读取时视为格式错误，所有调用方将其当作"已停止"。
func (f *File) Claim() error {
	file, err := os.OpenFile(f.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s", ErrClaimed, f.path)
		}
		return fmt.Errorf("failed to claim pid file %s: %w", f.path, err)
	}
	return file.Close()
}

// Remove deletes the PID file. A missing file is not an error.
// Remove 删除 PID 文件。文件不存在不视为错误。
func (f *File) Remove() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove pid file %s: %w", f.path, err)
	}
	return nil
}

// Exists reports whether the PID file is present, readable or not
// Exists 报告 PID 文件是否存在（无论可读与否）
func (f *File) Exists() bool {
	_, err := os.Stat(f.path)
	return err == nil
}
