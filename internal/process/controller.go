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

// Package process provides HomeControl daemon lifecycle management.
// process 包提供 HomeControl 守护进程的生命周期管理功能。
//
// This package provides:
// 此包提供：
// - Start, Stop, Restart operations / 启动、停止、重启操作
// - PID-file based status query / 基于 PID 文件的状态查询
// - Graceful stop with bounded polling / 带有界轮询的优雅停止
package process

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lennart-k/homecontrolctl/internal/config"
	"github.com/lennart-k/homecontrolctl/internal/pidfile"
)

// Common errors for daemon control
// 守护进程控制的常见错误
var (
	// ErrAlreadyRunning indicates the daemon is already running
	// ErrAlreadyRunning 表示守护进程已在运行
	ErrAlreadyRunning = errors.New("homecontrol is already running")

	// ErrStartFailed indicates the daemon failed to start
	// ErrStartFailed 表示守护进程启动失败
	ErrStartFailed = errors.New("homecontrol failed to start")

	// ErrStopTimeout indicates the daemon did not exit within the timeout
	// ErrStopTimeout 表示守护进程未在超时时间内退出
	ErrStopTimeout = errors.New("homecontrol did not stop in time")
)

// Status represents the liveness of the supervised daemon
// Status 表示被监管守护进程的存活状态
type Status string

const (
	// StatusRunning indicates the daemon is running
	// StatusRunning 表示守护进程正在运行
	StatusRunning Status = "running"

	// StatusStopped indicates the daemon is stopped
	// StatusStopped 表示守护进程已停止
	StatusStopped Status = "stopped"
)

// launchLogTailLines is the number of launcher output lines reported on failure
// launchLogTailLines 是启动失败时报告的启动器输出行数
const launchLogTailLines = 20

// Controller supervises a single HomeControl daemon through its PID file
// Controller 通过 PID 文件监管单个 HomeControl 守护进程
type Controller struct {
	daemon  config.DaemonConfig
	stopCfg config.StopConfig
	pidFile *pidfile.File
	logger  *zap.Logger
}

// NewController creates a Controller from the loaded configuration
// NewController 根据已加载的配置创建 Controller
func NewController(cfg *config.Config, logger *zap.Logger) *Controller {
	return &Controller{
		daemon:  cfg.Daemon,
		stopCfg: cfg.Stop,
		pidFile: pidfile.New(cfg.Daemon.PIDFile),
		logger:  logger,
	}
}

// PIDFile returns the controller's PID file handle
// PIDFile 返回控制器的 PID 文件句柄
func (c *Controller) PIDFile() *pidfile.File {
	return c.pidFile
}

// Start launches the HomeControl daemon.
// Start 启动 HomeControl 守护进程。
//
// The launcher invokes the executable with -daemon, so the front process
// forks and exits; a zero exit status means the launch succeeded and ANY
// non-zero status means it failed. The daemon writes its own PID to the
// PID file after daemonizing; Start waits a bounded time for it to appear
// and returns the PID, or 0 when the daemon has not published it yet.
// 启动器以 -daemon 调用可执行文件，前台进程 fork 后退出；退出码为 0 表示
// 启动成功，任何非零退出码表示失败。守护进程在守护化后将自己的 PID 写入
// PID 文件；Start 在有限时间内等待其出现并返回 PID，若尚未发布则返回 0。
func (c *Controller) Start(ctx context.Context) (int, error) {
	// Refuse to start a second instance / 拒绝启动第二个实例
	if pid, err := c.pidFile.Read(); err == nil && Alive(pid) {
		return pid, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
	}

	// A present but dead or malformed PID file is stale; clean it up
	// 存在但进程已死或格式错误的 PID 文件是过期文件，清理它
	if c.pidFile.Exists() {
		c.logger.Info("removing stale pid file", zap.String("path", c.pidFile.Path()))
		if err := c.pidFile.Remove(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrStartFailed, err)
		}
	}

	// Claim the path so two concurrent starts cannot both launch
	// 占位该路径，防止两个并发启动同时拉起进程
	if err := c.pidFile.Claim(); err != nil {
		if errors.Is(err, pidfile.ErrClaimed) {
			return 0, fmt.Errorf("%w: concurrent start in progress", ErrAlreadyRunning)
		}
		return 0, fmt.Errorf("%w: %v", ErrStartFailed, err)
	}

	cmd := c.buildLaunchCommand(ctx)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	c.logger.Info("launching homecontrol",
		zap.String("executable", c.daemon.Executable),
		zap.Strings("args", cmd.Args[1:]),
		zap.String("working_dir", c.daemon.WorkingDir),
	)

	if err := cmd.Run(); err != nil {
		// Launch failed, release the claim / 启动失败，释放占位
		_ = c.pidFile.Remove()

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			c.logger.Error("launcher exited with non-zero status",
				zap.Int("exit_code", exitErr.ExitCode()),
				zap.String("output", tailLines(&output, launchLogTailLines)),
			)
			return 0, fmt.Errorf("%w: exit status %d", ErrStartFailed, exitErr.ExitCode())
		}
		return 0, fmt.Errorf("%w: %v", ErrStartFailed, err)
	}

	// Launcher exited 0: the daemon has forked. Wait for it to publish
	// its PID, but do not fail the start when it is slow — the success
	// criterion is the launcher's exit status.
	// 启动器以 0 退出：守护进程已 fork。等待其发布 PID，但当它较慢时
	// 不判定启动失败——成功的判据是启动器的退出码。
	pid := c.awaitDaemonPID(ctx)
	if pid > 0 {
		c.logger.Info("homecontrol started", zap.Int("pid", pid))
	} else {
		c.logger.Warn("homecontrol launcher succeeded but the daemon has not published its pid yet",
			zap.String("pid_file", c.pidFile.Path()),
			zap.Duration("waited", c.daemon.StartupWait),
		)
	}

	return pid, nil
}

// buildLaunchCommand builds the command that launches the daemon
// buildLaunchCommand 构建启动守护进程的命令
func (c *Controller) buildLaunchCommand(ctx context.Context) *exec.Cmd {
	// -daemon: fork into the background / fork 到后台
	// -pid-file: where the daemon publishes its PID / 守护进程发布其 PID 的位置
	// -clearport: HomeControl's literal port-freeing flag, passed through
	// -clearport：HomeControl 的字面释放端口参数，按原样透传
	args := []string{"-daemon", "-pid-file", c.pidFile.Path()}
	if c.daemon.ClearPort {
		args = append(args, "-clearport")
	}
	args = append(args, c.daemon.Args...)

	cmd := exec.CommandContext(ctx, c.daemon.Executable, args...)
	if c.daemon.WorkingDir != "" {
		cmd.Dir = c.daemon.WorkingDir
	}
	cmd.Env = os.Environ()

	// Keep the daemon in its own process group so it outlives the supervisor
	// 让守护进程在自己的进程组中，使其不受监管器退出影响
	setProcGroupAttr(cmd)

	return cmd
}

// awaitDaemonPID polls the PID file until the daemon has written a live PID
// awaitDaemonPID 轮询 PID 文件，直到守护进程写入一个存活的 PID
func (c *Controller) awaitDaemonPID(ctx context.Context) int {
	deadline := time.Now().Add(c.daemon.StartupWait)
	ticker := time.NewTicker(c.stopCfg.PollInterval)
	defer ticker.Stop()

	for {
		if pid, err := c.pidFile.Read(); err == nil && Alive(pid) {
			return pid
		}
		if time.Now().After(deadline) {
			return 0
		}
		select {
		case <-ctx.Done():
			return 0
		case <-ticker.C:
		}
	}
}

// Stop requests a graceful shutdown of the daemon.
// Stop 请求守护进程优雅关闭。
//
// It returns (false, nil) when there was nothing to stop: missing or
// unreadable PID file, dead process, or failed signal delivery all mean
// "already stopped". It returns (true, nil) when the daemon exited within
// the timeout, and ErrStopTimeout when it did not — in that case the
// process may still be alive; no forceful kill is attempted.
// 当没有可停止的对象时返回 (false, nil)：PID 文件缺失或不可读、进程已死、
// 信号投递失败都意味着"已停止"。守护进程在超时内退出时返回 (true, nil)，
// 否则返回 ErrStopTimeout——此时进程可能仍然存活；不会尝试强制杀死。
func (c *Controller) Stop(ctx context.Context) (bool, error) {
	pid, err := c.pidFile.Read()
	if err != nil {
		// Missing or malformed file means nothing to stop
		// 文件缺失或格式错误意味着没有可停止的对象
		c.logger.Debug("no usable pid file", zap.Error(err))
		return false, nil
	}

	if !Alive(pid) {
		c.logger.Info("pid file is stale, daemon already gone", zap.Int("pid", pid))
		return false, nil
	}

	// Graceful interrupt, letting the daemon run its shutdown sequence
	// 优雅中断，让守护进程执行自己的关闭流程
	if err := sendSignal(pid, syscall.SIGINT); err != nil {
		c.logger.Info("signal delivery failed, daemon already gone",
			zap.Int("pid", pid), zap.Error(err))
		return false, nil
	}

	c.logger.Info("sent interrupt, waiting for exit",
		zap.Int("pid", pid), zap.Duration("timeout", c.stopCfg.Timeout))

	if err := c.waitForExit(ctx, pid); err != nil {
		return false, err
	}

	// The daemon removes its own PID file on a clean exit; clean up in
	// case it could not.
	// 守护进程正常退出时会删除自己的 PID 文件；若未删除则在此清理。
	_ = c.pidFile.Remove()

	return true, nil
}

// waitForExit polls liveness until the process exits, the timeout elapses,
// or the context is cancelled. Sleeps between checks, never busy-waits.
// waitForExit 轮询存活状态，直到进程退出、超时或上下文被取消。
// 两次检查之间休眠，绝不忙等。
func (c *Controller) waitForExit(ctx context.Context, pid int) error {
	deadline := time.Now().Add(c.stopCfg.Timeout)
	ticker := time.NewTicker(c.stopCfg.PollInterval)
	defer ticker.Stop()

	for {
		if !Alive(pid) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: still alive after %v (pid %d)", ErrStopTimeout, c.stopCfg.Timeout, pid)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// StatusCheck reports the daemon's liveness from the PID file.
// Pure query, no side effects.
// StatusCheck 根据 PID 文件报告守护进程的存活状态。纯查询，无副作用。
//
// A missing, unreadable, or stale PID file all report StatusStopped.
// PID 文件缺失、不可读或过期均报告 StatusStopped。
func (c *Controller) StatusCheck() (Status, int) {
	pid, err := c.pidFile.Read()
	if err != nil {
		return StatusStopped, 0
	}
	if Alive(pid) {
		return StatusRunning, pid
	}
	return StatusStopped, pid
}

// Restart stops the daemon and then starts it. The stop outcome never
// prevents the start from running.
// Restart 先停止守护进程再启动它。停止的结果不会阻止启动执行。
func (c *Controller) Restart(ctx context.Context) (int, error) {
	stopped, err := c.Stop(ctx)
	switch {
	case err != nil:
		c.logger.Warn("stop failed during restart, starting anyway", zap.Error(err))
	case stopped:
		c.logger.Info("daemon stopped, starting again")
	default:
		c.logger.Info("daemon was not running, starting")
	}

	return c.Start(ctx)
}

// Alive checks if a process with the given PID is alive
// Alive 检查给定 PID 的进程是否存活
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix, FindProcess always succeeds, so we need to send signal 0 to check
	// 在 Unix 上，FindProcess 总是成功，所以我们需要发送信号 0 来检查
	if runtime.GOOS != "windows" {
		err = process.Signal(syscall.Signal(0))
		return err == nil
	}

	// On Windows, we need a different approach
	// 在 Windows 上，我们需要不同的方法
	return checkProcessWindows(pid)
}

// checkProcessWindows checks if a process is alive on Windows
// checkProcessWindows 在 Windows 上检查进程是否存活
func checkProcessWindows(pid int) bool {
	// Use tasklist command to check if process exists
	// 使用 tasklist 命令检查进程是否存在
	cmd := exec.Command("tasklist", "/FI", fmt.Sprintf("PID eq %d", pid), "/NH")
	output, err := cmd.Output()
	if err != nil {
		return false
	}
	return strings.Contains(string(output), strconv.Itoa(pid))
}

// sendSignal sends a signal to a process
// sendSignal 向进程发送信号
func sendSignal(pid int, sig syscall.Signal) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}

	if runtime.GOOS == "windows" {
		// On Windows, we can only kill the process
		// 在 Windows 上，我们只能终止进程
		if sig == syscall.SIGKILL || sig == syscall.SIGTERM || sig == syscall.SIGINT {
			return process.Kill()
		}
		return nil
	}

	return process.Signal(sig)
}

// tailLines returns the last n lines of buffered launcher output
// tailLines 返回缓冲的启动器输出的最后 n 行
func tailLines(buf *bytes.Buffer, n int) string {
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	start := 0
	if len(lines) > n {
		start = len(lines) - n
	}

	return strings.Join(lines[start:], "\n")
}
