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

//go:build !windows

package process

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lennart-k/homecontrolctl/internal/config"
	"github.com/lennart-k/homecontrolctl/internal/pidfile"
)

// writeScript writes an executable shell script standing in for the daemon.
// The launcher invokes it as: script -daemon -pid-file <path>, so inside
// the script $3 is the PID file path.
// writeScript 写入一个代替守护进程的可执行 shell 脚本。
// 启动器以 script -daemon -pid-file <path> 调用它，因此脚本内 $3 是
// PID 文件路径。
func writeScript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "homecontrol.sh")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755))
	return path
}

// newTestController builds a controller with fast test timings
// newTestController 构建使用快速测试时序的控制器
func newTestController(t *testing.T, script string) *Controller {
	t.Helper()
	cfg := &config.Config{
		Daemon: config.DaemonConfig{
			Executable:  script,
			PIDFile:     filepath.Join(t.TempDir(), "homecontrol.pid"),
			StartupWait: 2 * time.Second,
		},
		Stop: config.StopConfig{
			Timeout:      2 * time.Second,
			PollInterval: 50 * time.Millisecond,
		},
	}
	return NewController(cfg, zap.NewNop())
}

// reapedPID returns the PID of an already-exited process
// reapedPID 返回一个已退出进程的 PID
func reapedPID(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())
	return cmd.Process.Pid
}

// killLater kills a process at test cleanup
// killLater 在测试清理时杀死进程
func killLater(t *testing.T, pid int) {
	t.Helper()
	t.Cleanup(func() {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	})
}

// TestStartLifecycle tests start, status, and graceful stop end to end
// TestStartLifecycle 端到端测试启动、状态查询和优雅停止
func TestStartLifecycle(t *testing.T) {
	// The script daemonizes by backgrounding a sleeper and publishing its PID
	// 脚本通过后台运行一个休眠进程并发布其 PID 来模拟守护化
	script := writeScript(t, "#!/bin/sh\nsleep 60 &\necho $! > \"$3\"\n")
	ctrl := newTestController(t, script)

	pid, err := ctrl.Start(context.Background())
	require.NoError(t, err)
	require.Greater(t, pid, 0)
	killLater(t, pid)

	assert.True(t, Alive(pid))

	status, statusPID := ctrl.StatusCheck()
	assert.Equal(t, StatusRunning, status)
	assert.Equal(t, pid, statusPID)

	// A second start must refuse while the daemon is alive
	// 守护进程存活时第二次启动必须拒绝
	_, err = ctrl.Start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	// Graceful stop: the sleeper dies on SIGINT
	// 优雅停止：休眠进程收到 SIGINT 后退出
	stopped, err := ctrl.Stop(context.Background())
	require.NoError(t, err)
	assert.True(t, stopped)
	assert.False(t, Alive(pid))
	assert.False(t, ctrl.PIDFile().Exists())

	status, _ = ctrl.StatusCheck()
	assert.Equal(t, StatusStopped, status)
}

// TestStartFailure tests a launcher exiting with a non-zero status
// TestStartFailure 测试启动器以非零状态退出
func TestStartFailure(t *testing.T) {
	script := writeScript(t, "#!/bin/sh\necho 'port already in use' >&2\nexit 3\n")
	ctrl := newTestController(t, script)

	_, err := ctrl.Start(context.Background())
	require.ErrorIs(t, err, ErrStartFailed)
	assert.Contains(t, err.Error(), "exit status 3")

	// The claim is released so a later start can try again
	// 占位已释放，后续启动可以重试
	assert.False(t, ctrl.PIDFile().Exists())
}

// TestStartRemovesStalePIDFile tests starting over a dead process's PID file
// TestStartRemovesStalePIDFile 测试在已死进程的 PID 文件上启动
func TestStartRemovesStalePIDFile(t *testing.T) {
	script := writeScript(t, "#!/bin/sh\nexit 0\n")
	ctrl := newTestController(t, script)

	require.NoError(t, ctrl.PIDFile().Write(reapedPID(t)))

	// Shorten the publish wait: this daemon never writes a PID
	// 缩短发布等待：这个守护进程从不写入 PID
	ctrl.daemon.StartupWait = 100 * time.Millisecond

	pid, err := ctrl.Start(context.Background())
	require.NoError(t, err)

	// Launch succeeded even though the PID was never published
	// 即使 PID 从未发布，启动依然成功
	assert.Equal(t, 0, pid)
}

// TestStartClaimHeld tests that only one claimant wins the PID file path
// TestStartClaimHeld 测试只有一个占位者能赢得 PID 文件路径
func TestStartClaimHeld(t *testing.T) {
	ctrl := newTestController(t, "/bin/true")

	require.NoError(t, ctrl.PIDFile().Claim())
	assert.ErrorIs(t, ctrl.PIDFile().Claim(), pidfile.ErrClaimed)
}

// TestStopNoPIDFile tests stopping when nothing was ever started
// TestStopNoPIDFile 测试从未启动时的停止
func TestStopNoPIDFile(t *testing.T) {
	ctrl := newTestController(t, "/bin/true")

	stopped, err := ctrl.Stop(context.Background())
	require.NoError(t, err)
	assert.False(t, stopped)
}

// TestStopStalePID tests stopping when the recorded process is gone
// TestStopStalePID 测试记录的进程已消失时的停止
func TestStopStalePID(t *testing.T) {
	ctrl := newTestController(t, "/bin/true")
	require.NoError(t, ctrl.PIDFile().Write(reapedPID(t)))

	stopped, err := ctrl.Stop(context.Background())
	require.NoError(t, err)
	assert.False(t, stopped)
}

// TestStopTimeout tests a daemon that ignores the interrupt
// TestStopTimeout 测试忽略中断信号的守护进程
func TestStopTimeout(t *testing.T) {
	cmd := exec.Command("sh", "-c", "trap '' INT; while :; do sleep 1; done")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	t.Cleanup(func() { _ = cmd.Wait() })
	killLater(t, pid)

	ctrl := newTestController(t, "/bin/true")
	ctrl.stopCfg.Timeout = 300 * time.Millisecond
	require.NoError(t, ctrl.PIDFile().Write(pid))

	// Give the shell a moment to install its trap
	// 给 shell 一点时间安装信号处理
	time.Sleep(100 * time.Millisecond)

	_, err := ctrl.Stop(context.Background())
	require.ErrorIs(t, err, ErrStopTimeout)

	// No forceful kill: the process survives the failed stop
	// 不强制杀死：进程在失败的停止后依然存活
	assert.True(t, Alive(pid))
}

// TestStopContextCancelled tests aborting the wait via context
// TestStopContextCancelled 测试通过上下文中止等待
func TestStopContextCancelled(t *testing.T) {
	cmd := exec.Command("sh", "-c", "trap '' INT; while :; do sleep 1; done")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	t.Cleanup(func() { _ = cmd.Wait() })
	killLater(t, pid)

	ctrl := newTestController(t, "/bin/true")
	require.NoError(t, ctrl.PIDFile().Write(pid))

	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	_, err := ctrl.Stop(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

// TestStatusCheck tests the pure status query
// TestStatusCheck 测试纯状态查询
func TestStatusCheck(t *testing.T) {
	t.Run("no pid file", func(t *testing.T) {
		ctrl := newTestController(t, "/bin/true")
		status, pid := ctrl.StatusCheck()
		assert.Equal(t, StatusStopped, status)
		assert.Equal(t, 0, pid)
	})

	t.Run("live pid", func(t *testing.T) {
		ctrl := newTestController(t, "/bin/true")
		require.NoError(t, ctrl.PIDFile().Write(os.Getpid()))
		status, pid := ctrl.StatusCheck()
		assert.Equal(t, StatusRunning, status)
		assert.Equal(t, os.Getpid(), pid)
	})

	t.Run("stale pid", func(t *testing.T) {
		ctrl := newTestController(t, "/bin/true")
		stale := reapedPID(t)
		require.NoError(t, ctrl.PIDFile().Write(stale))
		status, pid := ctrl.StatusCheck()
		assert.Equal(t, StatusStopped, status)
		assert.Equal(t, stale, pid)
	})

	t.Run("malformed pid file", func(t *testing.T) {
		ctrl := newTestController(t, "/bin/true")
		require.NoError(t, os.WriteFile(ctrl.PIDFile().Path(), []byte("garbage\n"), 0o644))
		status, pid := ctrl.StatusCheck()
		assert.Equal(t, StatusStopped, status)
		assert.Equal(t, 0, pid)
	})
}

// TestRestartFromStopped tests restart when nothing was running
// TestRestartFromStopped 测试没有进程运行时的重启
func TestRestartFromStopped(t *testing.T) {
	script := writeScript(t, "#!/bin/sh\nsleep 60 &\necho $! > \"$3\"\n")
	ctrl := newTestController(t, script)

	pid, err := ctrl.Restart(context.Background())
	require.NoError(t, err)
	require.Greater(t, pid, 0)
	killLater(t, pid)

	assert.True(t, Alive(pid))
}

// TestRestartAfterStopTimeout tests that a failed stop still reaches start
// TestRestartAfterStopTimeout 测试停止失败后依然会尝试启动
func TestRestartAfterStopTimeout(t *testing.T) {
	cmd := exec.Command("sh", "-c", "trap '' INT; while :; do sleep 1; done")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	t.Cleanup(func() { _ = cmd.Wait() })
	killLater(t, pid)

	ctrl := newTestController(t, "/bin/true")
	ctrl.stopCfg.Timeout = 300 * time.Millisecond
	require.NoError(t, ctrl.PIDFile().Write(pid))

	time.Sleep(100 * time.Millisecond)

	// Start runs despite the failed stop, then refuses: the old daemon is
	// still alive and holds the PID file
	// 尽管停止失败仍会执行启动，随后拒绝：旧守护进程仍存活并持有 PID 文件
	_, err := ctrl.Restart(context.Background())
	require.ErrorIs(t, err, ErrAlreadyRunning)
}

// TestAlive tests process liveness checks
// TestAlive 测试进程存活检查
func TestAlive(t *testing.T) {
	assert.True(t, Alive(os.Getpid()))
	assert.False(t, Alive(0))
	assert.False(t, Alive(-1))
	assert.False(t, Alive(reapedPID(t)))
}

// TestTailLines tests tailing the launcher output buffer
// TestTailLines 测试截取启动器输出缓冲的尾部
func TestTailLines(t *testing.T) {
	var buf bytes.Buffer
	for i := 0; i < 25; i++ {
		buf.WriteString("line\n")
	}

	tail := tailLines(&buf, 20)
	assert.Len(t, strings.Split(tail, "\n"), 20)

	var short bytes.Buffer
	short.WriteString("only\ntwo\n")
	assert.Equal(t, "only\ntwo", tailLines(&short, 20))
}
