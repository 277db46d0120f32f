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

// Package main is the entry point for homecontrolctl.
// main 包是 homecontrolctl 的入口点。
//
// homecontrolctl supervises a single HomeControl daemon:
// homecontrolctl 监管单个 HomeControl 守护进程：
// - start: launch the daemon / 启动守护进程
// - stop: graceful interrupt with a bounded wait / 优雅中断并有界等待
// - status: report liveness from the PID file / 根据 PID 文件报告存活状态
// - restart (reload): stop then start / 先停止后启动
package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lennart-k/homecontrolctl/internal/config"
	"github.com/lennart-k/homecontrolctl/internal/logger"
	"github.com/lennart-k/homecontrolctl/internal/process"
)

// Version information, set at build time
// 版本信息，在构建时设置
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var (
	// configFile is the path to the configuration file
	// configFile 是配置文件的路径
	configFile string

	// strictExitFlag mirrors the strict_exit config key on the command line
	// strictExitFlag 是 strict_exit 配置项在命令行上的映射
	strictExitFlag bool

	// strictExit is the resolved strict-exit setting
	// strictExit 是解析后的 strict-exit 设置
	strictExit bool

	// commandFailed records that a command reported a failure. With the
	// default configuration the process still exits 0, matching the
	// original control script; strict_exit turns it into exit code 1.
	// commandFailed 记录某个命令报告了失败。默认配置下进程仍以 0 退出，
	// 与原控制脚本一致；strict_exit 会将其变为退出码 1。
	commandFailed bool
)

// rootCmd is the root command for homecontrolctl
// rootCmd 是 homecontrolctl 的根命令
var rootCmd = &cobra.Command{
	Use:   "homecontrolctl",
	Short: "homecontrolctl - Supervisor for the HomeControl daemon",
	Long: `homecontrolctl supervises the HomeControl home-automation daemon.
homecontrolctl 监管 HomeControl 家庭自动化守护进程。

It controls a single daemon process through its PID file:
它通过 PID 文件控制单个守护进程：
- Launch the daemon in the background / 在后台启动守护进程
- Stop it gracefully with a bounded wait / 优雅停止并有界等待
- Report liveness, tolerating stale PID files / 报告存活状态，容忍过期 PID 文件`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Reached on a missing or unknown command; the resulting error
		// makes the process print usage and exit 1.
		// 在缺少或未知命令时到达；产生的错误使进程打印用法并以 1 退出。
		if len(args) > 0 {
			return fmt.Errorf("unknown command %q, expected one of: start, stop, status, restart, reload", args[0])
		}
		return errors.New("a command is required: start, stop, status, restart, reload")
	},
}

// startCmd launches the HomeControl daemon
// startCmd 启动 HomeControl 守护进程
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the HomeControl daemon / 启动 HomeControl 守护进程",
	RunE:  runStart,
}

// stopCmd stops the HomeControl daemon gracefully
// stopCmd 优雅停止 HomeControl 守护进程
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the HomeControl daemon gracefully / 优雅停止 HomeControl 守护进程",
	RunE:  runStop,
}

// statusCmd reports the daemon's liveness
// statusCmd 报告守护进程的存活状态
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the HomeControl daemon is running / 报告 HomeControl 守护进程是否在运行",
	RunE:  runStatus,
}

// restartCmd stops and then starts the daemon
// restartCmd 先停止再启动守护进程
var restartCmd = &cobra.Command{
	Use:     "restart",
	Aliases: []string{"reload"},
	Short:   "Restart the HomeControl daemon / 重启 HomeControl 守护进程",
	RunE:    runRestart,
}

// versionCmd shows version information
// versionCmd 显示版本信息
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information / 打印版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("homecontrolctl\n")
		fmt.Printf("  Version:    %s\n", Version)
		fmt.Printf("  Git Commit: %s\n", GitCommit)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		fmt.Printf("  Go Version: %s\n", runtime.Version())
		fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	// Add flags to root command / 向根命令添加标志
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (default: /etc/homecontrolctl/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&strictExitFlag, "strict-exit", false, "exit non-zero when a command reports a failure")

	// Add subcommands / 添加子命令
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(versionCmd)
}

// setup loads configuration and builds the controller for a command run
// setup 为一次命令执行加载配置并构建控制器
func setup(cmd *cobra.Command) (*process.Controller, *zap.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Command line overrides the config file / 命令行覆盖配置文件
	if cmd.Flags().Changed("strict-exit") {
		cfg.StrictExit = strictExitFlag
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	strictExit = cfg.StrictExit

	return process.NewController(cfg, log), log, nil
}

// runStart handles the start command
// runStart 处理 start 命令
func runStart(cmd *cobra.Command, args []string) error {
	ctrl, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	reportStart(ctrl.Start(cmd.Context()))
	return nil
}

// runStop handles the stop command
// runStop 处理 stop 命令
func runStop(cmd *cobra.Command, args []string) error {
	ctrl, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	reportStop(ctrl.Stop(cmd.Context()))
	return nil
}

// runStatus handles the status command
// runStatus 处理 status 命令
func runStatus(cmd *cobra.Command, args []string) error {
	ctrl, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	status, pid := ctrl.StatusCheck()
	if status == process.StatusRunning {
		fmt.Printf("homecontrol is running (pid %d)\n", pid)
	} else {
		fmt.Println("homecontrol is stopped")
	}
	return nil
}

// runRestart handles the restart and reload commands.
// The stop outcome is reported but never prevents the start.
// runRestart 处理 restart 和 reload 命令。停止的结果会被报告，
// 但绝不会阻止启动执行。
func runRestart(cmd *cobra.Command, args []string) error {
	ctrl, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	reportStop(ctrl.Stop(cmd.Context()))
	reportStart(ctrl.Start(cmd.Context()))
	return nil
}

// reportStart prints the user-facing outcome of a start
// reportStart 打印启动操作面向用户的结果
func reportStart(pid int, err error) {
	if err != nil {
		fmt.Printf("failed to start homecontrol: %v\n", err)
		commandFailed = true
		return
	}
	if pid > 0 {
		fmt.Printf("homecontrol started (pid %d)\n", pid)
	} else {
		fmt.Println("homecontrol started")
	}
}

// reportStop prints the user-facing outcome of a stop
// reportStop 打印停止操作面向用户的结果
func reportStop(stopped bool, err error) {
	switch {
	case err != nil:
		fmt.Printf("failed to stop homecontrol: %v\n", err)
		commandFailed = true
	case stopped:
		fmt.Println("homecontrol stopped")
	default:
		fmt.Println("homecontrol is already stopped")
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if strictExit && commandFailed {
		os.Exit(1)
	}
}
