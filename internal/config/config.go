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

// Package config provides configuration management for homecontrolctl.
// config 包提供 homecontrolctl 的配置管理功能。
//
// Configuration loading priority (highest to lowest):
// 配置加载优先级（从高到低）：
// 1. Command line arguments / 命令行参数
// 2. Environment variables / 环境变量
// 3. Configuration file / 配置文件
// 4. Default values / 默认值
//
// Running without a config file reproduces the behavior of the original
// control script: every setting has a default matching its fixed constants.
// 不带配置文件运行时会复现原控制脚本的行为：每个设置的默认值都与其固定常量一致。
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values
// 默认配置值
const (
	DefaultConfigPath   = "/etc/homecontrolctl/config.yaml"
	DefaultExecutable   = "homecontrol"
	DefaultWorkingDir   = "~/.homecontrol"
	DefaultPIDFile      = "~/.homecontrol/homecontrol.pid"
	DefaultClearPort    = true
	DefaultStartupWait  = 5 * time.Second
	DefaultStopTimeout  = 10 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
	DefaultLogLevel     = "info"
	DefaultLogMaxSize   = 100 // MB
	DefaultLogMaxBackup = 3
	DefaultLogMaxAge    = 7 // days
)

// Config represents the homecontrolctl configuration
// Config 表示 homecontrolctl 配置
type Config struct {
	// Daemon describes the supervised HomeControl process / Daemon 描述被监管的 HomeControl 进程
	Daemon DaemonConfig `mapstructure:"daemon"`

	// Stop configures graceful shutdown behavior / Stop 配置优雅关闭行为
	Stop StopConfig `mapstructure:"stop"`

	// Log configuration / 日志配置
	Log LogConfig `mapstructure:"log"`

	// StrictExit propagates reported command failures into the process
	// exit code. The original control script always exited 0; leaving this
	// off preserves that behavior.
	// StrictExit 将命令报告的失败传播到进程退出码。
	// 原控制脚本始终以 0 退出；关闭此项可保留该行为。
	StrictExit bool `mapstructure:"strict_exit"`
}

// DaemonConfig describes how to launch and find the HomeControl daemon
// DaemonConfig 描述如何启动和定位 HomeControl 守护进程
type DaemonConfig struct {
	// Executable is the HomeControl binary name or path
	// Executable 是 HomeControl 可执行文件的名称或路径
	Executable string `mapstructure:"executable"`

	// WorkingDir is the directory the daemon is launched from
	// WorkingDir 是启动守护进程时所在的目录
	WorkingDir string `mapstructure:"working_dir"`

	// PIDFile is the path the daemon writes its PID to
	// PIDFile 是守护进程写入其 PID 的路径
	PIDFile string `mapstructure:"pid_file"`

	// ClearPort passes HomeControl's literal -clearport flag through.
	// The daemon uses it to free its API port before binding.
	// ClearPort 透传 HomeControl 的字面 -clearport 参数。
	// 守护进程用它在绑定前释放 API 端口。
	ClearPort bool `mapstructure:"clear_port"`

	// Args are extra arguments appended to the launch command
	// Args 是追加到启动命令的额外参数
	Args []string `mapstructure:"args"`

	// StartupWait bounds how long start waits for the daemon to publish
	// its PID after the launcher exits successfully
	// StartupWait 限制启动器成功退出后等待守护进程发布其 PID 的时长
	StartupWait time.Duration `mapstructure:"startup_wait"`
}

// StopConfig contains graceful stop settings
// StopConfig 包含优雅停止设置
type StopConfig struct {
	// Timeout is the maximum time to wait for the daemon to exit
	// Timeout 是等待守护进程退出的最长时间
	Timeout time.Duration `mapstructure:"timeout"`

	// PollInterval is the sleep between liveness checks while waiting
	// PollInterval 是等待期间两次存活检查之间的休眠时间
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// LogConfig contains logging settings
// LogConfig 包含日志设置
type LogConfig struct {
	// Level is the log level (debug, info, warn, error)
	// Level 是日志级别（debug, info, warn, error）
	Level string `mapstructure:"level"`

	// File is the log file path (empty: stderr only)
	// File 是日志文件路径（为空时仅输出到 stderr）
	File string `mapstructure:"file"`

	// MaxSize is the maximum size of log file in MB before rotation
	// MaxSize 是日志文件轮转前的最大大小（MB）
	MaxSize int `mapstructure:"max_size"`

	// MaxBackups is the maximum number of old log files to retain
	// MaxBackups 是保留的旧日志文件的最大数量
	MaxBackups int `mapstructure:"max_backups"`

	// MaxAge is the maximum number of days to retain old log files
	// MaxAge 是保留旧日志文件的最大天数
	MaxAge int `mapstructure:"max_age"`
}

// Load loads configuration from file and environment variables
// Load 从文件和环境变量加载配置
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set default values / 设置默认值
	setDefaults(v)

	// Set config file path / 设置配置文件路径
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Check environment variable / 检查环境变量
		envPath := os.Getenv("HOMECONTROLCTL_CONFIG_PATH")
		if envPath != "" {
			v.SetConfigFile(envPath)
		} else {
			v.SetConfigFile(DefaultConfigPath)
		}
	}

	// Enable environment variable override / 启用环境变量覆盖
	v.SetEnvPrefix("HOMECONTROLCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file / 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error if we have defaults
		// 如果有默认值，配置文件未找到不是错误
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			// Check if file exists / 检查文件是否存在
			if _, statErr := os.Stat(v.ConfigFileUsed()); statErr == nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// File doesn't exist, use defaults / 文件不存在，使用默认值
		}
	}

	// Unmarshal config / 解析配置
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Expand ~ in daemon paths / 展开守护进程路径中的 ~
	cfg.Daemon.WorkingDir = expandHome(cfg.Daemon.WorkingDir)
	cfg.Daemon.PIDFile = expandHome(cfg.Daemon.PIDFile)

	return &cfg, nil
}

// setDefaults sets default configuration values
// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// Daemon defaults / 守护进程默认值
	v.SetDefault("daemon.executable", DefaultExecutable)
	v.SetDefault("daemon.working_dir", DefaultWorkingDir)
	v.SetDefault("daemon.pid_file", DefaultPIDFile)
	v.SetDefault("daemon.clear_port", DefaultClearPort)
	v.SetDefault("daemon.args", []string{})
	v.SetDefault("daemon.startup_wait", DefaultStartupWait)

	// Stop defaults / 停止默认值
	v.SetDefault("stop.timeout", DefaultStopTimeout)
	v.SetDefault("stop.poll_interval", DefaultPollInterval)

	// Log defaults / 日志默认值
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", DefaultLogMaxSize)
	v.SetDefault("log.max_backups", DefaultLogMaxBackup)
	v.SetDefault("log.max_age", DefaultLogMaxAge)

	// Exit code defaults / 退出码默认值
	v.SetDefault("strict_exit", false)
}

// expandHome expands a leading ~ to the user's home directory
// expandHome 将开头的 ~ 展开为用户主目录
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

// Validate validates the configuration
// Validate 验证配置
func (c *Config) Validate() error {
	// Validate daemon settings / 验证守护进程设置
	if c.Daemon.Executable == "" {
		return errors.New("daemon.executable is required")
	}
	if c.Daemon.PIDFile == "" {
		return errors.New("daemon.pid_file is required")
	}

	// Validate stop settings / 验证停止设置
	if c.Stop.PollInterval < 10*time.Millisecond {
		return errors.New("stop.poll_interval must be at least 10ms")
	}
	if c.Stop.Timeout < c.Stop.PollInterval {
		return errors.New("stop.timeout must not be shorter than stop.poll_interval")
	}
	if c.Daemon.StartupWait < 0 {
		return errors.New("daemon.startup_wait must not be negative")
	}

	// Validate log level / 验证日志级别
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}

	return nil
}

// String returns a string representation of the config (for debugging)
// String 返回配置的字符串表示（用于调试）
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Daemon.Executable: %s, Daemon.PIDFile: %s, Stop.Timeout: %v, Stop.PollInterval: %v, Log.Level: %s, StrictExit: %t}",
		c.Daemon.Executable,
		c.Daemon.PIDFile,
		c.Stop.Timeout,
		c.Stop.PollInterval,
		c.Log.Level,
		c.StrictExit,
	)
}
