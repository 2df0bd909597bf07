// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/codervisor/devlog-sub006/lib/broadcast"
	"github.com/codervisor/devlog-sub006/lib/poll"
	"github.com/codervisor/devlog-sub006/lib/scopepool"
	"github.com/codervisor/devlog-sub006/lib/service"
)

// envPrefix namespaces the environment variables that provide flag
// defaults: --db-path defaults from DEVLOG_DB_PATH.
const envPrefix = "DEVLOG_"

// config is the parsed service configuration.
type config struct {
	ListenAddress string
	DatabasePath  string
	PoolSize      int
	BusyTimeout   time.Duration

	LogLevel  slog.Level
	LogFormat string

	AutoProvisionProjects bool
	ProjectIdleTimeout    time.Duration

	HeartbeatInterval  time.Duration
	PollInterval       time.Duration
	QueueSize          int
	Overflow           broadcast.OverflowPolicy
	StreamWriteTimeout time.Duration

	ShutdownTimeout time.Duration

	ShowVersion bool
}

// parseConfig parses args with defaults taken from the environment
// through getenv. Flags win over the environment.
func parseConfig(args []string, getenv func(string) string) (config, error) {
	env := environment{getenv: getenv}
	var cfg config
	var logLevel, overflow string

	flagSet := pflag.NewFlagSet("devlog-observe-service", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.ListenAddress, "listen", env.stringOr("LISTEN", ":8080"), "HTTP listen address")
	flagSet.StringVar(&cfg.DatabasePath, "db-path", env.stringOr("DB_PATH", "devlog-observe.db"), "SQLite database file")
	flagSet.IntVar(&cfg.PoolSize, "db-pool-size", env.intOr("DB_POOL_SIZE", 4), "SQLite connection pool size")
	flagSet.DurationVar(&cfg.BusyTimeout, "db-busy-timeout", env.durationOr("DB_BUSY_TIMEOUT", 5*time.Second), "how long a writer waits for the database write lock")
	flagSet.StringVar(&logLevel, "log-level", env.stringOr("LOG_LEVEL", "info"), "log level: debug, info, warn or error")
	flagSet.StringVar(&cfg.LogFormat, "log-format", env.stringOr("LOG_FORMAT", service.LogFormatAuto), "log format: auto, json or text")
	flagSet.BoolVar(&cfg.AutoProvisionProjects, "auto-provision-projects", env.boolOr("AUTO_PROVISION_PROJECTS", true), "create placeholder projects for unknown project ids instead of rejecting their events")
	flagSet.DurationVar(&cfg.ProjectIdleTimeout, "project-idle-timeout", env.durationOr("PROJECT_IDLE_TIMEOUT", scopepool.DefaultIdleTimeout), "how long a verified project stays cached after last use")
	flagSet.DurationVar(&cfg.HeartbeatInterval, "heartbeat-interval", env.durationOr("HEARTBEAT_INTERVAL", broadcast.DefaultHeartbeatInterval), "interval between stream heartbeats")
	flagSet.DurationVar(&cfg.PollInterval, "poll-interval", env.durationOr("POLL_INTERVAL", poll.DefaultInterval), "query interval for polling streams")
	flagSet.IntVar(&cfg.QueueSize, "stream-queue-size", env.intOr("STREAM_QUEUE_SIZE", broadcast.DefaultQueueSize), "frames buffered per stream subscriber")
	flagSet.StringVar(&overflow, "stream-overflow", env.stringOr("STREAM_OVERFLOW", string(broadcast.DropOldest)), "full stream queue policy: drop-oldest or disconnect")
	flagSet.DurationVar(&cfg.StreamWriteTimeout, "stream-write-timeout", env.durationOr("STREAM_WRITE_TIMEOUT", 10*time.Second), "deadline for writing one stream frame")
	flagSet.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", env.durationOr("SHUTDOWN_TIMEOUT", 10*time.Second), "how long shutdown waits for in-flight requests")
	flagSet.BoolVar(&cfg.ShowVersion, "version", false, "print version information and exit")

	if err := flagSet.Parse(args); err != nil {
		return config{}, err
	}
	if env.err != nil {
		return config{}, env.err
	}
	if cfg.ShowVersion {
		return cfg, nil
	}

	level, err := service.ParseLogLevel(logLevel)
	if err != nil {
		return config{}, err
	}
	cfg.LogLevel = level
	cfg.Overflow = broadcast.OverflowPolicy(overflow)

	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c config) validate() error {
	switch {
	case c.ListenAddress == "":
		return fmt.Errorf("--listen is required")
	case c.DatabasePath == "":
		return fmt.Errorf("--db-path is required")
	case c.PoolSize <= 0:
		return fmt.Errorf("--db-pool-size must be positive, got %d", c.PoolSize)
	case c.QueueSize <= 0:
		return fmt.Errorf("--stream-queue-size must be positive, got %d", c.QueueSize)
	case !c.Overflow.Valid():
		return fmt.Errorf("--stream-overflow must be %s or %s, got %q", broadcast.DropOldest, broadcast.Disconnect, c.Overflow)
	case c.HeartbeatInterval <= 0 || c.PollInterval <= 0:
		return fmt.Errorf("--heartbeat-interval and --poll-interval must be positive")
	}
	switch c.LogFormat {
	case service.LogFormatAuto, service.LogFormatJSON, service.LogFormatText:
	default:
		return fmt.Errorf("--log-format must be auto, json or text, got %q", c.LogFormat)
	}
	return nil
}

// environment reads DEVLOG_* defaults and remembers the first
// malformed value.
type environment struct {
	getenv func(string) string
	err    error
}

func (e *environment) stringOr(name, fallback string) string {
	if value := e.getenv(envPrefix + name); value != "" {
		return value
	}
	return fallback
}

func (e *environment) intOr(name string, fallback int) int {
	value := e.getenv(envPrefix + name)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		e.fail(name, value, err)
		return fallback
	}
	return parsed
}

func (e *environment) boolOr(name string, fallback bool) bool {
	value := e.getenv(envPrefix + name)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		e.fail(name, value, err)
		return fallback
	}
	return parsed
}

func (e *environment) durationOr(name string, fallback time.Duration) time.Duration {
	value := e.getenv(envPrefix + name)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		e.fail(name, value, err)
		return fallback
	}
	return parsed
}

func (e *environment) fail(name, value string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%s%s=%q: %w", envPrefix, name, value, err)
	}
}
