// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cfg

import (
	"fmt"
	"path/filepath"
	"strings"
)

// LogSeverity represents the logging severity and can accept the
// following values: "TRACE", "DEBUG", "INFO", "WARNING", "ERROR", "OFF".
type LogSeverity string

// Constants for all supported log severities.
const (
	TraceLogSeverity   LogSeverity = "TRACE"
	DebugLogSeverity   LogSeverity = "DEBUG"
	InfoLogSeverity    LogSeverity = "INFO"
	WarningLogSeverity LogSeverity = "WARNING"
	ErrorLogSeverity   LogSeverity = "ERROR"
	OffLogSeverity     LogSeverity = "OFF"
)

// severityRanking maps each level to an integer for validation and comparison.
var severityRanking = map[LogSeverity]int{
	TraceLogSeverity:   0,
	DebugLogSeverity:   1,
	InfoLogSeverity:    2,
	WarningLogSeverity: 3,
	ErrorLogSeverity:   4,
	OffLogSeverity:     5,
}

func (l *LogSeverity) UnmarshalText(text []byte) error {
	level := LogSeverity(strings.ToUpper(string(text)))
	if _, ok := severityRanking[level]; !ok {
		return fmt.Errorf("invalid log severity level: %s. Must be one of [TRACE, DEBUG, INFO, WARNING, ERROR, OFF]", text)
	}
	*l = level
	return nil
}

// Rank returns the integer representation of the severity rank.
// Returns -1 if the severity is unknown.
func (l LogSeverity) Rank() int {
	if rank, ok := severityRanking[l]; ok {
		return rank
	}
	return -1
}

// ResolvedPath is an absolute, cleaned filesystem path.
type ResolvedPath string

func (p *ResolvedPath) UnmarshalText(text []byte) error {
	path := string(text)
	if path == "" {
		*p = ""
		return nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving path %q: %w", path, err)
	}
	*p = ResolvedPath(abs)
	return nil
}

// LogRotateLoggingConfig controls lumberjack-based log-file rotation.
type LogRotateLoggingConfig struct {
	MaxFileSizeMb   int  `mapstructure:"max-file-size-mb"`
	BackupFileCount int  `mapstructure:"backup-file-count"`
	Compress        bool `mapstructure:"compress"`
}

// DefaultLogRotateConfig returns the rotation defaults applied when a
// log file is configured without explicit rotation settings.
func DefaultLogRotateConfig() LogRotateLoggingConfig {
	return LogRotateLoggingConfig{
		MaxFileSizeMb:   512,
		BackupFileCount: 10,
		Compress:        true,
	}
}

// LoggingConfig is the full logging configuration surface: where to
// write (FilePath empty means stderr), at what severity, in what
// format, and how to rotate the file if one is configured.
type LoggingConfig struct {
	FilePath  ResolvedPath           `mapstructure:"file-path"`
	Format    string                 `mapstructure:"format"`
	Severity  LogSeverity            `mapstructure:"severity"`
	LogRotate LogRotateLoggingConfig `mapstructure:"log-rotate"`
}

// Params is the MFS-specific configuration surface: the shape of a
// newly created image and the metrics listener address.
type Params struct {
	Ninodes     int    `mapstructure:"ninodes"`
	Nblocks     int    `mapstructure:"nblocks"`
	MetricsAddr string `mapstructure:"metrics-addr"`
}
