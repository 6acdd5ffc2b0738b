// Copyright 2023 Google Inc. All Rights Reserved.
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

// Package logger provides structured logging for the server and client
// CLIs, built on log/slog with six severities (slog's four built-in
// levels plus TRACE below DEBUG and OFF above ERROR) and optional
// file-based rotation via lumberjack.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/clarkzinzow/mfs/cfg"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Custom severities, layered onto slog's four built-in levels (Debug=-4,
// Info=0, Warn=4, Error=8) so TRACE sorts below DEBUG and OFF sorts
// above ERROR.
const (
	LevelTrace slog.Level = slog.LevelDebug - 4
	LevelDebug slog.Level = slog.LevelDebug
	LevelInfo  slog.Level = slog.LevelInfo
	LevelWarn  slog.Level = slog.LevelWarn
	LevelError slog.Level = slog.LevelError
	LevelOff   slog.Level = slog.LevelError + 100
)

const timeLayout = "01/02/2006 15:04:05.000000"

// loggerFactory holds everything needed to (re)build defaultLogger: the
// destination (file, or os.Stderr via sysWriter), the format, the
// severity, and the rotation policy for a file destination.
type loggerFactory struct {
	file            *os.File
	sysWriter       io.Writer
	format          string
	level           string
	logRotateConfig cfg.LogRotateLoggingConfig
}

var defaultLoggerFactory = &loggerFactory{
	sysWriter: os.Stderr,
	format:    "text",
	level:     cfg.INFO,
}

var programLevel = new(slog.LevelVar)

var defaultLogger = slog.New(
	defaultLoggerFactory.createJsonOrTextHandler(os.Stderr, programLevel, ""),
)

func init() {
	setLoggingLevel(defaultLoggerFactory.level, programLevel)
}

func severityName(l slog.Level) string {
	switch {
	case l < LevelDebug:
		return "TRACE"
	case l < LevelInfo:
		return "DEBUG"
	case l < LevelWarn:
		return "INFO"
	case l < LevelError:
		return "WARNING"
	case l < LevelOff:
		return "ERROR"
	default:
		return "OFF"
	}
}

// createJsonOrTextHandler builds the slog.Handler matching f.format,
// renaming slog's default keys to the severity/message vocabulary used
// throughout MFS's logs and, for every format other than "text" (which
// all get the JSON handler), nesting the timestamp as
// {"seconds":...,"nanos":...} instead of an RFC3339 string.
func (f *loggerFactory) createJsonOrTextHandler(w io.Writer, level *slog.LevelVar, prefix string) slog.Handler {
	replace := func(groups []string, a slog.Attr) slog.Attr {
		switch a.Key {
		case slog.TimeKey:
			if f.format != "text" {
				t := a.Value.Time()
				return slog.Attr{
					Key: "timestamp",
					Value: slog.GroupValue(
						slog.Int64("seconds", t.Unix()),
						slog.Int64("nanos", int64(t.Nanosecond())),
					),
				}
			}
			return slog.Attr{Key: "time", Value: slog.StringValue(a.Value.Time().Format(timeLayout))}
		case slog.LevelKey:
			lvl, _ := a.Value.Any().(slog.Level)
			return slog.Attr{Key: "severity", Value: slog.StringValue(severityName(lvl))}
		case slog.MessageKey:
			return slog.Attr{Key: "message", Value: slog.StringValue(prefix + a.Value.String())}
		}
		return a
	}

	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: replace}
	if f.format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// setLoggingLevel maps a cfg severity string onto programLevel.
func setLoggingLevel(level string, programLevel *slog.LevelVar) {
	switch level {
	case cfg.TRACE:
		programLevel.Set(LevelTrace)
	case cfg.DEBUG:
		programLevel.Set(LevelDebug)
	case cfg.INFO:
		programLevel.Set(LevelInfo)
	case cfg.WARNING:
		programLevel.Set(LevelWarn)
	case cfg.ERROR:
		programLevel.Set(LevelError)
	case cfg.OFF:
		programLevel.Set(LevelOff)
	default:
		programLevel.Set(LevelInfo)
	}
}

// InitLogFile redirects logging to the file named in logConfig,
// configuring lumberjack-based rotation when requested. Passing a
// LoggingConfig with an empty FilePath is a no-op other than updating
// format and severity.
func InitLogFile(logConfig cfg.LoggingConfig) error {
	defaultLoggerFactory.level = string(logConfig.Severity)
	if logConfig.Format != "" {
		defaultLoggerFactory.format = logConfig.Format
	}

	var w io.Writer = os.Stderr
	if logConfig.FilePath != "" {
		rotate := logConfig.LogRotate
		if rotate == (cfg.LogRotateLoggingConfig{}) {
			rotate = cfg.DefaultLogRotateConfig()
		}
		defaultLoggerFactory.logRotateConfig = rotate

		f, err := os.OpenFile(string(logConfig.FilePath), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		defaultLoggerFactory.file = f
		defaultLoggerFactory.sysWriter = nil

		w = &lumberjack.Logger{
			Filename:   string(logConfig.FilePath),
			MaxSize:    rotate.MaxFileSizeMb,
			MaxBackups: rotate.BackupFileCount,
			Compress:   rotate.Compress,
		}
	}

	setLoggingLevel(defaultLoggerFactory.level, programLevel)
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(w, programLevel, ""))
	return nil
}

// SetLogFormat switches the output format. Only "text" selects the text
// handler; any other value, including the empty string, builds the JSON
// handler (see createJsonOrTextHandler).
func SetLogFormat(format string) {
	defaultLoggerFactory.format = format

	var w io.Writer = defaultLoggerFactory.sysWriter
	if w == nil {
		w = defaultLoggerFactory.file
	}
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(w, programLevel, ""))
}

func Tracef(format string, v ...any) { defaultLogger.Log(context.Background(), LevelTrace, fmt.Sprintf(format, v...)) }
func Debugf(format string, v ...any) { defaultLogger.Log(context.Background(), LevelDebug, fmt.Sprintf(format, v...)) }
func Infof(format string, v ...any)  { defaultLogger.Log(context.Background(), LevelInfo, fmt.Sprintf(format, v...)) }
func Warnf(format string, v ...any)  { defaultLogger.Log(context.Background(), LevelWarn, fmt.Sprintf(format, v...)) }
func Errorf(format string, v ...any) { defaultLogger.Log(context.Background(), LevelError, fmt.Sprintf(format, v...)) }
