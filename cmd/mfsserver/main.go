// Copyright 2025 Google LLC
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

// Command mfsserver runs the MFS server: it binds a UDP port, opens or
// creates the on-disk image at the given path, and serves requests
// until it receives a shutdown request (spec §4.3, §7).
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/clarkzinzow/mfs/cfg"
	"github.com/clarkzinzow/mfs/internal/diskimage"
	"github.com/clarkzinzow/mfs/internal/logger"
	"github.com/clarkzinzow/mfs/internal/metrics"
	"github.com/clarkzinzow/mfs/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	logLevel    string
	logFormat   string
	logFilePath string
	ninodes     int
	nblocks     int
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "mfsserver <port> <image-path>",
	Short: "Serve a single MFS image over UDP",
	Args:  cobra.ExactArgs(2),
	RunE:  run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&logLevel, "log-level", cfg.INFO, "logging severity: TRACE, DEBUG, INFO, WARNING, ERROR, OFF")
	flags.StringVar(&logFormat, "log-format", "text", "log format: text or json")
	flags.StringVar(&logFilePath, "log-file", "", "log file path; empty means stderr")
	flags.IntVar(&ninodes, "ninodes", cfg.DefaultNinodes, "number of inodes, applied only when creating a new image")
	flags.IntVar(&nblocks, "nblocks", cfg.DefaultNblocks, "number of data blocks, applied only when creating a new image")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on; empty disables metrics")

	if err := viper.BindPFlags(flags); err != nil {
		panic(fmt.Sprintf("mfsserver: binding flags: %v", err))
	}
}

func run(cmd *cobra.Command, args []string) error {
	port, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("mfsserver: invalid port %q: %w", args[0], err)
	}
	imagePath := args[1]

	logConfig := cfg.LoggingConfig{
		FilePath: cfg.ResolvedPath(viper.GetString("log-file")),
		Format:   viper.GetString("log-format"),
		Severity: cfg.LogSeverity(viper.GetString("log-level")),
	}
	if err := logger.InitLogFile(logConfig); err != nil {
		return fmt.Errorf("mfsserver: initializing logging: %w", err)
	}

	var metricsHandle metrics.Handle = metrics.NewNoopHandle()
	var shutdownMetrics func(context.Context) error
	if addr := viper.GetString("metrics-addr"); addr != "" {
		h, shutdown, err := metrics.ServePrometheus(addr)
		if err != nil {
			return fmt.Errorf("mfsserver: starting metrics server: %w", err)
		}
		metricsHandle = h
		shutdownMetrics = shutdown
	}

	params := diskimage.Params{
		NumInodes: viper.GetInt("ninodes"),
		NumBlocks: viper.GetInt("nblocks"),
	}

	srv, err := server.New(port, imagePath, params, metricsHandle)
	if err != nil {
		return fmt.Errorf("mfsserver: %w", err)
	}

	logger.Infof("mfsserver: serving %s on port %d", imagePath, port)
	serveErr := srv.Serve(context.Background())
	if shutdownMetrics != nil {
		if err := shutdownMetrics(context.Background()); err != nil {
			logger.Warnf("mfsserver: shutting down metrics server: %v", err)
		}
	}
	return serveErr
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
