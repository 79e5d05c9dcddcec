// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// Device connection flags
	deviceHost     string
	devicePassword string
	deviceName     string
	requestTimeout int

	// Configuration and logging
	configPath string
	logLevel   string

	// Event stream flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool
)

var rootCmd = &cobra.Command{
	Use:   "megastat",
	Short: "MegaD-328 I/O board bridge",
	Long: `Megastat - A bridge and toolbox for MegaD-328 Ethernet I/O boards.

The run command polls every configured board, receives its push
notifications, debounces inputs into click, double click and long press
signals, and publishes state over a websocket event stream, MQTT and
Prometheus metrics. The other commands talk to a single board directly or
to a running bridge.

Device selection:
  Direct:  --host 192.168.0.14 [--password sec]
  Config:  --config megastat.json [--device hall]

Event stream (events, monitor):
  --url ws://host:8090/ws [--username user]

The board password is read from --password, then the MEGAD_PASSWORD
environment variable, and is prompted interactively if neither is set.
The stream password is read from MEGASTAT_PASSWORD or prompted.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&deviceHost, "host", "H", "", "Board address (ip[:port])")
	rootCmd.PersistentFlags().StringVar(&devicePassword, "password", "", "Board password (default $MEGAD_PASSWORD)")
	rootCmd.PersistentFlags().StringVarP(&deviceName, "device", "d", "", "Device name from the config file")
	rootCmd.PersistentFlags().IntVar(&requestTimeout, "timeout", 5, "Board request timeout in seconds")

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "JSON configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "Bridge event stream URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
}

// Execute runs the root command. Commands are cancelled on SIGINT and
// SIGTERM through their context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
