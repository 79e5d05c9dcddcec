// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/megastat/pkg/megad"
)

var getCmd = &cobra.Command{
	Use:   "get <port>",
	Short: "Read a single port",
	Long: `Read one port (pt=<port>&cmd=get) and print the raw token and its
decoded value. Port 255 and "temp" read the internal temperature sensor.`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

func init() {
	rootCmd.AddCommand(getCmd)
}

func runGet(cmd *cobra.Command, args []string) error {
	log := newLogger()
	target, _, err := OpenDevice(log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), boardTimeout())
	defer cancel()

	if args[0] == "temp" || args[0] == "255" {
		token, err := target.client.ReadInternalTemperature(ctx)
		if err != nil {
			exitConnection(err)
		}
		cfg := megad.PortSettings{Type: megad.TypeInternal}.Config(megad.MaxPorts, megad.Windows{})
		fmt.Printf("%s\traw=%s\n", megad.FormatReading(cfg, cfg.Decode(token)), token)
		return nil
	}

	index, err := strconv.Atoi(args[0])
	if err != nil || index < 0 || index >= megad.MaxPorts {
		return fmt.Errorf("invalid port %q (expected 0..%d)", args[0], megad.MaxPorts-1)
	}

	token, err := target.client.PollOne(ctx, index)
	if err != nil {
		exitConnection(err)
	}
	cfg := target.portConfig(index, token)
	fmt.Printf("%s\traw=%s\n", megad.FormatReading(cfg, cfg.Decode(token)), token)
	return nil
}
