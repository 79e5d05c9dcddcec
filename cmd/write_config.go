// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/megastat/pkg/megad"
)

var (
	writePace        int
	writeDryRun      bool
	writeServer      bool
	writeServerIP    string
	writeServerPort  int
	writeScript      string
	writeNewAddress  string
	writeNewPassword string
)

var writeConfigCmd = &cobra.Command{
	Use:   "write-config",
	Short: "Write port or device settings from --config to a board",
	Long: `Write the port settings of a configured device to the board, one
pn=<port> request per port, pausing --pace milliseconds between writes.
Unconnected ports are skipped.

With --server the device page is written instead, pointing the board's push
notifications at this host (or --server-ip) and --script. With --new-address
or --new-password the board's network settings are changed; the board
restarts on its new address.

Exit codes:
  0 - Every write succeeded
  1 - One or more writes failed
  2 - Connection error`,
	RunE: runWriteConfig,
}

func init() {
	rootCmd.AddCommand(writeConfigCmd)
	writeConfigCmd.Flags().IntVar(&writePace, "pace", 1000, "Pause between port writes in milliseconds")
	writeConfigCmd.Flags().BoolVar(&writeDryRun, "dry-run", false, "Print the requests without sending them")
	writeConfigCmd.Flags().BoolVar(&writeServer, "server", false, "Write the push server settings instead of the ports")
	writeConfigCmd.Flags().StringVar(&writeServerIP, "server-ip", "", "Push server address (detected when empty)")
	writeConfigCmd.Flags().IntVar(&writeServerPort, "server-port", 0, "Push server port")
	writeConfigCmd.Flags().StringVar(&writeScript, "script", "", "Push script path (default: the device name)")
	writeConfigCmd.Flags().StringVar(&writeNewAddress, "new-address", "", "Change the board's IP address")
	writeConfigCmd.Flags().StringVar(&writeNewPassword, "new-password", "", "Change the board's password")
}

func runWriteConfig(cmd *cobra.Command, args []string) error {
	log := newLogger()
	target, connInfo, err := OpenDevice(log)
	if err != nil {
		return err
	}

	fmt.Printf("Megastat - Write Configuration\n")
	fmt.Printf("Connection: %s\n\n", connInfo)

	w := &megad.Writer{Client: target.client, Pace: time.Duration(writePace) * time.Millisecond}

	if writeServer || writeNewAddress != "" || writeNewPassword != "" {
		return writeDevice(cmd, target, w)
	}

	if target.settings == nil {
		return fmt.Errorf("port writes require --config")
	}
	ports := target.settings.Ports

	if writeDryRun {
		for i, s := range ports {
			if query, ok := megad.PortQuery(i, s); ok {
				fmt.Printf("  %s\n", query)
			}
		}
		return nil
	}

	failed := 0
	for _, r := range w.WritePorts(cmd.Context(), ports) {
		switch {
		case r.Skipped:
			fmt.Printf("  port %2d: skipped\n", r.Index)
		case r.Err != nil:
			fmt.Printf("  port %2d: FAILED (%v)\n", r.Index, r.Err)
			failed++
		default:
			fmt.Printf("  port %2d: ok\n", r.Index)
		}
	}

	fmt.Printf("\n%d ports, %d failed\n", len(ports), failed)
	if failed > 0 {
		os.Exit(exitFailure)
	}
	return nil
}

func writeDevice(cmd *cobra.Command, target *deviceTarget, w *megad.Writer) error {
	script := writeScript
	if script == "" {
		script = target.name
	}
	update := megad.DeviceUpdate{
		Address:    writeNewAddress,
		Password:   writeNewPassword,
		ServerIP:   writeServerIP,
		ServerPort: writeServerPort,
		Script:     script,
	}

	if writeDryRun {
		query, err := megad.DeviceQuery(target.client.Host(), target.client.Password(), update)
		if err != nil {
			return err
		}
		fmt.Printf("  %s\n", query)
		return nil
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), boardTimeout())
	defer cancel()

	query, err := w.WriteDevice(ctx, update)
	if err != nil {
		if query == "" {
			return err
		}
		exitConnection(err)
	}
	fmt.Printf("  %s: ok\n", query)
	return nil
}
