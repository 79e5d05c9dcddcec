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
	discoveryWindow int
	discoveryProbe  bool
)

var discoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "Discover boards on the local network",
	Long: `Broadcast a discovery request on every local IPv4 subnet and list the
boards that answer.

The request is sent from UDP port 42000 to port 52000 of each x.y.z.255
broadcast address. Boards answer to the source port, so only one discovery
can run on a host at a time.

With --probe every board found is polled once (cmd=all) using the board
password to report its port count.

Examples:
  megastat discovery
  megastat discovery --window 5 --probe --password sec

Exit codes:
  0 - Discovery successful (at least one board found)
  1 - No boards answered
  2 - Network error`,
	RunE: runDiscovery,
}

func init() {
	rootCmd.AddCommand(discoveryCmd)
	discoveryCmd.Flags().IntVar(&discoveryWindow, "window", 2, "Seconds to wait for replies")
	discoveryCmd.Flags().BoolVar(&discoveryProbe, "probe", false, "Poll every board found")
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	window := time.Duration(discoveryWindow) * time.Second

	fmt.Printf("Megastat - Board Discovery\n")
	fmt.Printf("Window: %d seconds\n\n", discoveryWindow)

	targets, err := megad.BroadcastAddresses()
	if err != nil {
		exitConnection(err)
	}
	for _, ip := range targets {
		fmt.Printf("Sending discovery request to %s:%d...\n", ip, megad.DiscoveryPort)
	}

	devices, err := megad.Discover(cmd.Context(), window)
	if err != nil {
		exitConnection(err)
	}

	password := ""
	if discoveryProbe && len(devices) > 0 {
		password, err = GetPassword(devicePassword, boardPasswordEnv, "Board password: ")
		if err != nil {
			return err
		}
	}

	for _, host := range devices {
		fmt.Printf("\nBoard found:\n")
		fmt.Printf("  Address: %s\n", host)
		if discoveryProbe {
			probeBoard(cmd.Context(), host, password)
		}
	}

	// Summary
	fmt.Printf("\n--- Discovery summary ---\n")
	fmt.Printf("Boards found: %d\n", len(devices))

	if len(devices) == 0 {
		fmt.Printf("No boards discovered. Check the network and board power.\n")
		os.Exit(exitFailure)
	}
	return nil
}

func probeBoard(ctx context.Context, host, password string) {
	ctx, cancel := context.WithTimeout(ctx, boardTimeout())
	defer cancel()

	client := megad.NewClient(host, password, megad.WithTimeout(boardTimeout()))
	tokens, err := client.PollAll(ctx)
	if err != nil {
		fmt.Printf("  Poll: FAILED (%v)\n", err)
		return
	}
	fmt.Printf("  Ports: %d\n", len(tokens))
}
