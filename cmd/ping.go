// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	pingCount    int
	pingInterval int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Test board reachability with repeated bulk status requests",
	Long: `Send cmd=all requests to a board and measure the round trip time.

This is useful for verifying:
  - The board address and password are correct
  - The board answers within --timeout
  - The link is stable over several requests

Exit codes:
  0 - All requests answered
  1 - One or more requests failed or timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of requests to send")
	pingCmd.Flags().IntVar(&pingInterval, "interval", 1000, "Delay between requests in milliseconds")
}

func runPing(cmd *cobra.Command, args []string) error {
	log := newLogger()
	target, connInfo, err := OpenDevice(log)
	if err != nil {
		return err
	}

	fmt.Printf("Megastat - Board Ping Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %v per request\n", boardTimeout())
	fmt.Printf("Count: %d requests\n\n", pingCount)

	ctx := cmd.Context()
	successCount := 0
	failCount := 0
	var total time.Duration

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		reqCtx, cancel := context.WithTimeout(ctx, boardTimeout())
		start := time.Now()
		tokens, err := target.client.PollAll(reqCtx)
		rtt := time.Since(start)
		cancel()

		if err != nil {
			fmt.Printf("FAILED: %v\n", err)
			failCount++
		} else {
			fmt.Printf("%d ports, rtt=%v\n", len(tokens), rtt.Round(time.Millisecond))
			successCount++
			total += rtt
		}

		if ctx.Err() != nil {
			pingCount = i
			break
		}
		if i < pingCount {
			select {
			case <-ctx.Done():
			case <-time.After(time.Duration(pingInterval) * time.Millisecond):
			}
		}
	}

	// Summary
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d requests sent, %d responses received, %.0f%% packet loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)
	if successCount > 0 {
		fmt.Printf("average rtt=%v\n", (total / time.Duration(successCount)).Round(time.Millisecond))
	}

	if failCount > 0 {
		os.Exit(exitFailure)
	}
	return nil
}
