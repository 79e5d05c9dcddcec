// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/megastat/pkg/stream"
)

var (
	eventsDuration int
	eventsDevice   string
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Print the event stream of a running bridge",
	Long: `Connect to the /ws event stream of a running bridge and print every
event received, starting with the current state of every signal.

Exit codes:
  0 - Stream ended after --duration
  1 - Stream closed by the bridge
  2 - Connection error`,
	RunE: runEvents,
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.Flags().IntVar(&eventsDuration, "duration", 0, "Stop after this many seconds (0 runs until Ctrl+C)")
	eventsCmd.Flags().StringVar(&eventsDevice, "filter", "", "Only print events of this device")
}

func runEvents(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	conn, connInfo, err := OpenStream(ctx)
	if err != nil {
		exitConnection(err)
	}
	defer conn.Close()

	fmt.Printf("Megastat - Event Stream\n")
	fmt.Printf("Connection: %s\n", connInfo)
	if eventsDuration > 0 {
		fmt.Printf("Duration: %d seconds\n", eventsDuration)
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	type frame struct {
		typ     uint8
		payload map[int]interface{}
	}
	frames := make(chan frame, 100)
	errChan := make(chan error, 1)

	go func() {
		for {
			typ, payload, err := conn.ReadFrame()
			if err != nil {
				errChan <- err
				return
			}
			frames <- frame{typ, payload}
		}
	}()

	var deadline <-chan time.Time
	if eventsDuration > 0 {
		deadline = time.After(time.Duration(eventsDuration) * time.Second)
	}

	start := time.Now()
	received := 0
	for {
		select {
		case f := <-frames:
			switch f.typ {
			case stream.FrameHello:
				h := stream.DecodeHello(f.payload)
				fmt.Printf("Bridge %s, devices: %s\n\n", h.Version, strings.Join(h.Devices, ", "))
			case stream.FrameEvent:
				e, err := stream.DecodeEvent(f.payload)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Invalid event: %v\n", err)
					continue
				}
				if eventsDevice != "" && e.Device != eventsDevice {
					continue
				}
				received++
				printEvent(e)
			}

		case err := <-errChan:
			fmt.Printf("\n[%s] Stream closed: %v\n", time.Now().Format("15:04:05.000"), err)
			printEventsSummary(start, received)
			os.Exit(exitFailure)

		case <-deadline:
			printEventsSummary(start, received)
			return nil

		case <-ctx.Done():
			printEventsSummary(start, received)
			return nil
		}
	}
}

func printEventsSummary(start time.Time, received int) {
	fmt.Printf("\n--- Stream summary ---\n")
	fmt.Printf("Duration: %v\n", time.Since(start).Round(time.Second))
	fmt.Printf("Events received: %d\n", received)
}
