// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/megastat/pkg/bridge"
	"github.com/Thermoquad/megastat/pkg/megad"
)

var (
	watchInterval int
	watchStats    bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Continuously poll a board and log every change",
	Long: `Poll a board at a fixed interval and print every signal change as it
is detected, including click, double click and long press signals of
digital inputs when --config enables them.

Without --config the port kinds are guessed from the first bulk response.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().IntVar(&watchInterval, "interval", 1, "Poll interval in seconds")
	watchCmd.Flags().BoolVar(&watchStats, "stats", false, "Print statistics on exit")
}

func runWatch(cmd *cobra.Command, args []string) error {
	log := newLogger()
	target, connInfo, err := OpenDevice(log)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	ports := target.ports
	if len(ports) == 0 {
		ports, err = inferPorts(ctx, target)
		if err != nil {
			exitConnection(err)
		}
	}

	fmt.Printf("Megastat - Watch\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Ports: %d, interval %ds\n", len(ports), watchInterval)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	b := bridge.New(bridge.Options{
		Name:           target.name,
		Device:         target.client,
		Ports:          ports,
		Windows:        target.windows,
		PollInterval:   time.Duration(watchInterval) * time.Second,
		RequestTimeout: boardTimeout(),
		Logger:         log,
		Sink:           bridge.SinkFunc(printEvent),
	})

	b.Run(ctx)

	if watchStats {
		stats := b.Statistics()
		fmt.Printf("\n%s", stats.String())
	}
	return nil
}

// inferPorts builds port configs from the shape of one bulk response.
func inferPorts(ctx context.Context, target *deviceTarget) ([]megad.PortConfig, error) {
	ctx, cancel := context.WithTimeout(ctx, boardTimeout())
	defer cancel()

	tokens, err := target.client.PollAll(ctx)
	if err != nil {
		return nil, err
	}
	ports := make([]megad.PortConfig, len(tokens))
	for i, token := range tokens {
		ports[i] = inferredConfig(i, token)
	}
	return ports, nil
}

func printEvent(e bridge.Event) {
	ack := ""
	if !e.Ack {
		ack = " (unconfirmed)"
	}
	quality := ""
	if e.Quality != megad.QualityGood {
		quality = fmt.Sprintf(" q=0x%02X", uint8(e.Quality))
	}
	fmt.Printf("[%s] %-8s %-20s %v%s%s\n", e.Time.Format("15:04:05.000"), e.Device, e.ID, e.Value, quality, ack)
}
