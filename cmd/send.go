// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/megastat/pkg/bridge"
	"github.com/Thermoquad/megastat/pkg/megad"
)

var (
	sendCounter bool
	sendPWM     bool
)

var sendCmd = &cobra.Command{
	Use:   "send <port> <value>",
	Short: "Send a command to an output or reset an input counter",
	Long: `Write a value to a port.

Switch outputs accept on, off, true, false, 0, 1 and toggle (2).
PWM outputs accept a number in engineering units; it is converted back with
the port's factor and offset and clamped to 0..255. Without --config the
port is treated as a switch output, or as a PWM output with --pwm.

With --counter the value resets the counter of a digital input instead.

Exit codes:
  0 - Command confirmed by the board
  1 - Command rejected
  2 - Connection error`,
	Args: cobra.ExactArgs(2),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().BoolVar(&sendCounter, "counter", false, "Reset the input counter to value")
	sendCmd.Flags().BoolVar(&sendPWM, "pwm", false, "Treat the port as a PWM output (without --config)")
}

func runSend(cmd *cobra.Command, args []string) error {
	log := newLogger()
	target, _, err := OpenDevice(log)
	if err != nil {
		return err
	}

	index, err := strconv.Atoi(args[0])
	if err != nil || index < 0 || index >= megad.MaxPorts {
		return fmt.Errorf("invalid port %q (expected 0..%d)", args[0], megad.MaxPorts-1)
	}
	value, err := megad.ParseCommandValue(args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Rejected: %v\n", err)
		os.Exit(exitFailure)
	}

	cfg, signal := sendTarget(target, index)

	b := bridge.New(bridge.Options{
		Name:           target.name,
		Device:         target.client,
		Ports:          []megad.PortConfig{cfg},
		RequestTimeout: boardTimeout(),
		Logger:         log,
		Sink: bridge.SinkFunc(func(e bridge.Event) {
			fmt.Printf("%s = %v (confirmed)\n", e.ID, e.Value)
		}),
	})

	if err := b.CommandValue(cmd.Context(), cfg, signal, value); err != nil {
		if bridge.IsRejection(err) {
			fmt.Fprintf(os.Stderr, "Rejected: %v\n", err)
			os.Exit(exitFailure)
		}
		exitConnection(err)
	}
	return nil
}

// sendTarget picks the port config and signal a send addresses.
func sendTarget(target *deviceTarget, index int) (megad.PortConfig, megad.Signal) {
	signal := megad.SignalPrimary
	if sendCounter {
		signal = megad.SignalCounter
	}
	for _, c := range target.ports {
		if c.Index == index {
			return c, signal
		}
	}

	s := megad.PortSettings{Type: megad.TypeOutput, Mode: megad.OutputSwitch}
	switch {
	case sendCounter:
		s = megad.PortSettings{Type: megad.TypeInput, Mode: megad.ModePressRelease}
	case sendPWM:
		s.Mode = megad.OutputPWM
	}
	return s.Config(index, megad.Windows{}), signal
}
