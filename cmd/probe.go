// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/megastat/pkg/megad"
	"github.com/Thermoquad/megastat/pkg/settings"
)

var (
	probeJSON bool
	probeSave bool
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Read the port configuration pages of a board",
	Long: `Read the configuration page of every port the board reports, followed
by the device page, one request at a time.

With --save the detected ports are stored under the device in --config,
creating the file when it does not exist. Existing port names and scaling are
replaced.

Exit codes:
  0 - Every page read
  1 - One or more pages failed
  2 - Connection error`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().BoolVar(&probeJSON, "json", false, "Print the result as JSON")
	probeCmd.Flags().BoolVar(&probeSave, "save", false, "Save the detected ports to --config")
}

func runProbe(cmd *cobra.Command, args []string) error {
	log := newLogger()
	if probeSave && configPath == "" {
		return fmt.Errorf("--save requires --config")
	}
	target, connInfo, err := openProbeTarget(log)
	if err != nil {
		return err
	}

	prober := &megad.Prober{Client: target.client, StepTimeout: boardTimeout()}
	result, err := prober.Detect(cmd.Context())
	if err != nil && result == nil {
		exitConnection(err)
	}

	if probeJSON {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else {
		fmt.Printf("Megastat - Board Probe\n")
		fmt.Printf("Connection: %s\n\n", connInfo)
		fmt.Print(result.String())
	}

	if probeSave {
		if err := saveProbe(log, target, result); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Saved %d ports to %s\n", len(result.Ports), configPath)
	}

	if len(result.Errors) > 0 {
		os.Exit(exitFailure)
	}
	return nil
}

// openProbeTarget resolves the board like OpenDevice, but tolerates a
// missing config file when --save will create it.
func openProbeTarget(log zerolog.Logger) (*deviceTarget, string, error) {
	if probeSave && deviceHost != "" {
		if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
			saved := configPath
			configPath = ""
			defer func() { configPath = saved }()
		}
	}
	return OpenDevice(log)
}

func saveProbe(log zerolog.Logger, target *deviceTarget, result *megad.ProbeResult) error {
	cfg, err := settings.Load(configPath, log)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = settings.Default(), nil
	}
	if err != nil {
		return err
	}

	name := deviceName
	if name == "" {
		name = target.name
	}
	dev, ok := cfg.Lookup(name)
	if !ok {
		cfg.Devices = append(cfg.Devices, settings.Device{
			Name:     name,
			Address:  target.client.Address(),
			Password: target.client.Password(),
		})
		dev = &cfg.Devices[len(cfg.Devices)-1]
	}
	dev.Ports = result.Ports
	return cfg.Save(configPath)
}
