// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/Thermoquad/megastat/pkg/megad"
	"github.com/Thermoquad/megastat/pkg/settings"
	"github.com/Thermoquad/megastat/pkg/stream"
)

// Exit codes
const (
	exitFailure         = 1
	exitConnectionError = 2
)

// Password environment variables
const (
	boardPasswordEnv  = "MEGAD_PASSWORD"
	streamPasswordEnv = "MEGASTAT_PASSWORD"
)

// deviceTarget is the board a one-shot command talks to
type deviceTarget struct {
	name     string
	client   *megad.Client
	ports    []megad.PortConfig // Empty without a config file
	settings *settings.Device   // Nil without a config file
	windows  megad.Windows
}

// GetPassword returns the flag value, then the environment variable, and
// prompts the user otherwise.
func GetPassword(flagValue, envVar, prompt string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if pw := os.Getenv(envVar); pw != "" {
		return pw, nil
	}

	// Prompt user for password (hide input)
	fmt.Fprint(os.Stderr, prompt)

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr) // newline after password
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr) // newline after password
	return string(passwordBytes), nil
}

// newLogger builds the process logger: human readable on a terminal, JSON
// lines otherwise.
func newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(logLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var w io.Writer = os.Stderr
	if term.IsTerminal(int(os.Stderr.Fd())) {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// loadConfig loads --config, or returns nil when the flag is not set.
func loadConfig(log zerolog.Logger) (*settings.Config, error) {
	if configPath == "" {
		return nil, nil
	}
	return settings.Load(configPath, log)
}

func boardTimeout() time.Duration {
	if requestTimeout <= 0 {
		return megad.DefaultTimeout
	}
	return time.Duration(requestTimeout) * time.Second
}

// OpenDevice resolves the board selected by --host or by --config and
// --device.
func OpenDevice(log zerolog.Logger) (*deviceTarget, string, error) {
	cfg, err := loadConfig(log)
	if err != nil {
		return nil, "", err
	}

	var dev *settings.Device
	if cfg != nil {
		switch {
		case deviceName != "":
			d, ok := cfg.Lookup(deviceName)
			if !ok {
				return nil, "", fmt.Errorf("device %q not found in %s", deviceName, configPath)
			}
			dev = d
		case deviceHost == "" && len(cfg.Devices) > 0:
			dev = &cfg.Devices[0]
		}
	}

	target := &deviceTarget{settings: dev}
	switch {
	case deviceHost != "":
		password := devicePassword
		if password == "" && dev != nil {
			password = dev.Password
		}
		password, err = GetPassword(password, boardPasswordEnv, "Board password: ")
		if err != nil {
			return nil, "", err
		}
		target.name = deviceHost
		target.client = megad.NewClient(deviceHost, password, megad.WithTimeout(boardTimeout()))
	case dev != nil:
		target.name = dev.Name
		target.client = megad.NewClient(dev.Address, dev.Password, megad.WithTimeout(boardTimeout()))
	default:
		return nil, "", fmt.Errorf("either --host or --config must be specified")
	}

	if dev != nil && cfg != nil {
		target.windows = cfg.Windows()
		target.ports = dev.PortConfigs(target.windows)
	}
	return target, fmt.Sprintf("MegaD %s (%s)", target.name, target.client.Address()), nil
}

// streamDialOptions resolves the event stream credentials once, so
// reconnects do not prompt again.
func streamDialOptions() (stream.DialOptions, error) {
	if wsURL == "" {
		return stream.DialOptions{}, fmt.Errorf("--url must be specified")
	}
	opts := stream.DialOptions{
		Username:      wsUsername,
		SkipSSLVerify: wsNoSSLVerify,
	}
	if wsUsername != "" {
		password, err := GetPassword("", streamPasswordEnv, "Password: ")
		if err != nil {
			return opts, err
		}
		opts.Password = password
	}
	return opts, nil
}

// OpenStream connects to a running bridge's event stream.
func OpenStream(ctx context.Context) (*stream.Conn, string, error) {
	opts, err := streamDialOptions()
	if err != nil {
		return nil, "", err
	}
	conn, err := stream.Dial(ctx, wsURL, opts)
	if err != nil {
		return nil, "", err
	}
	return conn, fmt.Sprintf("WebSocket: %s", wsURL), nil
}

// exitConnection reports a connection error and exits with the
// connection error code.
func exitConnection(err error) {
	fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
	os.Exit(exitConnectionError)
}

// portConfig returns the configured port, or a config inferred from the
// port token when the board was addressed without a config file.
func (t *deviceTarget) portConfig(index int, token string) megad.PortConfig {
	for _, c := range t.ports {
		if c.Index == index {
			return c
		}
	}
	return inferredConfig(index, token)
}

// inferredConfig guesses a port kind from the shape of its token: ON/OFF
// with a counter is an input, bare ON/OFF an output, temp: a sensor and
// anything else an ADC reading.
func inferredConfig(index int, token string) megad.PortConfig {
	var s megad.PortSettings
	state, _, hasCounter := strings.Cut(token, "/")
	switch {
	case token == "":
		s = megad.Unconnected()
	case state == megad.TokenOn || state == megad.TokenOff:
		s = megad.PortSettings{Type: megad.TypeOutput}
		if hasCounter {
			s.Type = megad.TypeInput
		}
	case strings.Contains(token, "temp:"):
		s = megad.PortSettings{Type: megad.TypeSensor, Device: megad.SensorDHT22}
	default:
		s = megad.PortSettings{Type: megad.TypeADC}
	}
	return s.Config(index, megad.Windows{})
}
