// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Megastat - MegaD-328 I/O Board Bridge
//
// A bridge and CLI toolbox for MegaD-328 Ethernet I/O boards: polling,
// push notifications, input gestures, commands, and publishing over a
// websocket event stream, MQTT and Prometheus metrics.

package main

import (
	"os"

	"github.com/Thermoquad/megastat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
