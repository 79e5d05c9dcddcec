// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/megastat/pkg/megad"
)

var statusRaw bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Read every port of a board once",
	Long: `Issue one bulk status request (cmd=all) and print each port decoded.

With --config the configured port kinds, names and scaling are used.
Without it the kind of each port is guessed from the token shape.

Exit codes:
  0 - Status read
  2 - Connection error`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusRaw, "raw", false, "Print the raw tokens only")
}

func runStatus(cmd *cobra.Command, args []string) error {
	log := newLogger()
	target, connInfo, err := OpenDevice(log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), boardTimeout())
	defer cancel()

	tokens, err := target.client.PollAll(ctx)
	if err != nil {
		exitConnection(err)
	}

	if statusRaw {
		for i, token := range tokens {
			fmt.Printf("%2d %s\n", i, token)
		}
		return nil
	}

	fmt.Printf("Megastat - Board Status\n")
	fmt.Printf("Connection: %s\n\n", connInfo)
	fmt.Println(statusTable(target, tokens))
	return nil
}

// statusTable renders one row per port.
func statusTable(target *deviceTarget, tokens []string) string {
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	warnStyle := cellStyle.Foreground(lipgloss.Color("11"))

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers("PORT", "ID", "KIND", "RAW", "VALUE")

	flagged := make(map[int]bool)
	for i, token := range tokens {
		cfg := target.portConfig(i, token)
		rd := cfg.Decode(token)
		value := megad.FormatValue(cfg, rd)
		if rd.Malformed || rd.Quality != megad.QualityGood {
			flagged[i] = true
		}
		t.Row(strconv.Itoa(i), cfg.ID, cfg.Kind.String(), token, value)
	}

	t.StyleFunc(func(row, col int) lipgloss.Style {
		if row == table.HeaderRow {
			return headerStyle
		}
		if flagged[row] {
			return warnStyle
		}
		return cellStyle
	})
	return t.Render()
}
