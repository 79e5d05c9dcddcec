// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/megastat/pkg/bridge"
	"github.com/Thermoquad/megastat/pkg/megad"
	"github.com/Thermoquad/megastat/pkg/stream"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const maxLogEntries = 100

// Focus states
const (
	focusSignalList = iota
	focusValueInput
	focusButton
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// logEntry is one line of the event log
type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// signalState is the last known state of one published signal
type signalState struct {
	device  string
	id      string
	port    int
	kind    megad.Signal
	value   interface{}
	ack     bool
	quality megad.Quality
	updated time.Time
}

func (s signalState) key() string { return s.device + "/" + s.id }

// Implement list.Item interface
func (s signalState) Title() string { return s.key() }
func (s signalState) Description() string {
	desc := fmt.Sprintf("%v", s.value)
	if s.quality != megad.QualityGood {
		desc += " (bad)"
	} else if !s.ack {
		desc += " (unconfirmed)"
	}
	return desc
}
func (s signalState) FilterValue() string { return s.key() }

// monitorModel is the Bubble Tea model for the monitor TUI
type monitorModel struct {
	connMgr  *connectionManager
	connInfo string

	// Bridge info from the hello frame
	version     string
	devices     []string
	connectedAt time.Time

	// Signal tracking
	signals    []signalState
	index      map[string]int
	signalList list.Model

	// Counters
	eventCount     uint64
	commandCount   uint64
	failedCommands uint64
	pending        map[uint64]string // request id -> description

	log []logEntry

	// Control
	valueInput   textinput.Model
	focusedField int

	// UI state
	width          int
	height         int
	quitting       bool
	connectionLost bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type monitorTickMsg time.Time

type helloMsg stream.Hello

type resultMsg stream.Result

type eventBatchMsg []bridge.Event

type connectionLostMsg struct{}

type reconnectedMsg struct {
	connInfo string
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialMonitorModel(connMgr *connectionManager, connInfo string) monitorModel {
	ti := textinput.New()
	ti.Placeholder = "toggle"
	ti.CharLimit = 16
	ti.Width = 12

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	signalList := list.New([]list.Item{}, delegate, 36, 10)
	signalList.Title = "Signals"
	signalList.SetShowStatusBar(false)
	signalList.SetShowHelp(false)
	signalList.SetFilteringEnabled(false)

	return monitorModel{
		connMgr:      connMgr,
		connInfo:     connInfo,
		connectedAt:  time.Now(),
		index:        make(map[string]int),
		signalList:   signalList,
		pending:      make(map[uint64]string),
		valueInput:   ti,
		focusedField: focusSignalList,
		width:        80,
		height:       24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m monitorModel) Init() tea.Cmd {
	return monitorTickCmd()
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.MouseMsg:
		if msg.Action == tea.MouseActionRelease && msg.Button == tea.MouseButtonLeft {
			m.signalList, _ = m.signalList.Update(msg)
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateListSize()

	case monitorTickMsg:
		return m, monitorTickCmd()

	case helloMsg:
		m.version = msg.Version
		m.devices = msg.Devices
		m.connectedAt = time.Now()
		m.resetSignals()
		m.addLogEntry(fmt.Sprintf("Bridge %s: %s", msg.Version, strings.Join(msg.Devices, ", ")), false)

	case eventBatchMsg:
		for _, e := range msg {
			m.applyEvent(e)
		}
		m.updateSignalList()

	case resultMsg:
		m.handleResult(stream.Result(msg))

	case connectionLostMsg:
		m.connectionLost = true
		m.addLogEntry("Connection lost - reconnecting...", true)

	case reconnectedMsg:
		m.connectionLost = false
		m.connInfo = msg.connInfo
		m.addLogEntry("Reconnected", false)
	}

	var cmd tea.Cmd
	switch m.focusedField {
	case focusValueInput:
		m.valueInput, cmd = m.valueInput.Update(msg)
		cmds = append(cmds, cmd)
	case focusSignalList:
		m.signalList, cmd = m.signalList.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "q":
		if m.focusedField != focusValueInput {
			m.quitting = true
			return m, tea.Quit
		}

	case "tab":
		return m.cycleFocus(1), nil

	case "shift+tab":
		return m.cycleFocus(-1), nil

	case "enter":
		if m.focusedField != focusSignalList {
			return m.sendCommand()
		}

	case "up", "k", "down", "j":
		if m.focusedField == focusSignalList {
			m.signalList, _ = m.signalList.Update(msg)
			return m, nil
		}
	}

	if m.focusedField == focusValueInput {
		var cmd tea.Cmd
		m.valueInput, cmd = m.valueInput.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *monitorModel) cycleFocus(delta int) *monitorModel {
	if m.selectedSignal() == nil {
		m.focusedField = focusSignalList
		return m
	}

	m.focusedField = (m.focusedField + delta + focusButton + 1) % (focusButton + 1)

	if m.focusedField == focusValueInput {
		m.valueInput.Focus()
	} else {
		m.valueInput.Blur()
	}
	return m
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	focusedBoxStyle := boxStyle.
		BorderForeground(lipgloss.Color("12"))

	buttonStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("0")).
		Background(lipgloss.Color("12")).
		Padding(0, 2)

	focusedButtonStyle := buttonStyle.
		Background(lipgloss.Color("10"))

	// Header
	s.WriteString(titleStyle.Render("MEGASTAT MONITOR"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = warningStyle.Render("RECONNECTING...")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | q=quit Tab=switch", connStatus)))
	s.WriteString("\n")

	if m.version != "" {
		s.WriteString(fmt.Sprintf(" %s %s  %s %s  %s %s",
			statsLabelStyle.Render("Bridge:"), statsValueStyle.Render(m.version),
			statsLabelStyle.Render("Devices:"), statsValueStyle.Render(fmt.Sprintf("%d", len(m.devices))),
			statsLabelStyle.Render("Connected:"), statsValueStyle.Render(formatUptime(uint64(time.Since(m.connectedAt).Milliseconds())))))
	}
	s.WriteString("\n\n")

	// Layout: left panel (signals) | right panel (control)
	leftWidth := 36
	rightWidth := m.width - leftWidth - 6

	listStyle := boxStyle.Width(leftWidth)
	if m.focusedField == focusSignalList {
		listStyle = focusedBoxStyle.Width(leftWidth)
	}
	signalPanel := listStyle.Render(m.signalList.View())

	controlContent := m.renderControlPanel(statsLabelStyle, statsValueStyle, headerStyle, warningStyle, buttonStyle, focusedButtonStyle)
	controlPanel := boxStyle.Width(rightWidth).Render(controlContent)

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, signalPanel, " ", controlPanel))
	s.WriteString("\n\n")

	s.WriteString(m.renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle))
	s.WriteString("\n\n")

	s.WriteString(m.renderEventLog(statsLabelStyle, headerStyle, warningStyle, errorStyle, boxStyle))

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m monitorModel) renderControlPanel(statsLabelStyle, statsValueStyle, headerStyle, warningStyle, buttonStyle, focusedButtonStyle lipgloss.Style) string {
	var s strings.Builder

	selected := m.selectedSignal()
	if selected == nil {
		if len(m.signals) == 0 {
			s.WriteString(warningStyle.Render("Waiting for signals..."))
		} else {
			s.WriteString(headerStyle.Render("No signal selected"))
		}
		return s.String()
	}

	s.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Device:"), selected.device))
	s.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Signal:"), selected.id))
	if selected.port >= 0 {
		s.WriteString(fmt.Sprintf("%s %d\n", statsLabelStyle.Render("Port:"), selected.port))
	}

	value := statsValueStyle.Render(fmt.Sprintf("%v", selected.value))
	if selected.quality != megad.QualityGood {
		value = warningStyle.Render(fmt.Sprintf("%v (q=0x%02X)", selected.value, uint8(selected.quality)))
	}
	s.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Value:"), value))
	s.WriteString(fmt.Sprintf("%s %s\n\n", statsLabelStyle.Render("Updated:"), headerStyle.Render(selected.updated.Format("15:04:05.000"))))

	s.WriteString(statsLabelStyle.Render("Value: "))
	if m.focusedField == focusValueInput {
		s.WriteString(m.valueInput.View())
	} else {
		val := m.valueInput.Value()
		if val == "" {
			val = m.valueInput.Placeholder
		}
		s.WriteString(fmt.Sprintf("[%s]", val))
	}
	s.WriteString("\n\n")

	btnText := "[ Send ]"
	if m.focusedField == focusButton {
		s.WriteString(focusedButtonStyle.Render(btnText))
	} else {
		s.WriteString(buttonStyle.Render(btnText))
	}

	return s.String()
}

func (m monitorModel) renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle lipgloss.Style) string {
	var rate float64
	if elapsed := time.Since(m.connectedAt).Seconds(); elapsed > 0 {
		rate = float64(m.eventCount) / elapsed
	}

	failed := statsValueStyle.Render("0")
	if m.failedCommands > 0 {
		failed = errorStyle.Render(fmt.Sprintf("%d", m.failedCommands))
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s",
		statsLabelStyle.Render("Signals:"), statsValueStyle.Render(fmt.Sprintf("%d", len(m.signals))),
		statsLabelStyle.Render("Events:"), statsValueStyle.Render(fmt.Sprintf("%d", m.eventCount)),
		statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f ev/s", rate)),
		statsLabelStyle.Render("Commands:"), statsValueStyle.Render(fmt.Sprintf("%d", m.commandCount)),
		statsLabelStyle.Render("Failed:"), failed,
	)
	return boxStyle.Width(m.width - 4).Render(content)
}

func (m monitorModel) renderEventLog(statsLabelStyle, headerStyle, warningStyle, errorStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder

	s.WriteString(statsLabelStyle.Render("EVENTS"))
	s.WriteString("\n")

	logHeight := 8
	if len(m.log) < logHeight {
		logHeight = len(m.log)
	}
	startIdx := len(m.log) - logHeight

	if len(m.log) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.log); i++ {
			entry := m.log[i]
			icon := "i"
			style := warningStyle
			if entry.isError {
				icon = "x"
				style = errorStyle
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(entry.timestamp.Format("15:04:05.000")),
				style.Render(icon),
				entry.message))
		}
	}

	return boxStyle.Width(m.width - 4).Render(s.String())
}

//////////////////////////////////////////////////////////////
// Data Processing
//////////////////////////////////////////////////////////////

// applyEvent records an event. Connectivity changes and gesture signals
// are logged.
func (m *monitorModel) applyEvent(e bridge.Event) {
	m.eventCount++
	s := signalState{
		device:  e.Device,
		id:      e.ID,
		port:    e.Port,
		kind:    e.Signal,
		value:   e.Value,
		ack:     e.Ack,
		quality: e.Quality,
		updated: e.Time,
	}

	i, exists := m.index[s.key()]
	if !exists {
		m.index[s.key()] = len(m.signals)
		m.signals = append(m.signals, s)
	} else {
		m.signals[i] = s
	}

	switch {
	case e.ID == bridge.ConnectionID:
		if connected, _ := e.Value.(bool); connected {
			m.addLogEntry(fmt.Sprintf("%s connected", e.Device), false)
		} else {
			m.addLogEntry(fmt.Sprintf("%s unreachable", e.Device), true)
		}
	case !exists:
		// Initial state from the snapshot
	case e.Signal == megad.SignalLong || e.Signal == megad.SignalDouble:
		if on, _ := e.Value.(bool); on {
			m.addLogEntry(fmt.Sprintf("%s %s", e.Device, e.ID), false)
		}
	}
}

func (m *monitorModel) handleResult(r stream.Result) {
	desc, ok := m.pending[r.Request]
	if !ok {
		desc = fmt.Sprintf("request %d", r.Request)
	}
	delete(m.pending, r.Request)

	if r.OK {
		m.addLogEntry(fmt.Sprintf("Confirmed %s", desc), false)
		return
	}
	m.failedCommands++
	m.addLogEntry(fmt.Sprintf("Failed %s: %s", desc, r.Error), true)
}

//////////////////////////////////////////////////////////////
// Commands
//////////////////////////////////////////////////////////////

func (m *monitorModel) sendCommand() (tea.Model, tea.Cmd) {
	if m.connectionLost {
		m.addLogEntry("Cannot send command: connection lost", true)
		return m, nil
	}

	selected := m.selectedSignal()
	if selected == nil {
		return m, nil
	}

	value := strings.TrimSpace(m.valueInput.Value())
	if value == "" {
		value = m.valueInput.Placeholder
	}

	request, err := m.connMgr.send(selected.device, selected.id, value)
	if err != nil {
		m.addLogEntry(fmt.Sprintf("Failed to send command: %v", err), true)
		return m, nil
	}

	m.commandCount++
	desc := fmt.Sprintf("%s = %s", selected.key(), value)
	m.pending[request] = desc
	m.addLogEntry(fmt.Sprintf("Sent %s", desc), false)
	return m, nil
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.log = append(m.log, logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.log) > maxLogEntries {
		m.log = m.log[len(m.log)-maxLogEntries:]
	}
}

func (m *monitorModel) selectedSignal() *signalState {
	if len(m.signals) == 0 {
		return nil
	}
	idx := m.signalList.Index()
	if idx < 0 || idx >= len(m.signals) {
		return nil
	}
	return &m.signals[idx]
}

// resetSignals clears the signal state before a new snapshot arrives.
func (m *monitorModel) resetSignals() {
	m.signals = nil
	m.index = make(map[string]int)
	m.pending = make(map[uint64]string)
	m.focusedField = focusSignalList
	m.valueInput.Blur()
	m.updateSignalList()
}

func (m *monitorModel) updateSignalList() {
	items := make([]list.Item, len(m.signals))
	for i, s := range m.signals {
		items[i] = s
	}
	m.signalList.SetItems(items)
}

func (m *monitorModel) updateListSize() {
	listHeight := m.height / 2
	if listHeight < 5 {
		listHeight = 5
	}
	m.signalList.SetSize(34, listHeight)
}

// formatUptime formats milliseconds as a human-friendly duration
func formatUptime(ms uint64) string {
	if ms < 1000 {
		return "0 seconds"
	}

	seconds := ms / 1000
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	parts := []string{}
	for _, p := range []struct {
		n    uint64
		unit string
	}{{days, "day"}, {hours, "hour"}, {minutes, "minute"}, {seconds, "second"}} {
		switch {
		case p.n == 1:
			parts = append(parts, "1 "+p.unit)
		case p.n > 1:
			parts = append(parts, fmt.Sprintf("%d %ss", p.n, p.unit))
		}
	}
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return strings.Join(parts, ", ")
}
