// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/megastat/pkg/bridge"
	"github.com/Thermoquad/megastat/pkg/stream"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive TUI for watching and commanding a running bridge",
	Long: `Monitor and control the boards of a running bridge via an interactive
terminal UI connected to its /ws event stream.

Features:
  - Live state of every signal of every board
  - Sending values to outputs and counters
  - Command results and connectivity events
  - Automatic reconnection on connection loss

Tab switches between the signal list, the value input and the send button.
Arrow keys navigate the signal list.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

// connectionManager handles the stream connection lifecycle and
// reconnection
type connectionManager struct {
	conn     *stream.Conn
	connInfo string
	opts     stream.DialOptions
	mu       sync.RWMutex
	p        *tea.Program
	done     chan struct{}
}

func (cm *connectionManager) getConn() *stream.Conn {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.conn
}

func (cm *connectionManager) setConn(conn *stream.Conn) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.conn = conn
}

// send issues a command on the current connection.
func (cm *connectionManager) send(device, id, value string) (uint64, error) {
	conn := cm.getConn()
	if conn == nil {
		return 0, stream.ErrConnectionClosed
	}
	return conn.SendCommand(device, id, value)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	opts, err := streamDialOptions()
	if err != nil {
		return err
	}
	conn, err := stream.Dial(cmd.Context(), wsURL, opts)
	if err != nil {
		return err
	}

	cm := &connectionManager{
		conn:     conn,
		connInfo: wsURL,
		opts:     opts,
		done:     make(chan struct{}),
	}

	m := initialMonitorModel(cm, cm.connInfo)

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(cmd.Context()))
	cm.p = p

	go cm.readerLoop()

	_, err = p.Run()
	close(cm.done)
	if c := cm.getConn(); c != nil {
		c.Close()
	}
	if err != nil && cmd.Context().Err() == nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

// readerLoop reads frames with automatic reconnection
func (cm *connectionManager) readerLoop() {
	for {
		select {
		case <-cm.done:
			return
		default:
		}

		if !cm.readFromConnection() {
			return
		}

		cm.p.Send(connectionLostMsg{})
		if !cm.reconnect() {
			return // Shutdown requested during reconnect
		}
	}
}

// readFromConnection reads frames until the connection fails. Returns true
// if the connection was lost, false if shutdown was requested.
func (cm *connectionManager) readFromConnection() bool {
	batchChan := make(chan bridge.Event, 256)
	readerDone := make(chan struct{})

	// Reader goroutine - decodes frames, events go to the batch channel
	go func() {
		defer close(readerDone)
		conn := cm.getConn()
		if conn == nil {
			return
		}
		for {
			typ, payload, err := conn.ReadFrame()
			if err != nil {
				return
			}
			switch typ {
			case stream.FrameHello:
				cm.p.Send(helloMsg(stream.DecodeHello(payload)))
			case stream.FrameResult:
				cm.p.Send(resultMsg(stream.DecodeResult(payload)))
			case stream.FrameEvent:
				e, err := stream.DecodeEvent(payload)
				if err != nil {
					continue
				}
				select {
				case batchChan <- e:
				default:
				}
			}
		}
	}()

	// Batch sender goroutine - sends batched events to the TUI at a fixed rate
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-cm.done:
				return
			case <-readerDone:
				return
			case <-ticker.C:
				var batch eventBatchMsg
			drainLoop:
				for {
					select {
					case e := <-batchChan:
						batch = append(batch, e)
					default:
						break drainLoop
					}
				}
				if len(batch) > 0 {
					cm.p.Send(batch)
				}
			}
		}
	}()

	<-readerDone

	select {
	case <-cm.done:
		return false
	default:
		return true // Connection lost
	}
}

// reconnect attempts to reconnect with exponential backoff. Returns false
// if shutdown was requested during reconnection.
func (cm *connectionManager) reconnect() bool {
	if conn := cm.getConn(); conn != nil {
		conn.Close()
	}
	cm.setConn(nil)

	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-cm.done:
			return false
		case <-time.After(backoff):
		}

		conn, err := stream.Dial(context.Background(), wsURL, cm.opts)
		if err == nil {
			cm.setConn(conn)
			cm.p.Send(reconnectedMsg{connInfo: cm.connInfo})
			return true
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
