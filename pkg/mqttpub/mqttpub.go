// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package mqttpub mirrors bridge events to an MQTT broker as retained
// state and accepts commands on "set" topics.
//
// Topics:
//
//	<prefix>/<device>/<id>        retained state {"val","ack","q","ts"}
//	<prefix>/<device>/<id>/set    inbound command, payload is the value
//	<prefix>/status               "online", or "offline" as last will
package mqttpub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/megastat/pkg/bridge"
)

const (
	DefaultPrefix  = "megastat"
	queueSize      = 1024
	connectTimeout = 10 * time.Second
	commandTimeout = 15 * time.Second
)

// Commander executes a command addressed to one device.
type Commander interface {
	Command(ctx context.Context, device, id, value string) error
}

// Options configures a Publisher.
type Options struct {
	Broker   string
	Username string
	Password string
	Prefix   string
	ClientID string
	QoS      byte

	Commander Commander
	Logger    zerolog.Logger
}

// State is the retained payload of a state topic.
type State struct {
	Value   interface{} `json:"val"`
	Ack     bool        `json:"ack"`
	Quality uint8       `json:"q"`
	Time    int64       `json:"ts"`
}

type message struct {
	topic   string
	payload []byte
}

// Publisher is a bridge.Sink that publishes to MQTT.
type Publisher struct {
	opts   Options
	client mqtt.Client
	log    zerolog.Logger

	queue chan message
	wg    sync.WaitGroup
}

// New creates a publisher. The broker is not contacted until Connect.
func New(opts Options) *Publisher {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.ClientID == "" {
		opts.ClientID = "megastat-" + uuid.NewString()
	}

	p := &Publisher{
		opts:  opts,
		log:   opts.Logger.With().Str("component", "mqtt").Logger(),
		queue: make(chan message, queueSize),
	}

	co := mqtt.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	co.SetUsername(opts.Username)
	co.SetPassword(opts.Password)
	co.SetAutoReconnect(true)
	co.SetConnectRetry(true)
	co.SetConnectRetryInterval(5 * time.Second)
	co.SetConnectTimeout(connectTimeout)
	co.SetWill(StatusTopic(opts.Prefix), "offline", opts.QoS, true)
	co.SetOnConnectHandler(p.onConnect)
	co.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.log.Warn().Err(err).Msg("MQTT connection lost")
	})
	p.client = mqtt.NewClient(co)
	return p
}

// StateTopic returns the state topic of one signal.
func StateTopic(prefix, device, id string) string {
	return prefix + "/" + device + "/" + id
}

// StatusTopic returns the bridge availability topic.
func StatusTopic(prefix string) string {
	return prefix + "/status"
}

// CommandFilter returns the subscription filter for every set topic.
func CommandFilter(prefix string) string {
	return prefix + "/+/+/set"
}

// ParseCommandTopic splits a set topic into device and signal id.
func ParseCommandTopic(prefix, topic string) (device, id string, ok bool) {
	rest, found := strings.CutPrefix(topic, prefix+"/")
	if !found {
		return "", "", false
	}
	rest, found = strings.CutSuffix(rest, "/set")
	if !found {
		return "", "", false
	}
	device, id, found = strings.Cut(rest, "/")
	if !found || device == "" || id == "" || strings.Contains(id, "/") {
		return "", "", false
	}
	return device, id, true
}

// Payload encodes the retained state of an event.
func Payload(e bridge.Event) ([]byte, error) {
	return json.Marshal(State{
		Value:   e.Value,
		Ack:     e.Ack,
		Quality: uint8(e.Quality),
		Time:    e.Time.UnixMilli(),
	})
}

// Emit queues the event for publishing and drops it when the queue is full.
func (p *Publisher) Emit(e bridge.Event) {
	payload, err := Payload(e)
	if err != nil {
		p.log.Error().Err(err).Str("id", e.ID).Msg("failed to encode state")
		return
	}
	select {
	case p.queue <- message{topic: StateTopic(p.opts.Prefix, e.Device, e.ID), payload: payload}:
	default:
		p.log.Warn().Str("device", e.Device).Str("id", e.ID).Msg("MQTT queue full, state dropped")
	}
}

// Connect connects to the broker.
func (p *Publisher) Connect(ctx context.Context) error {
	token := p.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("MQTT connection to %s failed: %w", p.opts.Broker, err)
	}
	return nil
}

// Run publishes queued states until ctx is cancelled, then marks the bridge
// offline and disconnects.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case m := <-p.queue:
			token := p.client.Publish(m.topic, p.opts.QoS, true, m.payload)
			if !token.WaitTimeout(connectTimeout) {
				p.log.Warn().Str("topic", m.topic).Msg("MQTT publish timed out")
				continue
			}
			if err := token.Error(); err != nil {
				p.log.Warn().Err(err).Str("topic", m.topic).Msg("MQTT publish failed")
			}
		case <-ctx.Done():
			p.wg.Wait()
			if p.client.IsConnected() {
				p.client.Publish(StatusTopic(p.opts.Prefix), p.opts.QoS, true, "offline").WaitTimeout(time.Second)
				p.client.Disconnect(250)
			}
			return ctx.Err()
		}
	}
}

func (p *Publisher) onConnect(c mqtt.Client) {
	p.log.Info().Str("broker", p.opts.Broker).Msg("connected to MQTT")
	c.Publish(StatusTopic(p.opts.Prefix), p.opts.QoS, true, "online")

	if p.opts.Commander == nil {
		return
	}
	filter := CommandFilter(p.opts.Prefix)
	if token := c.Subscribe(filter, p.opts.QoS, p.handleSet); token.Wait() && token.Error() != nil {
		p.log.Error().Err(token.Error()).Str("filter", filter).Msg("MQTT subscribe failed")
	}
}

// handleSet runs a command received on a set topic. Retained set messages
// are stale requests and are ignored.
func (p *Publisher) handleSet(_ mqtt.Client, msg mqtt.Message) {
	if msg.Retained() {
		p.log.Debug().Str("topic", msg.Topic()).Msg("ignoring retained command")
		return
	}
	device, id, ok := ParseCommandTopic(p.opts.Prefix, msg.Topic())
	if !ok {
		p.log.Debug().Str("topic", msg.Topic()).Msg("ignoring command topic")
		return
	}
	value := strings.TrimSpace(string(msg.Payload()))

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		if err := p.opts.Commander.Command(ctx, device, id, value); err != nil {
			p.log.Error().Err(err).Str("device", device).Str("id", id).Str("value", value).Msg("MQTT command failed")
		}
	}()
}
