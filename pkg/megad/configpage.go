// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package megad

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// Form holds the named fields of a configuration page.
type Form map[string]string

// Int returns a field as an integer, reporting whether it was present.
func (f Form) Int(name string) (int, bool) {
	s, ok := f[name]
	if !ok {
		return 0, false
	}
	v, _ := parseNumber(s)
	return int(v), true
}

// Float returns a field as a float, 0 when absent.
func (f Form) Float(name string) float64 {
	v, _ := parseNumber(f[name])
	return v
}

// ParseForm extracts input and select fields from a configuration page.
// Checkboxes decode as "1" when checked and "0" otherwise. A select without
// a selected option decodes as "0".
func ParseForm(page string) Form {
	form := Form{}
	z := html.NewTokenizer(strings.NewReader(page))

	var selectName, selectValue string
	inSelect := false

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if inSelect && selectName != "" {
				form[selectName] = selectValue
			}
			return form

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			attrs := attrMap(tok.Attr)
			switch tok.Data {
			case "input":
				name, ok := attrs["name"]
				if !ok || name == "" {
					continue
				}
				value := attrs["value"]
				if strings.EqualFold(attrs["type"], "checkbox") {
					value = "0"
					if _, checked := attrs["checked"]; checked {
						value = "1"
					}
				}
				form[name] = value
			case "select":
				inSelect = true
				selectName = attrs["name"]
				selectValue = "0"
			case "option":
				if _, selected := attrs["selected"]; inSelect && selected {
					selectValue = attrs["value"]
				}
			}

		case html.EndTagToken:
			tok := z.Token()
			if tok.Data == "select" && inSelect {
				if selectName != "" {
					form[selectName] = selectValue
				}
				inSelect = false
			}
		}
	}
}

func attrMap(attrs []html.Attribute) map[string]string {
	m := make(map[string]string, len(attrs))
	for _, a := range attrs {
		m[a.Key] = a.Val
	}
	return m
}

var adcLabel = regexp.MustCompile(`<br>A\d+/`)

// ParsePortPage decodes a port page into PortSettings. Pages of fixed-type
// ports carry no pty field; the type is then inferred from the page text.
func ParsePortPage(page string) PortSettings {
	form := ParseForm(page)
	s := PortSettings{}

	if pty, ok := form.Int("pty"); ok {
		s.Type = pty
	} else {
		switch {
		case strings.Contains(page, ">Type In<"):
			s.Type = TypeInput
		case strings.Contains(page, ">Type Out<"):
			s.Type = TypeOutput
		case adcLabel.MatchString(page):
			s.Type = TypeADC
		default:
			s.Type = TypeUnconnected
		}
	}

	s.Mode, _ = form.Int("m")
	s.Device, _ = form.Int("d")
	s.Mode2, _ = form.Int("m2")
	s.NAF, _ = form.Int("naf")
	s.Hysteresis, _ = form.Int("hst")
	s.Misc = form.Float("misc")
	s.Ecmd = form["ecmd"]
	s.Eth = form["eth"]

	// Boards with an empty scenario field render a stray "ð=".
	if s.Ecmd == "ð=" {
		s.Ecmd = ""
	}
	return s
}

// DeviceSettings is the network configuration of a board (cf=1 page).
type DeviceSettings struct {
	Address  string `json:"eip,omitempty"`
	Password string `json:"pwd,omitempty"`
	ServerIP string `json:"sip,omitempty"`
	Script   string `json:"sct,omitempty"`
	Fields   Form   `json:"fields,omitempty"`
}

// ParseDevicePage decodes the device configuration page.
func ParseDevicePage(page string) DeviceSettings {
	form := ParseForm(page)
	return DeviceSettings{
		Address:  form["eip"],
		Password: form["pwd"],
		ServerIP: form["sip"],
		Script:   form["sct"],
		Fields:   form,
	}
}

// ProbeResult is the outcome of reading a board's full configuration.
type ProbeResult struct {
	Tokens []string        `json:"tokens"`
	Ports  []PortSettings  `json:"ports"`
	Device *DeviceSettings `json:"device,omitempty"`
	Errors map[int]string  `json:"errors,omitempty"`
}

// Prober reads configuration pages from a board.
type Prober struct {
	Client      *Client
	StepTimeout time.Duration // per request, DefaultTimeout when zero
}

func (p *Prober) step(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := p.StepTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// ReadPort fetches and decodes the page of one port.
func (p *Prober) ReadPort(ctx context.Context, index int) (PortSettings, error) {
	ctx, cancel := p.step(ctx)
	defer cancel()
	page, err := p.Client.ReadPortPage(ctx, index)
	if err != nil {
		return Unconnected(), err
	}
	return ParsePortPage(page), nil
}

// ReadDevice fetches and decodes the device page.
func (p *Prober) ReadDevice(ctx context.Context) (DeviceSettings, error) {
	ctx, cancel := p.step(ctx)
	defer cancel()
	page, err := p.Client.ReadDevicePage(ctx)
	if err != nil {
		return DeviceSettings{}, err
	}
	return ParseDevicePage(page), nil
}

// Detect reads the configuration of every port reported by the bulk poll,
// one request at a time, followed by the device page. Per-port failures are
// collected under the port index (-1 for the device page) and the port is
// left unconnected.
func (p *Prober) Detect(ctx context.Context) (*ProbeResult, error) {
	pollCtx, cancel := p.step(ctx)
	tokens, err := p.Client.PollAll(pollCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}

	result := &ProbeResult{
		Tokens: tokens,
		Ports:  make([]PortSettings, len(tokens)),
	}
	fail := func(index int, err error) {
		if result.Errors == nil {
			result.Errors = map[int]string{}
		}
		result.Errors[index] = err.Error()
	}

	for i := range tokens {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		settings, err := p.ReadPort(ctx, i)
		if err != nil {
			fail(i, err)
		}
		result.Ports[i] = settings
	}

	device, err := p.ReadDevice(ctx)
	if err != nil {
		fail(-1, err)
		return result, nil
	}
	result.Device = &device
	return result, nil
}

// String renders the probe result in the same compact form as status.
func (r *ProbeResult) String() string {
	var b strings.Builder
	for i, p := range r.Ports {
		kind := KindFromType(p.Type)
		b.WriteString(fmt.Sprintf("  %-3s %-4s m=%d d=%d misc=%s", PortID(i, ""), kind, p.Mode, p.Device, FormatRaw(p.Misc)))
		if p.Ecmd != "" {
			b.WriteString(" ecmd=" + strconv.Quote(p.Ecmd))
		}
		if msg, ok := r.Errors[i]; ok {
			b.WriteString(" error=" + msg)
		}
		b.WriteByte('\n')
	}
	if r.Device != nil {
		b.WriteString(fmt.Sprintf("  device eip=%s sip=%s sct=%s\n", r.Device.Address, r.Device.ServerIP, r.Device.Script))
	}
	return b.String()
}
