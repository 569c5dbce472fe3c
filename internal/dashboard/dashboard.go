package dashboard

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

const StatusSuccess = "Success"

type WidgetKind string

const (
	WidgetPower       WidgetKind = "power"
	WidgetMode        WidgetKind = "mode"
	WidgetTemperature WidgetKind = "temperature"
	WidgetHumidity    WidgetKind = "humidity"
	WidgetFan         WidgetKind = "fan"
	WidgetFilter      WidgetKind = "filter"
	WidgetSchedule    WidgetKind = "schedule"
	WidgetTimer       WidgetKind = "timer"
	WidgetStatus      WidgetKind = "status"
	WidgetEnergy      WidgetKind = "energy"
)

var widgetKinds = []WidgetKind{
	WidgetPower, WidgetMode, WidgetTemperature, WidgetHumidity, WidgetFan,
	WidgetFilter, WidgetSchedule, WidgetTimer, WidgetStatus, WidgetEnergy,
}

// ParseWidgetKind normalizes raw and reports whether it names a well-known kind.
func ParseWidgetKind(raw string) (WidgetKind, bool) {
	kind := WidgetKind(strings.ToLower(strings.TrimSpace(raw)))
	return kind, kind.Known()
}

func (k WidgetKind) Known() bool {
	return slices.Contains(widgetKinds, k)
}

// Widgets holds the payload of each widget the device reported, keyed by its
// normalized type. Kinds outside the well-known set are kept under their raw
// type string. Widgets without a readable type are only counted.
type Widgets struct {
	entries map[WidgetKind]json.RawMessage
	unknown int
}

func (w Widgets) Get(kind WidgetKind) (json.RawMessage, bool) {
	payload, ok := w.entries[kind]
	return payload, ok
}

// Kinds lists well-known kinds first, then any others in lexical order.
func (w Widgets) Kinds() []WidgetKind {
	out := make([]WidgetKind, 0, len(w.entries))
	for _, kind := range widgetKinds {
		if _, ok := w.entries[kind]; ok {
			out = append(out, kind)
		}
	}
	var extra []WidgetKind
	for kind := range w.entries {
		if !kind.Known() {
			extra = append(extra, kind)
		}
	}
	slices.Sort(extra)
	return append(out, extra...)
}

func (w Widgets) Len() int { return len(w.entries) }

func (w Widgets) Unknown() int { return w.unknown }

type CommandStatus struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	ErrorCode ErrorCode `json:"errorCode,omitempty"`
}

func (s CommandStatus) Succeeded() bool {
	return strings.EqualFold(strings.TrimSpace(s.Status), StatusSuccess)
}

// ErrorCode accepts either a JSON string or number.
type ErrorCode string

func (c *ErrorCode) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*c = ""
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = ErrorCode(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("error code: %w", err)
	}
	*c = ErrorCode(n.String())
	return nil
}

type Dashboard struct {
	Widgets  Widgets
	Commands []CommandStatus
	Raw      json.RawMessage
}

type envelope struct {
	Widgets  []json.RawMessage `json:"widgets"`
	Commands []CommandStatus   `json:"commands"`
}

type widgetHeader struct {
	Type string `json:"type"`
}

func Parse(raw []byte) (Dashboard, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Dashboard{}, fmt.Errorf("decode dashboard: %w", err)
	}
	d := Dashboard{
		Commands: env.Commands,
		Raw:      append(json.RawMessage(nil), raw...),
	}
	if len(env.Widgets) > 0 {
		d.Widgets.entries = make(map[WidgetKind]json.RawMessage, len(env.Widgets))
	}
	for _, widget := range env.Widgets {
		var header widgetHeader
		if err := json.Unmarshal(widget, &header); err != nil {
			d.Widgets.unknown++
			continue
		}
		kind, _ := ParseWidgetKind(header.Type)
		if kind == "" {
			d.Widgets.unknown++
			continue
		}
		d.Widgets.entries[kind] = widget
	}
	return d, nil
}
