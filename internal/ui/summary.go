package ui

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// RelaySummary describes a running relay.
type RelaySummary struct {
	Addr       string
	WSPath     string
	SendBuffer int
	MaxRate    int
	Metrics    bool
	Version    string
}

// RenderRelaySummary writes the relay startup table to w.
func RenderRelaySummary(w io.Writer, s RelaySummary) {
	rate := "unlimited"
	if s.MaxRate > 0 {
		rate = fmt.Sprintf("%d msg/s", s.MaxRate)
	}
	metrics := "off"
	if s.Metrics {
		metrics = "/metrics"
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(IconRelay + " peercall relay " + s.Version)
	t.AppendHeader(table.Row{"Setting", "Value"})
	t.AppendRows([]table.Row{
		{"Listen", s.Addr},
		{"WebSocket", s.WSPath},
		{"Health", "/health"},
		{"Metrics", metrics},
		{"Send buffer", s.SendBuffer},
		{"Rate limit", rate},
	})
	t.SetStyle(table.StyleRounded)
	t.Style().Title.Align = text.AlignCenter
	t.Style().Options.SeparateRows = false
	t.Render()
}
