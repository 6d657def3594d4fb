package cli

import (
	"encoding/json"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headStyle = lipgloss.NewStyle().Bold(true)
)

func paint(style lipgloss.Style, s string) string {
	if noColor {
		return s
	}
	return style.Render(s)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func okFail(ok bool) string {
	if ok {
		return paint(okStyle, "ok")
	}
	return paint(failStyle, "FAIL")
}

func onlineLabel(online bool) string {
	if online {
		return paint(okStyle, "online")
	}
	return paint(failStyle, "offline")
}

// percentLabel colors utilization: yellow from 75%, red from 90%.
func percentLabel(v int, known bool) string {
	if !known {
		return paint(dimStyle, "-")
	}
	s := itoa(v) + "%"
	switch {
	case v >= 90:
		return paint(failStyle, s)
	case v >= 75:
		return paint(warnStyle, s)
	default:
		return s
	}
}
