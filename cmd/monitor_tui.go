// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/fusectl/pkg/efuse"
	"github.com/Thermoquad/fusectl/pkg/probewire"
)

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for notices
}

// extremes tracks the range seen for one quantity
type extremes struct {
	min, max float64
}

func (e *extremes) add(v float64) {
	e.min = math.Min(e.min, v)
	e.max = math.Max(e.max, v)
}

// TUI model
type monitorModel struct {
	identity efuse.Identity
	connInfo string
	env      efuse.EnvLimits
	started  time.Time

	last     *efuse.Sample
	lastAt   time.Time
	temp     extremes
	vccaux   extremes
	vccint   extremes
	samples  int
	failures int
	writable bool
	link     *probewire.Statistics

	eventLog      []eventLogEntry
	maxLogEntries int
	width         int
	height        int
	quitting      bool
}

func newMonitorModel(id efuse.Identity, connInfo string, env efuse.EnvLimits) monitorModel {
	inf := extremes{min: math.Inf(1), max: math.Inf(-1)}
	return monitorModel{
		identity:      id,
		connInfo:      connInfo,
		env:           env,
		started:       time.Now(),
		temp:          inf,
		vccaux:        inf,
		vccint:        inf,
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return nil
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case sampleMsg:
		m.link = msg.link
		if msg.err != nil {
			m.failures++
			m.addLogEntry(fmt.Sprintf("SENSOR ERROR: %v", msg.err), true)
			return m, nil
		}
		m.applySample(msg.at, msg.sample)
	}

	return m, nil
}

func (m *monitorModel) applySample(at time.Time, s efuse.Sample) {
	m.samples++
	m.last = &s
	m.lastAt = at
	m.temp.add(s.Temperature)
	m.vccaux.add(s.VCCAUX)
	m.vccint.add(s.VCCINT)

	wt, wa, wi := m.env.For(efuse.OpWrite)
	writable := wt.Contains(s.Temperature) && wa.Contains(s.VCCAUX) && wi.Contains(s.VCCINT)
	switch {
	case m.samples == 1 && writable:
		m.addLogEntry("Inside the write window", false)
	case m.samples == 1:
		m.addLogEntry("Outside the write window", true)
	case writable && !m.writable:
		m.addLogEntry("Entered the write window", false)
	case !writable && m.writable:
		m.addLogEntry(fmt.Sprintf("Left the write window (%.2f C, %.3f V, %.3f V)", s.Temperature, s.VCCAUX, s.VCCINT), true)
	}
	m.writable = writable
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
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

	var s strings.Builder
	s.WriteString(titleStyle.Render("FUSECTL - ENVIRONMENT MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | %s | Press 'q' to quit", m.identity, m.connInfo)))
	s.WriteString("\n\n")

	if m.last == nil {
		s.WriteString(warningStyle.Render("⏳ Waiting for first sample..."))
		s.WriteString("\n\n")
	} else {
		if m.writable {
			s.WriteString(valueStyle.Render("✓ Safe to program"))
		} else {
			s.WriteString(errorStyle.Render("✗ Programming blocked"))
		}
		s.WriteString(headerStyle.Render(fmt.Sprintf("  (%d samples, %d sensor errors, up %s)",
			m.samples, m.failures, time.Since(m.started).Round(time.Second))))
		s.WriteString("\n\n")

		rt, ra, ri := m.env.For(efuse.OpRead)
		wt, wa, wi := m.env.For(efuse.OpWrite)
		mark := func(v float64, r efuse.Range) string {
			if r.Contains(v) {
				return valueStyle.Render("ok ")
			}
			return errorStyle.Render("OUT")
		}
		var content strings.Builder
		content.WriteString(headerStyle.Render(fmt.Sprintf("%-12s %10s  %-19s %-4s %-4s", "", "now", "min / max", "read", "write")))
		content.WriteString("\n")
		row := func(name, unit string, v float64, e extremes, read, write efuse.Range) {
			content.WriteString(fmt.Sprintf("%s %s  %-19s %s  %s\n",
				labelStyle.Render(fmt.Sprintf("%-12s", name)),
				valueStyle.Render(fmt.Sprintf("%8.3f %s", v, unit)),
				fmt.Sprintf("%.3f / %.3f", e.min, e.max),
				mark(v, read), mark(v, write),
			))
		}
		row("Temperature", "C", m.last.Temperature, m.temp, rt, wt)
		row("VCCAUX", "V", m.last.VCCAUX, m.vccaux, ra, wa)
		row("VCCINT", "V", m.last.VCCINT, m.vccint, ri, wi)
		content.WriteString(headerStyle.Render(fmt.Sprintf("write window: %.0f..%.0f C, VCCAUX %.3f..%.3f V, VCCINT %.3f..%.3f V",
			wt.Min, wt.Max, wa.Min, wa.Max, wi.Min, wi.Max)))

		s.WriteString(boxStyle.Render(content.String()))
		s.WriteString("\n\n")
	}

	if m.link != nil {
		link := strings.Builder{}
		link.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
			labelStyle.Render("Packets:"), valueStyle.Render(fmt.Sprintf("%d", m.link.TotalPackets)),
			labelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d", m.link.Errors())),
			labelStyle.Render("Timeouts:"), errorStyle.Render(fmt.Sprintf("%d", m.link.Timeouts)),
		))
		link.WriteString(fmt.Sprintf("%s %s   %s %s",
			labelStyle.Render("Packet Rate:"), valueStyle.Render(fmt.Sprintf("%.1f pkts/s", m.link.PacketRate)),
			labelStyle.Render("Error Rate:"), func() string {
				if m.link.ErrorRate > 0 {
					return errorStyle.Render(fmt.Sprintf("%.1f err/s", m.link.ErrorRate))
				}
				return valueStyle.Render(fmt.Sprintf("%.1f err/s", m.link.ErrorRate))
			}(),
		))
		s.WriteString(labelStyle.Render("Probe Link:"))
		s.WriteString("\n")
		s.WriteString(boxStyle.Render(link.String()))
		s.WriteString("\n\n")
	}

	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - 18
	if logHeight < 5 {
		logHeight = 5
	}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	logContent := strings.Builder{}
	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for _, entry := range m.eventLog[startIdx:] {
			timestamp := entry.timestamp.Format("01/02/06 15:04:05")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), errorStyle.Render("✗ "+entry.message)))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), warningStyle.Render("ℹ "+entry.message)))
			}
		}
	}
	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}
