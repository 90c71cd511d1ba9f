// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/fusectl/pkg/efuse"
)

// confirmWord must be typed before anything is burned
const confirmWord = "BURN"

// planItem is one requested field in the confirmation list
type planItem struct {
	field  efuse.Field
	detail string
	stage  efuse.Stage
}

// Implement list.Item interface
func (i planItem) Title() string       { return i.field.String() }
func (i planItem) Description() string { return i.detail }
func (i planItem) FilterValue() string { return i.field.String() }

type burnPhase int

const (
	phaseConfirm burnPhase = iota
	phaseBurning
	phaseDone
)

// burnModel asks for confirmation, then runs the burn and tracks progress
type burnModel struct {
	identity efuse.Identity
	connInfo string
	items    []planItem
	apply    func() (*efuse.Report, error)

	list    list.Model
	input   textinput.Model
	bar     progress.Model
	phase   burnPhase
	percent float64
	notice  string

	width     int
	height    int
	cancelled bool

	report *efuse.Report
	err    error
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type burnProgressMsg efuse.Progress

type burnDoneMsg struct {
	report *efuse.Report
	err    error
}

func newBurnModel(id efuse.Identity, connInfo string, items []planItem, apply func() (*efuse.Report, error)) burnModel {
	ti := textinput.New()
	ti.Placeholder = "type " + confirmWord + " to continue"
	ti.CharLimit = len(confirmWord)
	ti.Width = 24
	ti.Focus()

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)

	listItems := make([]list.Item, len(items))
	for i, it := range items {
		listItems[i] = it
	}
	l := list.New(listItems, delegate, 60, 2*len(items)+4)
	l.Title = "Planned burns"
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)

	return burnModel{
		identity: id,
		connInfo: connInfo,
		items:    items,
		apply:    apply,
		list:     l,
		input:    ti,
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(50)),
		width:    80,
		height:   24,
	}
}

func (m burnModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m burnModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.list.SetWidth(msg.Width - 4)
		m.bar.Width = min(msg.Width-8, 60)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case burnProgressMsg:
		m.trackProgress(efuse.Progress(msg))
		return m, nil

	case burnDoneMsg:
		m.phase = phaseDone
		m.report = msg.report
		m.err = msg.err
		if msg.err == nil {
			m.percent = 1
		}
		return m, nil
	}

	if m.phase == phaseConfirm {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m burnModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.phase {
	case phaseConfirm:
		switch msg.String() {
		case "esc", "ctrl+c":
			m.cancelled = true
			return m, tea.Quit
		case "up", "down":
			var cmd tea.Cmd
			m.list, cmd = m.list.Update(msg)
			return m, cmd
		case "enter":
			if strings.TrimSpace(m.input.Value()) != confirmWord {
				m.notice = fmt.Sprintf("Type %s exactly, or esc to abort", confirmWord)
				return m, nil
			}
			m.phase = phaseBurning
			m.notice = ""
			m.input.Blur()
			apply := m.apply
			return m, func() tea.Msg {
				rep, err := apply()
				return burnDoneMsg{report: rep, err: err}
			}
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case phaseBurning:
		// a burn cannot be interrupted between verify steps
		if msg.String() == "ctrl+c" {
			m.notice = "Burn in progress, wait for it to finish"
		}
		return m, nil

	default:
		return m, tea.Quit
	}
}

// trackProgress marks the field stage and advances the overall bar
func (m *burnModel) trackProgress(pr efuse.Progress) {
	idx := -1
	for i := range m.items {
		if m.items[i].field == pr.Field {
			idx = i
			m.items[i].stage = pr.Stage
		}
	}
	if idx < 0 || len(m.items) == 0 {
		return
	}
	frac := 0.0
	if pr.Rows > 0 {
		frac = float64(pr.Row) / float64(pr.Rows)
	}
	if pr.Stage == efuse.StageProgrammed {
		frac = 1
	}
	m.percent = (float64(idx) + frac) / float64(len(m.items))
}

func (m burnModel) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("15")).
		Background(lipgloss.Color("124")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	okStyle := lipgloss.NewStyle().
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
	s.WriteString(titleStyle.Render("FUSECTL - IRREVERSIBLE BURN"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | %s", m.identity, m.connInfo)))
	s.WriteString("\n\n")

	switch m.phase {
	case phaseConfirm:
		s.WriteString(boxStyle.Render(m.list.View()))
		s.WriteString("\n\n")
		s.WriteString(warningStyle.Render("Burned fuses cannot be cleared."))
		s.WriteString("\n")
		s.WriteString(labelStyle.Render("Confirm: "))
		s.WriteString(m.input.View())
		s.WriteString("\n")

	case phaseBurning, phaseDone:
		var rows strings.Builder
		for _, it := range m.items {
			stage := headerStyle.Render(it.stage.String())
			switch it.stage {
			case efuse.StageProgrammed:
				stage = okStyle.Render("✓ " + it.stage.String())
			case efuse.StageFailed:
				stage = errorStyle.Render("✗ " + it.stage.String())
			case efuse.StageProgramming, efuse.StageVerifying:
				stage = warningStyle.Render(it.stage.String())
			}
			rows.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render(fmt.Sprintf("%-13s", it.field)), stage))
		}
		s.WriteString(boxStyle.Render(strings.TrimRight(rows.String(), "\n")))
		s.WriteString("\n\n")
		s.WriteString(m.bar.ViewAs(m.percent))
		s.WriteString("\n\n")

		if m.phase == phaseDone {
			if m.err != nil {
				s.WriteString(errorStyle.Render("FAILED: " + m.err.Error()))
			} else {
				s.WriteString(okStyle.Render("Done"))
			}
			if m.report != nil && m.report.Degraded() {
				s.WriteString("\n")
				s.WriteString(warningStyle.Render(fmt.Sprintf("%d anomalies recorded", len(m.report.Anomalies))))
			}
			s.WriteString("\n")
			s.WriteString(headerStyle.Render("Press any key to exit"))
		}
	}

	if m.notice != "" {
		s.WriteString("\n")
		s.WriteString(errorStyle.Render(m.notice))
	}
	return s.String()
}
