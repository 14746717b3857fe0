// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Specklight Instruments

package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Specklight/beamctl/pkg/lucerna"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

// Focus states
const (
	focusTargetInput = iota
	focusButton
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// controlModel is the Bubble Tea model for the control TUI
type controlModel struct {
	// Connection manager (for sending commands and reconnection)
	connMgr  *connectionManager
	connInfo string

	// Feedback tracking
	lastPacket   *lucerna.Packet
	lastFeedback time.Time

	// Monitoring
	stats         *lucerna.Statistics
	eventLog      []eventLogEntry
	maxLogEntries int

	// Control
	targetInput  textinput.Model
	focusedField int
	sentTarget   uint16
	targetSent   bool

	// UI state
	width          int
	height         int
	quitting       bool
	connectionLost bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type controlTickMsg time.Time

type controlDataMsg struct {
	packet           *lucerna.Packet
	decodeErr        error
	validationErrors []lucerna.ValidationError
}

type controlBatchMsg struct {
	messages []controlDataMsg
}

type connectionLostMsg struct{}

type reconnectedMsg struct {
	connInfo string
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialControlModel(connMgr *connectionManager, connInfo string) controlModel {
	ti := textinput.New()
	ti.Placeholder = "2048"
	ti.CharLimit = 4
	ti.Width = 8
	ti.Focus()

	return controlModel{
		connMgr:       connMgr,
		connInfo:      connInfo,
		stats:         lucerna.NewStatistics(),
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		targetInput:   ti,
		focusedField:  focusTargetInput,
		width:         80,
		height:        24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m controlModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, controlTickCmd())
}

func controlTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return controlTickMsg(t)
	})
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case controlTickMsg:
		m.stats.CalculateRates()
		return m, controlTickCmd()

	case controlBatchMsg:
		for _, data := range msg.messages {
			m.processControlData(data)
		}

	case connectionLostMsg:
		m.connectionLost = true
		m.addLogEntry("Connection lost - reconnecting...", true)

	case reconnectedMsg:
		m.connectionLost = false
		m.connInfo = msg.connInfo
		m.addLogEntry("Reconnected", false)
	}

	// Update the text input
	var cmd tea.Cmd
	if m.focusedField == focusTargetInput {
		m.targetInput, cmd = m.targetInput.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "tab", "shift+tab":
		if m.focusedField == focusTargetInput {
			m.focusedField = focusButton
			m.targetInput.Blur()
		} else {
			m.focusedField = focusTargetInput
			m.targetInput.Focus()
		}
		return m, nil

	case "enter":
		return m.sendTargetCommand()
	}

	if m.focusedField == focusTargetInput {
		var cmd tea.Cmd
		m.targetInput, cmd = m.targetInput.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m controlModel) View() string {
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

	focusedBoxStyle := boxStyle.
		BorderForeground(lipgloss.Color("12"))

	buttonStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("0")).
		Background(lipgloss.Color("12")).
		Padding(0, 2)

	focusedButtonStyle := buttonStyle.
		Background(lipgloss.Color("10"))

	// Header
	s.WriteString(titleStyle.Render("BEAMCTL CONTROL"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = warningStyle.Render("RECONNECTING...")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | q=quit Tab=switch Enter=send", connStatus)))
	s.WriteString("\n\n")

	// Control panel
	s.WriteString(m.renderControlPanel(labelStyle, buttonStyle, focusedButtonStyle, boxStyle, focusedBoxStyle))
	s.WriteString("\n\n")

	// Feedback panel
	s.WriteString(m.renderFeedback(labelStyle, valueStyle, warningStyle, boxStyle))
	s.WriteString("\n\n")

	// Statistics bar
	s.WriteString(m.renderStatisticsBar(labelStyle, valueStyle, errorStyle, boxStyle))
	s.WriteString("\n\n")

	// Event log
	s.WriteString(m.renderEventLog(labelStyle, warningStyle, boxStyle))

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m controlModel) renderControlPanel(labelStyle, buttonStyle, focusedButtonStyle, boxStyle, focusedBoxStyle lipgloss.Style) string {
	var s strings.Builder

	s.WriteString(labelStyle.Render("Target (DAC counts): "))
	if m.focusedField == focusTargetInput {
		s.WriteString(m.targetInput.View())
	} else {
		val := m.targetInput.Value()
		if val == "" {
			val = m.targetInput.Placeholder
		}
		s.WriteString(fmt.Sprintf("[%s]", val))
	}
	s.WriteString("  ")

	btnText := "[ Send Target ]"
	if m.focusedField == focusButton {
		s.WriteString(focusedButtonStyle.Render(btnText))
	} else {
		s.WriteString(buttonStyle.Render(btnText))
	}

	if m.targetSent {
		s.WriteString(fmt.Sprintf("  last sent: %d (%.2fV)", m.sentTarget, lucerna.DACVoltage(m.sentTarget)))
	}

	style := boxStyle
	if m.focusedField == focusTargetInput || m.focusedField == focusButton {
		style = focusedBoxStyle
	}
	return style.Width(m.width - 4).Render(s.String())
}

func (m controlModel) renderFeedback(labelStyle, valueStyle, warningStyle, boxStyle lipgloss.Style) string {
	var content strings.Builder
	content.WriteString(labelStyle.Render("FEEDBACK"))
	content.WriteString(" | ")

	if m.lastPacket == nil {
		content.WriteString("No feedback yet")
		return boxStyle.Width(m.width - 4).Render(content.String())
	}

	p := m.lastPacket
	content.WriteString(fmt.Sprintf("%s %s  ",
		labelStyle.Render("Present:"),
		valueStyle.Render(fmt.Sprintf("%d (%.2fV)", p.PresentCurrent(), lucerna.DACVoltage(p.PresentCurrent())))))
	content.WriteString(fmt.Sprintf("%s %s  ",
		labelStyle.Render("Target:"),
		valueStyle.Render(fmt.Sprintf("%d", p.TargetCurrent()))))
	content.WriteString(fmt.Sprintf("%s %s  ",
		labelStyle.Render("Temp:"),
		valueStyle.Render(fmt.Sprintf("%d°C", p.Temperature()))))

	age := time.Since(m.lastFeedback)
	if age > time.Second {
		content.WriteString(warningStyle.Render(fmt.Sprintf("(stale %.1fs)", age.Seconds())))
	}

	return boxStyle.Width(m.width - 4).Render(content.String())
}

func (m controlModel) renderStatisticsBar(labelStyle, valueStyle, errorStyle, boxStyle lipgloss.Style) string {
	var validPercent, errorPercent float64
	if m.stats.TotalFrames > 0 {
		validPercent = float64(m.stats.ValidFrames) * 100.0 / float64(m.stats.TotalFrames)
		totalErrors := m.stats.ChecksumErrors + m.stats.FramingErrors + m.stats.DecodeErrors + m.stats.AnomalousFrames
		errorPercent = float64(totalErrors) * 100.0 / float64(m.stats.TotalFrames)
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s",
		labelStyle.Render("Total:"), valueStyle.Render(fmt.Sprintf("%d", m.stats.TotalFrames)),
		labelStyle.Render("Valid:"), valueStyle.Render(fmt.Sprintf("%.1f%%", validPercent)),
		labelStyle.Render("Errors:"), func() string {
			if errorPercent > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f%%", errorPercent))
			}
			return valueStyle.Render("0.0%")
		}(),
		labelStyle.Render("Rate:"), valueStyle.Render(fmt.Sprintf("%.1f frm/s", m.stats.FrameRate)),
	)

	return boxStyle.Width(m.width - 4).Render(content)
}

func (m controlModel) renderEventLog(labelStyle, warningStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("EVENTS"))
	s.WriteString("\n")

	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyleLocal := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

	logHeight := 8
	if len(m.eventLog) < logHeight {
		logHeight = len(m.eventLog)
	}

	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			icon := "i"
			style := warningStyle
			if entry.isError {
				icon = "x"
				style = errorStyleLocal
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(timestamp),
				style.Render(icon),
				entry.message))
		}
	}

	return boxStyle.Width(m.width - 4).Render(s.String())
}

//////////////////////////////////////////////////////////////
// Data Processing
//////////////////////////////////////////////////////////////

func (m *controlModel) processControlData(msg controlDataMsg) {
	if msg.decodeErr != nil {
		m.stats.Update(nil, msg.decodeErr, nil)
		m.addLogEntry(fmt.Sprintf("DECODE ERROR: %v", msg.decodeErr), true)
		return
	}

	if msg.packet == nil {
		return
	}

	m.stats.Update(msg.packet, nil, msg.validationErrors)
	m.lastPacket = msg.packet
	m.lastFeedback = time.Now()

	for _, err := range msg.validationErrors {
		m.addLogEntry(fmt.Sprintf("ANOMALY: %s", err.Message), true)
	}
}

//////////////////////////////////////////////////////////////
// Commands
//////////////////////////////////////////////////////////////

func (m *controlModel) sendTargetCommand() (tea.Model, tea.Cmd) {
	if m.connectionLost {
		m.addLogEntry("Cannot send command: connection lost", true)
		return m, nil
	}

	targetStr := m.targetInput.Value()
	if targetStr == "" {
		targetStr = m.targetInput.Placeholder
	}

	target, err := strconv.ParseUint(targetStr, 10, 16)
	if err != nil || target > lucerna.DACMax {
		m.addLogEntry(fmt.Sprintf("Invalid target: %s (must be 0-%d)", targetStr, lucerna.DACMax), true)
		return m, nil
	}

	// Echo the last seen present current in the advisory field
	var present uint16
	if m.lastPacket != nil {
		present = m.lastPacket.PresentCurrent()
	}

	wireBytes, err := lucerna.NewSetTarget(uint16(target), present)
	if err != nil {
		m.addLogEntry(fmt.Sprintf("Invalid target: %v", err), true)
		return m, nil
	}

	conn := m.connMgr.getConn()
	if conn == nil {
		m.addLogEntry("Cannot send command: connection lost", true)
		return m, nil
	}
	if _, err := conn.Write(wireBytes); err != nil {
		m.addLogEntry(fmt.Sprintf("Failed to send command: %v", err), true)
		return m, nil
	}

	m.sentTarget = uint16(target)
	m.targetSent = true
	m.addLogEntry(fmt.Sprintf("Sent target %d (%.2fV)", target, lucerna.DACVoltage(uint16(target))), false)
	return m, nil
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *controlModel) addLogEntry(message string, isError bool) {
	entry := eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.eventLog = append(m.eventLog, entry)

	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}
