// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dashboard

import (
	"context"
	"fmt"
	"math"
	"math/bits"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/bureau-foundation/armlink/control"
	"github.com/bureau-foundation/armlink/lib/clock"
	"github.com/bureau-foundation/armlink/lib/robot"
	"github.com/bureau-foundation/armlink/lib/tui"
)

// DefaultRefreshInterval is how often the model polls its source.
const DefaultRefreshInterval = 100 * time.Millisecond

// staleAfter is the age at which a feedback family is drawn as stale.
const staleAfter = time.Second

// Source is the view of a pipeline the dashboard reads.
// *control.Pipeline implements it.
type Source interface {
	SessionID() string
	Snapshot() *robot.Snapshot
	Validity() control.ValidityDetail
	ResetValidity()
	MonitorState() control.MonitorState
	Metrics() control.MetricsSnapshot
}

var _ Source = (*control.Pipeline)(nil)

// Options configures a Model. Zero values take defaults.
type Options struct {
	RefreshInterval time.Duration
	Clock           clock.Clock
	Theme           *tui.Theme
	Keys            *KeyMap
}

type tickMsg time.Time

// Model implements tea.Model.
type Model struct {
	source   Source
	clock    clock.Clock
	theme    tui.Theme
	keys     KeyMap
	interval time.Duration

	width int

	snapshot *robot.Snapshot
	validity control.ValidityDetail
	monitor  control.MonitorState
	metrics  control.MetricsSnapshot
}

// NewModel returns a model reading from source. The first frame is
// populated immediately so View is meaningful before the first tick.
func NewModel(source Source, options Options) Model {
	model := Model{
		source:   source,
		clock:    options.Clock,
		theme:    tui.DefaultTheme,
		keys:     DefaultKeyMap,
		interval: options.RefreshInterval,
	}
	if model.clock == nil {
		model.clock = clock.Real()
	}
	if options.Theme != nil {
		model.theme = *options.Theme
	}
	if options.Keys != nil {
		model.keys = *options.Keys
	}
	if model.interval <= 0 {
		model.interval = DefaultRefreshInterval
	}
	model.refresh()
	return model
}

// Run shows the dashboard on the terminal until the user quits or ctx
// is cancelled.
func Run(ctx context.Context, source Source, options Options) error {
	program := tea.NewProgram(NewModel(source, options), tea.WithContext(ctx), tea.WithAltScreen())
	_, err := program.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func (model *Model) refresh() {
	model.snapshot = model.source.Snapshot()
	model.validity = model.source.Validity()
	model.monitor = model.source.MonitorState()
	model.metrics = model.source.Metrics()
}

func (model Model) tick() tea.Cmd {
	return tea.Tick(model.interval, func(at time.Time) tea.Msg { return tickMsg(at) })
}

// Init implements tea.Model.
func (model Model) Init() tea.Cmd {
	return model.tick()
}

// Update implements tea.Model.
func (model Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tickMsg:
		model.refresh()
		return model, model.tick()

	case tea.KeyMsg:
		switch {
		case key.Matches(message, model.keys.Quit):
			return model, tea.Quit
		case key.Matches(message, model.keys.Reset):
			model.source.ResetValidity()
			model.refresh()
		}

	case tea.WindowSizeMsg:
		model.width = message.Width
	}
	return model, nil
}

// View implements tea.Model.
func (model Model) View() string {
	var sections []string
	sections = append(sections, model.renderHeader(), model.renderValidity())
	if model.snapshot == nil {
		sections = append(sections, lipgloss.NewStyle().
			Foreground(model.theme.FaintText).
			Render("waiting for feedback from the arm"))
	} else {
		sections = append(sections,
			model.renderArm(),
			model.renderJoints(),
			model.renderGripper(),
		)
	}
	sections = append(sections, model.renderMetrics(), model.renderHelp())
	return lipgloss.JoinVertical(lipgloss.Left, sections...) + "\n"
}

func (model Model) renderHeader() string {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(model.theme.HeaderForeground).
		Background(model.theme.HeaderBackground).
		Padding(0, 1)
	if model.width > 0 {
		style = style.Width(model.width)
	}
	return style.Render(fmt.Sprintf("armlink  session %s  monitor %s", model.source.SessionID(), model.monitor))
}

func (model Model) renderValidity() string {
	if model.validity.Valid {
		return model.theme.Style(tui.HealthOK).Render("VALID")
	}
	line := "INVALID: " + model.validity.Reason
	if !model.validity.InvalidatedAt.IsZero() {
		line += fmt.Sprintf(" (%s ago)", model.age(model.validity.InvalidatedAt).Truncate(time.Millisecond))
	}
	return model.theme.Style(tui.HealthFault).Render(line)
}

func (model Model) renderArm() string {
	arm := model.snapshot.Arm
	health := tui.HealthOK
	if arm.State.IsFault() {
		health = tui.HealthFault
	}
	if model.age(arm.UpdatedAt) > staleAfter {
		health = tui.HealthStale
	}
	pose := model.snapshot.EndPose
	enabled := bits.OnesCount8(model.snapshot.EnabledMask())
	return model.theme.Style(health).Render(fmt.Sprintf(
		"control %s  move %s  state %s  enabled %d/%d", arm.Control, arm.Move, arm.State, enabled, robot.JointCount)) +
		"\n" + fmt.Sprintf("pose x %.4f y %.4f z %.4f m  rx %.1f ry %.1f rz %.1f deg",
		pose.X, pose.Y, pose.Z, degrees(pose.RX), degrees(pose.RY), degrees(pose.RZ))
}

func (model Model) renderJoints() string {
	header := lipgloss.NewStyle().Bold(true).Foreground(model.theme.HeaderForeground).
		Render(fmt.Sprintf("%-8s %9s %9s %8s %8s %7s  %s", "joint", "pos deg", "vel r/s", "cur A", "torq Nm", "temp C", "status"))
	lines := []string{header}
	for i := range robot.JointCount {
		driver := model.snapshot.Drivers[i]
		status, health := driverStatus(driver.Status)
		if model.age(driver.FastUpdatedAt) > staleAfter {
			health = tui.HealthStale
		}
		row := fmt.Sprintf("%-8s %9.2f %9.3f %8.3f %8.3f %7.1f  %s",
			robot.JointName(i),
			degrees(model.snapshot.Joints.Position[i]),
			driver.Velocity,
			driver.Current,
			driver.Torque,
			driver.MotorTemp,
			status)
		lines = append(lines, model.theme.Style(health).Render(row))
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(model.theme.BorderColor).
		Render(strings.Join(lines, "\n"))
}

func driverStatus(status robot.DriverStatus) (string, tui.Health) {
	if faults := status.Faults(); len(faults) > 0 {
		return strings.Join(faults, ", "), tui.HealthFault
	}
	if status&robot.DriverEnabled == 0 {
		return "disabled", tui.HealthWarning
	}
	return "enabled", tui.HealthOK
}

func (model Model) renderGripper() string {
	gripper := model.snapshot.Gripper
	health := tui.HealthOK
	state := "enabled"
	switch {
	case gripper.Status&robot.GripperFaults != 0:
		health, state = tui.HealthFault, "fault"
	case gripper.Status&robot.GripperEnabled == 0:
		health, state = tui.HealthWarning, "disabled"
	}
	return model.theme.Style(health).Render(fmt.Sprintf(
		"gripper %.1f mm  %.3f Nm  %s", gripper.Travel*1000, gripper.Torque, state))
}

func (model Model) renderMetrics() string {
	m := model.metrics
	style := lipgloss.NewStyle().Foreground(model.theme.FaintText)
	return style.Render(fmt.Sprintf(
		"tx %d  rx %d  decoded %d  reliable pending %d  overwrites %d  malformed %d  device errors %d  invalidations %d",
		m.FramesSent, m.FramesReceived, m.FramesDecoded, m.ReliablePending,
		m.RealtimeOverwrites, m.MalformedFrames, m.DeviceErrors, m.Invalidations))
}

func (model Model) renderHelp() string {
	style := lipgloss.NewStyle().Foreground(model.theme.HelpText)
	var parts []string
	for _, binding := range []key.Binding{model.keys.Reset, model.keys.Quit} {
		help := binding.Help()
		parts = append(parts, help.Key+" "+help.Desc)
	}
	return style.Render(strings.Join(parts, "  "))
}

func (model Model) age(at time.Time) time.Duration {
	if at.IsZero() {
		return math.MaxInt64
	}
	return model.clock.Now().Sub(at)
}

func degrees(radians float64) float64 { return radians * 180 / math.Pi }
