// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import "github.com/charmbracelet/lipgloss"

// Health is the coarse condition a value is rendered in.
type Health uint8

const (
	HealthOK Health = iota
	// HealthStale marks data that has not been refreshed recently.
	HealthStale
	HealthWarning
	HealthFault
)

// Theme defines the color palette for armlink's terminal UIs. All
// colors use lipgloss ANSI 256-color codes for broad terminal
// compatibility.
type Theme struct {
	// Text colors.
	NormalText lipgloss.Color
	FaintText  lipgloss.Color

	// Health colors.
	OK      lipgloss.Color
	Stale   lipgloss.Color
	Warning lipgloss.Color
	Fault   lipgloss.Color

	// UI chrome.
	HeaderForeground lipgloss.Color
	HeaderBackground lipgloss.Color
	BorderColor      lipgloss.Color
	HelpText         lipgloss.Color
}

// HealthColor returns the color for h. Unknown values return
// NormalText.
func (theme Theme) HealthColor(h Health) lipgloss.Color {
	switch h {
	case HealthOK:
		return theme.OK
	case HealthStale:
		return theme.Stale
	case HealthWarning:
		return theme.Warning
	case HealthFault:
		return theme.Fault
	default:
		return theme.NormalText
	}
}

// Style returns a foreground style for h.
func (theme Theme) Style(h Health) lipgloss.Style {
	style := lipgloss.NewStyle().Foreground(theme.HealthColor(h))
	if h == HealthFault {
		style = style.Bold(true)
	}
	return style
}

// DefaultTheme is the built-in dark-terminal color scheme.
var DefaultTheme = Theme{
	NormalText: lipgloss.Color("252"),
	FaintText:  lipgloss.Color("245"),

	OK:      lipgloss.Color("114"), // green
	Stale:   lipgloss.Color("245"), // gray
	Warning: lipgloss.Color("220"), // yellow/amber
	Fault:   lipgloss.Color("196"), // red

	HeaderForeground: lipgloss.Color("255"),
	HeaderBackground: lipgloss.Color("236"),
	BorderColor:      lipgloss.Color("240"),
	HelpText:         lipgloss.Color("241"),
}
