// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders guardian CLI output.
//
// Three modes exist: rich (colours, icons and boxes via lipgloss) for
// terminals, plain tab-separated lines for pipes and scripts, and JSON.
package ux

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
)

// Guardian palette.
var (
	ColorAccent  = lipgloss.Color("#20B9B4")
	ColorBorder  = lipgloss.Color("#16858E")
	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
	ColorMuted   = lipgloss.Color("#5C7A84")
)

// Styles are the pre-configured lipgloss styles used in rich mode.
var Styles = struct {
	Title   lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style

	Box      lipgloss.Style
	ErrorBox lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorAccent),
	Bold:    lipgloss.NewStyle().Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(ColorMuted),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconSkipped Icon = "○"
)

// Render returns the icon with its colour.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconSkipped:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// Printer writes CLI output in one Mode. Results go to Out; warnings and
// errors in plain mode go to Err so scripts can parse Out.
type Printer struct {
	Out  io.Writer
	Err  io.Writer
	Mode Mode
}

// NewPrinter creates a Printer.
func NewPrinter(out, errOut io.Writer, mode Mode) *Printer {
	return &Printer{Out: out, Err: errOut, Mode: mode}
}

// Rich reports whether decorations are enabled.
func (p *Printer) Rich() bool { return p.Mode == ModeRich }

// Title prints a heading. Silent outside rich mode.
func (p *Printer) Title(text string) {
	if p.Rich() {
		fmt.Fprintln(p.Out, Styles.Title.Render(text))
	}
}

// Success prints a success line.
func (p *Printer) Success(text string) {
	switch p.Mode {
	case ModeRich:
		fmt.Fprintf(p.Out, "%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
	case ModePlain:
		fmt.Fprintf(p.Out, "OK\t%s\n", text)
	}
}

// Warning prints a warning line.
func (p *Printer) Warning(text string) {
	switch p.Mode {
	case ModeRich:
		fmt.Fprintf(p.Out, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
	case ModePlain:
		fmt.Fprintf(p.Err, "WARN\t%s\n", text)
	}
}

// Error prints an error line. Errors are printed in every mode, on Err
// outside rich mode.
func (p *Printer) Error(text string) {
	switch p.Mode {
	case ModeRich:
		fmt.Fprintf(p.Out, "%s %s\n", IconError.Render(), Styles.Error.Render(text))
	default:
		fmt.Fprintf(p.Err, "ERROR\t%s\n", text)
	}
}

// Info prints an informational line.
func (p *Printer) Info(text string) {
	switch p.Mode {
	case ModeRich:
		fmt.Fprintf(p.Out, "%s %s\n", Styles.Muted.Render("│"), text)
	case ModePlain:
		fmt.Fprintln(p.Out, text)
	}
}

// Status prints one item with its icon and an optional detail.
func (p *Printer) Status(icon Icon, subject, detail string) {
	switch p.Mode {
	case ModeRich:
		if detail != "" {
			fmt.Fprintf(p.Out, "%s %s %s\n", icon.Render(), subject, Styles.Muted.Render("("+detail+")"))
		} else {
			fmt.Fprintf(p.Out, "%s %s\n", icon.Render(), subject)
		}
	case ModePlain:
		fmt.Fprintf(p.Out, "%s\t%s\t%s\n", iconWord(icon), subject, detail)
	}
}

// Box prints content in a rounded box. failed selects the error border.
func (p *Printer) Box(title, content string, failed bool) {
	switch p.Mode {
	case ModeRich:
		style, head := Styles.Box, Styles.Title
		if failed {
			style, head = Styles.ErrorBox, Styles.Error.Bold(true)
		}
		fmt.Fprintln(p.Out, style.Width(72).Render(head.Render(title)+"\n"+content))
	case ModePlain:
		fmt.Fprintf(p.Out, "%s\t%s\n", title, strings.ReplaceAll(content, "\n", " | "))
	}
}

// Table renders rows under header. Plain mode emits tab-separated values.
func (p *Printer) Table(header []string, rows [][]string) {
	if p.Mode == ModeJSON {
		return
	}
	tbl := table.NewWriter()
	tbl.SetOutputMirror(p.Out)
	tbl.AppendHeader(toRow(header))
	for _, r := range rows {
		tbl.AppendRow(toRow(r))
	}
	if p.Mode == ModePlain {
		tbl.RenderTSV()
		return
	}
	tbl.SetStyle(table.StyleRounded)
	tbl.Render()
}

// JSON writes v as indented JSON to Out.
func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Age renders a timestamp relative to now ("3 minutes ago").
func Age(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return humanize.Time(t)
}

// Count renders an integer with thousands separators.
func Count(n int64) string {
	return humanize.Comma(n)
}

func toRow(cells []string) table.Row {
	row := make(table.Row, len(cells))
	for i, c := range cells {
		row[i] = c
	}
	return row
}

func iconWord(i Icon) string {
	switch i {
	case IconSuccess:
		return "OK"
	case IconWarning:
		return "WARN"
	case IconError:
		return "FAIL"
	case IconSkipped:
		return "SKIP"
	default:
		return string(i)
	}
}
