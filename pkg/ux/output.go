// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders CLI output. Styled output is used on terminals and
// plain, tab-separated output everywhere else.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Aleutian color palette.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title     lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	Box       lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealPrimary).Bold(true),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
)

// Render returns the icon in its status color.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// Printer writes CLI output to one destination.
//
// Thread Safety: Printer is NOT safe for concurrent use.
type Printer struct {
	w     io.Writer
	plain bool
}

// NewPrinter returns a Printer for w. Output is plain unless w is a
// terminal.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, plain: !IsTerminal(w)}
}

// NewPlainPrinter returns a Printer that never styles its output.
func NewPlainPrinter(w io.Writer) *Printer {
	return &Printer{w: w, plain: true}
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Plain reports whether output is unstyled.
func (p *Printer) Plain() bool {
	return p.plain
}

func (p *Printer) printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}

// Title prints a heading. Plain printers omit it.
func (p *Printer) Title(text string) {
	if p.plain {
		return
	}
	p.printf("%s\n", Styles.Title.Render(text))
}

// Success prints a line marked as successful.
func (p *Printer) Success(text string) {
	if p.plain {
		p.printf("OK: %s\n", text)
		return
	}
	p.printf("%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
}

// Warning prints a warning line.
func (p *Printer) Warning(text string) {
	if p.plain {
		p.printf("WARN: %s\n", text)
		return
	}
	p.printf("%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
}

// Error prints an error line.
func (p *Printer) Error(text string) {
	if p.plain {
		p.printf("ERROR: %s\n", text)
		return
	}
	p.printf("%s %s\n", IconError.Render(), Styles.Error.Render(text))
}

// Info prints an informational line.
func (p *Printer) Info(text string) {
	if p.plain {
		p.printf("%s\n", text)
		return
	}
	p.printf("%s %s\n", Styles.Muted.Render("│"), text)
}

// Box prints content under a title, boxed on terminals.
func (p *Printer) Box(title, content string) {
	if p.plain {
		p.printf("%s: %s\n", title, content)
		return
	}
	p.printf("%s\n", Styles.Box.Width(60).Render(Styles.Title.Render(title)+"\n"+content))
}

// PatchResult prints one patch outcome.
func (p *Printer) PatchResult(name string, err error, d time.Duration) {
	if p.plain {
		status := "ok"
		detail := ""
		if err != nil {
			status = "failed"
			detail = err.Error()
		}
		p.printf("%s\t%s\t%s\t%s\n", status, name, d.Round(time.Millisecond), detail)
		return
	}
	if err != nil {
		p.printf("%s %s %s\n", IconError.Render(), Styles.Bold.Render(name), Styles.Error.Render(err.Error()))
		return
	}
	p.printf("%s %s %s\n", IconSuccess.Render(), name, Styles.Muted.Render(d.Round(time.Millisecond).String()))
}

// Summary prints run totals.
func (p *Printer) Summary(succeeded, failed, skipped int) {
	if p.plain {
		p.printf("SUMMARY: succeeded=%d failed=%d skipped=%d\n", succeeded, failed, skipped)
		return
	}
	p.printf("\n%s %s  %s %s  %s %s\n",
		Styles.Success.Render(fmt.Sprint(succeeded)), Styles.Muted.Render("succeeded"),
		Styles.Error.Render(fmt.Sprint(failed)), Styles.Muted.Render("failed"),
		Styles.Warning.Render(fmt.Sprint(skipped)), Styles.Muted.Render("skipped"),
	)
}

// Diff prints a line diff, coloring "+ " and "- " lines on terminals.
func (p *Printer) Diff(header, diff string) {
	if p.plain {
		p.printf("--- %s\n%s", header, diff)
		if !strings.HasSuffix(diff, "\n") {
			p.printf("\n")
		}
		return
	}
	p.printf("%s\n", Styles.Highlight.Render(header))
	for _, line := range strings.Split(strings.TrimSuffix(diff, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "+ "):
			p.printf("%s\n", Styles.Success.Render(line))
		case strings.HasPrefix(line, "- "):
			p.printf("%s\n", Styles.Error.Render(line))
		default:
			p.printf("%s\n", Styles.Muted.Render(line))
		}
	}
}

// Table prints rows as aligned columns. Plain printers separate columns
// with tabs.
func (p *Printer) Table(header []string, rows [][]string) {
	if p.plain {
		p.printf("%s\n", strings.Join(header, "\t"))
		for _, row := range rows {
			p.printf("%s\n", strings.Join(row, "\t"))
		}
		return
	}

	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			widths[i] = max(widths[i], lipgloss.Width(row[i]))
		}
	}

	line := func(cells []string, style lipgloss.Style) string {
		parts := make([]string, len(cells))
		for i, c := range cells {
			if i < len(widths) {
				parts[i] = style.Width(widths[i]).Render(c)
			} else {
				parts[i] = style.Render(c)
			}
		}
		return strings.TrimRight(strings.Join(parts, "  "), " ")
	}

	p.printf("%s\n", line(header, Styles.Bold))
	for _, row := range rows {
		p.printf("%s\n", line(row, lipgloss.NewStyle()))
	}
}
