package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"mailsync/internal/events"
)

// Display renders a job's event stream on a terminal
type Display struct {
	out       io.Writer
	barWidth  int
	showBar   bool
	startTime time.Time

	lastProgress int
	events       int
	errors       int
	lastMessage  string
}

// NewDisplay creates a display writing to out. The progress bar is drawn
// only when showBar is set.
func NewDisplay(out io.Writer, showBar bool) *Display {
	return &Display{
		out:       out,
		barWidth:  30,
		showBar:   showBar,
		startTime: time.Now(),
	}
}

// Run prints every event until the stream closes and returns the summary
func (d *Display) Run(stream <-chan events.Event) Summary {
	for e := range stream {
		d.Render(e)
	}
	d.finalDisplay()
	return d.Summary()
}

// Render prints a single event
func (d *Display) Render(e events.Event) {
	d.events++
	d.lastMessage = e.Message
	if e.IsError {
		d.errors++
	}
	if e.Progress != nil {
		d.lastProgress = *e.Progress
	}

	prefix := "     "
	if e.Progress != nil {
		prefix = fmt.Sprintf("%3d%% ", *e.Progress)
	}
	if e.IsError {
		prefix += "ERROR "
	}

	if d.showBar && e.Progress != nil {
		fmt.Fprintf(d.out, "%s %s%s\n", d.generateProgressBar(float64(*e.Progress)), prefix, e.Message)
		return
	}
	fmt.Fprintf(d.out, "%s%s\n", prefix, e.Message)
}

// Summary describes a finished stream
type Summary struct {
	Events       int
	Errors       int
	LastProgress int
	LastMessage  string
	Elapsed      time.Duration
}

// Summary returns the counters gathered so far
func (d *Display) Summary() Summary {
	return Summary{
		Events:       d.events,
		Errors:       d.errors,
		LastProgress: d.lastProgress,
		LastMessage:  d.lastMessage,
		Elapsed:      time.Since(d.startTime),
	}
}

func (d *Display) finalDisplay() {
	s := d.Summary()
	lines := []string{
		"",
		"=" + strings.Repeat("=", 50),
		fmt.Sprintf("Result:   %s", s.LastMessage),
		fmt.Sprintf("Progress: %d%%", s.LastProgress),
		fmt.Sprintf("Errors:   %d", s.Errors),
		fmt.Sprintf("Elapsed:  %s", FormatDuration(s.Elapsed.Truncate(time.Second))),
		"",
	}
	fmt.Fprintln(d.out, strings.Join(lines, "\n"))
}

// generateProgressBar generates a visual progress bar
func (d *Display) generateProgressBar(percent float64) string {
	if percent > 100 {
		percent = 100
	}
	if percent < 0 {
		percent = 0
	}

	filled := int(percent * float64(d.barWidth) / 100)
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", d.barWidth-filled) + "]"
}

// IsTerminalSupported checks if stdout is a terminal
func IsTerminalSupported() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fileInfo.Mode()&os.ModeCharDevice != 0
}
