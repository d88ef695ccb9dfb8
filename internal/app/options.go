package app

import (
	"fmt"
	"strings"
	"time"

	"mailsync/internal/mailbox"
)

// SinceDateLayout is the IMAP SEARCH date format, e.g. 01-Jan-2024
const SinceDateLayout = "02-Jan-2006"

// Options controls what a job replicates
type Options struct {
	DryRun         bool
	Since          time.Time
	ExcludeFolders []string
}

// Request describes one sync job
type Request struct {
	JobID       string
	Concurrency int
	Source      mailbox.Config
	Target      mailbox.Config
	Options     Options
}

// ParseSinceDate parses a DD-Mon-YYYY date. An empty string means no filter.
func ParseSinceDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(SinceDateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("since date %q must be formatted DD-Mon-YYYY: %w", s, err)
	}
	return t, nil
}

// ParseExcludeFolders splits a comma-separated list, trimming entries and
// dropping empty ones
func ParseExcludeFolders(s string) []string {
	var folders []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			folders = append(folders, f)
		}
	}
	return folders
}

// ClampConcurrency bounds n to [1, max]
func ClampConcurrency(n, max int) int {
	if max < 1 {
		max = 1
	}
	if n < 1 {
		return 1
	}
	if n > max {
		return max
	}
	return n
}
