package api

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// flexInt accepts a JSON number or a numeric string
type flexInt struct {
	Value int
	Set   bool
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(bytes.Trim(b, `"`)))
	if s == "" || s == "null" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("expected an integer, got %s", b)
	}
	f.Value, f.Set = n, true
	return nil
}

func (f flexInt) or(def int) int {
	if !f.Set {
		return def
	}
	return f.Value
}

// flexBool is true only for JSON true or the string "true"
type flexBool struct {
	Value bool
	Set   bool
}

func (f *flexBool) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	if s == "null" {
		return nil
	}
	f.Value, f.Set = s == "true", true
	return nil
}

func (f flexBool) or(def bool) bool {
	if !f.Set {
		return def
	}
	return f.Value
}

type syncRequest struct {
	SyncID string `json:"sync_id"`

	SrcHost   string   `json:"src_host"`
	SrcPort   flexInt  `json:"src_port"`
	SrcUser   string   `json:"src_user"`
	SrcPass   string   `json:"src_pass"`
	SrcSecure flexBool `json:"src_secure"`

	DestHost   string   `json:"dest_host"`
	DestPort   flexInt  `json:"dest_port"`
	DestUser   string   `json:"dest_user"`
	DestPass   string   `json:"dest_pass"`
	DestSecure flexBool `json:"dest_secure"`

	Concurrency    flexInt  `json:"concurrency"`
	DryRun         flexBool `json:"dry_run"`
	SinceDate      string   `json:"since_date"`
	ExcludeFolders string   `json:"exclude_folders"`
}

type stopRequest struct {
	SyncID string `json:"sync_id"`
}

type connectionRequest struct {
	Host   string   `json:"host"`
	Port   flexInt  `json:"port"`
	User   string   `json:"user"`
	Pass   string   `json:"pass"`
	Secure flexBool `json:"secure"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type jobStatusResponse struct {
	Status string `json:"status"`
	Active bool   `json:"active"`
}

type connectionResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}
