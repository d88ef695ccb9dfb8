// Package mailboxtest provides in-memory mailbox servers for tests.
package mailboxtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"mailsync/internal/mailbox"
)

// Appended records one APPEND received by a Server
type Appended struct {
	Folder string
	UID    uint32
	Raw    string
}

// Server is an in-memory account shared by every session dialed to it
type Server struct {
	mu sync.Mutex

	folders map[string][]*mailbox.Message
	order   []string

	// ListLines replaces the LIST response generated from the folders
	ListLines []string
	ListErr   error
	DialErr   error
	SelectErr map[string]error
	CreateErr map[string]error
	SearchErr map[string]error
	// FetchErr is keyed by "<folder>:<uid>"
	FetchErr  map[string]error
	AppendErr error
	// FetchHook runs before every fetch, outside the server lock
	FetchHook func(folder string, uid uint32)

	appended []Appended
	created  []string
	fetched  map[string]int
	dials    int
	logouts  int
}

// NewServer creates an account containing only INBOX
func NewServer() *Server {
	s := &Server{
		folders:   make(map[string][]*mailbox.Message),
		SelectErr: make(map[string]error),
		CreateErr: make(map[string]error),
		SearchErr: make(map[string]error),
		FetchErr:  make(map[string]error),
		fetched:   make(map[string]int),
	}
	s.AddFolder(mailbox.DefaultFolder)
	return s
}

// AddFolder creates an empty folder
func (s *Server) AddFolder(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addFolderLocked(name)
}

func (s *Server) addFolderLocked(name string) {
	if _, ok := s.folders[name]; ok {
		return
	}
	s.folders[name] = nil
	s.order = append(s.order, name)
}

// AddMessages stores messages with the given UIDs, dated now
func (s *Server) AddMessages(folder string, uids ...uint32) {
	s.AddDatedMessages(folder, time.Now(), uids...)
}

// AddDatedMessages stores messages with the given UIDs and internal date
func (s *Server) AddDatedMessages(folder string, date time.Time, uids ...uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.addFolderLocked(folder)
	for _, uid := range uids {
		s.folders[folder] = append(s.folders[folder], &mailbox.Message{
			UID:          uid,
			Flags:        []string{`\Seen`},
			InternalDate: date,
			Raw:          []byte(fmt.Sprintf("Subject: %s %d\r\n\r\nbody\r\n", folder, uid)),
		})
	}
}

// Appended returns every appended message in arrival order
func (s *Server) Appended() []Appended {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Appended(nil), s.appended...)
}

// Created returns the folders created through sessions
func (s *Server) Created() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.created...)
}

// FetchCount returns how often a message was fetched
func (s *Server) FetchCount(folder string, uid uint32) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetched[key(folder, uid)]
}

// TotalFetches returns the number of fetches across all messages
func (s *Server) TotalFetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.fetched {
		n += c
	}
	return n
}

// Dials returns the number of successful logins
func (s *Server) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// Logouts returns the number of logouts
func (s *Server) Logouts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logouts
}

func key(folder string, uid uint32) string {
	return fmt.Sprintf("%s:%d", folder, uid)
}

// Dialer routes sessions to servers by host name
type Dialer map[string]*Server

// Dial implements mailbox.Dialer
func (d Dialer) Dial(ctx context.Context, cfg mailbox.Config) (mailbox.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, ok := d[cfg.Host]
	if !ok {
		return nil, fmt.Errorf("dial %s: no such host", cfg.Addr())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DialErr != nil {
		return nil, s.DialErr
	}
	s.dials++
	return &session{server: s}, nil
}

type session struct {
	server   *Server
	selected string
	closed   bool
}

var errClosed = errors.New("imap: connection closed")

func (c *session) List(ctx context.Context) ([]string, error) {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.closed {
		return nil, errClosed
	}
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	if s.ListLines != nil {
		return append([]string(nil), s.ListLines...), nil
	}
	lines := make([]string, 0, len(s.order))
	for _, name := range s.order {
		lines = append(lines, fmt.Sprintf(`(\HasNoChildren) "/" "%s"`, name))
	}
	return lines, nil
}

func (c *session) Select(ctx context.Context, folder string, readOnly bool) error {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.closed {
		return errClosed
	}
	if err := s.SelectErr[folder]; err != nil {
		return err
	}
	if _, ok := s.folders[folder]; !ok {
		return fmt.Errorf("Mailbox doesn't exist: %s", folder)
	}
	c.selected = folder
	return nil
}

func (c *session) Create(ctx context.Context, folder string) error {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.closed {
		return errClosed
	}
	if err := s.CreateErr[folder]; err != nil {
		return err
	}
	if _, ok := s.folders[folder]; ok {
		return fmt.Errorf("Mailbox already exists: %s", folder)
	}
	s.addFolderLocked(folder)
	s.created = append(s.created, folder)
	return nil
}

func (c *session) Search(ctx context.Context, since time.Time) ([]uint32, error) {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.closed {
		return nil, errClosed
	}
	if c.selected == "" {
		return nil, errors.New("No mailbox selected")
	}
	if err := s.SearchErr[c.selected]; err != nil {
		return nil, err
	}

	var uids []uint32
	for _, m := range s.folders[c.selected] {
		if !since.IsZero() && m.InternalDate.Before(since) {
			continue
		}
		uids = append(uids, m.UID)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

func (c *session) Fetch(ctx context.Context, uid uint32) (*mailbox.Message, error) {
	s := c.server

	s.mu.Lock()
	folder, hook, closed := c.selected, s.FetchHook, c.closed
	s.mu.Unlock()

	if closed {
		return nil, errClosed
	}
	if hook != nil {
		hook(folder, uid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.fetched[key(folder, uid)]++
	if err := s.FetchErr[key(folder, uid)]; err != nil {
		return nil, err
	}
	for _, m := range s.folders[folder] {
		if m.UID == uid {
			cp := *m
			cp.Flags = append([]string(nil), m.Flags...)
			cp.Raw = append([]byte(nil), m.Raw...)
			return &cp, nil
		}
	}
	return nil, mailbox.ErrMessageNotFound
}

func (c *session) Append(ctx context.Context, folder string, msg *mailbox.Message) error {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.closed {
		return errClosed
	}
	if s.AppendErr != nil {
		return s.AppendErr
	}
	if _, ok := s.folders[folder]; !ok {
		return fmt.Errorf("[TRYCREATE] Mailbox doesn't exist: %s", folder)
	}
	s.folders[folder] = append(s.folders[folder], msg)
	s.appended = append(s.appended, Appended{Folder: folder, UID: msg.UID, Raw: string(msg.Raw)})
	return nil
}

func (c *session) Logout() error {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.closed {
		return errClosed
	}
	c.closed = true
	s.logouts++
	return nil
}
