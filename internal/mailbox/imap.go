package mailbox

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// IMAPDialer implements Dialer using go-imap
type IMAPDialer struct{}

// Dial connects to the server and logs in
func (IMAPDialer) Dial(ctx context.Context, cfg Config) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid connection config: %w", err)
	}

	dialer := &net.Dialer{Timeout: cfg.DialTimeout}

	var (
		c   *client.Client
		err error
	)
	if cfg.Secure {
		c, err = client.DialWithDialerTLS(dialer, cfg.Addr(), &tls.Config{
			ServerName:         cfg.Host,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		})
	} else {
		c, err = client.DialWithDialer(dialer, cfg.Addr())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Addr(), err)
	}
	c.Timeout = cfg.CommandTimeout

	if err := c.Login(cfg.Username, cfg.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("failed to log in as %s: %w", cfg.Username, err)
	}

	return &imapSession{c: c}, nil
}

// imapSession wraps client.Client to implement Session
type imapSession struct {
	c *client.Client
}

// List renders each mailbox as a LIST line. The name is quoted without
// escaping so that stripping the outer quotes yields the exact server name.
func (s *imapSession) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mailboxes := make(chan *imap.MailboxInfo, 16)
	done := make(chan error, 1)
	go func() {
		done <- s.c.List("", "*", mailboxes)
	}()

	var lines []string
	for mb := range mailboxes {
		lines = append(lines, formatListLine(mb))
	}
	if err := <-done; err != nil {
		return nil, err
	}
	return lines, nil
}

func formatListLine(mb *imap.MailboxInfo) string {
	delim := "NIL"
	if mb.Delimiter != "" {
		delim = `"` + mb.Delimiter + `"`
	}
	return fmt.Sprintf(`(%s) %s "%s"`, strings.Join(mb.Attributes, " "), delim, mb.Name)
}

func (s *imapSession) Select(ctx context.Context, folder string, readOnly bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.c.Select(folder, readOnly)
	return err
}

func (s *imapSession) Create(ctx context.Context, folder string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.c.Create(folder)
}

func (s *imapSession) Search(ctx context.Context, since time.Time) ([]uint32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	criteria := imap.NewSearchCriteria()
	if !since.IsZero() {
		criteria.Since = since
	}
	return s.c.UidSearch(criteria)
}

// Fetch reads the whole message with BODY.PEEK[] so \Seen is left untouched
func (s *imapSession) Fetch(ctx context.Context, uid uint32) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchFlags, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.c.UidFetch(seqset, items, messages)
	}()

	var fetched *imap.Message
	for m := range messages {
		if fetched == nil {
			fetched = m
		}
	}
	if err := <-done; err != nil {
		return nil, err
	}
	if fetched == nil {
		return nil, ErrMessageNotFound
	}

	body := fetched.GetBody(section)
	if body == nil {
		return nil, ErrMessageNotFound
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}

	flags := make([]string, 0, len(fetched.Flags))
	for _, f := range fetched.Flags {
		if f == imap.RecentFlag {
			continue
		}
		flags = append(flags, f)
	}

	return &Message{
		UID:          uid,
		Flags:        flags,
		InternalDate: fetched.InternalDate,
		Raw:          raw,
	}, nil
}

func (s *imapSession) Append(ctx context.Context, folder string, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.c.Append(folder, msg.Flags, msg.InternalDate, bytes.NewBuffer(msg.Raw))
}

func (s *imapSession) Logout() error {
	return s.c.Logout()
}
