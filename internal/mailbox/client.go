package mailbox

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// DefaultPort is the implicit-TLS IMAP port
const DefaultPort = 993

// DefaultFolder is the folder every account is guaranteed to have
const DefaultFolder = "INBOX"

// ErrMessageNotFound is returned by Fetch when the server answers without the message body
var ErrMessageNotFound = errors.New("message not found")

// Session defines an authenticated connection to one mailbox account.
// A Session is not safe for concurrent use.
type Session interface {
	// List returns the raw LIST response lines, formatted as
	// `(<flags>) "<delimiter>" <name>`.
	List(ctx context.Context) ([]string, error)
	Select(ctx context.Context, folder string, readOnly bool) error
	Create(ctx context.Context, folder string) error
	// Search returns the UIDs of the selected folder's messages. A zero
	// since matches every message.
	Search(ctx context.Context, since time.Time) ([]uint32, error)
	Fetch(ctx context.Context, uid uint32) (*Message, error)
	Append(ctx context.Context, folder string, msg *Message) error
	Logout() error
}

// Dialer opens and authenticates sessions
type Dialer interface {
	Dial(ctx context.Context, cfg Config) (Session, error)
}

// DialerFunc adapts a function to the Dialer interface
type DialerFunc func(ctx context.Context, cfg Config) (Session, error)

// Dial calls f(ctx, cfg)
func (f DialerFunc) Dial(ctx context.Context, cfg Config) (Session, error) {
	return f(ctx, cfg)
}

// Message is a raw RFC 5322 message with the attributes carried over on append
type Message struct {
	UID          uint32
	Flags        []string
	InternalDate time.Time
	Raw          []byte
}

// Config contains connection configuration for one account
type Config struct {
	Host               string
	Port               int
	Username           string
	Password           string
	Secure             bool
	InsecureSkipVerify bool
	DialTimeout        time.Duration
	CommandTimeout     time.Duration
}

// Addr returns host:port, defaulting the port to 993
func (c Config) Addr() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Validate checks the fields required to log in
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Username == "" {
		return fmt.Errorf("username is required")
	}
	if c.Password == "" {
		return fmt.Errorf("password is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	return nil
}
