package tor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/nao1215/tornago"
)

// DefaultControlTimeout bounds each control port command.
const DefaultControlTimeout = 10 * time.Second

// statusAuthFailed is returned by Tor for rejected AUTHENTICATE commands.
const statusAuthFailed = 515

// cookieFileName is the control cookie Tor writes into its data directory.
const cookieFileName = "control_auth_cookie"

// ControlAuth selects the control port credentials. A password wins over a
// cookie file; with neither, null authentication is attempted.
func ControlAuth(password, cookiePath string) tornago.ControlAuth {
	switch {
	case password != "":
		return tornago.ControlAuthFromPassword(password)
	case cookiePath != "":
		return tornago.ControlAuthFromCookie(cookiePath)
	default:
		return tornago.ControlAuth{}
	}
}

// ControlClient talks to a Tor control port through tornago.
//
// The connection is opened and authenticated on first use. When a command
// fails because the connection broke, the client dials again and retries
// the command once. Replies in which Tor rejects a command are returned
// without a retry.
//
// ControlClient satisfies Controller and is safe for concurrent use.
type ControlClient struct {
	addr    string
	auth    tornago.ControlAuth
	timeout time.Duration

	mu   sync.Mutex
	conn *tornago.ControlClient
}

// NewControlClient returns a client for the control port at addr. Nothing is
// dialed until the first command.
func NewControlClient(addr string, auth tornago.ControlAuth, timeout time.Duration) *ControlClient {
	if timeout <= 0 {
		timeout = DefaultControlTimeout
	}
	return &ControlClient{
		addr:    addr,
		auth:    auth,
		timeout: timeout,
	}
}

// Addr returns the control port address.
func (c *ControlClient) Addr() string {
	return c.addr
}

// Version returns the daemon's version string. It doubles as a health check.
func (c *ControlClient) Version(ctx context.Context) (string, error) {
	var version string
	err := c.do("GETINFO version", func(conn *tornago.ControlClient) error {
		v, err := conn.GetInfo(ctx, "version")
		version = v
		return err
	})
	return version, err
}

// Newnym asks Tor to use new circuits for new streams.
func (c *ControlClient) Newnym(ctx context.Context) error {
	return c.do("SIGNAL NEWNYM", func(conn *tornago.ControlClient) error {
		return conn.NewIdentity(ctx)
	})
}

// Close closes the control connection.
func (c *ControlClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *ControlClient) closeLocked() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *ControlClient) do(name string, fn func(*tornago.ControlClient) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for range 2 {
		if c.conn == nil {
			if err := c.connectLocked(); err != nil {
				return err
			}
		}
		err := fn(c.conn)
		if err == nil {
			return nil
		}
		if !broken(err) {
			return fmt.Errorf("%s: %w", name, err)
		}
		lastErr = err
		_ = c.closeLocked() //nolint:errcheck // the connection is already broken
	}
	return fmt.Errorf("%w: %s: %w", ErrControlChannel, name, lastErr)
}

func (c *ControlClient) connectLocked() error {
	conn, err := tornago.NewControlClient(c.addr, c.auth, c.timeout)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", ErrControlChannel, c.addr, err)
	}
	if err := conn.Authenticate(); err != nil {
		_ = conn.Close() //nolint:errcheck // authentication error takes precedence
		var te *tornago.TornagoError
		switch {
		case replyCode(err) == statusAuthFailed:
			return fmt.Errorf("%w: %w", ErrControlAuth, err)
		case errors.As(err, &te) && te.Kind == tornago.ErrIO:
			return fmt.Errorf("%w: read auth cookie: %w", ErrControlAuth, err)
		default:
			return fmt.Errorf("%w: AUTHENTICATE: %w", ErrControlChannel, err)
		}
	}
	c.conn = conn
	return nil
}

// broken reports whether err comes from the connection rather than from Tor.
func broken(err error) bool {
	var netErr net.Error
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.As(err, &netErr)
}

// replyCode returns the status code of a reply Tor rejected, or 0.
// tornago reports such replies with the raw status line as the message.
func replyCode(err error) int {
	var te *tornago.TornagoError
	if !errors.As(err, &te) || len(te.Msg) < 4 || te.Msg[3] != ' ' {
		return 0
	}
	code, convErr := strconv.Atoi(te.Msg[:3])
	if convErr != nil {
		return 0
	}
	return code
}
