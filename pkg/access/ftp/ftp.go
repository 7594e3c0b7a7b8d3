// Package ftp is the FTP connector: it acquires logged-in connections with
// the bounded retry of package access and offers the small set of file
// operations routines need.
package ftp

import (
	"context"
	"fmt"
	"io"
	"net"
	"path"
	"strings"
	"time"

	goftp "github.com/jlaffaye/ftp"

	"github.com/balticlsc/balticlsc-module/pkg/access"
	"github.com/balticlsc/balticlsc-module/pkg/lg"
)

type Options struct {
	MaxAttempts int
	Timeout     time.Duration
	// PassiveHost, when set, replaces the host of every data connection.
	// Servers behind NAT often advertise an unreachable address in their
	// passive-mode reply.
	PassiveHost string
}

// Conn is a logged-in FTP session.
type Conn struct {
	sc *goftp.ServerConn
}

// NewConnector returns a retrying connector dialing FTP servers.
func NewConnector(opts Options, log lg.Logger) *access.Retrying[Credential, *Conn] {
	return access.NewRetrying("FTP", opts.MaxAttempts, Dialer(opts), log)
}

// Dialer makes one connection and login attempt.
func Dialer(opts Options) access.DialFunc[Credential, *Conn] {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return func(ctx context.Context, cred Credential) (*Conn, error) {
		ctrl := cred.Address()
		d := &net.Dialer{Timeout: timeout}
		sc, err := goftp.Dial(ctrl,
			goftp.DialWithContext(ctx),
			goftp.DialWithTimeout(timeout),
			goftp.DialWithDialFunc(func(network, address string) (net.Conn, error) {
				return d.DialContext(ctx, network, dataAddress(ctrl, opts.PassiveHost, address))
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", ctrl, err)
		}
		if err := sc.Login(cred.User, cred.Password); err != nil {
			_ = sc.Quit()
			return nil, fmt.Errorf("login %s: %w", cred, err)
		}
		return &Conn{sc: sc}, nil
	}
}

// dataAddress rewrites the host of any address other than the control
// connection when a passive host is configured.
func dataAddress(ctrl, passiveHost, address string) string {
	if passiveHost == "" || address == ctrl {
		return address
	}
	_, port, err := net.SplitHostPort(address)
	if err != nil {
		return address
	}
	return net.JoinHostPort(passiveHost, port)
}

func (c *Conn) ChangeDir(dir string) error {
	return c.sc.ChangeDir(dir)
}

// EnsureDir creates dir when missing and changes into it.
func (c *Conn) EnsureDir(dir string) error {
	if err := c.sc.MakeDir(dir); err != nil && !alreadyExists(err) {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return c.sc.ChangeDir(dir)
}

func alreadyExists(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "exists") || strings.Contains(msg, "Create directory operation failed")
}

// List returns the base names of the entries in dir.
func (c *Conn) List(dir string) ([]string, error) {
	names, err := c.sc.NameList(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if b := path.Base(n); b != "." && b != ".." {
			out = append(out, b)
		}
	}
	return out, nil
}

// Fetch opens a remote file for reading. The caller must close it before
// issuing another command on the connection.
func (c *Conn) Fetch(file string) (io.ReadCloser, error) {
	r, err := c.sc.Retr(file)
	if err != nil {
		return nil, fmt.Errorf("retr %s: %w", file, err)
	}
	return r, nil
}

// Upload stores r as name in the current directory.
func (c *Conn) Upload(name string, r io.Reader) error {
	if err := c.sc.Stor(name, r); err != nil {
		return fmt.Errorf("stor %s: %w", name, err)
	}
	return nil
}

// Put stores r as dir/name, creating dir first.
func (c *Conn) Put(dir, name string, r io.Reader) error {
	if err := c.EnsureDir(dir); err != nil {
		return err
	}
	return c.Upload(name, r)
}

func (c *Conn) Close() error {
	return c.sc.Quit()
}
