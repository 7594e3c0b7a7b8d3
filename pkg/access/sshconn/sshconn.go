// Package sshconn reaches pin resources on hosts that only expose SSH.
// File operations run as remote shell commands; every session is opened
// through a circuit breaker.
package sshconn

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/crypto/ssh"

	"github.com/balticlsc/balticlsc-module/pkg/access"
	"github.com/balticlsc/balticlsc-module/pkg/lg"
)

type Options struct {
	MaxAttempts int
	Timeout     time.Duration
	// HostKeyCallback defaults to accepting any host key.
	HostKeyCallback ssh.HostKeyCallback
}

// runner executes one remote command.
type runner interface {
	run(cmd string, stdin io.Reader, stdout io.Writer) error
	Close() error
}

// Conn is an authenticated SSH connection.
type Conn struct {
	r runner
}

func NewConnector(opts Options, log lg.Logger) *access.Retrying[Credential, *Conn] {
	return access.NewRetrying("SSH", opts.MaxAttempts, Dialer(opts), log)
}

// Dialer makes one connection attempt.
func Dialer(opts Options) access.DialFunc[Credential, *Conn] {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	hostKey := opts.HostKeyCallback
	if hostKey == nil {
		hostKey = ssh.InsecureIgnoreHostKey()
	}
	return func(ctx context.Context, cred Credential) (*Conn, error) {
		auth, err := cred.authMethods()
		if err != nil {
			return nil, err
		}
		cfg := &ssh.ClientConfig{
			User:            cred.User,
			Auth:            auth,
			HostKeyCallback: hostKey,
			Timeout:         timeout,
			BannerCallback:  func(string) error { return nil },
		}
		if dl, ok := ctx.Deadline(); ok && time.Until(dl) < cfg.Timeout {
			cfg.Timeout = time.Until(dl)
		}
		client, err := ssh.Dial("tcp", cred.Address(), cfg)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", cred, err)
		}
		return &Conn{r: newSessionRunner(client, cred.Address())}, nil
	}
}

type sessionRunner struct {
	client *ssh.Client
	cb     *gobreaker.CircuitBreaker
}

func newSessionRunner(client *ssh.Client, addr string) *sessionRunner {
	return &sessionRunner{
		client: client,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "ssh-session-" + addr,
			MaxRequests: 5,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		}),
	}
}

func (s *sessionRunner) run(cmd string, stdin io.Reader, stdout io.Writer) error {
	res, err := s.cb.Execute(func() (any, error) {
		return s.client.NewSession()
	})
	if err != nil {
		return fmt.Errorf("new session: %w", err)
	}
	sess := res.(*ssh.Session)
	defer sess.Close()

	var stderr bytes.Buffer
	sess.Stdin = stdin
	sess.Stdout = stdout
	sess.Stderr = &stderr
	if err := sess.Run(cmd); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}

func (s *sessionRunner) Close() error { return s.client.Close() }

// List returns the entry names of dir.
func (c *Conn) List(dir string) ([]string, error) {
	var out bytes.Buffer
	if err := c.r.run("ls -1A -- "+quote(dir), nil, &out); err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var names []string
	for _, line := range strings.Split(out.String(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// Fetch reads a whole remote file.
func (c *Conn) Fetch(file string) (io.ReadCloser, error) {
	var out bytes.Buffer
	if err := c.r.run("cat -- "+quote(file), nil, &out); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", file, err)
	}
	return io.NopCloser(&out), nil
}

// Put writes r to dir/name, creating dir when missing.
func (c *Conn) Put(dir, name string, r io.Reader) error {
	target := path.Join(dir, name)
	cmd := "mkdir -p -- " + quote(dir) + " && cat > " + quote(target)
	if err := c.r.run(cmd, r, io.Discard); err != nil {
		return fmt.Errorf("put %s: %w", target, err)
	}
	return nil
}

func (c *Conn) Close() error { return c.r.Close() }

// quote wraps s in single quotes for a POSIX shell.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
