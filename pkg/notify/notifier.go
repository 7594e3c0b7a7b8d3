// Package notify delivers output and acknowledgment tokens to the batch
// manager. Every token is posted exactly once: there is no retry, and a
// delivery failure is logged and returned to the caller, never escalated.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/balticlsc/balticlsc-module/pkg/lg"
	"github.com/balticlsc/balticlsc-module/pkg/token"
)

const DefaultTimeout = 10 * time.Second

type Kind string

const (
	KindAck    Kind = "ack"
	KindOutput Kind = "token"
)

// Mirror receives a copy of every delivered token, e.g. an audit topic.
type Mirror interface {
	Publish(ctx context.Context, kind Kind, key string, payload []byte) error
	Close() error
}

type Config struct {
	TokenURL string
	AckURL   string
	Timeout  time.Duration
	// FailureThreshold consecutive failures open the breaker of an endpoint
	// for OpenTimeout; while open, tokens are dropped without a call.
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// Notifier posts tokens to the batch manager's token and ack endpoints.
type Notifier struct {
	cfg     Config
	client  *http.Client
	ackCB   *gobreaker.CircuitBreaker
	tokenCB *gobreaker.CircuitBreaker
	mirror  Mirror
	log     lg.Logger
}

// New builds a Notifier. client and mirror may be nil.
func New(cfg Config, client *http.Client, mirror Mirror, log lg.Logger) *Notifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if log == nil {
		log = lg.Discard
	}
	n := &Notifier{cfg: cfg, client: client, mirror: mirror, log: log}
	n.ackCB = n.breaker("batch-manager-ack")
	n.tokenCB = n.breaker("batch-manager-token")
	return n
}

func (n *Notifier) breaker(name string) *gobreaker.CircuitBreaker {
	threshold := n.cfg.FailureThreshold
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     n.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: reachable,
		OnStateChange: func(name string, from, to gobreaker.State) {
			n.log.Warn("Batch manager circuit state changed",
				lg.String("endpoint", name), lg.String("from", from.String()), lg.String("to", to.String()))
		},
	})
}

// StatusError is a reply from the batch manager outside the 2xx range.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("batch manager returned status %d", e.Code)
}

// reachable reports whether err leaves the endpoint healthy: rejections of
// a single message (4xx) do not count against the breaker.
func reachable(err error) bool {
	if err == nil {
		return true
	}
	var se *StatusError
	return errors.As(err, &se) && se.Code < http.StatusInternalServerError
}

// SendAck posts ack to the ack endpoint. Final acks are always attempted,
// even while the breaker is open.
func (n *Notifier) SendAck(ctx context.Context, ack token.AckToken) error {
	key := ""
	if len(ack.MsgUIDs) > 0 {
		key = ack.MsgUIDs[0]
	}
	cb := n.ackCB
	if ack.IsFinal {
		cb = nil
	}
	return n.send(ctx, KindAck, n.cfg.AckURL, cb, key, ack)
}

// SendOutput posts out to the token endpoint.
func (n *Notifier) SendOutput(ctx context.Context, out token.OutputToken) error {
	return n.send(ctx, KindOutput, n.cfg.TokenURL, n.tokenCB, out.BaseMsgUID, out)
}

func (n *Notifier) send(ctx context.Context, kind Kind, url string, cb *gobreaker.CircuitBreaker, key string, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s token: %w", kind, err)
	}
	logger := n.log.With(lg.String("kind", string(kind)), lg.String("url", url))
	logger.Info("sending message to batch manager", lg.String("message", string(payload)))

	if cb == nil {
		err = n.post(ctx, url, payload)
	} else {
		_, err = cb.Execute(func() (any, error) {
			return nil, n.post(ctx, url, payload)
		})
	}
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("batch manager unreachable, %s dropped: %w", kind, err)
		}
		logger.Error("failed to deliver message to batch manager", lg.Err(err))
	}

	if n.mirror != nil {
		if merr := n.mirror.Publish(ctx, kind, key, payload); merr != nil {
			logger.Warn("failed to mirror message", lg.Err(merr))
		}
	}
	return err
}

func (n *Notifier) post(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to batch manager: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// Close releases the mirror, if any.
func (n *Notifier) Close() error {
	if n.mirror == nil {
		return nil
	}
	return n.mirror.Close()
}
