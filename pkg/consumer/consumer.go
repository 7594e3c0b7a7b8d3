// Package consumer reads typed messages from a Kafka topic.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/segmentio/kafka-go"

	"github.com/balticlsc/balticlsc-module/pkg/lg"
)

var validate = validator.New()

type Config struct {
	Brokers  []string `validate:"required,min=1"`
	GroupID  string   `validate:"required"`
	Topic    string   `validate:"required"`
	MinBytes int
	MaxBytes int
	MaxWait  time.Duration
}

// Decoder turns a message value into T.
type Decoder[T any] func(value []byte) (T, error)

// JSON decodes values with encoding/json.
func JSON[T any](value []byte) (T, error) {
	var payload T
	err := json.Unmarshal(value, &payload)
	return payload, err
}

// Raw hands the value over untouched.
func Raw(value []byte) ([]byte, error) {
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// DecodeError reports a message that was committed but could not be decoded.
type DecodeError struct {
	Offset int64
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode message at offset %d: %v", e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer[T any] struct {
	reader reader
	decode Decoder[T]
	log    lg.Logger
}

func NewConsumer[T any](cfg Config, decode Decoder[T], log lg.Logger) (*Consumer[T], error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid consumer config: %w", err)
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
		MaxWait:  cfg.MaxWait,
	})
	return newConsumer(r, decode, log), nil
}

func newConsumer[T any](r reader, decode Decoder[T], log lg.Logger) *Consumer[T] {
	if decode == nil {
		decode = JSON[T]
	}
	if log == nil {
		log = lg.Discard
	}
	return &Consumer[T]{reader: r, decode: decode, log: log}
}

// Read fetches, decodes and commits one message.
func (c *Consumer[T]) Read(ctx context.Context) (T, error) {
	var zero T

	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return zero, err
	}

	payload, err := c.decode(msg.Value)
	if err != nil {
		if cerr := c.reader.CommitMessages(ctx, msg); cerr != nil {
			return zero, cerr
		}
		return zero, &DecodeError{Offset: msg.Offset, Err: err}
	}

	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		return zero, err
	}

	return payload, nil
}

// Run reads until ctx is done, passing each payload to handle. Undecodable
// messages and handler errors are logged and skipped.
func (c *Consumer[T]) Run(ctx context.Context, handle func(context.Context, T) error) error {
	for {
		payload, err := c.Read(ctx)
		if err != nil {
			var de *DecodeError
			if errors.As(err, &de) {
				c.log.Warn("skipping kafka message", lg.Err(err))
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := handle(ctx, payload); err != nil {
			c.log.Warn("kafka message rejected", lg.Err(err))
		}
	}
}

func (c *Consumer[T]) Close() error {
	return c.reader.Close()
}
