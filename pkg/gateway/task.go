package gateway

import (
	"context"
	"fmt"

	"github.com/balticlsc/balticlsc-module/pkg/pin"
	"github.com/balticlsc/balticlsc-module/pkg/status"
	"github.com/balticlsc/balticlsc-module/pkg/token"
)

// Routine is the processing step a module plugs into the node.
//
// Returning an error (or panicking) makes the node send one final failed
// ack for the task. On success nothing is sent automatically: the routine
// must report its outputs and its own final ack through the Task.
type Routine interface {
	Process(ctx context.Context, task *Task) error
}

// RoutineFunc adapts a function to Routine.
type RoutineFunc func(ctx context.Context, task *Task) error

func (f RoutineFunc) Process(ctx context.Context, task *Task) error { return f(ctx, task) }

// Reporter is the channel back to the batch manager. Errors from
// SendOutput and SendAck are informational: the node has already logged
// them, and a routine returning one would report a finished task as failed.
type Reporter interface {
	SenderUID() string
	SendOutput(ctx context.Context, out token.OutputToken) error
	SendAck(ctx context.Context, ack token.AckToken) error
	UpdateStatus(s status.ComputationStatus, progress float64)
}

// Task is one accepted input token bound to its resolved input pin.
// Input is a private clone with the token overrides applied; Outputs is
// the shared, read-only output index.
type Task struct {
	MsgUID   string
	Input    *pin.Pin
	Outputs  pin.Index
	Values   map[string]any
	SeqStack []token.SeqToken
	Reporter Reporter

	started bool
}

// Output sends an output token for the named output pin.
func (t *Task) Output(ctx context.Context, pinName string, values map[string]any, isFinal bool) error {
	if _, ok := t.Outputs.Get(pinName); !ok {
		return fmt.Errorf("no output pin named %q", pinName)
	}
	out, err := token.NewOutputToken(t.Reporter.SenderUID(), t.MsgUID, pinName, values, isFinal)
	if err != nil {
		return err
	}
	return t.Reporter.SendOutput(ctx, out)
}

// Complete sends the final successful ack for the task.
func (t *Task) Complete(ctx context.Context, note string) error {
	return t.Reporter.SendAck(ctx, token.Completed(t.Reporter.SenderUID(), note, t.MsgUID))
}

// Heartbeat sends a non-final ack.
func (t *Task) Heartbeat(ctx context.Context, note string) error {
	return t.Reporter.SendAck(ctx, token.Heartbeat(t.Reporter.SenderUID(), note, t.MsgUID))
}

func (t *Task) Progress(s status.ComputationStatus, progress float64) {
	t.Reporter.UpdateStatus(s, progress)
}
