// Package gateway accepts input tokens, resolves them against the input
// pins and runs the module's routine for each accepted token on a bounded
// worker pool.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/balticlsc/balticlsc-module/pkg/lg"
	"github.com/balticlsc/balticlsc-module/pkg/pin"
	"github.com/balticlsc/balticlsc-module/pkg/status"
	"github.com/balticlsc/balticlsc-module/pkg/token"
	"github.com/balticlsc/balticlsc-module/pkg/workerpool"
)

// Result is the synchronous answer to a submitted token. It says nothing
// about the outcome of the routine.
type Result struct {
	Accepted bool
	MsgUID   string
	Code     string
	Err      error
}

type Options struct {
	// TaskTimeout bounds each routine run; zero means no limit.
	TaskTimeout time.Duration
}

type Gateway struct {
	node    *Node
	routine Routine
	pool    *workerpool.Pool[*Task]
	ctx     context.Context
	opts    Options
	log     lg.Logger
}

// New builds a gateway. Tasks run under ctx, so cancelling it stops
// queued tasks from starting and cancels running ones.
func New(ctx context.Context, node *Node, routine Routine, pool *workerpool.Pool[*Task], opts Options, log lg.Logger) *Gateway {
	if log == nil {
		log = lg.Discard
	}
	return &Gateway{node: node, routine: routine, pool: pool, ctx: ctx, opts: opts, log: log}
}

func (g *Gateway) Node() *Node { return g.node }

// Submit parses raw, resolves its input pin and dispatches a task.
//
// A malformed token is acknowledged as failed for the placeholder id
// "empty". A token for an unknown pin is only rejected. Any failure after
// the pin is resolved is acknowledged as failed for the token's msg_uid.
func (g *Gateway) Submit(ctx context.Context, raw []byte) Result {
	ctx = context.WithoutCancel(ctx)
	reqID := uuid.NewString()
	log := g.log.With(lg.String("request_id", reqID))

	tok, err := token.ParseInput(raw)
	if err != nil {
		log.Warn("input token rejected", lg.Err(err))
		g.node.fail(ctx, token.EmptyMsgUID, err.Error())
		return Result{Code: CodeTokenParse, Err: err}
	}
	log = log.With(lg.String("msg_uid", tok.MsgUID), lg.String("pin", tok.PinName))

	in, ok := g.node.Inputs.Get(tok.PinName)
	if !ok {
		err := &MissingPinError{MsgUID: tok.MsgUID, PinName: tok.PinName}
		log.Warn("input token rejected", lg.Err(err))
		return Result{MsgUID: tok.MsgUID, Code: CodeMissingPin, Err: err}
	}

	if err := g.dispatch(log, tok, in); err != nil {
		derr := &DispatchError{MsgUID: tok.MsgUID, Err: err}
		log.Error("dispatch failed", lg.Err(derr))
		g.node.fail(ctx, tok.MsgUID, derr.Error())
		code := CodeDispatch
		if errors.Is(err, workerpool.ErrSaturated) {
			code = CodePoolSaturated
		}
		return Result{MsgUID: tok.MsgUID, Code: code, Err: derr}
	}
	log.Info("input token accepted")
	return Result{Accepted: true, MsgUID: tok.MsgUID}
}

func (g *Gateway) dispatch(log lg.Logger, tok *token.InputToken, in *pin.Pin) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	resolved, err := resolve(tok, in)
	if err != nil {
		return err
	}
	task := &Task{
		MsgUID:   tok.MsgUID,
		Input:    resolved,
		Outputs:  g.node.Outputs,
		Values:   tok.Values,
		SeqStack: tok.SeqStack,
		Reporter: g.node,
	}

	g.node.begin()
	jobCtx := lg.Attach(g.ctx, log)
	err = g.pool.TrySubmit(workerpool.Job[*Task]{
		Payload: task,
		Ctx:     jobCtx,
		Fn:      g.execute,
		CleanupFunc: func() {
			if !task.started {
				log.Warn("task cancelled before start")
				g.node.fail(context.WithoutCancel(jobCtx), task.MsgUID, "task cancelled before start")
			}
			g.node.end()
		},
	})
	if err != nil {
		g.node.end()
		return err
	}
	return nil
}

// resolve clones the configured pin and fills the access attributes the
// configuration leaves empty from the token.
func resolve(tok *token.InputToken, in *pin.Pin) (*pin.Pin, error) {
	p := in.Clone()
	accessType := tok.Values[pin.AttrAccessType]
	if accessType == nil || accessType == "" {
		accessType = tok.AccessType
	}
	overrides := []struct {
		attr  string
		value any
	}{
		{pin.AttrAccessCredential, tok.Values[pin.AttrAccessCredential]},
		{pin.AttrAccessPath, tok.Values[pin.ValueResourcePath]},
		{pin.AttrAccessType, accessType},
	}
	for _, o := range overrides {
		if _, err := p.Merge(o.attr, o.value); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// execute runs the routine. Errors and panics become a final failed ack
// and drive the status to Failed.
func (g *Gateway) execute(ctx context.Context, task *Task) error {
	task.started = true
	if g.opts.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.TaskTimeout)
		defer cancel()
	}
	log := lg.FromContext(ctx)
	start := time.Now()

	err := g.invoke(ctx, task)
	if err == nil {
		log.Info("task finished", lg.Duration("elapsed", time.Since(start)))
		return nil
	}
	perr := &ProcessingError{MsgUID: task.MsgUID, Err: err}
	log.Error("task failed", lg.Duration("elapsed", time.Since(start)), lg.Err(err))
	g.node.UpdateStatus(status.Failed, 0)
	g.node.fail(context.WithoutCancel(ctx), task.MsgUID, err.Error())
	return perr
}

func (g *Gateway) invoke(ctx context.Context, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			lg.FromContext(ctx).Error("routine panicked", lg.Any("panic", r), lg.String("stack", string(debug.Stack())))
			err = fmt.Errorf("routine panicked: %v", r)
		}
	}()
	return g.routine.Process(ctx, task)
}
