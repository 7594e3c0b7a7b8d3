package gateway

import (
	"context"
	"sync"

	"github.com/balticlsc/balticlsc-module/pkg/lg"
	"github.com/balticlsc/balticlsc-module/pkg/pin"
	"github.com/balticlsc/balticlsc-module/pkg/status"
	"github.com/balticlsc/balticlsc-module/pkg/token"
)

// Notifier delivers tokens to the batch manager.
type Notifier interface {
	SendAck(ctx context.Context, ack token.AckToken) error
	SendOutput(ctx context.Context, out token.OutputToken) error
}

// Node is the state shared by the gateway and every task: the pin
// indexes, the notifier and the status tracker.
type Node struct {
	senderUID string
	Inputs    pin.Index
	Outputs   pin.Index
	notifier  Notifier
	tracker   *status.Tracker
	log       lg.Logger

	mu       sync.Mutex
	inflight int
}

var _ Reporter = (*Node)(nil)

func NewNode(senderUID string, inputs, outputs pin.Index, notifier Notifier, tracker *status.Tracker, log lg.Logger) *Node {
	if tracker == nil {
		tracker = status.NewTracker()
	}
	if log == nil {
		log = lg.Discard
	}
	return &Node{
		senderUID: senderUID,
		Inputs:    inputs,
		Outputs:   outputs,
		notifier:  notifier,
		tracker:   tracker,
		log:       log,
	}
}

func (n *Node) SenderUID() string { return n.senderUID }

func (n *Node) Status() status.JobStatus { return n.tracker.Read() }

// SendAck delivers ack. Delivery failures are logged and returned; they
// are never retried.
func (n *Node) SendAck(ctx context.Context, ack token.AckToken) error {
	if err := n.notifier.SendAck(ctx, ack); err != nil {
		n.log.Error("ack not delivered", lg.Strings("msg_uids", ack.MsgUIDs), lg.Err(err))
		return err
	}
	return nil
}

func (n *Node) SendOutput(ctx context.Context, out token.OutputToken) error {
	if err := n.notifier.SendOutput(ctx, out); err != nil {
		n.log.Error("output token not delivered",
			lg.String("msg_uid", out.BaseMsgUID), lg.String("pin", out.PinName), lg.Err(err))
		return err
	}
	return nil
}

func (n *Node) UpdateStatus(s status.ComputationStatus, progress float64) {
	n.tracker.Update(s, progress)
}

// fail sends the final failed ack for msgUID.
func (n *Node) fail(ctx context.Context, msgUID, note string) {
	_ = n.SendAck(ctx, token.Failed(n.senderUID, note, msgUID))
}

// begin marks a task in flight and the node Working.
func (n *Node) begin() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inflight++
	n.tracker.Update(status.Working, 0)
}

// end releases a task. The last one out resets the status to Idle unless
// it is Failed.
func (n *Node) end() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inflight--
	if n.inflight > 0 {
		return
	}
	if !n.tracker.ResetIdle() {
		n.log.Debug("status kept after task", lg.String("status", n.tracker.Status().String()))
	}
}

// InFlight is the number of accepted, unfinished tasks.
func (n *Node) InFlight() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.inflight
}
