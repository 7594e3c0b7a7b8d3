package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balticlsc/balticlsc-module/pkg/gateway"
	"github.com/balticlsc/balticlsc-module/pkg/lg"
	"github.com/balticlsc/balticlsc-module/pkg/pin"
	"github.com/balticlsc/balticlsc-module/pkg/status"
	"github.com/balticlsc/balticlsc-module/pkg/token"
	"github.com/balticlsc/balticlsc-module/pkg/workerpool"
)

// memStore is an in-memory file tree keyed by full path.
type memStore struct {
	mu     sync.Mutex
	files  map[string][]byte
	closed bool
}

func newMemStore(files map[string]string) *memStore {
	m := &memStore{files: map[string][]byte{}}
	for k, v := range files {
		m.files[k] = []byte(v)
	}
	return m
}

func (m *memStore) List(dir string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for p := range m.files {
		if len(p) > len(dir)+1 && p[:len(dir)+1] == dir+"/" {
			names = append(names, p[len(dir)+1:])
		}
	}
	if names == nil {
		return nil, errors.New("550 no such directory")
	}
	sort.Strings(names)
	return names, nil
}

func (m *memStore) Fetch(file string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.files[file]
	if !ok {
		return nil, errors.New("550 not found")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memStore) Put(dir, name string, r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[dir+"/"+name] = b
	return nil
}

func (m *memStore) Close() error { m.closed = true; return nil }

type reporter struct {
	acks    []token.AckToken
	outputs []token.OutputToken
	updates []float64
}

func (r *reporter) SenderUID() string { return "module-1" }
func (r *reporter) SendOutput(_ context.Context, out token.OutputToken) error {
	r.outputs = append(r.outputs, out)
	return nil
}
func (r *reporter) SendAck(_ context.Context, ack token.AckToken) error {
	r.acks = append(r.acks, ack)
	return nil
}
func (r *reporter) UpdateStatus(_ status.ComputationStatus, progress float64) {
	r.updates = append(r.updates, progress)
}

type opened struct {
	stores map[string]*memStore
	calls  []string
}

func (o *opened) opener(ctx context.Context, p *pin.Pin) (Store, error) {
	host, _ := p.AccessCredential["host"].(string)
	o.calls = append(o.calls, host)
	s, ok := o.stores[host]
	if !ok {
		return nil, errors.New("connecting to FTP exceeded max retries = 3: refused")
	}
	return s, nil
}

func newTask(in *pin.Pin, out *pin.Pin, rep gateway.Reporter) *gateway.Task {
	return &gateway.Task{
		MsgUID:   "m-1",
		Input:    in,
		Outputs:  pin.Index{out.Name: out},
		Reporter: rep,
	}
}

func inputPin() *pin.Pin {
	return &pin.Pin{
		Name:             "Input",
		Type:             pin.Input,
		AccessType:       "ftp",
		AccessPath:       map[string]any{"resource_path": "/data/in"},
		AccessCredential: map[string]any{"host": "in-host", "user": "u"},
	}
}

func TestRelay_CopiesToConfiguredStore(t *testing.T) {
	src := newMemStore(map[string]string{"/data/in/a.jpg": "A", "/data/in/b.txt": "B"})
	dst := newMemStore(nil)
	o := &opened{stores: map[string]*memStore{"in-host": src, "out-host": dst}}
	out := &pin.Pin{
		Name: "Output", Type: pin.Output, AccessType: "ftp",
		AccessPath:       map[string]any{"resource_path": "/results"},
		AccessCredential: map[string]any{"host": "out-host", "user": "u"},
	}
	rep := &reporter{}

	r := New(Config{}, map[string]Opener{"ftp": o.opener})
	require.NoError(t, r.Process(context.Background(), newTask(inputPin(), out, rep)))

	assert.Equal(t, []string{"in-host", "out-host"}, o.calls)
	assert.Equal(t, []byte("A"), dst.files["/results/a.jpg"])
	assert.Equal(t, []byte("B"), dst.files["/results/b.txt"])
	assert.True(t, src.closed)
	assert.True(t, dst.closed)
	assert.Equal(t, []float64{0.5, 1}, rep.updates)

	require.Len(t, rep.outputs, 1)
	assert.Equal(t, "Output", rep.outputs[0].PinName)
	assert.Equal(t, "m-1", rep.outputs[0].BaseMsgUID)
	assert.JSONEq(t, `{"ResourcePath":"/results"}`, rep.outputs[0].Values)
	require.Len(t, rep.acks, 1)
	assert.True(t, rep.acks[0].IsFinal)
	assert.False(t, rep.acks[0].IsFailed)
	assert.Equal(t, []string{"m-1"}, rep.acks[0].MsgUIDs)
}

func TestRelay_FallsBackToInputCredentialAndFolder(t *testing.T) {
	src := newMemStore(map[string]string{"/data/in/a.jpg": "A", "/data/in/notes.md": "N"})
	o := &opened{stores: map[string]*memStore{"in-host": src}}
	out := &pin.Pin{Name: "Output", Type: pin.Output}
	rep := &reporter{}

	r := New(Config{Extensions: []string{".JPG", ".png"}}, map[string]Opener{"ftp": o.opener})
	require.NoError(t, r.Process(context.Background(), newTask(inputPin(), out, rep)))

	assert.Equal(t, []string{"in-host"}, o.calls, "one connection serves both pins")
	require.Len(t, rep.outputs, 1)
	var folder string
	for p := range src.files {
		if m := regexp.MustCompile(`^(/data/out_[0-9a-f]{10})/a\.jpg$`).FindStringSubmatch(p); m != nil {
			folder = m[1]
		}
	}
	require.NotEmpty(t, folder, "file copied into a generated folder")
	assert.NotContains(t, src.files, folder+"/notes.md")
	assert.JSONEq(t, `{"ResourcePath":"`+folder+`"}`, rep.outputs[0].Values)
}

func TestRelay_EqualCredentialsShareConnection(t *testing.T) {
	src := newMemStore(map[string]string{"/data/in/a.jpg": "A"})
	o := &opened{stores: map[string]*memStore{"in-host": src}}
	out := &pin.Pin{
		Name: "Output", Type: pin.Output, AccessType: "ftp",
		AccessPath:       "/data/copy",
		AccessCredential: map[string]any{"host": "in-host", "user": "u"},
	}
	r := New(Config{}, map[string]Opener{"ftp": o.opener})
	require.NoError(t, r.Process(context.Background(), newTask(inputPin(), out, &reporter{})))
	assert.Len(t, o.calls, 1)
	assert.Equal(t, []byte("A"), src.files["/data/copy/a.jpg"])
}

func TestRelay_Errors(t *testing.T) {
	out := &pin.Pin{Name: "Output", Type: pin.Output}
	tests := []struct {
		name    string
		in      func() *pin.Pin
		openers map[string]Opener
		outPin  string
		want    string
	}{
		{
			name: "no credential",
			in:   func() *pin.Pin { p := inputPin(); p.AccessCredential = nil; return p },
			want: "missing access credential",
		},
		{
			name: "no path",
			in:   func() *pin.Pin { p := inputPin(); p.AccessPath = nil; return p },
			want: "missing access path",
		},
		{
			name:   "no output pin",
			in:     inputPin,
			outPin: "Elsewhere",
			want:   `missing pin with name "Elsewhere"`,
		},
		{
			name: "unsupported access type",
			in:   func() *pin.Pin { p := inputPin(); p.AccessType = "s3"; return p },
			want: "unsupported access type",
		},
		{
			name: "connector exhausted",
			in:   func() *pin.Pin { p := inputPin(); p.AccessCredential = map[string]any{"host": "down"}; return p },
			want: "max retries = 3",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &opened{stores: map[string]*memStore{}}
			rep := &reporter{}
			r := New(Config{OutputPin: tt.outPin}, map[string]Opener{"ftp": o.opener})
			err := r.Process(context.Background(), newTask(tt.in(), out, rep))
			assert.ErrorContains(t, err, tt.want)
			assert.Empty(t, rep.acks, "failure acks are sent by the gateway")
			assert.Empty(t, rep.outputs)
		})
	}
}

// flakyNotifier accepts every message except successful final acks.
type flakyNotifier struct {
	mu   sync.Mutex
	acks []token.AckToken
}

func (n *flakyNotifier) SendAck(_ context.Context, ack token.AckToken) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.acks = append(n.acks, ack)
	if ack.IsFinal && !ack.IsFailed {
		return errors.New("batch manager returned status 502")
	}
	return nil
}

func (n *flakyNotifier) SendOutput(context.Context, token.OutputToken) error { return nil }

func (n *flakyNotifier) Acks() []token.AckToken {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]token.AckToken(nil), n.acks...)
}

func TestRelay_UndeliveredCompletionIsNotAFailure(t *testing.T) {
	inputs, outputs, err := pin.LoadJSON([]byte(`[
		{"PinName": "Input", "PinType": "input", "AccessType": "ftp",
		 "AccessPath": {"ResourcePath": "/data/in"}, "AccessCredential": {"Host": "in-host"}},
		{"PinName": "Output", "PinType": "output"}
	]`), lg.Discard)
	require.NoError(t, err)

	src := newMemStore(map[string]string{"/data/in/a.jpg": "A"})
	o := &opened{stores: map[string]*memStore{"in-host": src}}
	n := &flakyNotifier{}
	tracker := status.NewTracker()
	node := gateway.NewNode("module-1", inputs, outputs, n, tracker, lg.Discard)
	pool := workerpool.NewPool[*gateway.Task](1, 1, lg.Discard)
	defer pool.Stop(context.Background())
	gw := gateway.New(context.Background(), node, New(Config{}, map[string]Opener{"ftp": o.opener}), pool, gateway.Options{}, lg.Discard)

	payload, err := json.Marshal(map[string]any{"MsgUid": "m-1", "PinName": "Input", "Values": "{}"})
	require.NoError(t, err)
	require.True(t, gw.Submit(context.Background(), payload).Accepted)

	require.Eventually(t, func() bool { return node.InFlight() == 0 && len(n.Acks()) > 0 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	acks := n.Acks()
	require.Len(t, acks, 1, "no failed ack follows an undelivered completion")
	assert.True(t, acks[0].IsFinal)
	assert.False(t, acks[0].IsFailed)
	assert.NotEqual(t, status.Failed, tracker.Status())
}

func TestOutputFolder(t *testing.T) {
	assert.Regexp(t, `^/data/out_[0-9a-f]{10}$`, OutputFolder("/data/in"))
	assert.Regexp(t, `^/data/out_[0-9a-f]{10}$`, OutputFolder("/data/in/"))
	assert.NotEqual(t, OutputFolder("/x/y"), OutputFolder("/x/y"))
}
