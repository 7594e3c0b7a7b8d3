// Package relay is the module's routine: it copies every file found under
// the input pin's resource path to the output pin and reports the output
// folder to the batch manager.
package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"reflect"
	"strings"

	"github.com/google/uuid"

	"github.com/balticlsc/balticlsc-module/pkg/gateway"
	"github.com/balticlsc/balticlsc-module/pkg/lg"
	"github.com/balticlsc/balticlsc-module/pkg/pin"
	"github.com/balticlsc/balticlsc-module/pkg/status"
)

// DefaultOutputPin is used when the relay is not told which pin to write.
const DefaultOutputPin = "Output"

// Store is the file access the relay needs from a connector.
type Store interface {
	List(dir string) ([]string, error)
	Fetch(file string) (io.ReadCloser, error)
	Put(dir, name string, r io.Reader) error
	Close() error
}

// Opener connects to the resource described by a resolved pin.
type Opener func(ctx context.Context, p *pin.Pin) (Store, error)

type Config struct {
	OutputPin string
	// Extensions limits the copied files, e.g. ".jpg". Empty copies all.
	Extensions []string
}

type Relay struct {
	cfg     Config
	openers map[string]Opener
}

var _ gateway.Routine = (*Relay)(nil)

// New returns a relay. openers are keyed by pin access type.
func New(cfg Config, openers map[string]Opener) *Relay {
	if cfg.OutputPin == "" {
		cfg.OutputPin = DefaultOutputPin
	}
	return &Relay{cfg: cfg, openers: openers}
}

func (r *Relay) Process(ctx context.Context, task *gateway.Task) error {
	log := lg.FromContext(ctx)
	in := task.Input
	if len(in.AccessCredential) == 0 {
		return fmt.Errorf("missing access credential in the input pin %s", in)
	}
	src, ok := in.ResourcePath()
	if !ok {
		return fmt.Errorf("missing access path in the input pin %s", in)
	}

	configured, ok := task.Outputs.Get(r.cfg.OutputPin)
	if !ok {
		return fmt.Errorf("missing pin with name %q in output pins config", r.cfg.OutputPin)
	}
	out := configured.Clone()
	shared := false
	if len(out.AccessCredential) == 0 {
		log.Info("output pin has no access credential, using the input one")
		out.AccessCredential = in.AccessCredential
		shared = true
	}
	if out.AccessType == "" {
		out.AccessType = in.AccessType
	}
	if !shared {
		shared = out.AccessType == in.AccessType && reflect.DeepEqual(out.AccessCredential, in.AccessCredential)
	}
	dst, ok := out.ResourcePath()
	if !ok {
		dst = OutputFolder(src)
		log.Info("output pin has no resource path, using a generated folder", lg.String("folder", dst))
	}

	inStore, err := r.open(ctx, in)
	if err != nil {
		return err
	}
	defer inStore.Close()
	outStore := inStore
	if !shared {
		if outStore, err = r.open(ctx, out); err != nil {
			return err
		}
		defer outStore.Close()
	}

	names, err := inStore.List(src)
	if err != nil {
		return err
	}
	names = r.filter(log, names)
	log.Info("copying files", lg.String("from", src), lg.String("to", dst), lg.Int("files", len(names)))
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := copyFile(inStore, outStore, path.Join(src, name), dst, name); err != nil {
			return err
		}
		task.Progress(status.Working, float64(i+1)/float64(len(names)))
	}

	// the copy succeeded; a lost token or ack does not undo it
	if err := task.Output(ctx, out.Name, map[string]any{pin.ValueResourcePath: dst}, true); err != nil {
		log.Warn("output token not delivered", lg.Err(err))
	}
	if err := task.Complete(ctx, fmt.Sprintf("copied %d files to %s", len(names), dst)); err != nil {
		log.Warn("completion ack not delivered", lg.Err(err))
	}
	return nil
}

func (r *Relay) open(ctx context.Context, p *pin.Pin) (Store, error) {
	opener, ok := r.openers[strings.ToLower(p.AccessType)]
	if !ok {
		return nil, fmt.Errorf("unsupported access type %q on %s", p.AccessType, p)
	}
	return opener(ctx, p)
}

func (r *Relay) filter(log lg.Logger, names []string) []string {
	if len(r.cfg.Extensions) == 0 {
		return names
	}
	kept := names[:0:0]
	for _, name := range names {
		ext := strings.ToLower(path.Ext(name))
		matched := false
		for _, want := range r.cfg.Extensions {
			if ext == strings.ToLower(want) {
				matched = true
				break
			}
		}
		if !matched {
			log.Warn("wrong format of the file, omitting", lg.String("file", name))
			continue
		}
		kept = append(kept, name)
	}
	return kept
}

// copyFile buffers the file so the source transfer is finished before the
// upload starts; both may share one FTP control connection.
func copyFile(from, to Store, file, dir, name string) error {
	rc, err := from.Fetch(file)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	_, err = io.Copy(&buf, rc)
	if err = errors.Join(err, rc.Close()); err != nil {
		return fmt.Errorf("download %s: %w", file, err)
	}
	return to.Put(dir, name, &buf)
}

// OutputFolder derives a fresh folder next to the input one:
// "/data/in" gives "/data/out_<10 hex chars>".
func OutputFolder(input string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return path.Join(path.Dir(path.Clean(input)), "out_"+id[:10])
}
