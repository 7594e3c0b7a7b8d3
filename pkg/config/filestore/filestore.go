package filestore

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/balticlsc/balticlsc-module/pkg/config/configstore"
)

var _ configstore.ConfigStore = (*FileStore)(nil)

// FileStore keeps the document in a local file. Files ending in .json are
// decoded as JSON, everything else as YAML.
type FileStore struct {
	Path string
}

func New(path string) *FileStore {
	return &FileStore{Path: path}
}

func (f *FileStore) isJSON() bool {
	return strings.EqualFold(filepath.Ext(f.Path), ".json")
}

func (f *FileStore) Load(out any) error {
	if out == nil {
		return fmt.Errorf("Load: output parameter must not be nil")
	}

	bytes, err := os.ReadFile(f.Path)
	if err != nil {
		return fmt.Errorf("Load: failed to read file %s: %w", f.Path, err)
	}

	if len(bytes) == 0 {
		return fmt.Errorf("Load: config file %s is empty", f.Path)
	}

	if f.isJSON() {
		if err := json.Unmarshal(bytes, out); err != nil {
			return fmt.Errorf("Load: failed to parse JSON in %s: %w", f.Path, err)
		}
		return nil
	}
	if err := yaml.Unmarshal(bytes, out); err != nil {
		return fmt.Errorf("Load: failed to parse YAML in %s: %w", f.Path, err)
	}
	return nil
}

// Watch calls onChange after every write to the file. The watcher lives for
// the rest of the process.
func (f *FileStore) Watch(onChange func()) error {
	if onChange == nil {
		return fmt.Errorf("onChange callback cannot be nil")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := watcher.Add(f.Path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch file %s: %w", f.Path, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write != 0 {
					onChange()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("Watcher error on %s: %v", f.Path, err)
			}
		}
	}()

	return nil
}
