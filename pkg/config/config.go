// Package config selects the store holding the pin configuration document.
package config

import (
	"errors"
	"fmt"

	"github.com/balticlsc/balticlsc-module/pkg/config/configstore"
	"github.com/balticlsc/balticlsc-module/pkg/config/filestore"
	"github.com/balticlsc/balticlsc-module/pkg/config/mongostore"
)

type StoreType int

const (
	FileStore StoreType = iota
	MongoStore
)

var (
	ErrInvalidStoreType = errors.New("invalid store type")
)

// Config combines a store with change notification, where supported.
type Config interface {
	configstore.ConfigStore
	Watch(onChange func()) error
}

type FileConfig struct {
	Path string `yaml:"path" json:"path"`
}

type MongoConfig struct {
	URI      string `yaml:"uri" json:"uri"`
	DBName   string `yaml:"dbName" json:"dbName"`
	CollName string `yaml:"collName" json:"collName"`
	ID       string `yaml:"id" json:"id"` // document id, e.g. the module name
}

// ParseStoreType maps the settings value ("file", "mongo") to a StoreType.
func ParseStoreType(s string) (StoreType, error) {
	switch s {
	case "", "file":
		return FileStore, nil
	case "mongo", "mongodb":
		return MongoStore, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidStoreType, s)
}

func NewStore(storeType StoreType, cfg any) (Config, error) {
	switch storeType {
	case FileStore:
		fileCfg, ok := cfg.(*FileConfig)
		if !ok {
			return nil, fmt.Errorf("invalid config type for file store, expected *FileConfig")
		}
		return filestore.New(fileCfg.Path), nil
	case MongoStore:
		mongoCfg, ok := cfg.(*MongoConfig)
		if !ok {
			return nil, fmt.Errorf("invalid config type for mongo store, expected *MongoConfig")
		}
		return mongostore.New(mongoCfg.URI, mongoCfg.DBName, mongoCfg.CollName, mongoCfg.ID)
	default:
		return nil, ErrInvalidStoreType
	}
}
