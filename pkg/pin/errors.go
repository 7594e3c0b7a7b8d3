package pin

import (
	"errors"
	"fmt"
)

var (
	ErrMissingAttribute = errors.New("required attribute is missing")
	ErrUnknownType      = errors.New("unknown pin type")
	ErrDuplicatePin     = errors.New("duplicate pin name")
	ErrInvalidAttribute = errors.New("invalid attribute value")
	ErrEmptyConfig      = errors.New("pin configuration is empty")
)

// ConfigError reports an invalid or unreadable pin configuration. A node
// holding a ConfigError must not serve tokens.
type ConfigError struct {
	Source string // file path or store id, may be empty
	Index  int    // offending descriptor, -1 when the document itself is bad
	Err    error
}

func (e *ConfigError) Error() string {
	where := "pin configuration"
	if e.Source != "" {
		where = fmt.Sprintf("pin configuration %s", e.Source)
	}
	if e.Index >= 0 {
		return fmt.Sprintf("error while loading %s: descriptor #%d: %v", where, e.Index, e.Err)
	}
	return fmt.Sprintf("error while loading %s: %v", where, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
