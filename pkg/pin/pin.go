// Package pin models the named input/output connection points of a module
// and loads them from the pin configuration document.
package pin

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/balticlsc/balticlsc-module/internal/keys"
)

type Type string

const (
	Input  Type = "input"
	Output Type = "output"
)

// Attribute names as they appear, snake_cased, in a pin descriptor.
const (
	AttrName              = "pin_name"
	AttrType              = "pin_type"
	AttrAccessPath        = "access_path"
	AttrAccessType        = "access_type"
	AttrAccessCredential  = "access_credential"
	AttrTokenMultiplicity = "token_multiplicity"
	AttrDataMultiplicity  = "data_multiplicity"
	AttrValues            = "values"
)

// ValueResourcePath is the token/pin value key carrying a resource location.
const ValueResourcePath = "resource_path"

// Pin is a named connection point. AccessPath is opaque: either a plain
// string or an object such as {"resource_path": "/data/out"}.
type Pin struct {
	Name              string         `json:"PinName"`
	Type              Type           `json:"PinType"`
	AccessPath        any            `json:"AccessPath,omitempty"`
	AccessType        string         `json:"AccessType,omitempty"`
	AccessCredential  map[string]any `json:"AccessCredential,omitempty"`
	TokenMultiplicity string         `json:"TokenMultiplicity,omitempty"`
	DataMultiplicity  string         `json:"DataMultiplicity,omitempty"`
	Values            map[string]any `json:"Values,omitempty"`
}

func (p *Pin) String() string {
	return fmt.Sprintf("%s pin %q (access_type=%q)", p.Type, p.Name, p.AccessType)
}

// Clone returns a deep copy, so per-request overrides never leak into the
// statically loaded configuration.
func (p *Pin) Clone() *Pin {
	c := *p
	c.AccessPath = deepCopy(p.AccessPath)
	c.AccessCredential = copyMap(p.AccessCredential)
	c.Values = copyMap(p.Values)
	return &c
}

// ResourcePath returns the location described by AccessPath: the string
// itself, or the "resource_path" member of an object descriptor.
func (p *Pin) ResourcePath() (string, bool) {
	switch v := p.AccessPath.(type) {
	case string:
		return v, v != ""
	case map[string]any:
		s, ok := v[ValueResourcePath].(string)
		return s, ok && s != ""
	}
	return "", false
}

// Merge fills the optional attribute attr with tokenValue unless the pin
// already carries a non-empty configured value. It reports whether the
// token value was used. Object values get their keys snake_cased.
func (p *Pin) Merge(attr string, tokenValue any) (bool, error) {
	switch attr {
	case AttrAccessCredential:
		if len(p.AccessCredential) > 0 {
			p.AccessCredential = keys.SnakeMap(p.AccessCredential)
			return false, nil
		}
		if isEmpty(tokenValue) {
			return false, nil
		}
		m, ok := tokenValue.(map[string]any)
		if !ok {
			return false, fmt.Errorf("%w: %s must be an object, got %T", ErrInvalidAttribute, attr, tokenValue)
		}
		p.AccessCredential = keys.SnakeMap(m)
		return true, nil
	case AttrAccessPath:
		if !isEmpty(p.AccessPath) {
			p.AccessPath = snakeIfMap(p.AccessPath)
			return false, nil
		}
		if isEmpty(tokenValue) {
			return false, nil
		}
		p.AccessPath = snakeIfMap(tokenValue)
		return true, nil
	case AttrAccessType:
		if p.AccessType != "" {
			return false, nil
		}
		if isEmpty(tokenValue) {
			return false, nil
		}
		s, ok := tokenValue.(string)
		if !ok {
			return false, fmt.Errorf("%w: %s must be a string, got %T", ErrInvalidAttribute, attr, tokenValue)
		}
		p.AccessType = s
		return true, nil
	}
	return false, fmt.Errorf("%w: %s is not an optional attribute of a pin", ErrInvalidAttribute, attr)
}

// Index maps pin names to pins of one type. It is read-only once loaded.
type Index map[string]*Pin

func (ix Index) Get(name string) (*Pin, bool) {
	p, ok := ix[name]
	return p, ok
}

func (ix Index) Len() int { return len(ix) }

// Names returns the pin names in lexical order.
func (ix Index) Names() []string {
	names := make([]string, 0, len(ix))
	for n := range ix {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func snakeIfMap(v any) any {
	if m, ok := v.(map[string]any); ok {
		return keys.SnakeMap(m)
	}
	return v
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopy(v)
	}
	return out
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	}
	return v
}
