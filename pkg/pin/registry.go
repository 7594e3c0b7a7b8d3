package pin

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/balticlsc/balticlsc-module/internal/keys"
	"github.com/balticlsc/balticlsc-module/pkg/config/configstore"
	"github.com/balticlsc/balticlsc-module/pkg/config/filestore"
	"github.com/balticlsc/balticlsc-module/pkg/lg"
)

var validate = validator.New()

// required part of a descriptor, checked before anything else is read
type header struct {
	Name string `validate:"required"`
	Type string `validate:"required,oneof=input output"`
}

// aliases accepted for the two required attributes
var attrAliases = map[string]string{
	"name": AttrName,
	"type": AttrType,
}

var optionalAttrs = map[string]bool{
	AttrAccessPath:        true,
	AttrAccessType:        true,
	AttrAccessCredential:  true,
	AttrTokenMultiplicity: true,
	AttrDataMultiplicity:  true,
	AttrValues:            true,
}

// Load indexes an ordered list of pin descriptors by type and name. Any bad
// descriptor fails the whole load; unknown attributes are only logged.
func Load(descriptors []map[string]any, log lg.Logger) (inputs, outputs Index, err error) {
	if log == nil {
		log = lg.Discard
	}
	inputs, outputs = Index{}, Index{}
	for i, d := range descriptors {
		p, err := parseDescriptor(d, log)
		if err != nil {
			return nil, nil, &ConfigError{Index: i, Err: err}
		}
		target := inputs
		if p.Type == Output {
			target = outputs
		}
		if _, dup := target[p.Name]; dup {
			return nil, nil, &ConfigError{Index: i, Err: fmt.Errorf("%w: %s pin %q", ErrDuplicatePin, p.Type, p.Name)}
		}
		target[p.Name] = p
	}
	return inputs, outputs, nil
}

// LoadJSON parses a JSON array of descriptors and indexes it with Load.
func LoadJSON(data []byte, log lg.Logger) (Index, Index, error) {
	var descriptors []map[string]any
	if len(data) == 0 {
		return nil, nil, &ConfigError{Index: -1, Err: ErrEmptyConfig}
	}
	if err := json.Unmarshal(data, &descriptors); err != nil {
		return nil, nil, &ConfigError{Index: -1, Err: err}
	}
	return Load(descriptors, log)
}

// LoadStore reads the descriptor list from a configuration store (file or
// MongoDB) and indexes it with Load. source names the store in errors.
func LoadStore(store configstore.ConfigStore, source string, log lg.Logger) (Index, Index, error) {
	var descriptors []map[string]any
	if err := store.Load(&descriptors); err != nil {
		return nil, nil, &ConfigError{Source: source, Index: -1, Err: err}
	}
	inputs, outputs, err := Load(descriptors, log)
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		cfgErr.Source = source
	}
	return inputs, outputs, err
}

// LoadFile reads a JSON or YAML descriptor file.
func LoadFile(path string, log lg.Logger) (Index, Index, error) {
	return LoadStore(filestore.New(path), path, log)
}

func parseDescriptor(raw map[string]any, log lg.Logger) (*Pin, error) {
	attrs := make(map[string]any, len(raw))
	for k, v := range raw {
		name := keys.Snake(k)
		if alias, ok := attrAliases[name]; ok {
			name = alias
		}
		if _, dup := attrs[name]; dup {
			return nil, fmt.Errorf("%w: %s given more than once", ErrInvalidAttribute, name)
		}
		attrs[name] = v
	}

	var h header
	h.Name, _ = attrs[AttrName].(string)
	h.Type, _ = attrs[AttrType].(string)
	if err := validate.Struct(h); err != nil {
		return nil, describe(err, attrs)
	}

	p := &Pin{Name: h.Name, Type: Type(h.Type)}
	for name, value := range attrs {
		if name == AttrName || name == AttrType {
			continue
		}
		if !optionalAttrs[name] {
			log.Warn("unknown attribute in the pin config, omitting",
				lg.String("pin", p.Name), lg.String("attribute", name))
			continue
		}
		if err := p.set(name, value); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Pin) set(name string, value any) error {
	if value == nil {
		return nil
	}
	switch name {
	case AttrAccessPath:
		p.AccessPath = snakeIfMap(value)
	case AttrAccessType:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("%w: %s must be a string, got %T", ErrInvalidAttribute, name, value)
		}
		p.AccessType = s
	case AttrAccessCredential:
		m, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: %s must be an object, got %T", ErrInvalidAttribute, name, value)
		}
		p.AccessCredential = keys.SnakeMap(m)
	case AttrValues:
		m, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: %s must be an object, got %T", ErrInvalidAttribute, name, value)
		}
		p.Values = m
	case AttrTokenMultiplicity:
		p.TokenMultiplicity = fmt.Sprint(value)
	case AttrDataMultiplicity:
		p.DataMultiplicity = fmt.Sprint(value)
	}
	return nil
}

// describe turns validator output into the attribute vocabulary of the
// configuration document.
func describe(err error, attrs map[string]any) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	attr := AttrName
	if fe.Field() == "Type" {
		attr = AttrType
	}
	if fe.Tag() == "oneof" {
		return fmt.Errorf("%w: %q", ErrUnknownType, attrs[AttrType])
	}
	if _, present := attrs[attr]; present {
		return fmt.Errorf("%w: %s must be a non-empty string, got %v", ErrInvalidAttribute, attr, attrs[attr])
	}
	return fmt.Errorf("%w: %q", ErrMissingAttribute, attr)
}
