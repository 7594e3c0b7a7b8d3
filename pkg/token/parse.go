package token

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/balticlsc/balticlsc-module/internal/keys"
)

var (
	ErrUnknownField  = errors.New("unknown field")
	ErrMissingField  = errors.New("missing required field")
	ErrInvalidValues = errors.New("invalid token values")
)

var validate = validator.New()

// ParseError reports an inbound token whose shape does not match InputToken.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return "error while loading input token: " + e.Err.Error() }
func (e *ParseError) Unwrap() error { return e.Err }

// wire shape after key normalization
type rawInput struct {
	MsgUID        string          `json:"msg_uid"`
	PinName       string          `json:"pin_name"`
	Values        json.RawMessage `json:"values"`
	AccessType    string          `json:"access_type"`
	TokenSeqStack []rawSeq        `json:"token_seq_stack"`
}

type rawSeq struct {
	SeqUID  string `json:"seq_uid"`
	No      int    `json:"no"`
	IsFinal bool   `json:"is_final"`
}

var inputFields = map[string]bool{
	"msg_uid":         true,
	"pin_name":        true,
	"values":          true,
	"access_type":     true,
	"token_seq_stack": true,
}

var seqFields = map[string]bool{"seq_uid": true, "no": true, "is_final": true}

// ParseInput decodes a raw InputToken. Keys may be CamelCase or snake_case.
// Unknown keys, missing required keys and undecodable values are all
// reported as *ParseError.
func ParseInput(raw []byte) (*InputToken, error) {
	fields, err := normalizeObject(raw, inputFields)
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	for _, required := range []string{"msg_uid", "pin_name", "values"} {
		if _, ok := fields[required]; !ok {
			return nil, &ParseError{Err: fmt.Errorf("%w: %s", ErrMissingField, required)}
		}
	}
	if seq, ok := fields["token_seq_stack"]; ok {
		if fields["token_seq_stack"], err = normalizeSeqStack(seq); err != nil {
			return nil, &ParseError{Err: err}
		}
	}

	normalized, err := json.Marshal(fields)
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	var in rawInput
	if err := json.Unmarshal(normalized, &in); err != nil {
		return nil, &ParseError{Err: err}
	}

	values, err := decodeValues(in.Values)
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	tok := &InputToken{
		MsgUID:     in.MsgUID,
		PinName:    in.PinName,
		Values:     values,
		AccessType: in.AccessType,
	}
	for _, s := range in.TokenSeqStack {
		tok.SeqStack = append(tok.SeqStack, SeqToken(s))
	}
	if err := validate.Struct(tok); err != nil {
		return nil, &ParseError{Err: fmt.Errorf("%w: %v", ErrMissingField, err)}
	}
	return tok, nil
}

func normalizeObject(raw []byte, allowed map[string]bool) (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.New("token must be a JSON object")
	}
	out := make(map[string]json.RawMessage, len(obj))
	for k, v := range obj {
		name := keys.Snake(k)
		if !allowed[name] {
			return nil, fmt.Errorf("%w: %q", ErrUnknownField, k)
		}
		out[name] = v
	}
	return out, nil
}

func normalizeSeqStack(raw json.RawMessage) (json.RawMessage, error) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return raw, nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("token_seq_stack: %w", err)
	}
	normalized := make([]map[string]json.RawMessage, 0, len(entries))
	for _, e := range entries {
		obj, err := normalizeObject(e, seqFields)
		if err != nil {
			return nil, fmt.Errorf("token_seq_stack: %w", err)
		}
		normalized = append(normalized, obj)
	}
	return json.Marshal(normalized)
}

// decodeValues accepts the values payload either as JSON text (the batch
// manager's format) or as an inline JSON object.
func decodeValues(raw json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, fmt.Errorf("%w: values is null", ErrInvalidValues)
	}
	payload := trimmed
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValues, err)
		}
		payload = []byte(text)
	}
	var values map[string]any
	if err := json.Unmarshal(payload, &values); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValues, err)
	}
	if values == nil {
		values = map[string]any{}
	}
	return keys.SnakeMap(values), nil
}
