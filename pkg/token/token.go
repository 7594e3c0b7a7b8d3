// Package token defines the control-plane messages exchanged with the batch
// manager: input tokens that trigger work, output tokens that report
// produced data and acknowledgment tokens that report outcomes.
package token

import (
	"encoding/json"
	"fmt"

	"github.com/balticlsc/balticlsc-module/internal/keys"
)

// EmptyMsgUID scopes an acknowledgment to the whole module when no message
// id is known, e.g. for configuration or parse failures.
const EmptyMsgUID = "empty"

// SeqToken is one entry of a multi-part sequence stack.
type SeqToken struct {
	SeqUID  string `json:"SeqUid"`
	No      int    `json:"No"`
	IsFinal bool   `json:"IsFinal"`
}

// InputToken is a unit of work addressed to one input pin. Values holds
// the decoded, snake_cased payload.
type InputToken struct {
	MsgUID     string         `json:"MsgUid" validate:"required"`
	PinName    string         `json:"PinName" validate:"required"`
	Values     map[string]any `json:"Values"`
	AccessType string         `json:"AccessType,omitempty"`
	SeqStack   []SeqToken     `json:"TokenSeqStack,omitempty"`
}

// OutputToken reports data produced for base message BaseMsgUID.
type OutputToken struct {
	PinName    string `json:"PinName"`
	SenderUID  string `json:"SenderUid"`
	Values     string `json:"Values"`
	BaseMsgUID string `json:"BaseMsgUid"`
	IsFinal    bool   `json:"IsFinal"`
}

// NewOutputToken serializes values with CamelCase keys, the casing the
// batch manager expects inside the Values string.
func NewOutputToken(senderUID, baseMsgUID, pinName string, values map[string]any, isFinal bool) (OutputToken, error) {
	encoded, err := json.Marshal(keys.CamelMap(values))
	if err != nil {
		return OutputToken{}, fmt.Errorf("encode output values: %w", err)
	}
	if values == nil {
		encoded = []byte("{}")
	}
	return OutputToken{
		PinName:    pinName,
		SenderUID:  senderUID,
		Values:     string(encoded),
		BaseMsgUID: baseMsgUID,
		IsFinal:    isFinal,
	}, nil
}

// AckToken reports control status for one or more messages.
// IsFinal && IsFailed marks a permanent failure, IsFinal alone a successful
// completion, and !IsFinal a liveness heartbeat.
type AckToken struct {
	SenderUID string   `json:"SenderUid"`
	MsgUIDs   []string `json:"MsgUids"`
	Note      string   `json:"Note"`
	IsFinal   bool     `json:"IsFinal"`
	IsFailed  bool     `json:"IsFailed"`
}

// NewAckToken builds an ack; an empty id list is scoped to EmptyMsgUID.
func NewAckToken(senderUID string, msgUIDs []string, isFinal, isFailed bool, note string) AckToken {
	if len(msgUIDs) == 0 {
		msgUIDs = []string{EmptyMsgUID}
	}
	ids := make([]string, len(msgUIDs))
	copy(ids, msgUIDs)
	return AckToken{
		SenderUID: senderUID,
		MsgUIDs:   ids,
		Note:      note,
		IsFinal:   isFinal,
		IsFailed:  isFailed,
	}
}

// Failed is a final failed ack for msgUIDs.
func Failed(senderUID string, note string, msgUIDs ...string) AckToken {
	return NewAckToken(senderUID, msgUIDs, true, true, note)
}

// Completed is a final successful ack for msgUIDs.
func Completed(senderUID string, note string, msgUIDs ...string) AckToken {
	return NewAckToken(senderUID, msgUIDs, true, false, note)
}

// Heartbeat is a non-final liveness ack for msgUIDs.
func Heartbeat(senderUID string, note string, msgUIDs ...string) AckToken {
	return NewAckToken(senderUID, msgUIDs, false, false, note)
}
