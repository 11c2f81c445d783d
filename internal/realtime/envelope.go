package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Kind string

const (
	KindRequestData  Kind = "REQUEST_DATA"
	KindPing         Kind = "PING"
	KindPong         Kind = "PONG"
	KindDataSnapshot Kind = "DATA_SNAPSHOT"
	KindDataUpdate   Kind = "DATA_UPDATE"
	KindError        Kind = "ERROR"
)

// Envelope is the unit exchanged on the real-time channel in both directions.
// Data is kept raw so the hub forwards collections without inspecting them.
type Envelope struct {
	Type      Kind            `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

var errMissingType = errors.New("envelope: missing type")

// NewEnvelope builds a control envelope (REQUEST_DATA, PING, PONG).
func NewEnvelope(kind Kind, at time.Time) Envelope {
	return Envelope{Type: kind, Timestamp: at.UnixMilli()}
}

func NewErrorEnvelope(msg string, at time.Time) Envelope {
	return Envelope{Type: KindError, Message: msg, Timestamp: at.UnixMilli()}
}

// NewDataEnvelope serializes payload once into a DATA_SNAPSHOT or DATA_UPDATE.
func NewDataEnvelope(kind Kind, payload any, at time.Time) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: marshal %s payload: %w", kind, err)
	}
	return Envelope{Type: kind, Data: data, Timestamp: at.UnixMilli()}, nil
}

// HasPayload reports whether the kind carries data or a message.
func (k Kind) HasPayload() bool {
	switch k {
	case KindDataSnapshot, KindDataUpdate, KindError:
		return true
	}
	return false
}

func (k Kind) Known() bool {
	switch k {
	case KindRequestData, KindPing, KindPong, KindDataSnapshot, KindDataUpdate, KindError:
		return true
	}
	return false
}

func EncodeEnvelope(e Envelope) ([]byte, error) {
	if !e.Type.HasPayload() {
		e.Data = nil
		e.Message = ""
	}
	return json.Marshal(e)
}

func DecodeEnvelope(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, fmt.Errorf("envelope: decode: %w", err)
	}
	if e.Type == "" {
		return Envelope{}, errMissingType
	}
	return e, nil
}
