// Package protocol defines the streaming wire messages. Client messages
// form a closed set of variants behind the ClientMessage interface so
// dispatch is an exhaustive type switch; unknown kinds fail at decode
// time instead of falling through a default branch.
//
// The wire shape is a JSON envelope:
//
//	{"type": "...", "timestamp": 1698765432.123, "line": "...",
//	 "sequence": 42, "metadata": {...}}
//
// Timestamps travel as unix seconds with fractional precision.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind is a message discriminator.
type Kind string

// Client -> server kinds.
const (
	KindLogLine           Kind = "log_line"
	KindStartSession      Kind = "start_session"
	KindEndSession        Kind = "end_session"
	KindHeartbeat         Kind = "heartbeat"
	KindCheckpoint        Kind = "checkpoint"
	KindSubscribeUpload   Kind = "subscribe_upload"
	KindUnsubscribeUpload Kind = "unsubscribe_upload"
)

// Server -> client kinds.
const (
	KindStatus  Kind = "status"
	KindAck     Kind = "ack"
	KindError   Kind = "error"
	KindMetrics Kind = "metrics"
)

// Decode errors.
var (
	ErrUnknownKind  = errors.New("protocol: unknown message kind")
	ErrMissingField = errors.New("protocol: missing required field")
)

// ClientMessage is the closed union of inbound message variants.
type ClientMessage interface {
	Kind() Kind
}

// LogLine carries one raw combat log line. Sequence is client-assigned
// when present; the server assigns one otherwise.
type LogLine struct {
	Timestamp float64
	Line      string
	Sequence  *uint64
}

func (LogLine) Kind() Kind { return KindLogLine }

// SessionMeta is the negotiated metadata on start_session.
type SessionMeta struct {
	ClientID      string `json:"client_id,omitempty"`
	ClientVersion string `json:"client_version,omitempty"`
	CharacterName string `json:"character_name,omitempty"`
	Realm         string `json:"realm,omitempty"`
	Region        string `json:"region,omitempty"`
}

// StartSession activates the stream and applies metadata.
type StartSession struct {
	Timestamp float64
	Meta      SessionMeta
}

func (StartSession) Kind() Kind { return KindStartSession }

// EndSession requests graceful stream teardown.
type EndSession struct {
	Timestamp float64
}

func (EndSession) Kind() Kind { return KindEndSession }

// Heartbeat refreshes liveness.
type Heartbeat struct {
	Timestamp float64
}

func (Heartbeat) Kind() Kind { return KindHeartbeat }

// Checkpoint acknowledges a sequence number.
type Checkpoint struct {
	Timestamp float64
	Sequence  uint64
}

func (Checkpoint) Kind() Kind { return KindCheckpoint }

// SubscribeUpload registers an out-of-band upload progress listener.
type SubscribeUpload struct {
	Timestamp float64
	UploadID  string
}

func (SubscribeUpload) Kind() Kind { return KindSubscribeUpload }

// UnsubscribeUpload removes an upload progress listener.
type UnsubscribeUpload struct {
	Timestamp float64
	UploadID  string
}

func (UnsubscribeUpload) Kind() Kind { return KindUnsubscribeUpload }

// envelope is the flat wire representation shared by all client kinds.
type envelope struct {
	Type      Kind            `json:"type"`
	Timestamp float64         `json:"timestamp"`
	Line      *string         `json:"line,omitempty"`
	Sequence  *uint64         `json:"sequence,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

type uploadMeta struct {
	UploadID string `json:"upload_id"`
}

// DecodeClient parses one inbound message. Unknown kinds and missing
// required fields are decode errors; the caller reports them to the
// client without closing the stream.
func DecodeClient(data []byte) (ClientMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol.DecodeClient: %w", err)
	}

	switch env.Type {
	case KindLogLine:
		if env.Line == nil || *env.Line == "" {
			return nil, fmt.Errorf("protocol.DecodeClient: log_line: line: %w", ErrMissingField)
		}
		return LogLine{Timestamp: env.Timestamp, Line: *env.Line, Sequence: env.Sequence}, nil

	case KindStartSession:
		var meta SessionMeta
		if len(env.Metadata) > 0 {
			if err := json.Unmarshal(env.Metadata, &meta); err != nil {
				return nil, fmt.Errorf("protocol.DecodeClient: start_session metadata: %w", err)
			}
		}
		return StartSession{Timestamp: env.Timestamp, Meta: meta}, nil

	case KindEndSession:
		return EndSession{Timestamp: env.Timestamp}, nil

	case KindHeartbeat:
		return Heartbeat{Timestamp: env.Timestamp}, nil

	case KindCheckpoint:
		if env.Sequence == nil {
			return nil, fmt.Errorf("protocol.DecodeClient: checkpoint: sequence: %w", ErrMissingField)
		}
		return Checkpoint{Timestamp: env.Timestamp, Sequence: *env.Sequence}, nil

	case KindSubscribeUpload, KindUnsubscribeUpload:
		var meta uploadMeta
		if len(env.Metadata) > 0 {
			if err := json.Unmarshal(env.Metadata, &meta); err != nil {
				return nil, fmt.Errorf("protocol.DecodeClient: upload metadata: %w", err)
			}
		}
		if meta.UploadID == "" {
			return nil, fmt.Errorf("protocol.DecodeClient: %s: upload_id: %w", env.Type, ErrMissingField)
		}
		if env.Type == KindSubscribeUpload {
			return SubscribeUpload{Timestamp: env.Timestamp, UploadID: meta.UploadID}, nil
		}
		return UnsubscribeUpload{Timestamp: env.Timestamp, UploadID: meta.UploadID}, nil

	default:
		return nil, fmt.Errorf("protocol.DecodeClient: %q: %w", env.Type, ErrUnknownKind)
	}
}

// EncodeClient renders a client message back to its wire envelope.
// DecodeClient(EncodeClient(m)) yields a field-for-field identical value.
func EncodeClient(m ClientMessage) ([]byte, error) {
	env := envelope{Type: m.Kind()}

	switch v := m.(type) {
	case LogLine:
		env.Timestamp = v.Timestamp
		env.Line = &v.Line
		env.Sequence = v.Sequence
	case StartSession:
		env.Timestamp = v.Timestamp
		meta, err := json.Marshal(v.Meta)
		if err != nil {
			return nil, fmt.Errorf("protocol.EncodeClient: %w", err)
		}
		env.Metadata = meta
	case EndSession:
		env.Timestamp = v.Timestamp
	case Heartbeat:
		env.Timestamp = v.Timestamp
	case Checkpoint:
		env.Timestamp = v.Timestamp
		env.Sequence = &v.Sequence
	case SubscribeUpload:
		env.Timestamp = v.Timestamp
		meta, err := json.Marshal(uploadMeta{UploadID: v.UploadID})
		if err != nil {
			return nil, fmt.Errorf("protocol.EncodeClient: %w", err)
		}
		env.Metadata = meta
	case UnsubscribeUpload:
		env.Timestamp = v.Timestamp
		meta, err := json.Marshal(uploadMeta{UploadID: v.UploadID})
		if err != nil {
			return nil, fmt.Errorf("protocol.EncodeClient: %w", err)
		}
		env.Metadata = meta
	default:
		return nil, fmt.Errorf("protocol.EncodeClient: %T: %w", m, ErrUnknownKind)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("protocol.EncodeClient: %w", err)
	}
	return data, nil
}

// ServerMessage is an outbound reply or notification.
type ServerMessage struct {
	Type        Kind           `json:"type"`
	Timestamp   float64        `json:"timestamp"`
	Message     string         `json:"message,omitempty"`
	SequenceAck *uint64        `json:"sequence_ack,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// Encode renders the server message to JSON.
func (m ServerMessage) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol.ServerMessage.Encode: %w", err)
	}
	return data, nil
}

func now() float64 {
	return float64(time.Now().UnixMicro()) / 1e6
}

// Status builds a status reply.
func Status(message string, data map[string]any) ServerMessage {
	return ServerMessage{Type: KindStatus, Timestamp: now(), Message: message, Data: data}
}

// Ack builds an acknowledgment reply for a sequence.
func Ack(sequence uint64, data map[string]any) ServerMessage {
	return ServerMessage{Type: KindAck, Timestamp: now(), SequenceAck: &sequence, Data: data}
}

// ErrorReply builds an error reply with a human-readable message.
func ErrorReply(message string, data map[string]any) ServerMessage {
	return ServerMessage{Type: KindError, Timestamp: now(), Message: message, Data: data}
}

// Metrics builds a metrics notification.
func Metrics(data map[string]any) ServerMessage {
	return ServerMessage{Type: KindMetrics, Timestamp: now(), Data: data}
}

// UnixTime converts a wire timestamp to time.Time. A zero or negative
// wire value yields the zero time so callers can substitute their own.
func UnixTime(ts float64) time.Time {
	if ts <= 0 {
		return time.Time{}
	}
	return time.UnixMicro(int64(ts * 1e6))
}
