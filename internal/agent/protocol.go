// Package agent talks to the optional sboxagent daemon over a Unix stream
// socket using length-prefixed JSON frames. The agent is best-effort: every
// failure downgrades to "agent unavailable" and the pipeline continues with
// internal validation.
package agent

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// ProtocolVersion is the framed-JSON wire version.
const ProtocolVersion = 1

// MaxFrameSize bounds a single payload; larger frames are malformed.
const MaxFrameSize = 1 << 20

// Message type tokens.
const (
	TypeEvent     = "event"
	TypeCommand   = "command"
	TypeResponse  = "response"
	TypeHeartbeat = "heartbeat"
)

// Command tokens the client may send.
const (
	CommandPing     = "ping"
	CommandValidate = "validate"
	CommandInstall  = "install"
	CommandCheck    = "check"
)

// Response status tokens.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ErrFrameTooLarge rejects oversized frames before reading them.
var ErrFrameTooLarge = errors.New("frame exceeds size limit")

// ErrVersionMismatch rejects frames from a different protocol version.
var ErrVersionMismatch = errors.New("unsupported protocol version")

// Message is the wire envelope. Exactly one of the payload pointers is set,
// matching Type. Unknown JSON fields are ignored on decode.
type Message struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Timestamp string            `json:"timestamp"`
	Event     *EventPayload     `json:"event,omitempty"`
	Command   *CommandPayload   `json:"command,omitempty"`
	Response  *ResponsePayload  `json:"response,omitempty"`
	Heartbeat *HeartbeatPayload `json:"heartbeat,omitempty"`
}

// EventPayload forwards a pipeline event to the agent.
type EventPayload struct {
	EventType string         `json:"event_type"`
	Source    string         `json:"source"`
	Priority  int            `json:"priority"`
	Data      map[string]any `json:"data,omitempty"`
}

// CommandPayload is a client request.
type CommandPayload struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// ResponsePayload is the agent's answer to a command.
type ResponsePayload struct {
	Status    string         `json:"status"`
	RequestID string         `json:"request_id"`
	Data      map[string]any `json:"data,omitempty"`
	Errors    []string       `json:"errors,omitempty"`
}

// HeartbeatPayload reports liveness in either direction.
type HeartbeatPayload struct {
	AgentID string `json:"agent_id"`
	Status  string `json:"status"`
	Version string `json:"version"`
}

// NewMessage stamps an envelope with a fresh id and the current UTC time.
func NewMessage(msgType string) Message {
	return Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// WriteFrame encodes the message and writes one frame.
func WriteFrame(w io.Writer, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	header := make([]byte, 8)
	binary.BigEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(header[4:8], ProtocolVersion)
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one frame and decodes its envelope. Partial frames surface
// as read errors; callers treat any error as a broken connection.
func ReadFrame(r io.Reader) (Message, error) {
	header := make([]byte, 8)
	if _, err := io.ReadFull(r, header); err != nil {
		return Message{}, fmt.Errorf("read frame header: %w", err)
	}
	length := binary.BigEndian.Uint32(header[0:4])
	version := binary.BigEndian.Uint32(header[4:8])
	if version != ProtocolVersion {
		return Message{}, fmt.Errorf("%w: got %d", ErrVersionMismatch, version)
	}
	if length > MaxFrameSize {
		return Message{}, ErrFrameTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Message{}, fmt.Errorf("read frame payload: %w", err)
	}

	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, fmt.Errorf("decode frame: %w", err)
	}
	return msg, nil
}
