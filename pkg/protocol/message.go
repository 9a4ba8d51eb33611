package protocol

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Message is a structured payload carried in one frame. Fields hold
// JSON-like values: nil, bool, numbers, string, []any and map[string]any.
// Numbers always decode as float64.
type Message struct {
	Fields map[string]any
}

// NewMessage creates a Message holding fields.
func NewMessage(fields map[string]any) *Message {
	return &Message{Fields: fields}
}

// Encode encodes the message into bytes using protobuf
func (m *Message) Encode() ([]byte, error) {
	pbMsg, err := m.toProto()
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	data, err := proto.Marshal(pbMsg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

// Decode decodes bytes into a message using protobuf
func (m *Message) Decode(data []byte) error {
	pbMsg := &structpb.Struct{}
	if err := proto.Unmarshal(data, pbMsg); err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}
	m.fromProto(pbMsg)
	return nil
}

// String returns the string field key, if present.
func (m *Message) String(key string) (string, bool) {
	s, ok := m.Fields[key].(string)
	return s, ok
}

// Number returns the numeric field key, if present.
func (m *Message) Number(key string) (float64, bool) {
	switch v := m.Fields[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// toProto converts the Message to a protobuf Struct.
func (m *Message) toProto() (*structpb.Struct, error) {
	if m.Fields == nil {
		return &structpb.Struct{}, nil
	}
	return structpb.NewStruct(m.Fields)
}

// fromProto populates the Message from a protobuf Struct.
func (m *Message) fromProto(pbMsg *structpb.Struct) {
	m.Fields = pbMsg.AsMap()
}
