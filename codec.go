package xrelay

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// FrameCodec is the Strategy that turns a Message into the frame written to clients.
type FrameCodec interface {
	Encode(msg Message) ([]byte, error)
	Name() string
}

// TextCodec writes the payload unchanged. It is the default.
type TextCodec struct{}

func (TextCodec) Encode(msg Message) ([]byte, error) { return []byte(msg.Payload), nil }
func (TextCodec) Name() string                       { return "text" }

// Frame is the envelope written by JSONCodec.
type Frame struct {
	Topic      string    `json:"topic"`
	Msg        string    `json:"msg"`
	ReceivedAt time.Time `json:"received_at"`
}

// JSONCodec wraps the payload with its topic and receive time.
type JSONCodec struct{}

func (JSONCodec) Encode(msg Message) ([]byte, error) {
	return json.Marshal(Frame{Topic: msg.Topic, Msg: msg.Payload, ReceivedAt: msg.ReceivedAt})
}
func (JSONCodec) Name() string { return "json" }

// CodecFactory constructs codecs via Factory pattern.
type CodecFactory func() FrameCodec

var (
	codecRegistryMu sync.RWMutex
	codecRegistry   = map[string]CodecFactory{
		"text": func() FrameCodec { return TextCodec{} },
		"json": func() FrameCodec { return JSONCodec{} },
	}
)

// RegisterCodec registers a codec factory by name.
func RegisterCodec(name string, factory CodecFactory) error {
	if name == "" {
		return errors.New("codec name must not be empty")
	}
	if factory == nil {
		return errors.New("codec factory must not be nil")
	}
	codecRegistryMu.Lock()
	codecRegistry[name] = factory
	codecRegistryMu.Unlock()
	return nil
}

// NewCodec constructs a codec by name or returns an error.
func NewCodec(name string) (FrameCodec, error) {
	codecRegistryMu.RLock()
	f, ok := codecRegistry[name]
	codecRegistryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("codec %q not registered", name)
	}
	return f(), nil
}
