// Package analysis holds the message handlers the receive sample hands its
// deliveries to.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"unicode/utf8"
)

// Handler processes one received message.
type Handler interface {
	Handle(ctx context.Context, topic string, payload []byte) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, topic string, payload []byte) error

func (f HandlerFunc) Handle(ctx context.Context, topic string, payload []byte) error {
	return f(ctx, topic, payload)
}

// Kinds reported by Kind
const (
	KindJSONString = "json string"
	KindJSONNumber = "json number"
	KindJSONBool   = "json bool"
	KindJSONNull   = "json null"
	KindJSONObject = "json object"
	KindJSONArray  = "json array"
	KindText       = "text"
	KindBinary     = "binary"
)

// Kind classifies a payload: the JSON value type when it is valid JSON,
// otherwise text or binary.
func Kind(payload []byte) string {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && json.Valid(trimmed) {
		switch trimmed[0] {
		case '"':
			return KindJSONString
		case '{':
			return KindJSONObject
		case '[':
			return KindJSONArray
		case 't', 'f':
			return KindJSONBool
		case 'n':
			return KindJSONNull
		default:
			return KindJSONNumber
		}
	}
	if utf8.Valid(payload) {
		return KindText
	}
	return KindBinary
}

// Analyzer reports on each message it is given.
type Analyzer struct {
	mu  sync.Mutex
	out io.Writer
}

// NewAnalyzer creates an analyzer printing to out
func NewAnalyzer(out io.Writer) *Analyzer {
	return &Analyzer{out: out}
}

// Analyze prints the report for one message
func (a *Analyzer) Analyze(msg []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := fmt.Fprintf(a.out, "Analyze '%s'...\n", msg); err != nil {
		return fmt.Errorf("failed to write analysis: %w", err)
	}
	if _, err := fmt.Fprintf(a.out, "Type: %s\n", Kind(msg)); err != nil {
		return fmt.Errorf("failed to write analysis: %w", err)
	}
	if _, err := fmt.Fprintln(a.out, "Succeed"); err != nil {
		return fmt.Errorf("failed to write analysis: %w", err)
	}
	return nil
}

// Handle analyzes the payload in-process
func (a *Analyzer) Handle(_ context.Context, _ string, payload []byte) error {
	return a.Analyze(payload)
}
