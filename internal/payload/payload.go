// Package payload defines the value that flows between pipeline stages.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/Meesho/BharatMLStack/serving-adapter/pkg/inference"
	"google.golang.org/protobuf/proto"
)

type Kind int

const (
	KindJSON Kind = iota
	KindBytes
	KindInferRequest
	KindInferResponse
)

func (k Kind) String() string {
	switch k {
	case KindJSON:
		return "json"
	case KindBytes:
		return "bytes"
	case KindInferRequest:
		return "infer_request"
	case KindInferResponse:
		return "infer_response"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Payload is one of: a decoded JSON value, opaque bytes, or a typed
// ModelInferRequest / ModelInferResponse. Only the field matching Kind is set.
type Payload struct {
	Kind    Kind
	JSON    any
	Bytes   []byte
	Message proto.Message
}

func FromJSON(v any) Payload {
	return Payload{Kind: KindJSON, JSON: v}
}

func FromBytes(b []byte) Payload {
	return Payload{Kind: KindBytes, Bytes: b}
}

// FromMessage wraps a typed inference message. It returns an error for any
// message that is neither a ModelInferRequest nor a ModelInferResponse.
func FromMessage(m proto.Message) (Payload, error) {
	switch {
	case inference.IsModelInferRequest(m):
		return Payload{Kind: KindInferRequest, Message: m}, nil
	case inference.IsModelInferResponse(m):
		return Payload{Kind: KindInferResponse, Message: m}, nil
	}
	if m == nil {
		return Payload{}, fmt.Errorf("nil message")
	}
	return Payload{}, fmt.Errorf("unsupported message %s", m.ProtoReflect().Descriptor().FullName())
}

// Object returns the JSON object held by p, if p holds one.
func (p Payload) Object() (map[string]any, bool) {
	if p.Kind != KindJSON {
		return nil, false
	}
	obj, ok := p.JSON.(map[string]any)
	return obj, ok
}

// Value returns whichever variant p holds, as a plain Go value.
func (p Payload) Value() any {
	switch p.Kind {
	case KindBytes:
		return p.Bytes
	case KindInferRequest, KindInferResponse:
		return p.Message
	default:
		return p.JSON
	}
}

// DecodeJSON parses one JSON document. Numbers are kept as json.Number so
// integers round-trip to the backend unchanged.
func DecodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after top-level value")
	}
	return v, nil
}
