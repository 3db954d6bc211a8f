// Package envelope strips transport wrappers (CloudEvents, framework
// requests) from inbound calls down to the payload the model sees.
package envelope

import (
	"context"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/Meesho/BharatMLStack/serving-adapter/internal/errors"
	"github.com/Meesho/BharatMLStack/serving-adapter/internal/payload"
	"github.com/cloudevents/sdk-go/v2/event"
)

type Kind int

const (
	KindRaw Kind = iota
	KindStructuredEvent
	KindFrameworkRequest
)

const (
	contentTypeJSON        = "application/json"
	contentTypeCloudEvents = "application/cloudevents+json"
)

// cloudEventAttributes must all be present for a raw JSON object to be
// treated as a structured CloudEvent.
var cloudEventAttributes = []string{"time", "type", "source", "id", "specversion", "data"}

// FrameworkRequest is an inbound request whose body has not been read yet.
type FrameworkRequest interface {
	Body(ctx context.Context) ([]byte, error)
}

// Envelope is the inbound request as received. Only the field matching Kind is set.
type Envelope struct {
	Kind    Kind
	Payload payload.Payload
	Event   *event.Event
	Request FrameworkRequest
}

func Raw(p payload.Payload) Envelope {
	return Envelope{Kind: KindRaw, Payload: p}
}

func StructuredEvent(e *event.Event) Envelope {
	return Envelope{Kind: KindStructuredEvent, Event: e}
}

func Framework(r FrameworkRequest) Envelope {
	return Envelope{Kind: KindFrameworkRequest, Request: r}
}

// Suspends reports whether decoding env has to wait on I/O.
func (e Envelope) Suspends() bool {
	return e.Kind == KindFrameworkRequest
}

// Decode extracts the payload carried by env.
func Decode(ctx context.Context, env Envelope) (payload.Payload, error) {
	switch env.Kind {
	case KindStructuredEvent:
		return decodeEvent(env.Event)
	case KindFrameworkRequest:
		body, err := env.Request.Body(ctx)
		if err != nil {
			return payload.Payload{}, err
		}
		return payload.FromBytes(body), nil
	default:
		if obj, ok := env.Payload.Object(); ok && isStructuredCloudEvent(obj) {
			return payload.FromJSON(obj["data"]), nil
		}
		return env.Payload, nil
	}
}

func decodeEvent(e *event.Event) (payload.Payload, error) {
	if e == nil {
		return payload.Payload{}, errors.NewClientError("Unrecognized request format: empty event")
	}
	data := e.Data()
	if len(data) == 0 {
		// an event without data decodes to null
		return payload.FromJSON(nil), nil
	}
	if utf8.Valid(data) {
		v, err := payload.DecodeJSON(data)
		if err == nil {
			return payload.FromJSON(v), nil
		}
		if isJSONContentType(e.DataContentType()) {
			return payload.Payload{}, errors.NewClientError("Unrecognized request format: %s", err)
		}
	} else if isJSONContentType(e.DataContentType()) {
		return payload.Payload{}, errors.NewClientError("Unrecognized request format: data is not valid UTF-8")
	}
	return payload.FromBytes(data), nil
}

func isStructuredCloudEvent(obj map[string]any) bool {
	for _, attr := range cloudEventAttributes {
		if _, ok := obj[attr]; !ok {
			return false
		}
	}
	return true
}

func isJSONContentType(contentType string) bool {
	mediaType := MediaType(contentType)
	return mediaType == contentTypeJSON || mediaType == contentTypeCloudEvents
}

// MediaType returns the lower-cased media type of a Content-Type value,
// without parameters.
func MediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}
