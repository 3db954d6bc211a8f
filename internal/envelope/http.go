package envelope

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/Meesho/BharatMLStack/serving-adapter/internal/errors"
	"github.com/Meesho/BharatMLStack/serving-adapter/internal/payload"
	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"
)

const headerCloudEventsSpecVersion = "Ce-Specversion"

// FromHTTPRequest classifies an inbound HTTP request. CloudEvents in binary
// or structured mode become structured events, JSON bodies are parsed into a
// raw envelope, and any other content type is left unread as a framework
// request.
func FromHTTPRequest(r *http.Request) (Envelope, error) {
	mediaType := MediaType(r.Header.Get("Content-Type"))
	if r.Header.Get(headerCloudEventsSpecVersion) != "" || strings.HasPrefix(mediaType, "application/cloudevents") {
		e, err := cehttp.NewEventFromHTTPRequest(r)
		if err != nil {
			return Envelope{}, errors.NewClientError("Unrecognized request format: %s", err)
		}
		return StructuredEvent(e), nil
	}
	if mediaType == "" || mediaType == contentTypeJSON {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return Envelope{}, errors.NewClientError("Unrecognized request format: %s", err)
		}
		v, err := payload.DecodeJSON(body)
		if err != nil {
			return Envelope{}, errors.NewClientError("Unrecognized request format: %s", err)
		}
		return Raw(payload.FromJSON(v)), nil
	}
	return Framework(NewHTTPRequest(r)), nil
}

// HTTPRequest reads the body of an *http.Request at most once.
type HTTPRequest struct {
	req  *http.Request
	once sync.Once
	body []byte
	err  error
}

func NewHTTPRequest(r *http.Request) *HTTPRequest {
	return &HTTPRequest{req: r}
}

func (h *HTTPRequest) Body(ctx context.Context) ([]byte, error) {
	h.once.Do(func() {
		done := make(chan struct{})
		go func() {
			defer close(done)
			h.body, h.err = io.ReadAll(h.req.Body)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			_ = h.req.Body.Close()
			<-done
			h.body, h.err = nil, ctx.Err()
		}
	})
	return h.body, h.err
}

func (h *HTTPRequest) Header() http.Header {
	return h.req.Header
}
