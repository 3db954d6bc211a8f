package envelope

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Meesho/BharatMLStack/serving-adapter/internal/errors"
	"github.com/Meesho/BharatMLStack/serving-adapter/internal/payload"
	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEvent(t *testing.T, contentType string, data []byte) *event.Event {
	t.Helper()
	e := event.New()
	e.SetID("1")
	e.SetSource("test")
	e.SetType("org.kserve.inference.request")
	require.NoError(t, e.SetData(contentType, data))
	return &e
}

func TestDecodeStructuredEventJSON(t *testing.T) {
	e := newEvent(t, "application/json", []byte(`{"instances": [[1, 2]]}`))
	p, err := Decode(context.Background(), StructuredEvent(e))
	require.NoError(t, err)
	assert.Equal(t, payload.KindJSON, p.Kind)
	assert.Equal(t, map[string]any{
		"instances": []any{[]any{json.Number("1"), json.Number("2")}},
	}, p.JSON)
}

func TestDecodeStructuredEventInvalidJSON(t *testing.T) {
	for _, ct := range []string{"application/json", "application/cloudevents+json", "application/json; charset=utf-8"} {
		t.Run(ct, func(t *testing.T) {
			e := newEvent(t, ct, []byte(`{"instances":`))
			_, err := Decode(context.Background(), StructuredEvent(e))
			var ce *errors.ClientError
			require.True(t, stderrors.As(err, &ce))
			assert.True(t, strings.HasPrefix(ce.Reason, "Unrecognized request format: "))
		})
	}
}

func TestDecodeStructuredEventBinaryPassthrough(t *testing.T) {
	data := []byte{0xff, 0xfe, 0x00, 0x01}
	e := newEvent(t, "application/x-protobuf", data)
	p, err := Decode(context.Background(), StructuredEvent(e))
	require.NoError(t, err)
	assert.Equal(t, payload.KindBytes, p.Kind)
	assert.Equal(t, data, p.Bytes)

	e = newEvent(t, "application/json", data)
	_, err = Decode(context.Background(), StructuredEvent(e))
	assert.Error(t, err)
}

func TestDecodeRawCloudEventShape(t *testing.T) {
	raw := map[string]any{
		"time":        "2021-01-28T21:04:43.144141+00:00",
		"type":        "org.kserve.inference.request",
		"source":      "https://example.com/event-producer",
		"id":          "36077800-0c23-4f38-a0b4-01f4369f670a",
		"specversion": "1.0",
		"data":        map[string]any{"instances": []any{[]any{json.Number("1")}}},
	}
	p, err := Decode(context.Background(), Raw(payload.FromJSON(raw)))
	require.NoError(t, err)
	assert.Equal(t, raw["data"], p.JSON)

	delete(raw, "time")
	p, err = Decode(context.Background(), Raw(payload.FromJSON(raw)))
	require.NoError(t, err)
	assert.Equal(t, raw, p.JSON)
}

func TestDecodeStructuredEventWithoutData(t *testing.T) {
	for _, ct := range []string{"application/json", "application/cloudevents+json", ""} {
		t.Run(ct, func(t *testing.T) {
			e := event.New()
			e.SetID("1")
			e.SetSource("test")
			e.SetType("org.kserve.inference.request")
			if ct != "" {
				e.SetDataContentType(ct)
			}
			p, err := Decode(context.Background(), StructuredEvent(&e))
			require.NoError(t, err)
			assert.Equal(t, payload.KindJSON, p.Kind)
			assert.Nil(t, p.JSON)
		})
	}
}

func TestDecodeIdempotent(t *testing.T) {
	inputs := map[string]map[string]any{
		"plain": {"instances": []any{[]any{json.Number("1"), json.Number("2")}}},
		"empty": {},
		"partial event": {
			"type": "org.kserve.inference.request",
			"id":   "1",
			"data": map[string]any{"inputs": []any{}},
		},
		"event": {
			"time":        "2021-01-28T21:04:43.144141+00:00",
			"type":        "org.kserve.inference.request",
			"source":      "https://example.com/event-producer",
			"id":          "36077800-0c23-4f38-a0b4-01f4369f670a",
			"specversion": "1.0",
			"data":        map[string]any{"instances": []any{json.Number("3")}},
		},
	}
	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			once, err := Decode(context.Background(), Raw(payload.FromJSON(in)))
			require.NoError(t, err)
			twice, err := Decode(context.Background(), Raw(once))
			require.NoError(t, err)
			assert.Equal(t, once, twice)
		})
	}
}

func TestDecodeRawUnchanged(t *testing.T) {
	in := payload.FromBytes([]byte("abc"))
	p, err := Decode(context.Background(), Raw(in))
	require.NoError(t, err)
	assert.Equal(t, in, p)
}

type stubRequest struct {
	body []byte
	err  error
}

func (s stubRequest) Body(context.Context) ([]byte, error) {
	return s.body, s.err
}

func TestDecodeFrameworkRequest(t *testing.T) {
	env := Framework(stubRequest{body: []byte("raw-body")})
	assert.True(t, env.Suspends())
	p, err := Decode(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, payload.FromBytes([]byte("raw-body")), p)

	boom := stderrors.New("boom")
	_, err = Decode(context.Background(), Framework(stubRequest{err: boom}))
	assert.ErrorIs(t, err, boom)
}

func TestMediaType(t *testing.T) {
	assert.Equal(t, "application/json", MediaType("Application/JSON; charset=utf-8"))
	assert.Equal(t, "", MediaType(""))
	assert.Equal(t, "text/plain", MediaType("text/plain;;"))
}

func TestFromHTTPRequestJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/models/m:predict", strings.NewReader(`{"instances": [1]}`))
	env, err := FromHTTPRequest(req)
	require.NoError(t, err)
	assert.Equal(t, KindRaw, env.Kind)
	obj, ok := env.Payload.Object()
	require.True(t, ok)
	assert.Equal(t, []any{json.Number("1")}, obj["instances"])
}

func TestFromHTTPRequestInvalidJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	req.Header.Set("Content-Type", "application/json")
	_, err := FromHTTPRequest(req)
	var ce *errors.ClientError
	assert.True(t, stderrors.As(err, &ce))
}

func TestFromHTTPRequestBinaryCloudEvent(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"instances": [[1, 2]]}`))
	req.Header.Set("Ce-Specversion", "1.0")
	req.Header.Set("Ce-Id", "1")
	req.Header.Set("Ce-Source", "test")
	req.Header.Set("Ce-Type", "org.kserve.inference.request")
	req.Header.Set("Content-Type", "application/json")

	env, err := FromHTTPRequest(req)
	require.NoError(t, err)
	require.Equal(t, KindStructuredEvent, env.Kind)
	assert.Equal(t, "1", env.Event.ID())

	p, err := Decode(context.Background(), env)
	require.NoError(t, err)
	obj, ok := p.Object()
	require.True(t, ok)
	assert.Contains(t, obj, "instances")
}

func TestFromHTTPRequestStructuredCloudEvent(t *testing.T) {
	body := `{"specversion":"1.0","id":"2","source":"test","type":"t","datacontenttype":"application/json","data":{"instances":[1]}}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/cloudevents+json")

	env, err := FromHTTPRequest(req)
	require.NoError(t, err)
	require.Equal(t, KindStructuredEvent, env.Kind)

	p, err := Decode(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"instances": []any{json.Number("1")}}, p.JSON)
}

func TestFromHTTPRequestFramework(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("image-bytes"))
	req.Header.Set("Content-Type", "application/octet-stream")

	env, err := FromHTTPRequest(req)
	require.NoError(t, err)
	require.Equal(t, KindFrameworkRequest, env.Kind)

	p, err := Decode(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, []byte("image-bytes"), p.Bytes)

	again, err := env.Request.Body(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("image-bytes"), again)
}

type blockingReader struct{ closed chan struct{} }

func (b blockingReader) Read([]byte) (int, error) {
	<-b.closed
	return 0, stderrors.New("closed")
}

func (b blockingReader) Close() error {
	close(b.closed)
	return nil
}

func TestHTTPRequestBodyCancelled(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Body = blockingReader{closed: make(chan struct{})}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewHTTPRequest(req).Body(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
