// Package adapter forwards a payload to a unit's predictor or explainer over
// the unit's protocol and shapes the reply.
package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/Meesho/BharatMLStack/serving-adapter/internal/errors"
	"github.com/Meesho/BharatMLStack/serving-adapter/internal/payload"
	"github.com/Meesho/BharatMLStack/serving-adapter/internal/serving"
	"github.com/Meesho/BharatMLStack/serving-adapter/pkg/api"
	"github.com/Meesho/BharatMLStack/serving-adapter/pkg/circuitbreaker"
	"github.com/Meesho/BharatMLStack/serving-adapter/pkg/httpclient"
	"github.com/Meesho/BharatMLStack/serving-adapter/pkg/inference"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
)

const (
	PredictURLFormat   = "http://%s/v1/models/%s:predict"
	ExplainURLFormat   = "http://%s/v1/models/%s:explain"
	PredictV2URLFormat = "http://%s/v2/models/%s/infer"
	ExplainV2URLFormat = "http://%s/v2/models/%s/explain"

	contentTypeJSON   = "application/json"
	contentTypeBinary = "application/octet-stream"
)

// URL returns the REST endpoint for op on host. The v2 form is used only
// for the v2 REST protocol; every other protocol uses the v1 form.
func URL(host, name string, op serving.OperationKind, protocol serving.Protocol) string {
	format := PredictURLFormat
	switch {
	case op == serving.Explainer && protocol == serving.RestV2:
		format = ExplainV2URLFormat
	case op == serving.Explainer:
		format = ExplainURLFormat
	case protocol == serving.RestV2:
		format = PredictV2URLFormat
	}
	return fmt.Sprintf(format, host, name)
}

// Send forwards p to the backend serving op. Predict calls on a grpc-v2 unit
// go over gRPC; explain has no gRPC form and always goes over REST.
func Send(ctx context.Context, unit *serving.Unit, op serving.OperationKind, p payload.Payload) (payload.Payload, error) {
	host := unit.Host(op)
	if host == "" {
		return payload.Payload{}, &errors.UnimplementedError{Operation: op.String()}
	}
	if op == serving.Predictor && unit.Protocol() == serving.GrpcV2 {
		return sendGRPC(ctx, unit, p)
	}
	return sendHTTP(ctx, unit.HTTPClient(op), URL(host, unit.Name(), op, unit.Protocol()), p)
}

func sendHTTP(ctx context.Context, client *httpclient.HTTPClient, url string, p payload.Payload) (payload.Payload, error) {
	var body []byte
	contentType := contentTypeJSON
	switch p.Kind {
	case payload.KindJSON:
		raw, err := json.Marshal(p.JSON)
		if err != nil {
			return payload.Payload{}, &errors.ServerError{Reason: "failed to encode request", Cause: err}
		}
		body = raw
	case payload.KindBytes:
		body = p.Bytes
		contentType = contentTypeBinary
	default:
		return payload.Payload{}, &errors.ServerError{Reason: fmt.Sprintf("cannot send %s payload over REST", p.Kind)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return payload.Payload{}, &errors.ServerError{Reason: "failed to build request", Cause: err}
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := client.Do(req)
	if err != nil {
		log.Error().Err(err).Msgf("call to %s failed", url)
		return payload.Payload{}, transportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return payload.Payload{}, transportError(err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Warn().Msgf("%s returned %d", url, resp.StatusCode)
		return payload.Payload{}, &errors.BackendError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	v, err := payload.DecodeJSON(respBody)
	if err != nil {
		return payload.Payload{}, &errors.ServerError{Reason: "failed to parse backend response", Cause: err}
	}
	return payload.FromJSON(v), nil
}

func transportError(err error) *errors.BackendError {
	code := http.StatusBadGateway
	switch {
	case circuitbreaker.IsOpen(err):
		code = http.StatusServiceUnavailable
	case os.IsTimeout(err), stderrors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	}
	return &errors.BackendError{StatusCode: code, Cause: err}
}

func sendGRPC(ctx context.Context, unit *serving.Unit, p payload.Payload) (payload.Payload, error) {
	var req proto.Message
	switch p.Kind {
	case payload.KindInferRequest:
		req = p.Message
	case payload.KindJSON:
		obj, ok := p.Object()
		if !ok {
			return payload.Payload{}, errors.NewClientError("grpc-v2 predict expects a JSON object, got %T", p.JSON)
		}
		msg, err := inference.RequestFromJSON(unit.Name(), obj)
		if err != nil {
			return payload.Payload{}, errors.NewClientError("invalid inference request: %s", err)
		}
		req = msg
	default:
		return payload.Payload{}, errors.NewClientError("cannot send %s payload over grpc-v2", p.Kind)
	}

	client, err := unit.GRPCClient()
	if err != nil {
		return payload.Payload{}, &errors.BackendError{StatusCode: http.StatusBadGateway, Cause: err}
	}
	reply := inference.NewModelInferResponse()
	if err := client.Invoke(ctx, inference.ModelInferMethod, req, reply); err != nil {
		st := status.Convert(err)
		log.Error().Err(err).Msgf("ModelInfer on %s failed", unit.Host(serving.Predictor))
		return payload.Payload{}, &errors.BackendError{
			StatusCode: api.HTTPStatusFromGrpcCode(st.Code()),
			Body:       st.Message(),
			Cause:      err,
		}
	}
	return payload.FromMessage(reply)
}
