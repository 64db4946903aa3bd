package callable

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func whoami() *Dispatcher {
	d := NewDispatcher(nil, testLogger())
	d.Register("whoami", func(_ context.Context, call Call) (any, error) {
		return map[string]string{"uid": call.Caller.UID, "email": call.Caller.Email, "data": string(call.Data)}, nil
	})
	return d
}

func gatewayRequest(body string, claims map[string]string) events.APIGatewayV2HTTPRequest {
	req := events.APIGatewayV2HTTPRequest{
		PathParameters: map[string]string{"name": "whoami"},
		Body:           body,
	}
	req.RequestContext.HTTP.Method = http.MethodPost
	if claims != nil {
		req.RequestContext.Authorizer = &events.APIGatewayV2HTTPRequestContextAuthorizerDescription{
			JWT: &events.APIGatewayV2HTTPRequestContextAuthorizerJWTDescription{Claims: claims},
		}
	}
	return req
}

func TestAPIGateway_CallerFromJWTClaims(t *testing.T) {
	h := NewAPIGatewayHandler(whoami(), testLogger())

	resp, err := h.Handle(context.Background(), gatewayRequest(`{"data":{"x":1}}`,
		map[string]string{"sub": "u1", "email": "u1@example.com"}))

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Headers["Content-Type"])
	assert.JSONEq(t, `{"result":{"uid":"u1","email":"u1@example.com","data":"{\"x\":1}"}}`, resp.Body)
}

func TestAPIGateway_AnonymousRequest(t *testing.T) {
	h := NewAPIGatewayHandler(whoami(), testLogger())

	resp, err := h.Handle(context.Background(), gatewayRequest(`{"data":null}`, nil))

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Body, `"uid":""`)
}

func TestAPIGateway_Base64Body(t *testing.T) {
	h := NewAPIGatewayHandler(whoami(), testLogger())
	req := gatewayRequest(base64.StdEncoding.EncodeToString([]byte(`{"data":{"y":2}}`)), map[string]string{"sub": "u1"})
	req.IsBase64Encoded = true

	resp, err := h.Handle(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Body, `{\"y\":2}`)

	req.Body = "%%%"
	resp, err = h.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, resp.Body, "invalid-argument")
}

func TestAPIGateway_RejectsNonPost(t *testing.T) {
	h := NewAPIGatewayHandler(whoami(), testLogger())
	req := gatewayRequest("", nil)
	req.RequestContext.HTTP.Method = http.MethodGet

	resp, err := h.Handle(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHTTPHandler(t *testing.T) {
	handler := HTTPHandler(whoami(), func(*http.Request) string { return "whoami" })

	req := httptest.NewRequest(http.MethodPost, "/callable/whoami", strings.NewReader(`{"data":{}}`))
	req = req.WithContext(withCaller("u9"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"uid":"u9"`)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callable/whoami", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
}
