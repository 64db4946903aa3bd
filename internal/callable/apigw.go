package callable

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"

	"github.com/wolfman30/clinic-functions/internal/apperr"
	"github.com/wolfman30/clinic-functions/internal/tenancy"
	"github.com/wolfman30/clinic-functions/pkg/logging"
)

// APIGatewayHandler serves callables behind an HTTP API route of the form
// POST /callable/{name} with a Cognito JWT authorizer.
type APIGatewayHandler struct {
	dispatcher *Dispatcher
	logger     *logging.Logger
}

func NewAPIGatewayHandler(d *Dispatcher, logger *logging.Logger) *APIGatewayHandler {
	if d == nil {
		panic("callable: dispatcher cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &APIGatewayHandler{dispatcher: d, logger: logger}
}

// Handle never returns an error; failures are encoded in the response.
func (h *APIGatewayHandler) Handle(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	name := req.PathParameters["name"]
	log := h.logger.With("function", name)
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		log = log.ForInvocation("callable", lc.AwsRequestID)
	}

	if method := req.RequestContext.HTTP.Method; method != "" && !strings.EqualFold(method, http.MethodPost) {
		return respond(http.StatusMethodNotAllowed, failure(apperr.InvalidArgument("callables accept POST only"))), nil
	}

	if auth := req.RequestContext.Authorizer; auth != nil && auth.JWT != nil {
		ctx = tenancy.WithCaller(ctx, tenancy.Caller{
			UID:   auth.JWT.Claims["sub"],
			Email: auth.JWT.Claims["email"],
		})
	}

	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			log.Warn("undecodable callable body", "error", err)
			err = apperr.InvalidArgument("request body is not valid base64")
			return respond(apperr.HTTPStatus(err), failure(err)), nil
		}
		body = decoded
	}

	status, out := h.dispatcher.Invoke(ctx, name, body)
	return respond(status, out), nil
}

func respond(status int, body []byte) events.APIGatewayV2HTTPResponse {
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}
