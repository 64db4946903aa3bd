package signup

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"

	"github.com/wolfman30/clinic-functions/pkg/logging"
)

type gate interface {
	Allow(ctx context.Context, email string) (Decision, error)
}

// PreSignUpHandler adapts the gate to the Cognito pre sign-up trigger.
type PreSignUpHandler struct {
	gate   gate
	logger *logging.Logger
}

func NewPreSignUpHandler(g gate, logger *logging.Logger) *PreSignUpHandler {
	if g == nil {
		panic("signup: gate cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &PreSignUpHandler{gate: g, logger: logger}
}

// Handle returns the event unchanged when signup is allowed. Returning an
// error makes Cognito reject the registration with the error message.
func (h *PreSignUpHandler) Handle(ctx context.Context, payload json.RawMessage) (*events.CognitoEventUserPoolsPreSignup, error) {
	log := h.logger
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		log = log.ForInvocation("presignup", lc.AwsRequestID)
	}

	if len(payload) == 0 || string(payload) == "null" {
		return nil, ErrNoEventData
	}
	var evt events.CognitoEventUserPoolsPreSignup
	if err := json.Unmarshal(payload, &evt); err != nil {
		log.Warn("invalid pre sign-up payload", "error", err)
		return nil, fmt.Errorf("signup: decode event: %w", err)
	}

	email := evt.Request.UserAttributes["email"]
	if _, err := h.gate.Allow(ctx, email); err != nil {
		log.Info("pre sign-up rejected", "trigger", evt.TriggerSource, "error", err)
		return nil, err
	}
	return &evt, nil
}
