// Package callable implements the HTTPS callable protocol: a JSON
// {"data": ...} request answered with {"result": ...} or a coded
// {"error": ...} body.
package callable

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/wolfman30/clinic-functions/internal/apperr"
	"github.com/wolfman30/clinic-functions/internal/tenancy"
	"github.com/wolfman30/clinic-functions/pkg/logging"
)

// Call is one decoded invocation.
type Call struct {
	Caller tenancy.Caller
	Data   json.RawMessage
}

// Func handles one callable. Returned errors without a taxonomy code are
// reported as internal.
type Func func(ctx context.Context, call Call) (any, error)

// Observer records invocation outcomes.
type Observer interface {
	ObserveCallable(function, code string, seconds float64)
}

type request struct {
	Data json.RawMessage `json:"data"`
}

type successBody struct {
	Result any `json:"result"`
}

// ErrorBody is the wire form of a failed call.
type ErrorBody struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type failureBody struct {
	Error ErrorBody `json:"error"`
}

// Dispatcher routes calls by function name.
type Dispatcher struct {
	funcs    map[string]Func
	observer Observer
	logger   *logging.Logger
}

// NewDispatcher returns an empty dispatcher. observer may be nil.
func NewDispatcher(observer Observer, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{funcs: map[string]Func{}, observer: observer, logger: logger}
}

// Register adds a callable. Registering a name twice panics.
func (d *Dispatcher) Register(name string, fn Func) {
	if _, dup := d.funcs[name]; dup {
		panic(fmt.Sprintf("callable: %s registered twice", name))
	}
	d.funcs[name] = fn
}

// Names lists the registered callables.
func (d *Dispatcher) Names() []string {
	names := make([]string, 0, len(d.funcs))
	for name := range d.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke runs the named callable on a raw request body and returns the
// HTTP status and response body.
func (d *Dispatcher) Invoke(ctx context.Context, name string, body []byte) (int, []byte) {
	start := time.Now()
	result, err := d.invoke(ctx, name, body)
	code := "ok"
	if err != nil {
		code = apperr.Code(err)
	}
	if d.observer != nil {
		d.observer.ObserveCallable(name, code, time.Since(start).Seconds())
	}

	if err != nil {
		return apperr.HTTPStatus(err), failure(err)
	}
	return http.StatusOK, encode(successBody{Result: result})
}

func (d *Dispatcher) invoke(ctx context.Context, name string, body []byte) (any, error) {
	fn, ok := d.funcs[name]
	if !ok {
		return nil, apperr.InvalidArgument("unknown function %q", name)
	}

	var req request
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, apperr.InvalidArgument("request body must be a JSON object with a data field")
		}
	}
	caller, _ := tenancy.CallerFromContext(ctx)
	log := d.logger.With("function", name, "uid", caller.UID)

	result, err := fn(ctx, Call{Caller: caller, Data: req.Data})
	if err == nil {
		return result, nil
	}
	wrapped := apperr.Internal(err)
	if apperr.Code(wrapped) == "internal" {
		log.Error("callable failed", "error", err)
	} else {
		log.Info("callable rejected", "code", apperr.Code(wrapped), "message", apperr.Message(wrapped))
	}
	return nil, wrapped
}

// Bind decodes call data into v. Missing data decodes as an empty object.
func Bind(call Call, v any) error {
	data := bytes.TrimSpace(call.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		data = []byte("{}")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.InvalidArgument("invalid request data: %s", err.Error())
	}
	return nil
}

func failure(err error) []byte {
	return encode(failureBody{Error: ErrorBody{
		Status:  apperr.StatusName(err),
		Code:    apperr.Code(err),
		Message: apperr.Message(err),
	}})
}

func encode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(failureBody{Error: ErrorBody{
			Status:  "INTERNAL",
			Code:    "internal",
			Message: "internal error: encode response: " + err.Error(),
		}})
	}
	return b
}
