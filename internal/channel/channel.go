// Package channel implements the method-channel call surface callers use to reach
// the digit classifier: a named method plus named arguments in, a result, a
// structured error or a not-implemented marker out.
package channel

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/Brownie44l1/digit-bridge/internal/model"
)

// Name identifies the channel to clients.
const Name = "onnx_digit_classifier"

type Method string

const (
	MethodPredict Method = "predict"
)

// CodeInvalidCall is returned for envelopes that cannot be decoded at all.
const CodeInvalidCall = "INVALID_CALL"

type Call struct {
	ID        string                     `json:"id,omitempty"`
	Method    string                     `json:"method"`
	Arguments map[string]json.RawMessage `json:"arguments,omitempty"`
}

type Reply struct {
	ID             string      `json:"id,omitempty"`
	Result         any         `json:"result,omitempty"`
	Error          *ReplyError `json:"error,omitempty"`
	NotImplemented bool        `json:"notImplemented,omitempty"`
}

type ReplyError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (r Reply) Failed() bool {
	return r.Error != nil
}

// Predictor is the part of model.Bridge the channel needs.
type Predictor interface {
	Predict(raw []float64) (int, error)
}

type Dispatcher struct {
	predictor Predictor
	logger    *zap.Logger
}

func NewDispatcher(predictor Predictor, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		predictor: predictor,
		logger:    logger,
	}
}

// Handle routes one call. Unknown methods are answered with NotImplemented.
func (d *Dispatcher) Handle(call Call) Reply {
	reply := d.handle(call)
	reply.ID = call.ID
	return reply
}

func (d *Dispatcher) handle(call Call) Reply {
	switch Method(call.Method) {
	case MethodPredict:
		return d.predict(call)
	default:
		d.logger.Info("method not implemented", zap.String("method", call.Method))
		return Reply{NotImplemented: true}
	}
}

func (d *Dispatcher) predict(call Call) Reply {
	raw, ok := call.Arguments["input"]
	if !ok || string(raw) == "null" {
		return errorReply(model.KindInvalidInput.Code(), "Input must be 28x28", nil)
	}

	var input []float64
	if err := json.Unmarshal(raw, &input); err != nil {
		return errorReply(model.KindInvalidInput.Code(), "Input must be a list of numbers", err.Error())
	}

	digit, err := d.predictor.Predict(input)
	if err != nil {
		return FromError(err)
	}
	return Reply{Result: digit}
}

// FromError converts a bridge error into a reply, keeping its kind as the code.
func FromError(err error) Reply {
	kind := model.KindOf(err)
	if kind == 0 {
		kind = model.KindInference
	}
	return errorReply(kind.Code(), err.Error(), nil)
}

func errorReply(code, message string, details any) Reply {
	return Reply{Error: &ReplyError{Code: code, Message: message, Details: details}}
}

// Decode parses a JSON call envelope.
func Decode(data []byte) (Call, error) {
	var call Call
	if err := json.Unmarshal(data, &call); err != nil {
		return Call{}, fmt.Errorf("decode call: %w", err)
	}
	if call.Method == "" {
		return Call{}, fmt.Errorf("decode call: method is required")
	}
	return call, nil
}
