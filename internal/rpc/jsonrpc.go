package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/DegrassiAaron/mcpcode/internal/errdefs"
)

// request is one outbound JSON-RPC 2.0 object, framed as a single line.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// response is one inbound JSON-RPC 2.0 object. Exactly one of Result or
// Error is set on a well-formed response.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *ErrorObject    `json:"error"`
}

// ErrorObject is the JSON-RPC error payload.
type ErrorObject struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ErrorObject) Error() string {
	return fmt.Sprintf("tool error %d: %s", e.Code, e.Message)
}

// toolError converts a JSON-RPC error response into the surfaced kind,
// preserving code and message.
func toolError(e *ErrorObject) error {
	return errdefs.Wrap(errdefs.ToolError, fmt.Sprintf("code %d", e.Code), e)
}

func encodeLine(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.Internal, "encoding request", err)
	}
	return append(payload, '\n'), nil
}
