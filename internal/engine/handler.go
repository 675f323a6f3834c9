package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// HandlerRequest is the invocation contract handed to an external
// agent/service collaborator for one step. The engine never implements
// step business logic itself.
type HandlerRequest struct {
	Agent      string                    `json:"agent"`
	Service    string                    `json:"service"`
	Action     string                    `json:"action"`
	Parameters map[string]any            `json:"parameters,omitempty"`
	Context    map[string]map[string]any `json:"context,omitempty"`
}

// StepHandler invokes the external collaborator bound to a step and
// returns the outputs it produced.
type StepHandler interface {
	Invoke(ctx context.Context, req HandlerRequest) (map[string]any, error)
}

// HTTPStepHandler dispatches step invocations to an agent gateway over
// HTTP.
type HTTPStepHandler struct {
	url    string
	client *http.Client
}

// NewHTTPStepHandler creates a new HTTPStepHandler. Invocation deadlines
// come from the caller's context, so the underlying client has no timeout
// of its own.
func NewHTTPStepHandler(url string) *HTTPStepHandler {
	return &HTTPStepHandler{url: url, client: &http.Client{}}
}

type handlerResponse struct {
	Outputs map[string]any `json:"outputs"`
	Error   string         `json:"error,omitempty"`
}

// Invoke posts the step invocation to the gateway and decodes the outputs.
func (h *HTTPStepHandler) Invoke(ctx context.Context, req HandlerRequest) (map[string]any, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal handler request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url+"/invoke", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to reach handler gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("handler gateway returned %d: %s", resp.StatusCode, msg)
	}

	var decoded handlerResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode handler response: %w", err)
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("handler reported error: %s", decoded.Error)
	}
	return decoded.Outputs, nil
}
