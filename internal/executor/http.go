package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"school-gateway/internal/dispatch"
	"school-gateway/internal/models"
)

// ErrExecutorUnavailable is returned when the business-logic service cannot
// be reached at all.
var ErrExecutorUnavailable = errors.New("business logic service unavailable")

// HTTPExecutor invokes the business-logic service synchronously. The gateway
// relays its result-or-error payload without inspecting domain content.
type HTTPExecutor struct {
	baseURL string
	client  *http.Client
}

func NewHTTPExecutor(baseURL string, timeout time.Duration) *HTTPExecutor {
	return &HTTPExecutor{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type executeRequest struct {
	HandlerRef string           `json:"handlerRef"`
	AccountID  string           `json:"accountId"`
	Role       models.Role      `json:"role"`
	Details    dispatch.Details `json:"details"`
}

type executeResponse struct {
	Result map[string]any `json:"result"`
	Error  string         `json:"error"`
}

func (e *HTTPExecutor) Execute(ctx context.Context, handlerRef string, identity models.Identity, role models.Role, details dispatch.Details) (map[string]any, error) {
	body, err := json.Marshal(executeRequest{
		HandlerRef: handlerRef,
		AccountID:  identity.AccountID,
		Role:       role,
		Details:    details,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, ErrExecutorUnavailable
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, ErrExecutorUnavailable
	}

	var parsed executeResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("malformed executor response: %w", err)
	}
	if parsed.Error != "" {
		// Opaque business-logic error, surfaced verbatim to the client.
		return nil, errors.New(parsed.Error)
	}
	return parsed.Result, nil
}
