package orchestration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// StepCaller issues the outbound call for a step or compensation action.
type StepCaller interface {
	Call(ctx context.Context, serviceURL, action string, payload map[string]interface{}, timeout time.Duration) (map[string]interface{}, error)
}

// HTTPStepExecutor posts step payloads to participant services as JSON.
// Every call runs under a hard deadline; what comes back is classified
// into the transport / timeout / application failure taxonomy.
type HTTPStepExecutor struct {
	client         *http.Client
	defaultTimeout time.Duration
}

func NewHTTPStepExecutor(client *http.Client, defaultTimeout time.Duration) *HTTPStepExecutor {
	if client == nil {
		client = http.DefaultClient
	}

	return &HTTPStepExecutor{
		client:         client,
		defaultTimeout: defaultTimeout,
	}
}

type remoteErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Call posts the payload to <service_url>/<action> and decodes the JSON
// response into the step result.
func (e *HTTPStepExecutor) Call(ctx context.Context, serviceURL, action string, payload map[string]interface{}, timeout time.Duration) (map[string]interface{}, error) {
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling step payload")
	}

	url := strings.TrimSuffix(serviceURL, "/") + "/" + strings.TrimPrefix(action, "/")
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := e.client.Do(request)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &TimeoutError{Err: err}
		}
		return nil, &TransportError{Err: err}
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &TimeoutError{Err: err}
		}
		return nil, &TransportError{Err: err}
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		remoteErr := remoteErrorBody{}
		if err := json.Unmarshal(responseBody, &remoteErr); err != nil || remoteErr.Message == "" {
			remoteErr.Message = strings.TrimSpace(string(responseBody))
		}
		if remoteErr.Message == "" {
			remoteErr.Message = http.StatusText(response.StatusCode)
		}

		return nil, &ApplicationError{
			StatusCode: response.StatusCode,
			Code:       remoteErr.Code,
			Message:    remoteErr.Message,
		}
	}

	if len(bytes.TrimSpace(responseBody)) == 0 {
		return map[string]interface{}{}, nil
	}

	result := map[string]interface{}{}
	if err := json.Unmarshal(responseBody, &result); err != nil {
		return nil, &ApplicationError{
			StatusCode: response.StatusCode,
			Message:    fmt.Sprintf("response is not a JSON object: %v", err),
		}
	}

	return result, nil
}
