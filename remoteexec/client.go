package remoteexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds one remote round-trip. Timeouts are ordinary
// compile failures; compilation is deterministic, so retrying is safe.
const DefaultTimeout = 5 * time.Minute

// Client ships execution requests to a remote worker.
type Client struct {
	endpoint string
	http     *http.Client
}

func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		http:     &http.Client{Timeout: timeout},
	}
}

// Execute runs one request on the worker. Transport failures and worker
// rejections wrap ErrRemoteExecution.
func (c *Client) Execute(ctx context.Context, req ExecRequest) (ExecResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return ExecResponse{}, fmt.Errorf("%w: failed to encode request: %v", ErrRemoteExecution, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/execute", bytes.NewReader(body))
	if err != nil {
		return ExecResponse{}, fmt.Errorf("%w: %v", ErrRemoteExecution, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return ExecResponse{}, fmt.Errorf("%w: %v", ErrRemoteExecution, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return ExecResponse{}, fmt.Errorf("%w: worker returned %d: %s",
			ErrRemoteExecution, httpResp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var resp ExecResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return ExecResponse{}, fmt.Errorf("%w: failed to decode response: %v", ErrRemoteExecution, err)
	}
	return resp, nil
}
