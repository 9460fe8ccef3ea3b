package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/mselser95/p2p-wager/pkg/httpserver"
)

const maxOpsResponse = 1 << 20

// opsClient calls the running bot's HTTP API.
type opsClient struct {
	base       string
	httpClient *http.Client
}

func newOpsClient(api string) *opsClient {
	if api == "" {
		port := os.Getenv("HTTP_PORT")
		if port == "" {
			port = "8080"
		}
		api = "http://localhost:" + port
	}
	return &opsClient{
		base:       strings.TrimRight(api, "/"),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

// call sends in as JSON (when non-nil) and decodes the answer into out.
// Statuses listed in accept are decoded as success; anything else above 299
// becomes an error carrying the API's message.
func (c *opsClient) call(ctx context.Context, method string, path string, in interface{}, out interface{}, accept ...int) (int, error) {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxOpsResponse))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	ok := resp.StatusCode < 300
	for _, s := range accept {
		if resp.StatusCode == s {
			ok = true
		}
	}
	if !ok {
		var apiErr httpserver.ErrorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			if apiErr.Code != "" {
				return resp.StatusCode, fmt.Errorf("%s (%s, status %d)", apiErr.Error, apiErr.Code, resp.StatusCode)
			}
			return resp.StatusCode, fmt.Errorf("%s (status %d)", apiErr.Error, resp.StatusCode)
		}
		return resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out != nil {
		err = json.Unmarshal(raw, out)
		if err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
