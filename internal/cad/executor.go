// Package cad talks to the remote code executor that turns generated CadQuery
// source into downloadable model files.
package cad

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Result holds the artifact URLs from a successful render. All three are
// always set together.
type Result struct {
	StlURL string `json:"stl_url"`
	SvgURL string `json:"svg_url"`
	StpURL string `json:"stp_url"`
}

// ExecError is a failure reported by the executor itself, as opposed to a
// transport failure reaching it.
type ExecError struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"error"`
	Detail     string `json:"detail,omitempty"`
	Trace      string `json:"trace,omitempty"`
}

func (e *ExecError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("executor: status %d: %s: %s", e.StatusCode, e.Message, e.Detail)
	}
	return fmt.Sprintf("executor: status %d: %s", e.StatusCode, e.Message)
}

type Executor struct {
	URL    string
	Client *http.Client
}

func NewExecutor(url string, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Executor{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
	}
}

type execRequest struct {
	Body string `json:"body"`
}

// The executor responds with a tagged union: statusCode must be inspected
// before body can be trusted to have either shape.
type execResponse struct {
	StatusCode int             `json:"statusCode"`
	Body       json.RawMessage `json:"body"`
}

// Execute renders the given source. A non-200 statusCode in the payload is
// returned as *ExecError so callers can distinguish a rejected model from an
// unreachable executor.
func (e *Executor) Execute(ctx context.Context, source string) (*Result, error) {
	if e.Client == nil {
		return nil, errors.New("executor: http client is nil")
	}
	if source == "" {
		return nil, errors.New("executor: empty source")
	}

	b, err := json.Marshal(execRequest{Body: source})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("executor: transport status %d", resp.StatusCode)
	}

	var decoded execResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}

	if decoded.StatusCode != http.StatusOK {
		ee := &ExecError{StatusCode: decoded.StatusCode}
		if err := json.Unmarshal(decoded.Body, ee); err != nil {
			return nil, fmt.Errorf("executor: status %d with malformed error body", decoded.StatusCode)
		}
		return nil, ee
	}

	var result Result
	if err := json.Unmarshal(decoded.Body, &result); err != nil {
		return nil, err
	}
	if result.StlURL == "" || result.SvgURL == "" || result.StpURL == "" {
		return nil, errors.New("executor: success payload missing artifact urls")
	}
	return &result, nil
}
