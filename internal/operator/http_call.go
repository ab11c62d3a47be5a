package operator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidewater-io/cascade/internal/circuitbreaker"
	"github.com/tidewater-io/cascade/pkg/models"
)

// outboundBreakers sheds calls per remote host across all HTTP-backed
// operators in the process
var outboundBreakers = circuitbreaker.NewHostSet(circuitbreaker.DefaultConfig())

// HTTPCall makes one HTTP request per attempt. Server errors and
// transport failures are transient (retry); client errors are terminal.
//
// Config:
//
//	method: HTTP method (default GET)
//	url: request URL, required
//	headers: map of header name -> value
//	body: literal request body
//	body_from: context dot-path whose value is sent as a JSON body
//	timeout: per-request timeout (default 30s)
type HTTPCall struct {
	spec   *models.OperatorSpec
	client *http.Client
}

// NewHTTPCall creates an HTTP call operator from its spec
func NewHTTPCall(spec *models.OperatorSpec) (*HTTPCall, error) {
	if spec.ConfigString("url") == "" {
		return nil, fmt.Errorf("http_call task %s: url is required", spec.TaskID)
	}

	method := strings.ToUpper(spec.ConfigString("method"))
	if method == "" {
		method = http.MethodGet
	}
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete,
		http.MethodPatch, http.MethodHead, http.MethodOptions:
	default:
		return nil, fmt.Errorf("http_call task %s: invalid method %s", spec.TaskID, method)
	}

	timeout := spec.ConfigDuration("timeout")
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HTTPCall{
		spec:   spec,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Execute performs the configured request against the instance context
func (o *HTTPCall) Execute(ctx context.Context, tc *TaskContext) *Result {
	method := strings.ToUpper(o.spec.ConfigString("method"))
	if method == "" {
		method = http.MethodGet
	}
	url := o.spec.ConfigString("url")

	body, err := o.requestBody(tc)
	if err != nil {
		return Failed(err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return Failed(fmt.Errorf("failed to create request: %w", err))
	}
	if headers, ok := o.spec.Config["headers"].(map[string]any); ok {
		for key, value := range headers {
			if s, ok := value.(string); ok {
				req.Header.Set(key, s)
			}
		}
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	tc.LogInfo("%s %s", method, url)
	var resp *http.Response
	err = outboundBreakers.For(req.URL.Host).Execute(func() error {
		var doErr error
		resp, doErr = o.client.Do(req)
		return doErr
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return Retry(fmt.Errorf("endpoint %s is shedding load: %w", req.URL.Host, err), 0)
		}
		return Retry(fmt.Errorf("http request failed: %w", err), 0)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Retry(fmt.Errorf("failed to read response: %w", err), 0)
	}

	switch {
	case resp.StatusCode >= 500:
		return Retry(fmt.Errorf("server returned status %d", resp.StatusCode), 0)
	case resp.StatusCode >= 400:
		return Failed(fmt.Errorf("request rejected with status %d: %s", resp.StatusCode, string(respBody)))
	}

	output := map[string]any{
		tc.TaskID + "_status_code": resp.StatusCode,
	}
	var decoded map[string]any
	if json.Unmarshal(respBody, &decoded) == nil {
		output[tc.TaskID+"_response"] = decoded
	} else {
		output[tc.TaskID+"_response"] = string(respBody)
	}
	return Continue(output)
}

func (o *HTTPCall) requestBody(tc *TaskContext) (io.Reader, error) {
	if literal := o.spec.ConfigString("body"); literal != "" {
		return strings.NewReader(literal), nil
	}
	path := o.spec.ConfigString("body_from")
	if path == "" {
		return nil, nil
	}
	value, ok := tc.Context.Get(path)
	if !ok {
		return nil, fmt.Errorf("body_from path %q not found in context", path)
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	return bytes.NewReader(encoded), nil
}
