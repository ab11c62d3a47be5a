package operator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidewater-io/cascade/pkg/models"
)

// RemoteRun is the observed state of an externally running workflow
type RemoteRun struct {
	Status string         // running | succeeded | failed
	Output map[string]any
}

// RemoteRunner triggers and observes runs on an external system
type RemoteRunner interface {
	Trigger(ctx context.Context, params map[string]any) (runID string, err error)
	Status(ctx context.Context, runID string) (*RemoteRun, error)
}

// RemotePoll triggers an external run on first execution and then polls
// it through timed wakes. The run id and last check time are persisted
// in the task's context state slot, so the operator survives suspension
// and process restarts between polls.
//
// Config:
//
//	trigger_url: POST endpoint that starts the remote run, required
//	status_url: GET endpoint template with a {run_id} placeholder, required
//	params_from: context dot-path sent as the trigger body
//	poll_interval: delay between polls (default 5s)
//	poll_timeout: total time allowed before the task fails (default 10m)
type RemotePoll struct {
	spec   *models.OperatorSpec
	runner RemoteRunner
}

// NewRemotePoll creates a remote poll operator backed by an HTTP runner
func NewRemotePoll(spec *models.OperatorSpec) (*RemotePoll, error) {
	if spec.ConfigString("trigger_url") == "" || spec.ConfigString("status_url") == "" {
		return nil, fmt.Errorf("remote_poll task %s: trigger_url and status_url are required", spec.TaskID)
	}
	runner := &httpRunner{
		triggerURL: spec.ConfigString("trigger_url"),
		statusURL:  spec.ConfigString("status_url"),
		client:     &http.Client{Timeout: 30 * time.Second},
	}
	return NewRemotePollWithRunner(spec, runner), nil
}

// NewRemotePollWithRunner creates a remote poll operator with a custom runner
func NewRemotePollWithRunner(spec *models.OperatorSpec, runner RemoteRunner) *RemotePoll {
	return &RemotePoll{spec: spec, runner: runner}
}

// Execute triggers the remote run or polls a run already in flight
func (o *RemotePoll) Execute(ctx context.Context, tc *TaskContext) *Result {
	interval := o.spec.ConfigDuration("poll_interval")
	if interval <= 0 {
		interval = 5 * time.Second
	}
	timeout := o.spec.ConfigDuration("poll_timeout")
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	waitingFor := "external_poll:" + tc.TaskID

	state, _ := tc.StateSlot()
	runID, _ := state["remote_run_id"].(string)

	if runID == "" {
		var params map[string]any
		if path := o.spec.ConfigString("params_from"); path != "" {
			params, _ = tc.Context.GetMap(path)
		}
		newRunID, err := o.runner.Trigger(ctx, params)
		if err != nil {
			return Retry(fmt.Errorf("failed to trigger remote run: %w", err), 0)
		}
		tc.LogInfo("triggered remote run %s", newRunID)
		return Waiting(map[string]any{
			models.StateKey(tc.TaskID): map[string]any{
				"remote_run_id": newRunID,
				"started_at":    time.Now().UTC().Format(time.RFC3339),
				"last_check":    time.Now().UTC().Format(time.RFC3339),
			},
		}, waitingFor).WithWakeAfter(interval)
	}

	startedAt := parseStateTime(state, "started_at")
	if !startedAt.IsZero() && time.Since(startedAt) > timeout {
		return Failed(fmt.Errorf("remote run %s did not finish within %s", runID, timeout))
	}

	run, err := o.runner.Status(ctx, runID)
	if err != nil {
		return Retry(fmt.Errorf("failed to poll remote run %s: %w", runID, err), 0)
	}

	switch run.Status {
	case "succeeded":
		tc.LogInfo("remote run %s succeeded", runID)
		output := map[string]any{
			tc.TaskID + "_remote_run_id": runID,
		}
		if run.Output != nil {
			output[tc.TaskID+"_remote_output"] = run.Output
		}
		return Continue(output)
	case "failed":
		return Failed(fmt.Errorf("remote run %s failed", runID))
	default:
		state["last_check"] = time.Now().UTC().Format(time.RFC3339)
		return Waiting(map[string]any{
			models.StateKey(tc.TaskID): state,
		}, waitingFor).WithWakeAfter(interval)
	}
}

func parseStateTime(state map[string]any, key string) time.Time {
	s, _ := state[key].(string)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

type httpRunner struct {
	triggerURL string
	statusURL  string
	client     *http.Client
}

func (r *httpRunner) Trigger(ctx context.Context, params map[string]any) (string, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.triggerURL, strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp *http.Response
	err = outboundBreakers.For(req.URL.Host).Execute(func() error {
		var doErr error
		resp, doErr = r.client.Do(req)
		return doErr
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("trigger returned status %d", resp.StatusCode)
	}

	var decoded struct {
		RunID string `json:"run_id"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&decoded); err != nil {
		return "", fmt.Errorf("failed to decode trigger response: %w", err)
	}
	if decoded.RunID == "" {
		return "", fmt.Errorf("trigger response missing run_id")
	}
	return decoded.RunID, nil
}

func (r *httpRunner) Status(ctx context.Context, runID string) (*RemoteRun, error) {
	url := strings.ReplaceAll(r.statusURL, "{run_id}", runID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	var resp *http.Response
	err = outboundBreakers.For(req.URL.Host).Execute(func() error {
		var doErr error
		resp, doErr = r.client.Do(req)
		return doErr
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("status returned %d", resp.StatusCode)
	}

	var decoded struct {
		Status string         `json:"status"`
		Output map[string]any `json:"output"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}
	return &RemoteRun{Status: decoded.Status, Output: decoded.Output}, nil
}
