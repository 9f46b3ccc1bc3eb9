package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"

	"yqhp/experiment-runner/internal/store"
	"yqhp/experiment-runner/pkg/types"
)

// ClientConfig holds the configuration for the worker's HTTP transport.
type ClientConfig struct {
	// CoordinatorURL is the base URL of the coordinator
	// (e.g. "http://localhost:8080").
	CoordinatorURL string `yaml:"coordinator_url"`

	// RequestTimeout bounds the redirected store calls. Job requests are
	// not bounded: a worker blocks as long as the coordinator takes to
	// answer.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// DefaultClientConfig returns a default client configuration.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		CoordinatorURL: "http://localhost:8080",
		RequestTimeout: 30 * time.Second,
	}
}

// HTTPTransport is the worker-side HTTP implementation of Transport.
type HTTPTransport struct {
	config *ClientConfig
	agent  *fiber.Client
	closed atomic.Bool
}

// NewHTTPTransport creates a worker transport talking to the coordinator's
// HTTP server.
func NewHTTPTransport(config *ClientConfig) *HTTPTransport {
	if config == nil {
		config = DefaultClientConfig()
	}
	return &HTTPTransport{
		config: config,
		agent:  &fiber.Client{},
	}
}

// RequestJob sends a JobRequest and blocks for the matching JobResponse.
func (t *HTTPTransport) RequestJob(_ context.Context, req *types.JobRequest) (*types.JobResponse, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/jobs/request", t.config.CoordinatorURL)
	httpReq := t.agent.Post(url)
	httpReq.Body(body)
	httpReq.Set("Content-Type", "application/json")

	statusCode, respBody, errs := httpReq.Bytes()
	if len(errs) > 0 {
		return nil, fmt.Errorf("job request failed: %w", errs[0])
	}
	if statusCode == fiber.StatusConflict {
		return nil, fmt.Errorf("%w: coordinator rejected request", ErrProtocolViolation)
	}
	if statusCode != fiber.StatusOK {
		return nil, fmt.Errorf("job request failed with status %d: %s", statusCode, remoteMessage(respBody))
	}

	var resp types.JobResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job response: %w", err)
	}
	return &resp, nil
}

// CompleteTrial redirects a trial completion to the coordinator's store.
func (t *HTTPTransport) CompleteTrial(_ context.Context, trialID string, results map[string]any) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}

	body, err := json.Marshal(completeTrialRequest{Results: results})
	if err != nil {
		return fmt.Errorf("failed to marshal completion: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/trials/%s/complete", t.config.CoordinatorURL, trialID)
	httpReq := t.agent.Post(url)
	httpReq.Timeout(t.config.RequestTimeout)
	httpReq.Body(body)
	httpReq.Set("Content-Type", "application/json")

	statusCode, respBody, errs := httpReq.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("complete trial failed: %w", errs[0])
	}
	if statusCode != fiber.StatusOK {
		return fmt.Errorf("complete trial failed with status %d: %s", statusCode, remoteMessage(respBody))
	}
	return nil
}

// GetTrial redirects a trial query to the coordinator's store.
func (t *HTTPTransport) GetTrial(_ context.Context, trialID string) (*types.Trial, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}

	url := fmt.Sprintf("%s/api/v1/trials/%s", t.config.CoordinatorURL, trialID)
	httpReq := t.agent.Get(url)
	httpReq.Timeout(t.config.RequestTimeout)

	statusCode, respBody, errs := httpReq.Bytes()
	if len(errs) > 0 {
		return nil, fmt.Errorf("get trial failed: %w", errs[0])
	}
	if statusCode == fiber.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", store.ErrTrialNotFound, trialID)
	}
	if statusCode != fiber.StatusOK {
		return nil, fmt.Errorf("get trial failed with status %d: %s", statusCode, remoteMessage(respBody))
	}

	var trial types.Trial
	if err := json.Unmarshal(respBody, &trial); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trial: %w", err)
	}
	return &trial, nil
}

// SaveSnapshot redirects a snapshot write to the coordinator's store.
func (t *HTTPTransport) SaveSnapshot(_ context.Context, trialID string, snapState map[string]any, label string) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}

	body, err := json.Marshal(snapshotRequest{State: snapState, Label: label})
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/trials/%s/snapshots", t.config.CoordinatorURL, trialID)
	httpReq := t.agent.Post(url)
	httpReq.Timeout(t.config.RequestTimeout)
	httpReq.Body(body)
	httpReq.Set("Content-Type", "application/json")

	statusCode, respBody, errs := httpReq.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("save snapshot failed: %w", errs[0])
	}
	if statusCode != fiber.StatusOK {
		return fmt.Errorf("save snapshot failed with status %d: %s", statusCode, remoteMessage(respBody))
	}
	return nil
}

// LatestSnapshot redirects a snapshot query to the coordinator's store.
func (t *HTTPTransport) LatestSnapshot(_ context.Context, trialID string) (map[string]any, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}

	url := fmt.Sprintf("%s/api/v1/trials/%s/snapshots/latest", t.config.CoordinatorURL, trialID)
	httpReq := t.agent.Get(url)
	httpReq.Timeout(t.config.RequestTimeout)

	statusCode, respBody, errs := httpReq.Bytes()
	if len(errs) > 0 {
		return nil, fmt.Errorf("latest snapshot failed: %w", errs[0])
	}
	if statusCode == fiber.StatusNotFound {
		return nil, fmt.Errorf("%w: trial %s", store.ErrSnapshotNotFound, trialID)
	}
	if statusCode != fiber.StatusOK {
		return nil, fmt.Errorf("latest snapshot failed with status %d: %s", statusCode, remoteMessage(respBody))
	}

	var resp snapshotResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return resp.State, nil
}

// Close releases the transport.
func (t *HTTPTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("transport already closed")
	}
	return nil
}

func remoteMessage(body []byte) string {
	var resp errorResponse
	if err := json.Unmarshal(body, &resp); err == nil && resp.Message != "" {
		return resp.Message
	}
	return string(body)
}
