package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"

	"yqhp/experiment-runner/internal/state"
	"yqhp/experiment-runner/internal/store"
	"yqhp/experiment-runner/pkg/logger"
	"yqhp/experiment-runner/pkg/types"
)

// Wire bodies for the redirected store operations.

type completeTrialRequest struct {
	Results map[string]any `json:"results"`
}

type snapshotRequest struct {
	State map[string]any `json:"state"`
	Label string         `json:"label,omitempty"`
}

type snapshotResponse struct {
	State map[string]any `json:"state"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ServerConfig holds the HTTP listener configuration for the coordinator.
type ServerConfig struct {
	// Address is the address to listen on (e.g. ":8080").
	Address string `yaml:"address"`

	// ReadTimeout is the maximum duration for reading a request.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration for writing a response. Zero
	// means no limit; job-request responses block until the coordinator
	// loop answers.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultServerConfig returns a default server configuration.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:     ":8080",
		ReadTimeout: 30 * time.Second,
	}
}

// Server is the coordinator's HTTP transport. It exposes the job-request
// endpoint, whose traffic it funnels into a single request stream for the
// coordinator loop, and the redirected store endpoints served by the owning
// process's client.
type Server struct {
	app    *fiber.App
	config *ServerConfig
	owner  state.Client

	reqCh     chan *RequestEnvelope
	closed    chan struct{}
	closeOnce sync.Once
}

// NewServer creates the coordinator-side HTTP transport.
func NewServer(config *ServerConfig, owner state.Client) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}

	s := &Server{
		config: config,
		owner:  owner,
		reqCh:  make(chan *RequestEnvelope),
		closed: make(chan struct{}),
	}

	s.app = fiber.New(fiber.Config{
		ReadTimeout:           config.ReadTimeout,
		WriteTimeout:          config.WriteTimeout,
		DisableStartupMessage: true,
	})
	s.app.Use(fiberrecover.New())
	s.routes()

	return s
}

func (s *Server) routes() {
	s.app.Get("/health", s.handleHealth)

	v1 := s.app.Group("/api/v1")
	v1.Post("/jobs/request", s.handleJobRequest)
	v1.Post("/trials/:id/complete", s.handleCompleteTrial)
	v1.Get("/trials/:id", s.handleGetTrial)
	v1.Post("/trials/:id/snapshots", s.handleSaveSnapshot)
	v1.Get("/trials/:id/snapshots/latest", s.handleLatestSnapshot)
}

// Start begins listening in a background goroutine.
func (s *Server) Start() error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.app.Listen(s.config.Address); err != nil {
			errCh <- err
		}
	}()

	// Give the listener a moment to fail on startup errors like a bound
	// port; otherwise assume it is up.
	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start coordinator server: %w", err)
	case <-time.After(100 * time.Millisecond):
		logger.Info("coordinator: listening on %s", s.config.Address)
		return nil
	}
}

// Recv blocks for the next pending job request from any worker.
func (s *Server) Recv(ctx context.Context) (*RequestEnvelope, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closed:
		return nil, ErrTransportClosed
	case env := <-s.reqCh:
		return env, nil
	}
}

// Close stops accepting requests and shuts the HTTP listener down.
func (s *Server) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return s.app.Shutdown()
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// handleJobRequest funnels a worker's request into the coordinator loop and
// blocks until the loop answers.
func (s *Server) handleJobRequest(c *fiber.Ctx) error {
	var req types.JobRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{
			Error:   "bad_request",
			Message: fmt.Sprintf("invalid job request: %v", err),
		})
	}

	env := NewRequestEnvelope(&req)
	select {
	case <-s.closed:
		return c.Status(fiber.StatusServiceUnavailable).JSON(errorResponse{
			Error:   "shutting_down",
			Message: "coordinator is shutting down",
		})
	case s.reqCh <- env:
	}

	resp, err := env.Wait(c.UserContext())
	if err != nil {
		status := fiber.StatusInternalServerError
		if errors.Is(err, ErrProtocolViolation) {
			status = fiber.StatusConflict
		}
		return c.Status(status).JSON(errorResponse{
			Error:   "job_request_failed",
			Message: err.Error(),
		})
	}
	return c.JSON(resp)
}

func (s *Server) handleCompleteTrial(c *fiber.Ctx) error {
	var req completeTrialRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{
			Error:   "bad_request",
			Message: fmt.Sprintf("invalid completion request: %v", err),
		})
	}

	trialID := c.Params("id")
	if err := s.owner.CompleteTrial(c.UserContext(), trialID, req.Results); err != nil {
		return storeError(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleGetTrial(c *fiber.Ctx) error {
	trial, err := s.owner.GetTrial(c.UserContext(), c.Params("id"))
	if err != nil {
		return storeError(c, err)
	}
	return c.JSON(trial)
}

func (s *Server) handleSaveSnapshot(c *fiber.Ctx) error {
	var req snapshotRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{
			Error:   "bad_request",
			Message: fmt.Sprintf("invalid snapshot request: %v", err),
		})
	}

	trialID := c.Params("id")
	if err := s.owner.SaveSnapshot(c.UserContext(), trialID, req.State, req.Label); err != nil {
		return storeError(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

func (s *Server) handleLatestSnapshot(c *fiber.Ctx) error {
	snapState, err := s.owner.LatestSnapshot(c.UserContext(), c.Params("id"))
	if err != nil {
		return storeError(c, err)
	}
	return c.JSON(snapshotResponse{State: snapState})
}

func storeError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrTrialNotFound),
		errors.Is(err, store.ErrExperimentNotFound),
		errors.Is(err, store.ErrSnapshotNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, store.ErrAlreadyCompleted):
		status = fiber.StatusConflict
	}
	return c.Status(status).JSON(errorResponse{
		Error:   "store_error",
		Message: err.Error(),
	})
}
