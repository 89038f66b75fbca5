package web

import (
	"errors"
	"io"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-feedscan/pkg/camera"
	"github.com/teslashibe/go-feedscan/pkg/capture"
	"github.com/teslashibe/go-feedscan/pkg/dispatch"
	"github.com/teslashibe/go-feedscan/pkg/session"
)

// ErrorResponse accompanies every failed action. State is the session after
// the failure, which may itself carry LastError.
type ErrorResponse struct {
	Error string   `json:"error"`
	State Snapshot `json:"state"`
}

// LiveRequest is the optional body of POST /api/live. Without Enabled the
// live scan is toggled.
type LiveRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"clients": s.stateHub.ClientCount(),
	})
}

func (s *Server) handleState(c *fiber.Ctx) error {
	return c.JSON(s.snapshot(s.machine.State()))
}

func (s *Server) handleCameraMode(c *fiber.Ctx) error {
	return s.respond(c, fiber.StatusOK, s.machine.ToCamera(c.UserContext()))
}

func (s *Server) handleUploadMode(c *fiber.Ctx) error {
	return s.respond(c, fiber.StatusOK, s.machine.ToUpload())
}

func (s *Server) handleLive(c *fiber.Ctx) error {
	var req LiveRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
	}

	var err error
	if req.Enabled == nil {
		err = s.machine.ToggleLive()
	} else {
		err = s.machine.SetLive(*req.Enabled)
	}
	return s.respond(c, fiber.StatusOK, err)
}

// handleCapture answers once the request is dispatched; the label arrives
// on /ws/state or a later /api/state.
func (s *Server) handleCapture(c *fiber.Ctx) error {
	return s.respond(c, fiber.StatusAccepted, s.machine.ManualCapture(c.UserContext()))
}

func (s *Server) handleUpload(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "file is required"})
	}
	if fh.Size > MaxUploadSize {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{"error": "file too large"})
	}

	f, err := fh.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxUploadSize+1))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if len(data) > MaxUploadSize {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{"error": "file too large"})
	}

	s.logger.Debug("file uploaded", "name", fh.Filename, "bytes", len(data))
	return s.respond(c, fiber.StatusAccepted, s.machine.FileSelected(c.UserContext(), data))
}

func (s *Server) respond(c *fiber.Ctx, okStatus int, err error) error {
	snap := s.snapshot(s.machine.State())
	if err == nil {
		return c.Status(okStatus).JSON(snap)
	}
	return c.Status(statusFor(err)).JSON(ErrorResponse{Error: err.Error(), State: snap})
}

// statusFor maps a session error to an HTTP status.
func statusFor(err error) int {
	var camErr *camera.Error
	switch {
	case errors.Is(err, &dispatch.Error{Kind: dispatch.Busy}):
		return fiber.StatusTooManyRequests
	case errors.Is(err, session.ErrInvalidTransition):
		return fiber.StatusConflict
	case errors.Is(err, session.ErrCameraUnavailable), errors.As(err, &camErr):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, session.ErrClosed):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, capture.ErrUnsupportedFormat):
		return fiber.StatusUnsupportedMediaType
	default:
		return fiber.StatusInternalServerError
	}
}
