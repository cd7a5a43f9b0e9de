package web

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/cobotics/go-cobot/pkg/hub"
)

// armStateResponse is the /api/state payload.
type armStateResponse struct {
	State    string      `json:"state"`
	Position *[3]float64 `json:"position,omitempty"`
}

// handleState returns the arm state and, when known, its position.
func (s *Server) handleState(c *fiber.Ctx) error {
	resp := armStateResponse{State: "unavailable"}
	if s.arm != nil {
		resp.State = s.arm.State()
		if x, y, z, ok := s.arm.Position(); ok {
			resp.Position = &[3]float64{x, y, z}
		}
	}
	return c.JSON(resp)
}

// handleScene returns the most recent fused scene context.
func (s *Server) handleScene(c *fiber.Ctx) error {
	if s.scene == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "scene fusion not running",
		})
	}
	sc, ok := s.scene.CurrentContext()
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "no scene context yet",
		})
	}
	return c.JSON(sc)
}

// handleObjects returns the tracked-object table.
func (s *Server) handleObjects(c *fiber.Ctx) error {
	if s.scene == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "scene fusion not running",
		})
	}
	return c.JSON(s.scene.TrackedObjects())
}

// handleHistory returns recent scene contexts. ?seconds=N bounds the
// window; zero or absent means everything retained.
func (s *Server) handleHistory(c *fiber.Ctx) error {
	if s.scene == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "scene fusion not running",
		})
	}
	window := time.Duration(c.QueryInt("seconds")) * time.Second
	return c.JSON(s.scene.History(window))
}

// handleSceneWS streams fused scene contexts. The current context is
// sent immediately on connect, then updates flow via the hub.
func (s *Server) handleSceneWS(c *websocket.Conn) {
	if s.scene != nil {
		if sc, ok := s.scene.CurrentContext(); ok {
			c.WriteJSON(sc)
		}
	}
	hub.Serve(s.sceneHub, c)
}

// handleCameraWS streams JPEG camera frames.
func (s *Server) handleCameraWS(c *websocket.Conn) {
	hub.Serve(s.cameraHub, c)
}
