// Package web serves the operator dashboard: REST endpoints for arm
// and scene state plus websocket feeds for live scene updates and the
// camera stream.
package web

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/cobotics/go-cobot/internal/log"
	"github.com/cobotics/go-cobot/pkg/fusion"
	"github.com/cobotics/go-cobot/pkg/hub"
)

// ArmStatus is the slice of the arm controller the dashboard reads.
type ArmStatus interface {
	State() string
	Position() (x, y, z float64, ok bool)
}

// SceneReader is the slice of the fusion engine the dashboard reads.
type SceneReader interface {
	CurrentContext() (fusion.SceneContext, bool)
	History(d time.Duration) []fusion.SceneContext
	TrackedObjects() map[string]fusion.TrackedObject
}

// FrameSource provides the latest camera frame as JPEG bytes.
type FrameSource interface {
	CurrentFrame() ([]byte, bool)
}

// Server is the dashboard server. Collaborators are optional; a nil
// one makes the matching endpoints report absence rather than fail.
type Server struct {
	app  *fiber.App
	port string

	arm    ArmStatus
	scene  SceneReader
	frames FrameSource

	sceneHub  *hub.Hub
	cameraHub *hub.Hub

	frameStop chan struct{}
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithArm attaches the arm status provider.
func WithArm(a ArmStatus) ServerOption {
	return func(s *Server) { s.arm = a }
}

// WithScene attaches the scene reader.
func WithScene(r SceneReader) ServerOption {
	return func(s *Server) { s.scene = r }
}

// WithFrames attaches the camera frame source.
func WithFrames(f FrameSource) ServerOption {
	return func(s *Server) { s.frames = f }
}

// NewServer creates the dashboard server listening on port.
func NewServer(port string, opts ...ServerOption) *Server {
	s := &Server{
		port:      port,
		sceneHub:  hub.New("scene"),
		cameraHub: hub.New("camera"),
		frameStop: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	app := fiber.New(fiber.Config{
		AppName:               "Cobot Dashboard",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/state", s.handleState)
	api.Get("/scene", s.handleScene)
	api.Get("/objects", s.handleObjects)
	api.Get("/history", s.handleHistory)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/scene", websocket.New(s.handleSceneWS))
	app.Get("/ws/camera", websocket.New(s.handleCameraWS))

	s.app = app
	return s
}

// Start begins serving. Blocks until Shutdown.
func (s *Server) Start() error {
	go s.sceneHub.Run()
	go s.cameraHub.Run()
	if s.frames != nil {
		go s.pumpFrames()
	}

	log.Info("dashboard listening", "addr", "http://localhost:"+s.port)
	return s.app.Listen(":" + s.port)
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			log.Error("dashboard server error", "error", err)
		}
	}()
}

// BroadcastScene pushes a fused context to all scene subscribers.
// Wired as the fusion engine's OnContext callback.
func (s *Server) BroadcastScene(sc fusion.SceneContext) {
	if err := s.sceneHub.BroadcastJSON(sc); err != nil {
		log.Warn("scene broadcast failed", "error", err)
	}
}

// pumpFrames forwards camera frames to websocket subscribers at a
// fixed 10 fps, skipping work while nobody is connected.
func (s *Server) pumpFrames() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.frameStop:
			return
		case <-ticker.C:
			if s.cameraHub.ClientCount() == 0 {
				continue
			}
			if frame, ok := s.frames.CurrentFrame(); ok {
				s.cameraHub.BroadcastBinary(frame)
			}
		}
	}
}

// Shutdown gracefully stops the server and its hubs.
func (s *Server) Shutdown() error {
	close(s.frameStop)
	s.sceneHub.Stop()
	s.cameraHub.Stop()
	return s.app.Shutdown()
}
