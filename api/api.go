// Package api exposes canvases, block content and schedules over HTTP.
package api

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v3"
	"github.com/meikuraledutech/blockflow"
	"github.com/meikuraledutech/blockflow/scheduler"
)

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	store blockflow.Store
	sched *scheduler.Scheduler
	log   *slog.Logger
}

// New creates a Server. A nil logger uses slog.Default.
func New(store blockflow.Store, sched *scheduler.Scheduler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{store: store, sched: sched, log: log}
}

// App returns a fiber app with every route registered.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{AppName: "blockflow"})
	s.Register(app)
	return app
}

// Register mounts the routes on r.
func (s *Server) Register(r fiber.Router) {
	// ── Schema ────────────────────────────────────────────────────────
	r.Post("/schema", s.createSchema)
	r.Delete("/schema", s.dropSchema)

	// ── Canvas (bulk) ─────────────────────────────────────────────────
	r.Post("/canvas", s.createCanvas)
	r.Get("/canvas/:id", s.getCanvas)
	r.Delete("/canvas/:id", s.deleteCanvas)

	// ── Nodes ─────────────────────────────────────────────────────────
	r.Post("/canvas/:id/nodes", s.addNode)
	r.Get("/canvas/:id/nodes", s.listNodes)
	r.Get("/nodes/:id", s.getNode)
	r.Put("/nodes/:id", s.updateNode)
	r.Put("/nodes/:id/content", s.saveContent)
	r.Delete("/nodes/:id", s.deleteNode)

	// ── Edges ─────────────────────────────────────────────────────────
	r.Post("/canvas/:id/edges", s.addEdge)
	r.Get("/canvas/:id/edges", s.listEdges)
	r.Get("/edges/:id", s.getEdge)
	r.Delete("/edges/:id", s.deleteEdge)

	// ── Schedules ─────────────────────────────────────────────────────
	const schedule = "/dashboards/:dashboard/schedules/:item"
	r.Put(schedule, s.upsertSchedule)
	r.Get(schedule, s.getSchedule)
	r.Delete(schedule, s.deleteSchedule)
	r.Post(schedule+"/trigger", s.triggerSchedule)
	r.Get(schedule+"/executions", s.listExecutions)
}

// fail writes err as {"error": ...} with the status its sentinel maps to.
func (s *Server) fail(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, blockflow.ErrNodeNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "node not found"})
	case errors.Is(err, blockflow.ErrEdgeNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "edge not found"})
	case errors.Is(err, blockflow.ErrScheduleNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "schedule not found"})
	case errors.Is(err, blockflow.ErrInvalidSchedule):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	}
	s.log.Error("api: request failed", "method", c.Method(), "path", c.Path(), "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
}

func badBody(c fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
}
