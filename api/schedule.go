package api

import (
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/meikuraledutech/blockflow"
)

const (
	defaultExecutionsLimit = 20
	maxExecutionsLimit     = 100
)

// upsertSchedule validates the body, computes the next run and stores it.
// The dashboard and item always come from the path.
func (s *Server) upsertSchedule(c fiber.Ctx) error {
	var sc blockflow.Schedule
	if err := c.Bind().JSON(&sc); err != nil {
		return badBody(c)
	}
	sc.DashboardID = c.Params("dashboard")
	sc.ItemID = c.Params("item")
	sc.LastRunAt = nil
	if prev, err := s.store.GetSchedule(c.Context(), sc.DashboardID, sc.ItemID); err != nil {
		return s.fail(c, err)
	} else if prev != nil {
		sc.LastRunAt = prev.LastRunAt
	}
	if err := s.sched.Save(c.Context(), &sc); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(sc)
}

func (s *Server) getSchedule(c fiber.Ctx) error {
	sc, err := s.store.GetSchedule(c.Context(), c.Params("dashboard"), c.Params("item"))
	if err != nil {
		return s.fail(c, err)
	}
	if sc == nil {
		return s.fail(c, blockflow.ErrScheduleNotFound)
	}
	return c.JSON(sc)
}

func (s *Server) deleteSchedule(c fiber.Ctx) error {
	if err := s.store.DeleteSchedule(c.Context(), c.Params("dashboard"), c.Params("item")); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) triggerSchedule(c fiber.Ctx) error {
	exec, err := s.sched.Trigger(c.Context(), c.Params("dashboard"), c.Params("item"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(exec)
}

// listExecutions returns the newest executions first; ?limit= is clamped to
// [1, 100].
func (s *Server) listExecutions(c fiber.Ctx) error {
	limit := defaultExecutionsLimit
	if q := c.Query("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid limit"})
		}
		limit = min(max(n, 1), maxExecutionsLimit)
	}
	execs, err := s.store.ListExecutions(c.Context(), c.Params("dashboard"), c.Params("item"), limit)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(execs)
}
