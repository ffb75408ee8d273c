package api

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/meikuraledutech/blockflow"
)

func (s *Server) createSchema(c fiber.Ctx) error {
	if err := s.store.CreateSchema(c.Context()); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"message": "schema created"})
}

func (s *Server) dropSchema(c fiber.Ctx) error {
	if err := s.store.DropSchema(c.Context()); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"message": "schema dropped"})
}

func (s *Server) createCanvas(c fiber.Ctx) error {
	var cv blockflow.Canvas
	if err := c.Bind().JSON(&cv); err != nil || cv.ID == "" {
		return badBody(c)
	}
	result, err := s.store.CreateCanvas(c.Context(), &cv)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

func (s *Server) getCanvas(c fiber.Ctx) error {
	cv, err := s.store.GetCanvas(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	if cv == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "canvas not found"})
	}
	return c.JSON(cv)
}

func (s *Server) deleteCanvas(c fiber.Ctx) error {
	if err := s.store.DeleteCanvas(c.Context(), c.Params("id")); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ── Nodes ─────────────────────────────────────────────────────────

func (s *Server) addNode(c fiber.Ctx) error {
	var node blockflow.Node
	if err := c.Bind().JSON(&node); err != nil {
		return badBody(c)
	}
	id, err := s.store.AddNode(c.Context(), c.Params("id"), &node)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": id})
}

func (s *Server) listNodes(c fiber.Ctx) error {
	nodes, err := s.store.ListNodes(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(nodes)
}

func (s *Server) getNode(c fiber.Ctx) error {
	n, err := s.store.GetNode(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	if n == nil {
		return s.fail(c, blockflow.ErrNodeNotFound)
	}
	return c.JSON(n)
}

func (s *Server) updateNode(c fiber.Ctx) error {
	var node blockflow.Node
	if err := c.Bind().JSON(&node); err != nil {
		return badBody(c)
	}
	node.ID = c.Params("id")
	if err := s.store.UpdateNode(c.Context(), &node); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// saveContent stores the raw request body as the node's content.
func (s *Server) saveContent(c fiber.Ctx) error {
	body := c.Body()
	if !json.Valid(body) {
		return badBody(c)
	}
	data := append(json.RawMessage(nil), body...)
	if err := s.store.SaveContent(c.Context(), c.Params("id"), data); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) deleteNode(c fiber.Ctx) error {
	if err := s.store.DeleteNode(c.Context(), c.Params("id")); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ── Edges ─────────────────────────────────────────────────────────

func (s *Server) addEdge(c fiber.Ctx) error {
	var edge blockflow.Edge
	if err := c.Bind().JSON(&edge); err != nil || edge.Source == "" || edge.Target == "" {
		return badBody(c)
	}
	id, err := s.store.AddEdge(c.Context(), c.Params("id"), &edge)
	if errors.Is(err, blockflow.ErrNodeNotFound) {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "edge endpoint not found"})
	}
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": id})
}

func (s *Server) listEdges(c fiber.Ctx) error {
	edges, err := s.store.ListEdges(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(edges)
}

func (s *Server) getEdge(c fiber.Ctx) error {
	e, err := s.store.GetEdge(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	if e == nil {
		return s.fail(c, blockflow.ErrEdgeNotFound)
	}
	return c.JSON(e)
}

func (s *Server) deleteEdge(c fiber.Ctx) error {
	if err := s.store.DeleteEdge(c.Context(), c.Params("id")); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
