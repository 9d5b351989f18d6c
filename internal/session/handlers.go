package session

import (
	"backend-runaway/internal/auth"
	"backend-runaway/internal/run"
	"backend-runaway/internal/shared/apperr"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service, runs *run.Recorder, authMiddleware fiber.Handler) {
	r.Use(authMiddleware)

	r.Post("/start", func(c *fiber.Ctx) error {
		session, err := svc.Start(c.UserContext(), auth.UserID(c))
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(session)
	})

	r.Get("/history", func(c *fiber.Ctx) error {
		history, err := runs.History(c.UserContext(), auth.UserID(c), c.QueryInt("limit"))
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.JSON(history)
	})

	r.Get("/:id", func(c *fiber.Ctx) error {
		session, err := svc.Get(c.UserContext(), c.Params("id"), auth.UserID(c))
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.JSON(session)
	})

	r.Post("/:id/points", func(c *fiber.Ctx) error {
		var req Point
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}
		update, err := svc.AddPoint(c.UserContext(), c.Params("id"), auth.UserID(c), req)
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(update)
	})

	r.Get("/:id/points", func(c *fiber.Ctx) error {
		points, err := svc.Points(c.UserContext(), c.Params("id"), auth.UserID(c))
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.JSON(points)
	})

	r.Post("/:id/end", func(c *fiber.Ctx) error {
		var req run.RunInput
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}
		recorded, err := runs.RecordRun(c.UserContext(), c.Params("id"), auth.UserID(c), req)
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(recorded)
	})
}
