package stats

import (
	"time"

	"backend-runaway/internal/auth"
	"backend-runaway/internal/shared/apperr"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Get("/", authMiddleware, func(c *fiber.Ctx) error {
		doc, err := svc.Snapshot(c.UserContext(), auth.UserID(c), time.Now())
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.JSON(doc)
	})

	r.Post("/rebuild", authMiddleware, func(c *fiber.Ctx) error {
		doc, err := svc.Rebuild(c.UserContext(), auth.UserID(c), time.Now())
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.JSON(doc)
	})

	r.Get("/:period", authMiddleware, func(c *fiber.Ctx) error {
		period, err := ParsePeriod(c.Params("period"))
		if err != nil {
			return apperr.HTTPError(err)
		}
		bucket, err := svc.Get(c.UserContext(), auth.UserID(c), period, time.Now())
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.JSON(fiber.Map{"period": period, "stats": bucket})
	})
}
