package run

import (
	"backend-runaway/internal/auth"
	"backend-runaway/internal/shared/apperr"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, rec *Recorder, authMiddleware fiber.Handler) {
	r.Get("/:id", authMiddleware, func(c *fiber.Ctx) error {
		run, err := rec.Get(c.UserContext(), auth.UserID(c), c.Params("id"))
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.JSON(run)
	})
}
