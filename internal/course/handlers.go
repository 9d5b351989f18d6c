package course

import (
	"strconv"

	"backend-runaway/internal/auth"
	"backend-runaway/internal/shared/apperr"
	"backend-runaway/internal/shared/geo"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/create", authMiddleware, func(c *fiber.Ctx) error {
		var req CreateRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}
		course, err := svc.Create(c.UserContext(), auth.UserID(c), req)
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(course)
	})

	r.Get("/list", func(c *fiber.Ctx) error {
		courses, err := svc.List(c.UserContext(), c.QueryInt("limit"))
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.JSON(courses)
	})

	r.Get("/recommend", func(c *fiber.Ctx) error {
		at, err := queryPoint(c)
		if err != nil {
			return err
		}
		course, err := svc.Recommend(c.UserContext(), at)
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.JSON(course)
	})

	r.Get("/nearby", func(c *fiber.Ctx) error {
		at, err := queryPoint(c)
		if err != nil {
			return err
		}
		if at == nil {
			return fiber.NewError(fiber.StatusBadRequest, "lat and lng required")
		}
		radius, _ := strconv.ParseFloat(c.Query("radius_km"), 64)
		courses, err := svc.Nearby(c.UserContext(), *at, radius)
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.JSON(courses)
	})

	r.Get("/:id", func(c *fiber.Ctx) error {
		course, err := svc.Get(c.UserContext(), c.Params("id"))
		if err != nil {
			return apperr.HTTPError(err)
		}
		return c.JSON(course)
	})
}

// queryPoint reads lat/lng query parameters; both absent yields nil.
func queryPoint(c *fiber.Ctx) (*geo.Point, error) {
	latRaw, lngRaw := c.Query("lat"), c.Query("lng")
	if latRaw == "" && lngRaw == "" {
		return nil, nil
	}
	lat, errLat := strconv.ParseFloat(latRaw, 64)
	lng, errLng := strconv.ParseFloat(lngRaw, 64)
	if errLat != nil || errLng != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "lat and lng must be numbers")
	}
	return &geo.Point{Lat: lat, Lng: lng}, nil
}
