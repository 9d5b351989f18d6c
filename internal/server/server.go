package server

import (
	"errors"

	"backend-runaway/internal/auth"
	"backend-runaway/internal/config"
	"backend-runaway/internal/course"
	"backend-runaway/internal/db"
	"backend-runaway/internal/logging"
	"backend-runaway/internal/metrics"
	"backend-runaway/internal/run"
	"backend-runaway/internal/session"
	"backend-runaway/internal/shared/apperr"
	"backend-runaway/internal/stats"
	"backend-runaway/internal/stream"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App    *fiber.App
	Cfg    config.Config
	DB     *pgxpool.Pool
	Store  *db.Guarded
	Redis  *redis.Client
	Stream *stream.Hub
}

func NewServer(cfg config.Config, pg *pgxpool.Pool, redisClient *redis.Client) *Server {
	app := fiber.New(fiber.Config{
		AppName:      "runaway",
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
		ErrorHandler: errorHandler,
	})
	app.Use(recover.New())
	app.Use(logging.Middleware())
	app.Use(metrics.Middleware())

	s := &Server{
		App:    app,
		Cfg:    cfg,
		DB:     pg,
		Redis:  redisClient,
		Stream: stream.NewHub(redisClient),
	}
	if pg != nil {
		s.Store = db.NewGuarded(pg, db.DefaultBreakerConfig())
	}

	registerRoutes(s)
	return s
}

// Close releases resources owned by the server, not the clients passed in.
func (s *Server) Close() {
	s.Stream.Close()
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		status := fiber.Map{"status": "ok"}
		if s.Store != nil {
			status["store"] = s.Store.State()
		}
		return c.JSON(status)
	})
	s.App.Get("/metrics", metrics.Handler())

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	// A nil interface keeps handlers from calling into a nil pool.
	var store db.TxQuerier
	if s.Store != nil {
		store = s.Store
	}

	authSvc := auth.NewService(s.Cfg.JWTSecret, store, auth.WithTokenTTL(s.Cfg.AccessTokenTTL, s.Cfg.RefreshTokenTTL))
	recorder := run.NewRecorder(store, s.Cfg.StatsMaxAttempts)

	auth.RegisterRoutes(s.App.Group("/users"), authSvc, jwtMiddleware)
	auth.RegisterVerifyRoute(s.App.Group("/auth"), authSvc)
	session.RegisterRoutes(s.App.Group("/running_sessions"), session.NewService(store, s.Stream), recorder, jwtMiddleware)
	run.RegisterRoutes(s.App.Group("/runs"), recorder, jwtMiddleware)
	stats.RegisterRoutes(s.App.Group("/stats"), stats.NewService(stats.NewPGStore(store), s.Cfg.StatsMaxAttempts), jwtMiddleware)
	course.RegisterRoutes(s.App.Group("/courses"), course.NewService(store), jwtMiddleware)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream)
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := apperr.Status(err)
	msg := err.Error()
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	}
	if code >= fiber.StatusInternalServerError {
		logging.Ctx(c.UserContext()).Error().Err(err).Str("path", c.Path()).Msg("request failed")
		if code == fiber.StatusInternalServerError {
			msg = "internal server error"
		}
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}
