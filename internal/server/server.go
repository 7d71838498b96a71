// Package server exposes job match analysis over HTTP.
package server

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/match"
	"github.com/spigell/jobmatch/internal/quota"
	"github.com/spigell/jobmatch/internal/scoring"
)

// HeaderUserID carries the authenticated user. Authentication itself happens
// in front of this service.
const HeaderUserID = "X-User-ID"

type Analyzer interface {
	AnalyzeJobMatch(ctx context.Context, userID, applicationID string) (*scoring.MatchAnalysis, error)
}

type QuotaReporter interface {
	Usage(userID string, op quota.Operation) (quota.Status, error)
	Operations() []quota.Operation
}

type Server struct {
	app    *fiber.App
	logger *zap.Logger

	// base is the parent of every request context; stop cancels in-flight
	// analyses on shutdown.
	base context.Context
	stop context.CancelFunc
}

func New(analyzer Analyzer, quotas QuotaReporter, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          time.Minute,
	})

	base, stop := context.WithCancel(context.Background())
	s := &Server{app: app, logger: logger, base: base, stop: stop}
	app.Use(s.requestContext)

	h := &handler{analyzer: analyzer, quotas: quotas, logger: logger}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := app.Group("/api", requireUser)
	api.Post("/applications/:id/analyze", h.analyze)
	api.Get("/quota", h.quota)

	return s
}

func (s *Server) App() *fiber.App {
	return s.app
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	defer s.stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		errCh <- s.app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("http server shutting down")
		// Abort in-flight upstream calls first, so draining does not wait on
		// their retries.
		s.stop()
		return s.app.ShutdownWithTimeout(30 * time.Second)
	}
}

// requestContext gives each request a context that ends with the server.
func (s *Server) requestContext(c *fiber.Ctx) error {
	ctx, cancel := context.WithCancel(s.base)
	defer cancel()

	c.SetUserContext(ctx)
	return c.Next()
}

func requireUser(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Get(HeaderUserID))
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(match.Description{
			Code:   "unauthenticated",
			Reason: "Sign in to continue.",
		})
	}
	c.Locals("user_id", userID)
	return c.Next()
}

type handler struct {
	analyzer Analyzer
	quotas   QuotaReporter
	logger   *zap.Logger
}

func (h *handler) analyze(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)

	analysis, err := h.analyzer.AnalyzeJobMatch(c.UserContext(), userID, c.Params("id"))
	if err != nil {
		desc := match.Describe(err)
		if desc.RetryAfter > 0 {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(desc.RetryAfter))
		}
		return c.Status(statusFor(desc.Code)).JSON(fiber.Map{"error": desc})
	}

	return c.JSON(analysis)
}

func (h *handler) quota(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)

	statuses := make([]quota.Status, 0)
	for _, op := range h.quotas.Operations() {
		st, err := h.quotas.Usage(userID, op)
		if err != nil {
			h.logger.Error("quota status failed", zap.String("operation", string(op)), zap.Error(err))
			continue
		}
		statuses = append(statuses, st)
	}

	return c.JSON(fiber.Map{"quotas": statuses})
}

func statusFor(code string) int {
	switch code {
	case "validation":
		return fiber.StatusBadRequest
	case "not_found":
		return fiber.StatusNotFound
	case "rate_limited", "provider_quota_exceeded":
		return fiber.StatusTooManyRequests
	case "upstream_error":
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}
