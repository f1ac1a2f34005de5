// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

// Package server exposes aggregation, enrichment lookups and ad hoc scoring
// over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/samber/lo"

	"github.com/bonial-oss/vuln-risk/internal/aggregator"
	"github.com/bonial-oss/vuln-risk/internal/datasource/epss"
	"github.com/bonial-oss/vuln-risk/internal/metrics"
	"github.com/bonial-oss/vuln-risk/internal/risk"
)

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 10 * time.Second

// Deps are the collaborators the handlers delegate to.
type Deps struct {
	Aggregator *aggregator.Aggregator
	Summary    *aggregator.SummaryCache
	KEV        aggregator.CatalogProvider
	EPSS       aggregator.ScoreProvider
	Engine     *risk.Engine
	// Metrics is optional; /metrics is only served when set.
	Metrics *metrics.Metrics
}

type Server struct {
	echo *echo.Echo
	deps Deps
}

type requestValidator struct {
	v *validator.Validate
}

func (r *requestValidator) Validate(i any) error {
	if err := r.v.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func New(deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &requestValidator{v: validator.New()}
	e.HTTPErrorHandler = errorHandler
	e.Use(middleware.Recover())
	e.Use(requestLogger())

	s := &Server{echo: e, deps: deps}

	e.GET("/healthz", s.health)
	if deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(deps.Metrics.Handler()))
	}
	api := e.Group("/api/v1")
	api.GET("/vulnerabilities", s.vulnerabilities)
	api.GET("/summary", s.summary)
	api.GET("/kev", s.kevCatalog)
	api.GET("/epss", s.epssScores)
	api.POST("/risk", s.scoreRisk)
	return s
}

// Handler returns the HTTP handler serving all routes.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", addr)
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

func (s *Server) vulnerabilities(c echo.Context) error {
	user := c.QueryParam("user")
	if user == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user query parameter is required")
	}
	scope := aggregator.Scope{User: user, Teams: splitList(c.QueryParams()["team"])}

	var filter aggregator.Filter
	if v := c.QueryParam("epssThreshold"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "epssThreshold must be a number between 0 and 1")
		}
		filter.EPSSThreshold = f
	}
	if v := c.QueryParam("kevOnly"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "kevOnly must be a boolean")
		}
		filter.KEVOnly = b
	}
	filter.MinSeverity = strings.ToUpper(c.QueryParam("minSeverity"))

	resp, err := s.deps.Aggregator.Aggregate(c.Request().Context(), scope, filter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) summary(c echo.Context) error {
	sum, err := s.deps.Summary.Get(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sum)
}

func (s *Server) kevCatalog(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.KEV.GetCatalog(c.Request().Context()))
}

func (s *Server) epssScores(c echo.Context) error {
	valid, invalid := epss.ValidCVEs(splitList(c.QueryParams()["cve"]))
	if len(valid) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "at least one valid cve query parameter is required")
	}
	if invalid > 0 {
		c.Response().Header().Set("X-Invalid-CVEs", strconv.Itoa(invalid))
	}
	return c.JSON(http.StatusOK, s.deps.EPSS.GetScores(c.Request().Context(), valid))
}

// riskRequest is the body of POST /api/v1/risk.
type riskRequest struct {
	Severity            string     `json:"severity" validate:"required"`
	IngressTypes        []string   `json:"ingressTypes"`
	InKEV               bool       `json:"inKev"`
	EPSSScore           string     `json:"epssScore"`
	Suppressed          bool       `json:"suppressed"`
	Environment         string     `json:"environment"`
	BuildDate           *time.Time `json:"buildDate"`
	HasExploitReference bool       `json:"hasExploitReference"`
	PatchAvailable      bool       `json:"patchAvailable"`
}

func (s *Server) scoreRisk(c echo.Context) error {
	var req riskRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	result := s.deps.Engine.CalculateRiskScoreWithBreakdown(risk.Context{
		Severity:            req.Severity,
		IngressTypes:        req.IngressTypes,
		InKEV:               req.InKEV,
		EPSSScore:           req.EPSSScore,
		Suppressed:          req.Suppressed,
		Environment:         req.Environment,
		BuildDate:           req.BuildDate,
		HasExploitReference: req.HasExploitReference,
		PatchAvailable:      req.PatchAvailable,
	})
	return c.JSON(http.StatusOK, result)
}

// splitList accepts both repeated parameters and comma separated values.
func splitList(values []string) []string {
	out := lo.FlatMap(values, func(v string, _ int) []string { return strings.Split(v, ",") })
	out = lo.Map(out, func(v string, _ int) string { return strings.TrimSpace(v) })
	return lo.Compact(out)
}

func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			now := time.Now()
			err := next(c)
			if err == nil && c.Path() != "/healthz" {
				slog.Debug("handled request", "method", c.Request().Method, "url", c.Request().URL, "status", c.Response().Status, "duration", time.Since(now))
			}
			return err
		}
	}
}

// errorHandler logs every error and answers with {"message": ...}. Errors
// that are not HTTP errors become 500s without leaking their text.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := http.StatusText(http.StatusInternalServerError)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			message = m
		} else {
			message = http.StatusText(he.Code)
		}
	}
	if code >= http.StatusInternalServerError {
		slog.Error("request failed", "method", c.Request().Method, "path", c.Request().URL.Path, "err", err)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, echo.Map{"message": message})
	}
	if err != nil {
		slog.Error("could not send error response", "err", err)
	}
}
