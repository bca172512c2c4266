// Package server exposes the calendar over HTTP: a small JSON API for
// events and recurrence rules plus the iCal and RSS feeds.
package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/dukop/eventcal/calendar"
	"github.com/dukop/eventcal/calendar/storage"
	"github.com/dukop/eventcal/calendar/times"
)

const feedLimit = 500

// Server serves the HTTP API.
type Server struct {
	echo    *echo.Echo
	svc     *calendar.Service
	clock   times.Clock
	log     *slog.Logger
	baseURL string
}

// New builds a server around svc. A nil logger discards log output.
func New(svc *calendar.Service, clock times.Clock, log *slog.Logger, baseURL string) *Server {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{echo: e, svc: svc, clock: clock, log: log, baseURL: baseURL}
	e.Use(s.requestLogger)

	e.GET("/healthz", s.healthz)
	e.GET("/events", s.listEvents)
	e.POST("/events", s.createEvent)
	e.GET("/events/:slug", s.getEvent)
	e.POST("/events/:slug/publish", s.publishEvent)
	e.POST("/events/:slug/recurrences", s.createRule)
	e.PUT("/events/:slug/recurrences/:id", s.editRule)
	e.DELETE("/events/:slug/recurrences/:id", s.deleteRule)
	e.POST("/events/:slug/occurrences/:id/detach", s.detachOccurrence)
	e.GET("/feeds/calendar.ics", s.icalFeed)
	e.GET("/feeds/rss.xml", s.rssFeed)
	return s
}

// Start listens on addr until the server is shut down.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Handler returns the underlying http.Handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		s.log.Info("request",
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
			"status", c.Response().Status,
			"duration", time.Since(start),
		)
		return err
	}
}

// httpError maps service errors onto HTTP status codes.
func httpError(err error) error {
	var serr *storage.Error
	if errors.As(err, &serr) {
		switch serr.Type {
		case storage.ErrNotFound:
			return echo.NewHTTPError(http.StatusNotFound, serr.Message)
		case storage.ErrInvalidInput:
			return echo.NewHTTPError(http.StatusBadRequest, serr.Message)
		case storage.ErrAlreadyExists:
			return echo.NewHTTPError(http.StatusConflict, serr.Message)
		}
	}
	return err
}

func (s *Server) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
