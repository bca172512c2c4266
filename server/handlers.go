package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/samber/mo"

	"github.com/dukop/eventcal/calendar"
	"github.com/dukop/eventcal/calendar/feed"
	"github.com/dukop/eventcal/calendar/recurrence"
	"github.com/dukop/eventcal/calendar/storage"
	"github.com/dukop/eventcal/calendar/times"
)

// editSecretHeader must match the event's edit secret on mutating
// routes. Full authentication lives outside this service; the secret is
// the sharing-link scheme the calendar has always used.
const editSecretHeader = "X-Edit-Secret"

type createEventRequest struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	VenueName   string     `json:"venue_name"`
	Street      string     `json:"street"`
	City        string     `json:"city"`
	ZipCode     string     `json:"zip_code"`
	Start       time.Time  `json:"start"`
	End         *time.Time `json:"end"`
}

type createEventResponse struct {
	Event      any    `json:"event"`
	Occurrence any    `json:"occurrence"`
	EditSecret string `json:"edit_secret"`
	ViewSecret string `json:"view_secret"`
}

func (s *Server) createEvent(c echo.Context) error {
	var req createEventRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	event, occ, err := s.svc.CreateEvent(c.Request().Context(), calendar.NewEvent{
		Name:        req.Name,
		Description: req.Description,
		VenueName:   req.VenueName,
		Street:      req.Street,
		City:        req.City,
		ZipCode:     req.ZipCode,
		Start:       req.Start,
		End:         req.End,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, createEventResponse{
		Event:      event,
		Occurrence: occ,
		EditSecret: event.EditSecret,
		ViewSecret: event.ViewSecret,
	})
}

func (s *Server) listEvents(c echo.Context) error {
	upcoming, err := s.svc.ListUpcoming(c.Request().Context(), feedLimit)
	if err != nil {
		return httpError(err)
	}
	type item struct {
		Event      any `json:"event"`
		Occurrence any `json:"occurrence"`
	}
	items := make([]item, 0, len(upcoming))
	for _, up := range upcoming {
		items = append(items, item{Event: up.Event, Occurrence: up.Occurrence})
	}
	return c.JSON(http.StatusOK, items)
}

func (s *Server) getEvent(c echo.Context) error {
	event, occs, err := s.svc.GetEventBySlug(c.Request().Context(), c.Param("slug"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"event":       event,
		"occurrences": occs,
	})
}

func (s *Server) publishEvent(c echo.Context) error {
	event, err := s.requireEditSecret(c)
	if err != nil {
		return err
	}
	if err := s.svc.PublishEvent(c.Request().Context(), event.ID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type ruleRequest struct {
	AnchorID    uuid.UUID         `json:"anchor_id"`
	Kinds       []recurrence.Kind `json:"kinds"`
	End         string            `json:"end,omitempty"`
	ClearEnd    bool              `json:"clear_end,omitempty"`
	IncludePast bool              `json:"include_past,omitempty"`
}

func (r *ruleRequest) endDate() (mo.Option[times.Date], error) {
	if r.End == "" {
		return mo.None[times.Date](), nil
	}
	date, err := times.ParseDate(r.End)
	if err != nil {
		return mo.None[times.Date](), echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return mo.Some(date), nil
}

func (s *Server) createRule(c echo.Context) error {
	event, err := s.requireEditSecret(c)
	if err != nil {
		return err
	}
	var req ruleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	end, err := req.endDate()
	if err != nil {
		return err
	}
	rule, err := s.svc.CreateRuleAndSync(c.Request().Context(), calendar.NewRule{
		EventID:     event.ID,
		AnchorID:    req.AnchorID,
		Kinds:       req.Kinds,
		End:         end,
		IncludePast: req.IncludePast,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]any{"id": rule.ID, "kinds": rule.Kinds})
}

func (s *Server) editRule(c echo.Context) error {
	if _, err := s.requireEditSecret(c); err != nil {
		return err
	}
	ruleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed rule id")
	}
	var req ruleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	end, err := req.endDate()
	if err != nil {
		return err
	}
	err = s.svc.EditRuleAndResync(c.Request().Context(), ruleID, calendar.RuleEdit{
		Kinds:    req.Kinds,
		End:      end,
		ClearEnd: req.ClearEnd,
	})
	if err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) deleteRule(c echo.Context) error {
	if _, err := s.requireEditSecret(c); err != nil {
		return err
	}
	ruleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed rule id")
	}
	if err := s.svc.DeleteRule(c.Request().Context(), ruleID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) detachOccurrence(c echo.Context) error {
	if _, err := s.requireEditSecret(c); err != nil {
		return err
	}
	occID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed occurrence id")
	}
	if err := s.svc.DetachOccurrence(c.Request().Context(), occID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) icalFeed(c echo.Context) error {
	upcoming, err := s.svc.ListUpcoming(c.Request().Context(), feedLimit)
	if err != nil {
		return httpError(err)
	}
	out, err := feed.ICal(s.baseURL, upcoming, s.clock.Now())
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, "text/calendar; charset=utf-8", out)
}

func (s *Server) rssFeed(c echo.Context) error {
	upcoming, err := s.svc.ListUpcoming(c.Request().Context(), feedLimit)
	if err != nil {
		return httpError(err)
	}
	out, err := feed.RSS("Future events", s.baseURL, "Upcoming community events", upcoming, s.clock.Now())
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, "application/rss+xml; charset=utf-8", out)
}

// requireEditSecret loads the event from the slug parameter and checks
// the caller presented its edit secret.
func (s *Server) requireEditSecret(c echo.Context) (*storage.Event, error) {
	event, _, err := s.svc.GetEventBySlug(c.Request().Context(), c.Param("slug"))
	if err != nil {
		return nil, httpError(err)
	}
	if c.Request().Header.Get(editSecretHeader) != event.EditSecret {
		return nil, echo.NewHTTPError(http.StatusForbidden, "wrong or missing edit secret")
	}
	return event, nil
}
