package triage

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/triage/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/triage-records", h.CreateTriage)
	api.GET("/triage-records", h.ListTriageRecords)
	api.GET("/triage-records/:id", h.GetTriage)
	api.POST("/triage-records/:id/cancel", h.CancelTriage)
	api.POST("/triage-records/:id/reclassify", h.Reclassify)
	api.POST("/triage-records/:id/attended", h.MarkAttended)

	api.GET("/queues/awaiting-triage", h.ListAwaitingTriage)
	api.GET("/queues/awaiting-attendance", h.ListAwaitingAttendance)

	api.GET("/protocols", h.ListProtocols)
	api.GET("/protocols/analyze", h.AnalyzeComplaintQuery)
	api.GET("/protocols/:id/triage-records", h.ListByProtocol)
	api.POST("/protocols/analyze", h.AnalyzeComplaint)
	api.GET("/risk-levels", h.ListRiskLevels)
	api.GET("/statistics", h.Statistics)
}

// httpError maps domain errors onto status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrUpstreamUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "upstream unavailable")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// -- Triage Record Handlers --

func (h *Handler) CreateTriage(c echo.Context) error {
	var in Intake
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.svc.CreateTriage(c.Request().Context(), &in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) GetTriage(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.GetTriage(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ListTriageRecords(c echo.Context) error {
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()
	var (
		items []*TriageRecord
		total int
		err   error
	)
	switch {
	case c.QueryParam("admission_ref") != "":
		items, total, err = h.svc.ListByAdmission(ctx, c.QueryParam("admission_ref"), pg.Limit, pg.Offset)
	case c.QueryParam("patient_ref") != "":
		items, total, err = h.svc.ListByPatient(ctx, c.QueryParam("patient_ref"), pg.Limit, pg.Offset)
	case c.QueryParam("reclassified") == "true":
		items, total, err = h.svc.ListReclassified(ctx, pg.Limit, pg.Offset)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "one of admission_ref, patient_ref or reclassified=true is required")
	}
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*TriageRecord{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) CancelTriage(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.svc.CancelTriage(c.Request().Context(), id, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

type reclassifyRequest struct {
	RiskLevel string  `json:"risk_level"`
	Note      *string `json:"note,omitempty"`
}

func (h *Handler) Reclassify(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req reclassifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.svc.Reclassify(c.Request().Context(), id, req.RiskLevel, req.Note)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) MarkAttended(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.MarkAttended(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

// -- Queue Handlers --

func (h *Handler) ListAwaitingTriage(c echo.Context) error {
	flow, err := ParseFlow(c.QueryParam("flow"))
	if err != nil {
		return httpError(err)
	}
	var items []AwaitingTriageItem
	if q := c.QueryParam("date"); q != "" {
		day, perr := time.Parse(time.DateOnly, q)
		if perr != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
		}
		items, err = h.svc.ListAwaitingTriageOn(c.Request().Context(), flow, day)
	} else {
		items, err = h.svc.ListAwaitingTriage(c.Request().Context(), flow)
	}
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items, "total": len(items)})
}

func (h *Handler) ListAwaitingAttendance(c echo.Context) error {
	var flow *Flow
	if q := c.QueryParam("flow"); q != "" {
		f, err := ParseFlow(q)
		if err != nil {
			return httpError(err)
		}
		flow = &f
	}
	items, err := h.svc.ListAwaitingAttendance(c.Request().Context(), flow)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items, "total": len(items)})
}

// -- Protocol Handlers --

func (h *Handler) ListProtocols(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"data": h.svc.ListProtocols()})
}

func (h *Handler) ListRiskLevels(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"data": h.svc.RiskLevels()})
}

type analyzeRequest struct {
	ComplaintText string     `json:"complaint_text"`
	VitalSigns    VitalSigns `json:"vital_signs"`
}

func (h *Handler) AnalyzeComplaint(c echo.Context) error {
	var req analyzeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.AnalyzeComplaint(req.ComplaintText, req.VitalSigns)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

// AnalyzeComplaintQuery is the GET form of the preview: complaint text and
// vital signs come from query parameters.
func (h *Handler) AnalyzeComplaintQuery(c echo.Context) error {
	var v VitalSigns
	if bp := c.QueryParam("blood_pressure"); bp != "" {
		v.BloodPressure = &bp
	}
	var err error
	if v.Temperature, err = queryFloat(c, "temperature"); err != nil {
		return err
	}
	if v.HeartRate, err = queryInt(c, "heart_rate"); err != nil {
		return err
	}
	if v.RespiratoryRate, err = queryInt(c, "respiratory_rate"); err != nil {
		return err
	}
	if v.OxygenSaturation, err = queryInt(c, "oxygen_saturation"); err != nil {
		return err
	}
	if v.PainScale, err = queryInt(c, "pain_scale"); err != nil {
		return err
	}
	a, err := h.svc.AnalyzeComplaint(c.QueryParam("complaint_text"), v)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func queryFloat(c echo.Context, name string) (*float64, error) {
	s := c.QueryParam(name)
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return &f, nil
}

func queryInt(c echo.Context, name string) (*int, error) {
	s := c.QueryParam(name)
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return &n, nil
}

// protocolWindow is the default look-back of the per-protocol listing.
const protocolWindow = 7 * 24 * time.Hour

// ListByProtocol lists the triages a protocol was applied to. Without a
// period it covers the last seven days.
func (h *Handler) ListByProtocol(c echo.Context) error {
	end := h.svc.now()
	if q := c.QueryParam("end"); q != "" {
		t, err := time.Parse(time.RFC3339, q)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "end must be an RFC3339 timestamp")
		}
		end = t
	}
	start := end.Add(-protocolWindow)
	if q := c.QueryParam("start"); q != "" {
		t, err := time.Parse(time.RFC3339, q)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "start must be an RFC3339 timestamp")
		}
		start = t
	}
	items, err := h.svc.ListByProtocol(c.Request().Context(), c.Param("id"), start, end)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items, "total": len(items)})
}

// -- Statistics Handler --

func (h *Handler) Statistics(c echo.Context) error {
	start, err := time.Parse(time.RFC3339, c.QueryParam("start"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "start must be an RFC3339 timestamp")
	}
	end, err := time.Parse(time.RFC3339, c.QueryParam("end"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "end must be an RFC3339 timestamp")
	}
	st, err := h.svc.Statistics(c.Request().Context(), start, end)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}
