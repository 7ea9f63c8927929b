package records

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/carelake/analytics/internal/ingest"
	"github.com/carelake/analytics/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/data/upload", h.Upload)
	api.GET("/dashboard", h.Dashboard)
	api.GET("/analytics/anomalies", h.Anomalies)
	api.GET("/records", h.ListRecords)
	api.GET("/records/:patient_id", h.GetRecord)
}

// UploadResponse summarizes a processed CSV batch.
type UploadResponse struct {
	Message      string     `json:"message"`
	Records      int        `json:"records"`
	Rejected     int        `json:"rejected"`
	Failed       int        `json:"failed"`
	Deduplicated int        `json:"deduplicated"`
	Errors       []RowError `json:"errors"`
}

// RowError reports why a single input row was not persisted.
type RowError struct {
	Row     int      `json:"row"`
	Status  string   `json:"status"`
	Reasons []string `json:"reasons"`
}

func (h *Handler) Upload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "no file provided")
	}
	if !strings.HasSuffix(strings.ToLower(fh.Filename), ".csv") {
		return echo.NewHTTPError(http.StatusBadRequest, "only CSV files are accepted")
	}

	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unable to read file")
	}
	defer f.Close()

	report, err := h.svc.IngestCSV(c.Request().Context(), f)
	if err != nil {
		if report == nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if errors.Is(err, ingest.ErrStoreUnavailable) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "record store unavailable")
		}
		log.Error().Err(err).Msg("csv ingestion aborted")
		return echo.NewHTTPError(http.StatusInternalServerError, "upload failed")
	}

	return c.JSON(http.StatusOK, buildUploadResponse(report))
}

func buildUploadResponse(report *ingest.Report) *UploadResponse {
	resp := &UploadResponse{
		Message:      "upload processed",
		Records:      report.Accepted,
		Rejected:     report.Rejected,
		Failed:       report.Failed,
		Deduplicated: report.Deduplicated,
		Errors:       []RowError{},
	}
	for _, out := range report.ErrorOutcomes(ingest.DefaultErrorCap) {
		re := RowError{Row: out.Row, Status: string(out.Status)}
		for _, fe := range out.Errors {
			re.Reasons = append(re.Reasons, fe.Error())
		}
		if out.Cause != "" {
			re.Reasons = append(re.Reasons, out.Cause)
		}
		resp.Errors = append(resp.Errors, re)
	}
	return resp
}

func (h *Handler) Dashboard(c echo.Context) error {
	trends, err := h.svc.DiseaseTrends(c.Request().Context())
	if err != nil {
		log.Error().Err(err).Msg("disease trend query failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "dashboard unavailable")
	}
	if trends == nil {
		trends = []*DiseaseTrend{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"trends": trends})
}

func (h *Handler) Anomalies(c echo.Context) error {
	anomalies, err := h.svc.RecentAnomalies(c.Request().Context())
	if err != nil {
		log.Error().Err(err).Msg("anomaly scan failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "anomaly detection unavailable")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"anomalies": anomalies,
		"count":     len(anomalies),
	})
}

func (h *Handler) ListRecords(c echo.Context) error {
	p := pagination.FromContext(c)
	recs, total, err := h.svc.ListRecords(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "unable to list records")
	}
	if recs == nil {
		recs = []*PatientRecord{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(recs, total, p.Limit, p.Offset))
}

func (h *Handler) GetRecord(c echo.Context) error {
	patientID := c.Param("patient_id")
	rec, err := h.svc.GetRecord(c.Request().Context(), patientID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "record not found")
		}
		log.Error().Err(err).Str("patient_id", patientID).Msg("record lookup failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "unable to read record")
	}
	return c.JSON(http.StatusOK, rec)
}
