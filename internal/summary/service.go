package summary

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	httperr "github.com/kilnworks/tilemetry/internal/core/errors"
	"github.com/kilnworks/tilemetry/internal/core/shift"
	"github.com/kilnworks/tilemetry/internal/core/storage"
)

// Service exposes summary closure and retrieval over HTTP. Scheduled
// closures go through the same Closer; these endpoints exist for
// operators to close early, re-run a failed closure, or inspect rows.
type Service struct {
	closer    *Closer
	scheduler *Scheduler
	summaries storage.SummaryStore
}

func NewService(closer *Closer, scheduler *Scheduler, summaries storage.SummaryStore) *Service {
	if closer == nil {
		panic("summary: closer must not be nil")
	}
	if scheduler == nil {
		panic("summary: scheduler must not be nil")
	}
	if summaries == nil {
		panic("summary: summary store must not be nil")
	}
	return &Service{closer: closer, scheduler: scheduler, summaries: summaries}
}

// RegisterRoutes registers the summary service routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/summaries/shifts/close", s.CloseShiftHandler)
	r.POST("/v1/summaries/days/close", s.CloseDayHandler)
	r.GET("/v1/summaries/shifts", s.GetShiftSummaryHandler)
	r.GET("/v1/summaries/days", s.GetDailySummaryHandler)
}

type closeShiftRequest struct {
	DeviceID  string `json:"device_id"`
	ShiftDate string `json:"shift_date"`
	ShiftType string `json:"shift_type"`
	ClosedBy  string `json:"closed_by"`
}

// CloseShiftHandler closes one shift, for a single device or for every
// reporting device when device_id is omitted.
func (s *Service) CloseShiftHandler(c *gin.Context) {
	var req closeShiftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeSummaryError(c, http.StatusBadRequest, httperr.HttpInvalidJsonError, "Invalid JSON body", nil)
		return
	}

	sh, ok := s.resolveShift(c, req.ShiftDate, req.ShiftType)
	if !ok {
		return
	}

	closedBy := req.ClosedBy
	if closedBy == "" {
		closedBy = "operator"
	}

	if req.DeviceID == "" {
		if err := s.scheduler.CloseShiftForAll(c.Request.Context(), sh); err != nil {
			slog.Error("[Summary] Manual close-all failed", "shift_date", sh.Date, "shift_type", sh.Type, "error", err)
			writeSummaryError(c, http.StatusInternalServerError, httperr.HttpInternalError, "Shift closure finished with errors", nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "closed", "shift_date": sh.Date, "shift_type": sh.Type})
		return
	}

	summary, err := s.closer.CloseShift(c.Request.Context(), req.DeviceID, sh, closedBy)
	if err != nil {
		writeCloseError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "closed", "summary": summary})
}

type closeDayRequest struct {
	DeviceID    string `json:"device_id"`
	SummaryDate string `json:"summary_date"`
	ClosedBy    string `json:"closed_by"`
}

// CloseDayHandler closes one business date, per device or for all.
func (s *Service) CloseDayHandler(c *gin.Context) {
	var req closeDayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeSummaryError(c, http.StatusBadRequest, httperr.HttpInvalidJsonError, "Invalid JSON body", nil)
		return
	}

	if _, err := shift.ParseDate(req.SummaryDate, s.closer.loc); err != nil {
		writeSummaryError(c, http.StatusBadRequest, httperr.HttpInvalidShiftError, err.Error(), nil)
		return
	}

	closedBy := req.ClosedBy
	if closedBy == "" {
		closedBy = "operator"
	}

	if req.DeviceID == "" {
		if err := s.scheduler.CloseDayForAll(c.Request.Context(), req.SummaryDate); err != nil {
			slog.Error("[Summary] Manual daily close-all failed", "summary_date", req.SummaryDate, "error", err)
			writeSummaryError(c, http.StatusInternalServerError, httperr.HttpInternalError, "Daily closure finished with errors", nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "closed", "summary_date": req.SummaryDate})
		return
	}

	summary, err := s.closer.CloseDay(c.Request.Context(), req.DeviceID, req.SummaryDate, closedBy)
	if err != nil {
		writeCloseError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "closed", "summary": summary})
}

// GetShiftSummaryHandler serves one (device, shift) rollup.
func (s *Service) GetShiftSummaryHandler(c *gin.Context) {
	deviceID := c.Query("device_id")
	sh, ok := s.resolveShift(c, c.Query("shift_date"), c.Query("shift_type"))
	if !ok {
		return
	}
	if deviceID == "" {
		writeSummaryError(c, http.StatusBadRequest, httperr.HttpValidationError, "device_id is required", nil)
		return
	}

	summary, err := s.summaries.GetShiftSummary(c.Request.Context(), deviceID, sh.Date, sh.Type)
	if errors.Is(err, storage.ErrNotFound) {
		writeSummaryError(c, http.StatusNotFound, httperr.HttpValidationError, "Shift not summarized yet", nil)
		return
	}
	if err != nil {
		slog.Error("[Summary] Failed to load shift summary", "device_id", deviceID, "error", err)
		writeSummaryError(c, http.StatusInternalServerError, httperr.HttpInternalError, "Failed to load summary", nil)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// GetDailySummaryHandler serves one (device, day) rollup.
func (s *Service) GetDailySummaryHandler(c *gin.Context) {
	deviceID := c.Query("device_id")
	date := c.Query("date")
	if deviceID == "" || date == "" {
		writeSummaryError(c, http.StatusBadRequest, httperr.HttpValidationError, "device_id and date are required", nil)
		return
	}

	summary, err := s.summaries.GetDailySummary(c.Request.Context(), deviceID, date)
	if errors.Is(err, storage.ErrNotFound) {
		writeSummaryError(c, http.StatusNotFound, httperr.HttpValidationError, "Day not summarized yet", nil)
		return
	}
	if err != nil {
		slog.Error("[Summary] Failed to load daily summary", "device_id", deviceID, "error", err)
		writeSummaryError(c, http.StatusInternalServerError, httperr.HttpInternalError, "Failed to load summary", nil)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// resolveShift validates the (date, type) pair and builds the shift.
// Writes the error response itself on failure.
func (s *Service) resolveShift(c *gin.Context, date, typ string) (shift.Info, bool) {
	if typ != shift.TypeDay && typ != shift.TypeNight {
		writeSummaryError(c, http.StatusBadRequest, httperr.HttpInvalidShiftError,
			"shift_type must be day or night", nil)
		return shift.Info{}, false
	}
	parsed, err := shift.ParseDate(date, s.closer.loc)
	if err != nil {
		writeSummaryError(c, http.StatusBadRequest, httperr.HttpInvalidShiftError, err.Error(), nil)
		return shift.Info{}, false
	}
	return shiftInfoFor(parsed, typ), true
}

func writeCloseError(c *gin.Context, err error) {
	if errors.Is(err, ErrAlreadyClosed) {
		writeSummaryError(c, http.StatusConflict, httperr.HttpDuplicateCloseError, "Period already closed", nil)
		return
	}
	slog.Error("[Summary] Closure failed", "error", err)
	writeSummaryError(c, http.StatusInternalServerError, httperr.HttpInternalError, "Closure failed", nil)
}

func writeSummaryError(c *gin.Context, status int, errorType, message string, details interface{}) {
	c.JSON(status, httperr.ErrorResponse{
		ErrorType: errorType,
		Message:   message,
		Details:   details,
	})
}
