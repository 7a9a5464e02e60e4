package ingestion

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	v1 "github.com/kilnworks/tilemetry/internal/api/v1"
	httperr "github.com/kilnworks/tilemetry/internal/core/errors"
	"github.com/kilnworks/tilemetry/internal/gate"
)

const (
	msgReadBodyFailed = "Failed to read request body"
	msgInvalidJSON    = "Invalid JSON body"
	msgPersistFailed  = "Failed to persist message"
)

// ingestionError carries the structured HTTP error shape from a helper back to the orchestrator.
// Helpers return this instead of writing to gin.Context directly, keeping them decoupled from HTTP.
type ingestionError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *ingestionError) Error() string {
	return e.message
}

// TelemetryHandler handles HTTP POST requests carrying counter reports.
func (s *Service) TelemetryHandler(c *gin.Context) {
	var msg v1.TelemetryMessage
	if hErr := s.bindBody(c, &msg); hErr != nil {
		writeError(c, hErr)
		return
	}

	if err := msg.Validate(); err != nil {
		writeError(c, &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpValidationError,
			message:    err.Error(),
		})
		return
	}

	log, err := s.ProcessTelemetry(c.Request.Context(), &msg)
	if err != nil {
		writeError(c, mapProcessError(err, msg.DeviceID))
		return
	}

	slog.Info("[Ingestion] Telemetry accepted",
		"device_id", log.DeviceID,
		"count", log.Count,
		"shift_date", log.ShiftDate,
		"shift_type", log.ShiftType)

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "log_id": log.ID})
}

// HealthHandler handles HTTP POST requests carrying device health reports.
func (s *Service) HealthHandler(c *gin.Context) {
	var msg v1.HealthMessage
	if hErr := s.bindBody(c, &msg); hErr != nil {
		writeError(c, hErr)
		return
	}

	if err := msg.Validate(); err != nil {
		writeError(c, &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpValidationError,
			message:    err.Error(),
		})
		return
	}

	log, err := s.ProcessHealth(c.Request.Context(), &msg)
	if err != nil {
		writeError(c, mapProcessError(err, msg.DeviceID))
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "log_id": log.ID})
}

// LatestHandler serves the cached last reading of every live device.
func (s *Service) LatestHandler(c *gin.Context) {
	samples, err := s.LatestSamples(c.Request.Context())
	if err != nil {
		slog.Error("[Ingestion] Failed to build live device list", "error", err)
		writeError(c, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    "Failed to list devices",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"devices": samples, "total": len(samples)})
}

// bindBody reads the size-limited request body and binds it as JSON.
func (s *Service) bindBody(c *gin.Context, out interface{}) *ingestionError {
	// Enforce maximum body size to prevent OOM attacks
	maxBytes := int64(s.maxBodySizeBytes)
	limitedBody := io.LimitReader(c.Request.Body, maxBytes+1) // +1 to detect oversized requests

	bodyBytes, err := io.ReadAll(limitedBody)
	if err != nil {
		slog.Error("Failed to read request body", "error", err)
		return &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgReadBodyFailed,
		}
	}

	if int64(len(bodyBytes)) > maxBytes {
		slog.Warn("Request body exceeds maximum size", "size", len(bodyBytes), "max", maxBytes)
		return &ingestionError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpInvalidJsonError,
			message:    "Request body exceeds maximum allowed size",
			details: map[string]interface{}{
				"max_size_mb": maxBytes / (1024 * 1024),
			},
		}
	}

	c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	if err := c.ShouldBindJSON(out); err != nil {
		slog.Warn("Invalid JSON body received", "error", err, "payload_size", len(bodyBytes))
		return &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgInvalidJSON,
		}
	}

	return nil
}

// mapProcessError translates pipeline errors into the HTTP error shape.
func mapProcessError(err error, deviceID string) *ingestionError {
	switch {
	case errors.Is(err, ErrUnknownDevice):
		return &ingestionError{
			statusCode: http.StatusNotFound,
			errorType:  httperr.HttpUnknownDeviceError,
			message:    "Device is not registered",
			details:    map[string]interface{}{"device_id": deviceID},
		}
	case errors.Is(err, ErrCountOutOfRange):
		return &ingestionError{
			statusCode: http.StatusUnprocessableEntity,
			errorType:  httperr.HttpCountOutOfRangeError,
			message:    err.Error(),
		}
	case errors.Is(err, gate.ErrOutOfOrder):
		return &ingestionError{
			statusCode: http.StatusConflict,
			errorType:  httperr.HttpOutOfOrderError,
			message:    "Message is older than the last accepted one",
		}
	case errors.Is(err, gate.ErrLockNotAcquired):
		return &ingestionError{
			statusCode: http.StatusTooManyRequests,
			errorType:  httperr.HttpLockContentionError,
			message:    "Another message for this device is being processed",
		}
	default:
		slog.Error("Failed to persist message", "error", err, "device_id", deviceID)
		return &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgPersistFailed,
		}
	}
}

// writeError serializes an ingestionError as the JSON HTTP response.
func writeError(c *gin.Context, err *ingestionError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}
