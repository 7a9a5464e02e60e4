package ingestion

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kilnworks/tilemetry/internal/broadcast"
	"github.com/kilnworks/tilemetry/internal/cache"
	"github.com/kilnworks/tilemetry/internal/core/storage"
	"github.com/kilnworks/tilemetry/internal/gate"
)

// Sample is the last accepted reading of one device, cached for delta
// computation and the live device list.
type Sample struct {
	Count    int64
	ErrCount int64
	RSSI     int
	Status   string
	At       time.Time
}

type Service struct {
	devices storage.DeviceDirectory
	logs    storage.TelemetryStore
	gate    *gate.Gate
	samples *cache.Cache[Sample]
	limiter *cache.RateLimiter
	sink    broadcast.Sink

	maxBodySizeBytes int
	loc              *time.Location
	now              func() time.Time
}

// NewService wires the ingestion pipeline. loc is the factory's civil
// time zone: shift attribution must agree with the summary scheduler,
// which closes shifts in the same location.
func NewService(
	devices storage.DeviceDirectory,
	logs storage.TelemetryStore,
	g *gate.Gate,
	samples *cache.Cache[Sample],
	limiter *cache.RateLimiter,
	sink broadcast.Sink,
	maxBodySizeMB int,
	loc *time.Location,
) *Service {
	if devices == nil {
		panic("ingestion: device directory must not be nil")
	}
	if logs == nil {
		panic("ingestion: telemetry store must not be nil")
	}
	if g == nil {
		panic("ingestion: gate must not be nil")
	}
	if samples == nil {
		panic("ingestion: sample cache must not be nil")
	}
	if limiter == nil {
		panic("ingestion: rate limiter must not be nil")
	}
	if sink == nil {
		sink = broadcast.NopSink{}
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1 // default to 1MB
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		devices:          devices,
		logs:             logs,
		gate:             g,
		samples:          samples,
		limiter:          limiter,
		sink:             sink,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
		loc:              loc,
		now:              time.Now,
	}
}

// RegisterRoutes registers the ingestion service routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/telemetry", s.TelemetryHandler)
	r.POST("/v1/health", s.HealthHandler)
	r.GET("/v1/devices/latest", s.LatestHandler)
}
