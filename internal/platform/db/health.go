package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

const healthPingTimeout = 5 * time.Second

// PoolStats is the connection pool snapshot returned by /health/db.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

// HealthChecker is what the health endpoint needs from the pool.
type HealthChecker interface {
	Ping(ctx context.Context) error
	Stats() *PoolStats
}

// PoolHealth adapts a pgx pool to HealthChecker.
func PoolHealth(pool *pgxpool.Pool) HealthChecker { return poolHealth{pool} }

type poolHealth struct{ pool *pgxpool.Pool }

func (p poolHealth) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p poolHealth) Stats() *PoolStats {
	s := p.pool.Stat()
	return &PoolStats{
		TotalConns:      s.TotalConns(),
		IdleConns:       s.IdleConns(),
		AcquiredConns:   s.AcquiredConns(),
		MaxConns:        s.MaxConns(),
		AcquireCount:    s.AcquireCount(),
		AcquireDuration: s.AcquireDuration().String(),
		Healthy:         s.TotalConns() > 0,
	}
}

type healthResponse struct {
	Status string     `json:"status"`
	Error  string     `json:"error,omitempty"`
	Pool   *PoolStats `json:"pool"`
}

// HealthHandler serves /health/db: 200 when the database answers a ping
// within five seconds, 503 otherwise.
func HealthHandler(checker HealthChecker) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthPingTimeout)
		defer cancel()

		resp := healthResponse{Status: "healthy", Pool: checker.Stats()}
		if err := checker.Ping(ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Error = err.Error()
			resp.Pool.Healthy = false
			return c.JSON(http.StatusServiceUnavailable, resp)
		}
		return c.JSON(http.StatusOK, resp)
	}
}
