package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/stockroom-backend/api/responses"
	"github.com/angelmondragon/stockroom-backend/pkg/config"
	"github.com/angelmondragon/stockroom-backend/pkg/db"
	"github.com/angelmondragon/stockroom-backend/pkg/logger"
	"github.com/angelmondragon/stockroom-backend/pkg/redis"
)

const readinessTimeout = 3 * time.Second

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Stockroom-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every backing dependency and reports per-check status.
func HealthReady(cfg *config.Config, logg *logger.Logger, dbPinger db.Pinger, redisPinger redis.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Stockroom-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		checks := map[string]string{}
		healthy := true

		checks["db"] = pingStatus(ctx, logg, "db", func(ctx context.Context) error {
			if dbPinger == nil {
				return nil
			}
			return dbPinger.Ping(ctx)
		})
		checks["redis"] = pingStatus(ctx, logg, "redis", func(ctx context.Context) error {
			if redisPinger == nil {
				return nil
			}
			return redisPinger.Ping(ctx)
		})

		for _, status := range checks {
			if status != "ok" {
				healthy = false
			}
		}

		payload := map[string]any{
			"status": "ready",
			"checks": checks,
		}
		if !healthy {
			payload["status"] = "degraded"
			responses.WriteSuccessStatus(w, http.StatusServiceUnavailable, payload)
			return
		}
		responses.WriteSuccess(w, payload)
	}
}

func pingStatus(ctx context.Context, logg *logger.Logger, name string, ping func(context.Context) error) string {
	if err := ping(ctx); err != nil {
		if logg != nil {
			logg.Error(logg.WithField(ctx, "check", name), "readiness check failed", err)
		}
		return "unavailable"
	}
	return "ok"
}
