package controllers

import (
	"context"
	"net/http"

	"github.com/iretilight/retailpos-backend/api/responses"
	"github.com/iretilight/retailpos-backend/pkg/config"
	pkgerrors "github.com/iretilight/retailpos-backend/pkg/errors"
	"github.com/iretilight/retailpos-backend/pkg/logger"
)

type pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RetailPOS-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady reports ready only when the durable stores answer. The redis
// guard is a fast path, not a dependency, so it is probed but non-fatal.
func HealthReady(cfg *config.Config, db, cache pinger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		w.Header().Set("X-RetailPOS-Env", cfg.App.Env)

		if db != nil {
			if err := db.Ping(ctx); err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "database unavailable"))
				return
			}
		}

		degraded := []string{}
		if cache != nil {
			if err := cache.Ping(ctx); err != nil {
				degraded = append(degraded, "redis")
				if logg != nil {
					logg.Warn(ctx, "redis ping failed, dedup fast path degraded")
				}
			}
		}

		payload := map[string]any{"status": "ready"}
		if len(degraded) > 0 {
			payload["degraded"] = degraded
		}
		responses.WriteSuccess(w, payload)
	}
}
