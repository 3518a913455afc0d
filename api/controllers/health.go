package controllers

import (
	"context"
	"net/http"

	"github.com/harborline/harborline-backend/api/responses"
	"github.com/harborline/harborline-backend/pkg/config"
	pkgerrors "github.com/harborline/harborline-backend/pkg/errors"
	"github.com/harborline/harborline-backend/pkg/logger"
)

// Pinger reports whether a backing dependency answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Harborline-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

func HealthReady(cfg *config.Config, logg *logger.Logger, db, cache Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		w.Header().Set("X-Harborline-Env", cfg.App.Env)

		checks := map[string]string{}
		failed := false
		for name, dep := range map[string]Pinger{"database": db, "redis": cache} {
			if dep == nil {
				checks[name] = "not configured"
				failed = true
				continue
			}
			if err := dep.Ping(ctx); err != nil {
				if logg != nil {
					logg.Error(logg.WithField(ctx, "dependency", name), "readiness check failed", err)
				}
				checks[name] = "unavailable"
				failed = true
				continue
			}
			checks[name] = "ok"
		}

		if failed {
			responses.WriteError(ctx, logg, w,
				pkgerrors.New(pkgerrors.CodeDependency, "dependencies unavailable").WithDetails(checks))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
