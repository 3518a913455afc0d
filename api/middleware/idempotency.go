package middleware

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/harborline/harborline-backend/api/responses"
	"github.com/harborline/harborline-backend/internal/idempotency"
	"github.com/harborline/harborline-backend/pkg/config"
	pkgerrors "github.com/harborline/harborline-backend/pkg/errors"
	"github.com/harborline/harborline-backend/pkg/logger"
)

// criticalTTLFactor stretches the retention window on money-moving routes so
// late client retries still replay instead of double-executing.
const criticalTTLFactor = 7

type routeMatcher func(string) bool

type idempotencyRule struct {
	method   string
	matcher  routeMatcher
	critical bool
}

var idempotencyRules = []idempotencyRule{
	{method: http.MethodPost, matcher: matchExact("/api/v1/orders")},
	{method: http.MethodPost, matcher: matchPrefixSuffix("/api/v1/orders/", "/pay"), critical: true},
}

// storedResponse is the response snapshot persisted in the ledger for
// verbatim replay.
type storedResponse struct {
	Status      int    `json:"status"`
	Body        string `json:"body"`
	ContentType string `json:"content_type,omitempty"`
}

type requestLedger interface {
	Claim(ctx context.Context, input idempotency.ClaimInput) (*idempotency.Claim, error)
	Complete(ctx context.Context, key string, response json.RawMessage) error
	Fail(ctx context.Context, key, errorMessage string) error
}

// Idempotency makes the configured mutating routes exactly-once per
// Idempotency-Key. A completed outcome replays verbatim, a failed outcome
// replays its error until the client changes the request body, and an
// in-flight duplicate is rejected with a retry hint.
func Idempotency(ledger requestLedger, cfg config.IdempotencyConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			pattern := routePattern(r)
			rule, ok := matchRule(r.Method, pattern)
			if !ok || ledger == nil {
				next.ServeHTTP(w, r)
				return
			}

			// No key means the caller did not request replay protection;
			// the operation proceeds unguarded.
			headerKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
			if headerKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			key := buildKey(r.Context(), r.Method, pattern, headerKey)
			claim, err := ledger.Claim(r.Context(), idempotency.ClaimInput{
				Key:         key,
				Operation:   r.Method + " " + pattern,
				TenantID:    tenantIDPtr(r.Context()),
				RequestHash: idempotency.HashRequest(body),
				TTL:         ruleTTL(rule, cfg),
			})
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}

			switch claim.Decision {
			case idempotency.DecisionReplayCompleted:
				record, decodeErr := decodeStoredResponse(claim.Response)
				if decodeErr != nil {
					responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, decodeErr, "decode stored response"))
					return
				}
				writeStoredResponse(w, record)
				return
			case idempotency.DecisionReplayFailed:
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, claim.ErrorMessage))
				return
			case idempotency.DecisionInProgress:
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInProgress, "a request with this idempotency key is still processing"))
				return
			}

			rec := &responseCapture{ResponseWriter: w}
			// The claim is finalized however the handler exits. A panic is
			// recorded as a failure before it continues up to the recoverer,
			// so the key does not stay PROCESSING until the sweep.
			defer func() {
				if p := recover(); p != nil {
					if err := ledger.Fail(r.Context(), key, "request aborted"); err != nil && logg != nil {
						logg.Error(r.Context(), "record aborted idempotent request", err)
					}
					panic(p)
				}
				finalizeClaim(r.Context(), ledger, logg, key, rec)
			}()
			next.ServeHTTP(rec, r)
		})
	}
}

// finalizeClaim persists the handler outcome. Deterministic responses,
// including 4xx rejections, become replayable completions; 5xx outcomes are
// recorded as failures so a changed request can reopen the key.
func finalizeClaim(ctx context.Context, ledger requestLedger, logg *logger.Logger, key string, rec *responseCapture) {
	status := rec.statusOrDefault()
	if status >= http.StatusInternalServerError {
		if err := ledger.Fail(ctx, key, errorMessageFromBody(rec.body.Bytes())); err != nil && logg != nil {
			logg.Error(ctx, "record failed idempotent request", err)
		}
		return
	}

	record := storedResponse{
		Status:      status,
		Body:        base64.StdEncoding.EncodeToString(rec.body.Bytes()),
		ContentType: rec.Header().Get("Content-Type"),
	}
	payload, err := json.Marshal(record)
	if err != nil {
		if logg != nil {
			logg.Error(ctx, "marshal idempotent response", err)
		}
		return
	}
	if err := ledger.Complete(ctx, key, payload); err != nil && logg != nil {
		logg.Error(ctx, "record idempotent response", err)
	}
}

func buildKey(ctx context.Context, method, pattern, headerKey string) string {
	return strings.Join([]string{
		TenantIDFromContext(ctx),
		UserIDFromContext(ctx),
		method,
		pattern,
		headerKey,
	}, "|")
}

func tenantIDPtr(ctx context.Context) *uuid.UUID {
	id := TenantUUIDFromContext(ctx)
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func ruleTTL(rule idempotencyRule, cfg config.IdempotencyConfig) time.Duration {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if rule.critical {
		ttl *= criticalTTLFactor
	}
	return ttl
}

// errorMessageFromBody pulls the public error message out of the response
// envelope so the replayed failure reads the same as the original.
func errorMessageFromBody(body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return "request failed"
}

func decodeStoredResponse(payload json.RawMessage) (*storedResponse, error) {
	var record storedResponse
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func writeStoredResponse(w http.ResponseWriter, record *storedResponse) {
	if record.ContentType != "" {
		w.Header().Set("Content-Type", record.ContentType)
	}
	w.Header().Set("Idempotent-Replay", "true")
	w.WriteHeader(record.Status)
	if decoded, err := base64.StdEncoding.DecodeString(record.Body); err == nil {
		_, _ = w.Write(decoded)
	}
}

func routePattern(r *http.Request) string {
	if r == nil {
		return ""
	}
	if ctx := chi.RouteContext(r.Context()); ctx != nil {
		if pattern := ctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

func matchRule(method, pattern string) (idempotencyRule, bool) {
	if pattern == "" {
		return idempotencyRule{}, false
	}
	for _, rule := range idempotencyRules {
		if rule.method != method {
			continue
		}
		if rule.matcher(pattern) {
			return rule, true
		}
	}
	return idempotencyRule{}, false
}

func matchExact(path string) routeMatcher {
	return func(pattern string) bool {
		return pattern == path
	}
}

func matchPrefixSuffix(prefix, suffix string) routeMatcher {
	return func(pattern string) bool {
		return strings.HasPrefix(pattern, prefix) && strings.HasSuffix(pattern, suffix)
	}
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseCapture) statusOrDefault() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}
