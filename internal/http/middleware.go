package http

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robertarktes/seat-reservations/internal/domain"
	"github.com/robertarktes/seat-reservations/internal/idempotency"
	"github.com/robertarktes/seat-reservations/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	ownerKey
)

var nopLogger = observability.NewNopLogger()

func LoggerFrom(ctx context.Context) observability.Logger {
	if l, ok := ctx.Value(loggerKey).(observability.Logger); ok {
		return l
	}
	return nopLogger
}

// OwnerFrom returns the caller identity set by IdentityMiddleware.
func OwnerFrom(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey).(string)
	return owner
}

func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey, owner)
}

func RequestIDMiddleware(next http.Handler) http.Handler {
	return middleware.RequestID(next)
}

func LoggerMiddleware(logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := middleware.GetReqID(r.Context())
			entry := logger.WithField("request_id", reqID)
			ctx := context.WithValue(r.Context(), loggerKey, entry)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityMiddleware resolves the owner id: the subject of a bearer token,
// or guest_<X-Session-Id> for anonymous buyers.
func IdentityMiddleware(auth *Authenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var owner string
			if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
				sub, err := auth.Subject(token)
				if err != nil {
					LoggerFrom(r.Context()).WithError(err).Info("rejected bearer token")
					writeErrorCode(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token, please sign in again")
					return
				}
				owner = sub
			} else if session := r.Header.Get("X-Session-Id"); session != "" && len(session) <= maxSessionIDLen {
				owner = guestPrefix + session
			} else {
				writeErrorCode(w, http.StatusUnauthorized, "UNAUTHORIZED", "sign in or provide a session id")
				return
			}
			ctx := WithOwner(r.Context(), owner)
			ctx = context.WithValue(ctx, loggerKey, LoggerFrom(ctx).WithField("owner_id", owner))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type Limiter interface {
	Allow(ctx context.Context, key string, rate int, period time.Duration) (bool, error)
}

type RateLimits struct {
	PerUser int
	PerIP   int
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitMiddleware applies per-owner and per-IP limits per minute. A
// nil limiter disables limiting; limiter failures let the request through.
func RateLimitMiddleware(rl Limiter, limits RateLimits) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rl == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			checks := []struct {
				key  string
				rate int
			}{
				{"user:" + OwnerFrom(r.Context()), limits.PerUser},
				{"ip:" + clientIP(r), limits.PerIP},
			}
			for _, c := range checks {
				if c.rate <= 0 {
					continue
				}
				ok, err := rl.Allow(r.Context(), c.key, c.rate, time.Minute)
				if err != nil {
					LoggerFrom(r.Context()).WithError(err).Warn("rate limiter unavailable")
					continue
				}
				if !ok {
					observability.RateLimitExceeded.Inc()
					w.Header().Set("Retry-After", "60")
					writeErrorCode(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests, please slow down")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

type IdempotencyGuard interface {
	Begin(ctx context.Context, owner, key, fingerprint string) (*idempotency.Response, bool, error)
	Finish(ctx context.Context, owner, key, fingerprint string, resp idempotency.Response) error
	Abort(ctx context.Context, owner, key string) error
}

const maxIdempotentBody = 1 << 20

// routeOf is the matched chi pattern, or the raw path outside a router.
func routeOf(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}

type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (rec *recorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (rec *recorder) Write(b []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	rec.body.Write(b)
	return rec.ResponseWriter.Write(b)
}

// IdempotencyMiddleware replays the stored response of a POST carrying a
// previously seen Idempotency-Key for the same owner. The header is
// optional. A key is bound to the method, route and body it was first sent
// with; reusing it for anything else is rejected with 422. Server errors and
// panics release the key so the client may retry.
func IdempotencyMiddleware(idemp IdempotencyGuard) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if idemp == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			if r.Method != http.MethodPost || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if err := idempotency.ValidateKey(key); err != nil {
				writeError(w, r, err)
				return
			}
			owner := OwnerFrom(r.Context())
			logger := LoggerFrom(r.Context())

			body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotentBody))
			if err != nil {
				writeError(w, r, domain.Invalid("unreadable request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			fingerprint := idempotency.Fingerprint(r.Method, routeOf(r), body)

			stored, claimed, err := idemp.Begin(r.Context(), owner, key, fingerprint)
			if errors.Is(err, idempotency.ErrKeyReused) {
				logger.WithField("route", routeOf(r)).Info("idempotency key reused")
				writeErrorCode(w, http.StatusUnprocessableEntity, "IDEMPOTENCY_KEY_REUSED",
					"this Idempotency-Key was already used for a different request, send a new key")
				return
			}
			if err != nil {
				logger.WithError(err).Warn("idempotency store unavailable")
				next.ServeHTTP(w, r)
				return
			}
			if stored != nil {
				contentType := stored.ContentType
				if contentType == "" {
					contentType = "application/json"
				}
				w.Header().Set("Content-Type", contentType)
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(stored.Status)
				_, _ = w.Write(stored.Result)
				return
			}
			if !claimed {
				writeErrorCode(w, http.StatusConflict, "REQUEST_IN_PROGRESS", "a request with this Idempotency-Key is still being processed")
				return
			}

			ctx := context.WithoutCancel(r.Context())
			rec := &recorder{ResponseWriter: w}
			completed := false
			defer func() {
				if completed {
					return
				}
				if err := idemp.Abort(ctx, owner, key); err != nil {
					logger.WithError(err).Warn("idempotency claim not released")
				}
			}()
			next.ServeHTTP(rec, r)
			completed = true

			if rec.status >= http.StatusInternalServerError || rec.status == 0 {
				err = idemp.Abort(ctx, owner, key)
			} else {
				err = idemp.Finish(ctx, owner, key, fingerprint, idempotency.Response{
					Status:      rec.status,
					ContentType: rec.Header().Get("Content-Type"),
					Result:      rec.body.Bytes(),
				})
			}
			if err != nil {
				logger.WithError(err).Warn("idempotency record not saved")
			}
		})
	}
}

func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		tracer := otel.Tracer("http")
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.String()),
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", ww.Status()))
		if ww.Status() >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(ww.Status()))
		}
	})
}

// MetricsMiddleware counts requests by route pattern, so path ids do not
// explode label cardinality.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.RequestsTotal.WithLabelValues(route, strconv.Itoa(status), r.Method).Inc()
	})
}
