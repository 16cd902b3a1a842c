package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/trace"

	"appointly/backend/internal/domain"
	"appointly/backend/internal/metrics"
)

const (
	RequestIDHeader = "X-Request-Id"

	ctxRequestID = "request_id"
	ctxActor     = "actor"
)

func withRequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if id == "" || len(id) > 128 {
			id = newRequestID()
		}
		c.Header(RequestIDHeader, id)
		c.Set(ctxRequestID, id)
		c.Next()
	}
}

func requestID(c *gin.Context) string {
	return c.GetString(ctxRequestID)
}

func newRequestID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func withAccessLog(log *slog.Logger, m *metrics.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		m.ObserveHTTP(c.Request.Method, route, c.Writer.Status(), elapsed)

		attrs := []any{
			slog.String("request_id", requestID(c)),
			slog.String("method", c.Request.Method),
			slog.String("route", route),
			slog.Int("status", c.Writer.Status()),
			slog.Int("bytes", c.Writer.Size()),
			slog.Int64("duration_ms", elapsed.Milliseconds()),
		}
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
			attrs = append(attrs, slog.String("trace_id", sc.TraceID().String()))
		}
		log.Info("http request", attrs...)
	}
}

// withAuth resolves the bearer token into a domain.Actor once per request.
func withAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			writeError(c, http.StatusUnauthorized, "missing_token", "Authorization bearer token is required.")
			return
		}

		actor, err := parseActor(strings.TrimSpace(token), secret)
		if err != nil {
			writeError(c, http.StatusUnauthorized, "invalid_token", "Authorization token is invalid.")
			return
		}
		c.Set(ctxActor, actor)
		c.Next()
	}
}

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func parseActor(token string, secret []byte) (domain.Actor, error) {
	var cl claims
	_, err := jwt.ParseWithClaims(token, &cl, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return domain.Actor{}, err
	}
	if strings.TrimSpace(cl.Subject) == "" {
		return domain.Actor{}, jwt.ErrTokenInvalidSubject
	}
	role, ok := domain.ParseRole(cl.Role)
	if !ok {
		return domain.Actor{}, jwt.ErrTokenInvalidClaims
	}
	return domain.Actor{ID: cl.Subject, Role: role}, nil
}

func actorFrom(c *gin.Context) domain.Actor {
	v, _ := c.Get(ctxActor)
	a, _ := v.(domain.Actor)
	return a
}
