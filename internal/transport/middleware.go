package transport

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	portidem "github.com/alanyang/lead-mesh/internal/port/idempotency"
)

// noisyPaths are high-frequency read paths logged at Debug to keep Info clean.
var noisyPaths = map[string]bool{
	"/api/leads":  true,
	"/api/agents": true,
	"/api/ws":     true,
	"/healthz":    true,
}

func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if c.Request.Method == "OPTIONS" {
			return
		}
		if c.Request.Method == "GET" && noisyPaths[c.Request.URL.Path] {
			slog.Debug("request", "method", c.Request.Method, "path", c.Request.URL.Path, "status", c.Writer.Status())
			return
		}

		slog.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS, PUT")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

const (
	IdempotencyHeader = "Idempotency-Key"
	ReplayedHeader    = "Idempotent-Replayed"
)

// IdempotencyMiddleware runs a POST carrying an Idempotency-Key at most once.
// WhatsApp webhooks redeliver on timeout, usually while the first delivery is
// still being processed, so the key is claimed before the handler runs: a
// duplicate that arrives mid-flight gets 409 and one that arrives afterwards
// gets the stored response replayed.
//
// 503 responses and recovered panics release the claim instead of storing it;
// the client is expected to retry those with the same key.
func IdempotencyMiddleware(store portidem.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(IdempotencyHeader))
		if store == nil || key == "" || c.Request.Method != http.MethodPost {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		op := c.Request.Method + " " + c.FullPath()
		claimed, err := store.Reserve(ctx, key, op)
		if err != nil {
			slog.WarnContext(ctx, "idempotency claim failed, processing request", "key", key, "error", err)
			c.Next()
			return
		}
		if !claimed {
			replay(c, store, key)
			return
		}

		// Outlives the request context so a client disconnect cannot strand the claim.
		bg := context.WithoutCancel(ctx)
		defer func() {
			if r := recover(); r != nil {
				if err := store.Release(bg, key); err != nil {
					slog.WarnContext(ctx, "idempotency release failed", "key", key, "error", err)
				}
				panic(r)
			}
		}()

		cw := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = cw
		c.Next()

		status := cw.Status()
		if status == http.StatusServiceUnavailable || (status >= 500 && cw.body.Len() == 0) {
			if err := store.Release(bg, key); err != nil {
				slog.WarnContext(ctx, "idempotency release failed", "key", key, "error", err)
			}
			return
		}
		resp := portidem.Response{StatusCode: status, Body: bytes.Clone(cw.body.Bytes())}
		if err := store.Save(bg, key, resp); err != nil {
			slog.WarnContext(ctx, "idempotency save failed", "key", key, "error", err)
		}
	}
}

func replay(c *gin.Context, store portidem.Store, key string) {
	prev, ok, err := store.Lookup(c.Request.Context(), key)
	if err != nil {
		slog.WarnContext(c.Request.Context(), "idempotency lookup failed", "key", key, "error", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "idempotency store unavailable", "kind": "transient"})
		return
	}
	if !ok {
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "a request with this idempotency key is in progress", "kind": "conflict"})
		return
	}
	c.Header(ReplayedHeader, "true")
	c.Data(prev.StatusCode, "application/json; charset=utf-8", prev.Body)
	c.Abort()
}

type captureWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}
