package server

import (
	"bytes"
	"errors"
	"net/http"
	"strings"

	"ideaforge/internal/util"
	"ideaforge/pkg/cache"
	"ideaforge/pkg/domain"
)

const (
	IdempotencyKeyHeader      = "Idempotency-Key"
	IdempotencyReplayedHeader = "Idempotency-Replayed"
	maxIdempotencyKeyLength   = 128
)

type storedResponse struct {
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}

type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *captureWriter) WriteHeader(status int) {
	if c.status == 0 {
		c.status = status
	}
	c.ResponseWriter.WriteHeader(status)
}

func (c *captureWriter) Write(p []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(p)
	return c.ResponseWriter.Write(p)
}

// idempotent replays the stored response for a repeated Idempotency-Key so a
// retried metered request is never charged twice. Keys are scoped per user
// and path. A request racing an in-flight one with the same key gets 409.
func (s *Server) idempotent(next userHandler) userHandler {
	return func(w http.ResponseWriter, r *http.Request, user domain.User) {
		key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
		if s.idempotency == nil || key == "" {
			next(w, r, user)
			return
		}
		if len(key) > maxIdempotencyKeyLength {
			writeErrorCode(w, http.StatusBadRequest, "idempotency key too long", "INVALID_REQUEST")
			return
		}
		ctx := r.Context()
		logger := util.LoggerFromContext(ctx)
		cacheKey := "idem:" + user.ID + ":" + r.URL.Path + ":" + key

		if s.replay(w, r, cacheKey) {
			return
		}
		unlock, ok, err := s.locker.TryLock(ctx, cacheKey)
		if err != nil {
			logger.Error("idempotency lock failed", "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !ok {
			writeErrorCode(w, http.StatusConflict, "a request with this idempotency key is in progress", "IDEMPOTENCY_IN_PROGRESS")
			return
		}
		defer unlock()
		// The previous holder may have finished between the lookup and the lock.
		if s.replay(w, r, cacheKey) {
			return
		}

		rec := &captureWriter{ResponseWriter: w}
		next(rec, r, user)
		if !replayable(rec.status) {
			return
		}
		stored := storedResponse{Status: rec.status, Body: rec.body.Bytes()}
		if err := cache.SetJSON(ctx, s.idempotency, cacheKey, stored, s.idempotencyTTL); err != nil {
			logger.Warn("idempotent response not stored", "err", err)
		}
	}
}

func (s *Server) replay(w http.ResponseWriter, r *http.Request, cacheKey string) bool {
	ctx := r.Context()
	var stored storedResponse
	found, err := cache.GetJSON(ctx, s.idempotency, cacheKey, &stored)
	if err == nil && found && stored.Status == 0 {
		err = cache.ErrUndecodable
	}
	if errors.Is(err, cache.ErrUndecodable) {
		// Drop the bad entry so this attempt can store a fresh response.
		util.LoggerFromContext(ctx).Warn("discarding unreadable idempotent response", "err", err)
		if err := s.idempotency.Delete(ctx, cacheKey); err != nil {
			util.LoggerFromContext(ctx).Warn("idempotent response not discarded", "err", err)
		}
		return false
	}
	if err != nil {
		util.LoggerFromContext(ctx).Warn("idempotency lookup failed", "err", err)
		return false
	}
	if !found {
		return false
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(IdempotencyReplayedHeader, "true")
	w.WriteHeader(stored.Status)
	_, _ = w.Write(stored.Body)
	return true
}

// replayable reports whether a response settles the request. Conflicts, rate
// limits and internal errors are left retryable.
func replayable(status int) bool {
	switch {
	case status == http.StatusConflict, status == http.StatusTooManyRequests:
		return false
	case status == http.StatusBadGateway:
		return true
	default:
		return status > 0 && status < http.StatusInternalServerError
	}
}
