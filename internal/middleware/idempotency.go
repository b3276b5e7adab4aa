package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	idempotencyPrefix    = "idem:v1:"
	inProgressMarker     = "__pending__"

	idempotencyOpTimeout = 2 * time.Second
)

type storedResponse struct {
	Status int               `json:"status"`
	Body   []byte            `json:"body"`
	Header map[string]string `json:"header"`
}

// Idempotency makes unsafe requests replayable. When a client sends an
// Idempotency-Key header, the first execution's response is stored in Redis
// under that key and every retry gets the stored response back instead of
// applying the mutation twice. A retry racing the first execution gets 409.
// The header is optional; requests without it pass straight through.
//
// Must be mounted after the JWT middleware: the cache key is scoped to the
// verified caller, so a replay cannot serve one user's stored response to
// another, and unauthenticated requests never reach the replay path.
func Idempotency(cache *redis.Client, ttl time.Duration, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		switch c.Method() {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		key := strings.TrimSpace(c.Get(idempotencyKeyHeader))
		if key == "" {
			return c.Next()
		}
		// Scope the key to the caller and the route so reusing one key across
		// users or endpoints cannot replay an unrelated response.
		callerID, _ := c.Locals("user_id").(string)
		cacheKey := idempotencyPrefix + callerID + ":" + c.Method() + ":" + c.Path() + ":" + key

		ctx, cancel := context.WithTimeout(context.Background(), idempotencyOpTimeout)
		defer cancel()

		reserved, err := cache.SetNX(ctx, cacheKey, inProgressMarker, ttl).Result()
		if err != nil {
			logger.Error("idempotency reservation failed", slog.String("key", key), slog.Any("error", err))
			return fiber.NewError(fiber.StatusInternalServerError, "idempotency store failure")
		}

		if !reserved {
			return replayStored(c, cache, cacheKey, key, logger)
		}

		if err := c.Next(); err != nil {
			// Failed executions release the key so the client can retry.
			releaseKey(cache, cacheKey)
			return err
		}

		stored := storedResponse{
			Status: c.Response().StatusCode(),
			Body:   append([]byte(nil), c.Response().Body()...),
			Header: map[string]string{},
		}
		c.Response().Header.VisitAll(func(k, v []byte) {
			stored.Header[string(k)] = string(v)
		})

		payload, err := json.Marshal(stored)
		if err != nil {
			logger.Error("encode idempotent response", slog.String("key", key), slog.Any("error", err))
			releaseKey(cache, cacheKey)
			return nil
		}

		persistCtx, persistCancel := context.WithTimeout(context.Background(), idempotencyOpTimeout)
		defer persistCancel()
		if err := cache.Set(persistCtx, cacheKey, payload, ttl).Err(); err != nil {
			logger.Error("persist idempotent response", slog.String("key", key), slog.Any("error", err))
			releaseKey(cache, cacheKey)
		}

		return nil
	}
}

func replayStored(c *fiber.Ctx, cache *redis.Client, cacheKey, key string, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), idempotencyOpTimeout)
	defer cancel()

	cached, err := cache.Get(ctx, cacheKey).Result()
	if err != nil {
		// The key expired or Redis hiccuped between SetNX and Get.
		logger.Warn("idempotency lookup failed", slog.String("key", key), slog.Any("error", err))
		return fiber.NewError(fiber.StatusConflict, "duplicate request")
	}
	if cached == inProgressMarker {
		return fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")
	}

	var stored storedResponse
	if err := json.Unmarshal([]byte(cached), &stored); err != nil {
		logger.Warn("decode stored idempotent response", slog.String("key", key), slog.Any("error", err))
		return fiber.NewError(fiber.StatusConflict, "duplicate request")
	}

	for header, value := range stored.Header {
		if strings.EqualFold(header, fiber.HeaderContentLength) {
			continue
		}
		c.Set(header, value)
	}
	return c.Status(stored.Status).Send(stored.Body)
}

func releaseKey(cache *redis.Client, cacheKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), idempotencyOpTimeout)
	defer cancel()
	cache.Del(ctx, cacheKey)
}
