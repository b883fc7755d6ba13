package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"nanostyle-server/modules/common/config"
)

// Connect - Redis 연결 생성
func Connect(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	log.Info().Str("addr", cfg.GetRedisAddr()).Msg("🔌 Connecting to Redis")

	var tlsConfig *tls.Config
	if cfg.RedisUseTLS {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.GetRedisAddr(),
		Username:     cfg.RedisUsername,
		Password:     cfg.RedisPassword,
		TLSConfig:    tlsConfig,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	// 연결 테스트
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	log.Info().Msg("✅ Redis connected")
	return rdb, nil
}

const resultKeyPrefix = "tryon:result:"

// ResultCache - 세션별 최신 결과 이미지(data URL)를 TTL과 함께 보관
type ResultCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewResultCache - ResultCache 생성
func NewResultCache(rdb redis.Cmdable, ttl time.Duration) *ResultCache {
	return &ResultCache{rdb: rdb, ttl: ttl}
}

func resultKey(sessionID string) string {
	return resultKeyPrefix + sessionID
}

// PublishResult - 결과 저장 (같은 세션은 덮어씀)
func (c *ResultCache) PublishResult(ctx context.Context, sessionID, resultURL string) error {
	if err := c.rdb.Set(ctx, resultKey(sessionID), resultURL, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache result for session %s: %w", sessionID, err)
	}
	log.Debug().Str("session", sessionID).Dur("ttl", c.ttl).Msg("💾 Result cached")
	return nil
}

// LookupResult - 캐시된 결과 조회, 없으면 found=false
func (c *ResultCache) LookupResult(ctx context.Context, sessionID string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, resultKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read cached result for session %s: %w", sessionID, err)
	}
	return val, true, nil
}
