package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config 구조체 - 모든 환경변수를 담음
type Config struct {
	// Gemini API
	GeminiAPIKey   string
	GeminiModel    string
	UseVertexAI    bool
	GoogleProject  string
	GoogleLocation string

	// Vertex 서비스 계정 (없으면 ADC)
	VertexCredentialsJSON string
	VertexCredentialsPath string

	// Server
	Port           string
	AppEnv         string
	AllowedOrigins []string
	MaxUploadBytes int64

	// Session
	SessionIdleTimeout time.Duration
	SessionMaxAge      time.Duration

	// Redis (result cache, optional)
	RedisHost      string
	RedisPort      string
	RedisUsername  string
	RedisPassword  string
	RedisUseTLS    bool
	ResultCacheTTL time.Duration

	// Supabase (result archive, optional)
	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseBucket     string
	ArchiveWebPQuality float32
}

const (
	defaultMaxUploadBytes = 25 * 1024 * 1024
	defaultGeminiModel    = "gemini-2.5-flash-image"
)

// LoadConfig - 환경변수 로드
func LoadConfig() (*Config, error) {
	// .env 파일 로드 (있으면)
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("⚠️  .env file not found, using environment variables")
	}
	return FromEnv()
}

// FromEnv - 현재 프로세스 환경변수로 Config 생성 (.env 로드 없음)
func FromEnv() (*Config, error) {
	cfg := &Config{
		// Gemini API
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModel:    getEnv("GEMINI_MODEL", defaultGeminiModel),
		UseVertexAI:    getBool("GOOGLE_GENAI_USE_VERTEXAI", false),
		GoogleProject:  getEnv("GOOGLE_CLOUD_PROJECT", ""),
		GoogleLocation: getEnv("GOOGLE_CLOUD_LOCATION", "us-central1"),

		VertexCredentialsJSON: getEnv("VERTEXAI_CREDENTIALS_JSON", ""),
		VertexCredentialsPath: getEnv("VERTEXAI_CREDENTIALS_PATH", ""),

		// Server
		Port:           getEnv("PORT", "8080"),
		AppEnv:         getEnv("APP_ENV", "production"),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "*")),
		MaxUploadBytes: getInt64("MAX_UPLOAD_BYTES", defaultMaxUploadBytes),

		// Session
		SessionIdleTimeout: getDuration("SESSION_IDLE_TIMEOUT", 2*time.Hour),
		SessionMaxAge:      getDuration("SESSION_MAX_AGE", 24*time.Hour),

		// Redis
		RedisHost:      getEnv("REDIS_HOST", ""),
		RedisPort:      getEnv("REDIS_PORT", "6379"),
		RedisUsername:  getEnv("REDIS_USERNAME", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisUseTLS:    getBool("REDIS_USE_TLS", false),
		ResultCacheTTL: getDuration("RESULT_CACHE_TTL", 24*time.Hour),

		// Supabase
		SupabaseURL:        strings.TrimRight(getEnv("SUPABASE_URL", ""), "/"),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseBucket:     getEnv("SUPABASE_BUCKET", "tryon-results"),
		ArchiveWebPQuality: float32(getInt64("ARCHIVE_WEBP_QUALITY", 90)),
	}

	// 필수 환경변수 검증
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	log.Info().
		Str("model", cfg.GeminiModel).
		Bool("vertex", cfg.UseVertexAI).
		Bool("redis", cfg.RedisEnabled()).
		Bool("archive", cfg.ArchiveEnabled()).
		Msg("✅ Configuration loaded successfully")

	return cfg, nil
}

// validate - 필수 환경변수 검증
func (c *Config) validate() error {
	if c.UseVertexAI {
		if c.GoogleProject == "" {
			return fmt.Errorf("GOOGLE_CLOUD_PROJECT is required when GOOGLE_GENAI_USE_VERTEXAI is set")
		}
	} else if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	if c.GeminiModel == "" {
		return fmt.Errorf("GEMINI_MODEL must not be empty")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if c.SessionIdleTimeout <= 0 || c.SessionMaxAge <= 0 {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT and SESSION_MAX_AGE must be positive")
	}
	if (c.SupabaseURL == "") != (c.SupabaseServiceKey == "") {
		return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY must be set together")
	}
	if c.ArchiveWebPQuality < 0 || c.ArchiveWebPQuality > 100 {
		return fmt.Errorf("ARCHIVE_WEBP_QUALITY must be between 0 and 100")
	}
	return nil
}

// RedisEnabled - Redis 결과 캐시 사용 여부
func (c *Config) RedisEnabled() bool {
	return c.RedisHost != ""
}

// ArchiveEnabled - Supabase 아카이브 사용 여부
func (c *Config) ArchiveEnabled() bool {
	return c.SupabaseURL != "" && c.SupabaseServiceKey != ""
}

// IsDevelopment - 개발 환경 여부
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// GetRedisAddr - Redis 연결 문자열 생성
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// getEnv - 환경변수 가져오기 (기본값 지원)
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if raw := os.Getenv(key); raw != "" {
		if parsed, err := strconv.ParseBool(raw); err == nil {
			return parsed
		}
		log.Warn().Str("key", key).Str("value", raw).Msg("⚠️  Invalid boolean, using default")
	}
	return defaultValue
}

func getInt64(key string, defaultValue int64) int64 {
	if raw := os.Getenv(key); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return parsed
		}
		log.Warn().Str("key", key).Str("value", raw).Msg("⚠️  Invalid integer, using default")
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if raw := os.Getenv(key); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil {
			return parsed
		}
		log.Warn().Str("key", key).Str("value", raw).Msg("⚠️  Invalid duration, using default")
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
