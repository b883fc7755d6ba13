package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// New - 서비스 기본 설정의 zerolog.Logger 생성
// development 환경은 콘솔 출력 + Debug 레벨, 그 외는 JSON + Info 레벨
func New(appEnv string, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}

	level := zerolog.InfoLevel
	if appEnv == "development" {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Logger()

	if appEnv == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}

	return logger
}

// Init - 전역 logger 교체 (main에서 1회 호출)
func Init(appEnv string) zerolog.Logger {
	l := New(appEnv, os.Stdout)
	log.Logger = l
	zerolog.SetGlobalLevel(l.GetLevel())
	return l
}
