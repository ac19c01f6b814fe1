package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/donation-scheduling/internal/requestctx"
)

// Init configures the global zerolog logger. Dev gets a console writer,
// everything else gets JSON lines on stdout.
func Init(serviceName, env, level string) {
	initWithWriter(serviceName, env, level, os.Stdout)
}

func initWithWriter(serviceName, env, level string, out io.Writer) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if env == "dev" || env == "development" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}).With().
			Timestamp().
			Str("service", serviceName).
			Logger()
		return
	}

	log.Logger = zerolog.New(out).
		With().
		Timestamp().
		Caller().
		Str("service", serviceName).
		Logger()
}

// FromContext returns the global logger enriched with the request and actor
// ids carried by ctx.
func FromContext(ctx context.Context) *zerolog.Logger {
	lc := log.With()
	if id := requestctx.RequestID(ctx); id != "" {
		lc = lc.Str("request_id", id)
	}
	if actor := requestctx.ActorID(ctx); actor != "" {
		lc = lc.Str("actor_id", actor)
	}
	logger := lc.Logger()
	return &logger
}
