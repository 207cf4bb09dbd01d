package sentry

import (
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/dapperlabs/fork-journal/middleware/errors"
	"github.com/dapperlabs/fork-journal/server/config"
	"github.com/dapperlabs/fork-journal/telemetry"
)

func InitializeSentry() {
	conf := config.Sentry()

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              conf.Dsn,
		Debug:            conf.Debug,
		AttachStacktrace: conf.AttachStacktrace,
		Environment:      string(config.Platform()),
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			if hint.Context != nil {
				if sentryLevel, ok := errors.SentryLogLevel(hint.Context); ok {
					event.Level = sentryLevel
				}
			}
			return event
		},
	})

	if err != nil {
		telemetry.Logger().Fatalf("sentry.Init: %s", err)
	}
}

func Cleanup() {
	sentry.Flush(2 * time.Second)
	sentry.Recover()
}
