package monitoring

import (
	"net/http"

	sentryhttp "github.com/getsentry/sentry-go/http"
)

// Middleware attaches a sentry hub to every request and reports panics.
func Middleware() func(http.Handler) http.Handler {
	return sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle
}
