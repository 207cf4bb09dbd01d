package ping

import (
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/pkg/errors"
)

// Check reports whether a backing service can be reached.
type Check func() error

// handlers holds the checks the /ping endpoint calls, in order
var handlers struct {
	initialized bool
	names       []string
	checks      map[string]Check
}

// SetPingHandlers sets the storage check followed by any additional named checks.
func SetPingHandlers(storagePing Check, extra map[string]Check) error {
	if storagePing == nil {
		return errors.New("storage ping handler is nil")
	}

	handlers.names = []string{"storage"}
	handlers.checks = map[string]Check{"storage": storagePing}

	for name, check := range extra {
		if check == nil {
			return errors.Errorf("%s ping handler is nil", name)
		}
		handlers.names = append(handlers.names, name)
		handlers.checks[name] = check
	}

	handlers.initialized = true
	return nil
}

// Ping handles /ping endpoint
//
// Calls each handler in ping handlers
func Ping(w http.ResponseWriter, _ *http.Request) {
	if !handlers.initialized {
		w.WriteHeader(http.StatusInternalServerError)
		sentry.CaptureException(errors.New("unset ping handlers"))
		return
	}

	for _, name := range handlers.names {
		if err := handlers.checks[name](); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			sentry.CaptureException(errors.Wrapf(err, "%s ping failed", name))
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
