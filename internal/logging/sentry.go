package logging

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/atomic"

	"github.com/SimplyPrint/sign-agent/internal/apperr"
)

var sentryEnabled atomic.Bool

// InitSentry turns on crash reporting when the user opted in (or
// SIGN_AGENT_SENTRY=1; SIGN_AGENT_SENTRY=0 forces it off) and
// SIGN_AGENT_SENTRY_DSN names a project. It reports whether reporting is on.
func InitSentry(version string, crashReportingEnabled bool) bool {
	switch os.Getenv("SIGN_AGENT_SENTRY") {
	case "1":
		crashReportingEnabled = true
	case "0":
		crashReportingEnabled = false
	}
	if !crashReportingEnabled {
		return false
	}

	dsn := os.Getenv("SIGN_AGENT_SENTRY_DSN")
	if dsn == "" {
		Warn(CatSystem, "Crash reporting enabled but SIGN_AGENT_SENTRY_DSN is not set", nil)
		return false
	}
	env := os.Getenv("SIGN_AGENT_ENVIRONMENT")
	if env == "" {
		env = "production"
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Release:          "sign-agent@" + version,
		Environment:      env,
		AttachStacktrace: true,
		BeforeSend:       scrubEvent,
	})
	if err != nil {
		Warn(CatSystem, "Failed to initialize crash reporting", map[string]any{
			"error": err.Error(),
		})
		return false
	}
	sentryEnabled.Store(true)
	return true
}

// scrubEvent removes the machine and user identity before an event leaves the host.
func scrubEvent(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	event.ServerName = ""
	event.User = sentry.User{}
	event.Request = nil
	return event
}

// FlushSentry waits up to timeout for buffered events. Call it before exit.
func FlushSentry(timeout time.Duration) {
	if sentryEnabled.Load() {
		sentry.Flush(timeout)
	}
}

// CapturePanic reports a recovered panic and flushes right away.
func CapturePanic(panicValue any, stack []byte, where string) {
	if !sentryEnabled.Load() {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("panic_context", where)
		scope.SetExtra("stack_trace", string(stack))
		scope.SetLevel(sentry.LevelFatal)
		if err, ok := panicValue.(error); ok {
			sentry.CaptureException(err)
		} else {
			sentry.CaptureMessage(fmt.Sprintf("%v", panicValue))
		}
	})
	sentry.Flush(2 * time.Second)
}

// CaptureError reports err tagged with where it happened and, for agent
// errors, its kind and message code. Errors the user can act on are not sent.
func CaptureError(err error, where string, data map[string]any) {
	if !sentryEnabled.Load() || !reportable(err) {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("error_context", where)
		var ae *apperr.Error
		if errors.As(err, &ae) {
			scope.SetTag("error_kind", string(ae.Kind))
			scope.SetTag("error_code", ae.Code)
		}
		for k, v := range data {
			scope.SetExtra(k, v)
		}
		sentry.CaptureException(err)
	})
}

// reportable is false for missing cards, bad input and anything below error severity.
func reportable(err error) bool {
	if err == nil {
		return false
	}
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		return true
	}
	if ae.Severity < apperr.SeverityError {
		return false
	}
	switch ae.Kind {
	case apperr.KindNotFound, apperr.KindConfiguration:
		return false
	}
	return true
}
