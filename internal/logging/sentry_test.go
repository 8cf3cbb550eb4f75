package logging

import (
	"errors"
	"fmt"
	"testing"

	"github.com/getsentry/sentry-go"

	"github.com/SimplyPrint/sign-agent/internal/apperr"
)

func TestReportable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("disk full"), true},
		{"internal", apperr.New(apperr.KindInternal, "registry.save_failed"), true},
		{"wrapped transport", fmt.Errorf("push: %w", apperr.New(apperr.KindTransport, "gateway.request_failed")), true},
		{"not found", apperr.New(apperr.KindNotFound, "registry.unknown_atr"), false},
		{"bad input", apperr.New(apperr.KindConfiguration, "operation.arity_mismatch"), false},
		{"warning", apperr.New(apperr.KindTokenAccess, "keystore.incorrect_password").WithSeverity(apperr.SeverityWarning), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := reportable(tt.err); got != tt.want {
				t.Errorf("reportable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScrubEvent(t *testing.T) {
	ev := &sentry.Event{
		ServerName: "janes-macbook",
		User:       sentry.User{Username: "jane"},
		Request:    &sentry.Request{URL: "http://127.0.0.1:32146/v1/sign"},
		Message:    "boom",
	}
	got := scrubEvent(ev, nil)
	if got.ServerName != "" || got.User.Username != "" || got.Request != nil {
		t.Errorf("identity not scrubbed: %+v", got)
	}
	if got.Message != "boom" {
		t.Errorf("message should be kept, got %q", got.Message)
	}
}

func TestCaptureWithoutSentry(t *testing.T) {
	// reporting is off unless InitSentry succeeded
	CaptureError(errors.New("ignored"), "test", nil)
	CapturePanic("ignored", nil, "test")
	FlushSentry(0)
}
