package notifier

import (
	"context"
	"errors"
	"strings"
	"time"

	"educheck/internal/school"
)

// ErrUnconfigured marks a transport without credentials. It only ever shows
// up as the detail of a skipped Result.
var ErrUnconfigured = errors.New("telegram not configured")

const detailNoHandle = "no guardian handle"

// Result is the outcome of one Send.
type Result struct {
	Outcome school.Outcome `json:"outcome"`
	Detail  string         `json:"detail,omitempty"`
}

func Sent() Result                 { return Result{Outcome: school.OutcomeSent} }
func Skipped(reason string) Result { return Result{Outcome: school.OutcomeSkipped, Detail: reason} }
func Failed(err error) Result {
	if err == nil {
		return Result{Outcome: school.OutcomeError, Detail: "unknown error"}
	}
	return Result{Outcome: school.OutcomeError, Detail: err.Error()}
}

// Notifier sends text to a guardian handle.
type Notifier interface {
	Send(ctx context.Context, handle, text string) Result
}

// Config configures the Telegram transport.
type Config struct {
	Token      string
	Timeout    time.Duration // per send; 0 means 10s
	RatePerSec int           // sends per second; 0 selects the default of 3
}

// Unconfigured is used when no token is set.
type Unconfigured struct{}

func (Unconfigured) Send(_ context.Context, handle, _ string) Result {
	if strings.TrimSpace(handle) == "" {
		return Skipped(detailNoHandle)
	}
	return Skipped(ErrUnconfigured.Error())
}
