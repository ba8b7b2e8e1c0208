package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	logx "educheck/pkg/logx"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"
)

const (
	defaultTimeout = 10 * time.Second
	defaultRate    = 3
)

// sender is the part of *tele.Bot used here.
type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// recipient is a guardian handle: a numeric chat id or an @username.
type recipient string

func (r recipient) Recipient() string { return string(r) }

// Telegram sends guardian messages through the Bot API.
//
// It is safe for concurrent use.
type Telegram struct {
	bot sender
	log logx.Logger

	mu      sync.Mutex
	timeout time.Duration
	limiter *rate.Limiter
}

// NewTelegram builds an offline bot. It returns ErrUnconfigured when the token is empty.
func NewTelegram(cfg Config, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, ErrUnconfigured
	}
	cfg = withDefaults(cfg)
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: true,
		Client:  &http.Client{Timeout: cfg.Timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return newTelegram(cfg, b, log), nil
}

func newTelegram(cfg Config, bot sender, log logx.Logger) *Telegram {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = withDefaults(cfg)
	return &Telegram{
		bot:     bot,
		log:     log,
		timeout: cfg.Timeout,
		// Token bucket: burst = rate per sec, so a sweep's first few sends go out at once.
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// Apply updates the per-send timeout and rate. The token is fixed for the bot's lifetime.
func (t *Telegram) Apply(cfg Config) {
	cfg = withDefaults(cfg)
	t.mu.Lock()
	t.timeout = cfg.Timeout
	t.limiter.SetLimit(rate.Limit(cfg.RatePerSec))
	t.limiter.SetBurst(cfg.RatePerSec)
	t.mu.Unlock()
}

func (t *Telegram) Send(ctx context.Context, handle, text string) Result {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return Skipped(detailNoHandle)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	t.mu.Lock()
	timeout := t.timeout
	lim := t.limiter
	t.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := lim.Wait(cctx); err != nil {
		return Failed(fmt.Errorf("rate limit: %w", err))
	}

	type sendResult struct{ err error }
	done := make(chan sendResult, 1)
	go func() {
		_, err := t.bot.Send(recipient(handle), text, &tele.SendOptions{
			ParseMode:             tele.ModeHTML,
			DisableWebPagePreview: true,
		})
		done <- sendResult{err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			t.log.Debug("telegram send failed", logx.String("handle", handle), logx.Err(r.err))
			return Failed(r.err)
		}
		return Sent()
	case <-cctx.Done():
		err := cctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("send timed out after %s", timeout)
		}
		t.log.Debug("telegram send aborted", logx.String("handle", handle), logx.Err(err))
		return Failed(err)
	}
}

func withDefaults(cfg Config) Config {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRate
	}
	return cfg
}
