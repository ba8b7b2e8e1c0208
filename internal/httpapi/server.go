// Package httpapi exposes check-in and the operator endpoints over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"educheck/internal/absence"
	"educheck/internal/attendance"
	"educheck/internal/calendar"
	"educheck/internal/metrics"
	"educheck/internal/report"
	"educheck/internal/school"
	logx "educheck/pkg/logx"

	"github.com/gin-gonic/gin"
)

const shutdownGrace = 5 * time.Second

// Store is the storage surface the handlers read directly.
type Store interface {
	Ping(ctx context.Context) error
	StudentByDocument(ctx context.Context, document string) (school.Student, error)
	absence.AttendanceReader
}

type CheckIner interface {
	CheckIn(ctx context.Context, document string, now time.Time) (attendance.Result, error)
}

type Calendars interface {
	Current(ctx context.Context) (calendar.Calendar, error)
	Update(ctx context.Context, p calendar.Patch) (calendar.Calendar, error)
}

type Sweeper interface {
	Run(ctx context.Context, now time.Time) (absence.Tally, error)
}

type Reports interface {
	CurrentMonth(now time.Time) calendar.Date
	Generate(ctx context.Context, month calendar.Date) (report.Artifact, error)
}

type Artifacts interface {
	List() ([]report.Artifact, error)
	Open(key string) (report.Artifact, []byte, error)
}

// Deps are the services behind the routes. All are required except Metrics.
type Deps struct {
	Store     Store
	CheckIn   CheckIner
	Calendars Calendars
	Sweeper   Sweeper
	Reports   Reports
	Artifacts Artifacts
	Metrics   *metrics.Metrics
	Zone      calendar.Zone
}

type Options struct {
	Addr string
	// CheckInRatePerSec limits check-ins per client IP; 0 disables the limit.
	CheckInRatePerSec int
	LookbackDays      int
	Log               logx.Logger
}

type Server struct {
	deps     Deps
	log      logx.Logger
	addr     string
	engine   *gin.Engine
	lookback atomic.Int64
	now      func() time.Time
}

func New(deps Deps, opt Options) *Server {
	log := opt.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{deps: deps, log: log, addr: opt.Addr, now: time.Now}
	s.SetLookbackDays(opt.LookbackDays)
	s.engine = s.routes(opt.CheckInRatePerSec)
	return s
}

// SetLookbackDays changes the default window of the absence summary endpoint.
func (s *Server) SetLookbackDays(n int) {
	if n <= 0 {
		n = absence.DefaultLookbackDays
	}
	n = min(n, absence.MaxLookbackDays)
	s.lookback.Store(int64(n))
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes(ratePerSec int) *gin.Engine {
	r := gin.New()
	r.Use(s.recovery(), s.accessLog("/healthz", "/metrics"))

	r.GET("/healthz", s.health)
	if s.deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}

	checkIn := []gin.HandlerFunc{s.checkIn}
	if ratePerSec > 0 {
		checkIn = append([]gin.HandlerFunc{newIPLimiter(ratePerSec).middleware()}, checkIn...)
	}
	r.POST("/attendance/check-in", checkIn...)

	r.GET("/class-days", s.getClassDays)
	r.POST("/class-days", s.updateClassDays)

	r.POST("/absences/sweep", s.runSweep)
	r.GET("/students/:documento/absences", s.studentAbsences)

	r.GET("/monthly-reports", s.listReports)
	r.POST("/monthly-reports/generate", s.generateReport)
	r.GET("/monthly-reports/:key", s.downloadReport)
	return r
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http listening", logx.String("addr", s.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		s.log.Warn("http shutdown incomplete", logx.Err(err))
		return err
	}
	s.log.Info("http stopped")
	return nil
}

func (s *Server) recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, rec any) {
		s.log.Error("http handler panicked", logx.String("path", c.FullPath()), logx.Any("panic", rec))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	})
}

func (s *Server) accessLog(skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if _, ok := skipped[c.Request.URL.Path]; ok {
			return
		}
		fields := []logx.Field{
			logx.String("method", c.Request.Method),
			logx.String("path", c.Request.URL.Path),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("took", time.Since(start)),
			logx.String("ip", c.ClientIP()),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			s.log.Warn("http request", fields...)
			return
		}
		s.log.Debug("http request", fields...)
	}
}
