package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"educheck/internal/absence"
	"educheck/internal/attendance"
	"educheck/internal/calendar"
	"educheck/internal/report"
	"educheck/internal/school"
	logx "educheck/pkg/logx"

	"github.com/gin-gonic/gin"
)

type studentView struct {
	Name     string `json:"name"`
	Document string `json:"document"`
	Grade    int    `json:"grade"`
}

func viewOf(st school.Student) *studentView {
	return &studentView{Name: st.FullName(), Document: st.Document, Grade: st.GradeNumber}
}

func (s *Server) health(c *gin.Context) {
	if err := s.deps.Store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "db": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "db": "ok"})
}

func (s *Server) checkIn(c *gin.Context) {
	var req struct {
		Documento string `json:"documento"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}
	res, err := s.deps.CheckIn.CheckIn(c.Request.Context(), req.Documento, s.now())
	switch {
	case errors.Is(err, attendance.ErrEmptyDocument):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, school.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"status": res.Status, "error": "student not found"})
		return
	case err != nil:
		s.log.Error("check-in failed", logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "check-in failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       res.Status,
		"student":      viewOf(res.Student),
		"day":          res.Day,
		"checked_in":   res.CheckedIn,
		"notification": res.Notification,
	})
}

func (s *Server) getClassDays(c *gin.Context) {
	cal, err := s.deps.Calendars.Current(c.Request.Context())
	if err != nil {
		s.internal(c, "load class days", err)
		return
	}
	c.JSON(http.StatusOK, cal.Flags())
}

func (s *Server) updateClassDays(c *gin.Context) {
	var raw map[string]any
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}
	patch, ignored := calendar.ParsePatch(raw)
	cal, err := s.deps.Calendars.Update(c.Request.Context(), patch)
	if err != nil {
		s.internal(c, "update class days", err)
		return
	}
	if ignored == nil {
		ignored = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"class_days": cal.Flags(), "ignored": ignored})
}

func (s *Server) runSweep(c *gin.Context) {
	tally, err := s.deps.Sweeper.Run(c.Request.Context(), s.now())
	if err != nil {
		s.log.Error("manual sweep failed", logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sweep failed", "tally": tally})
		return
	}
	c.JSON(http.StatusOK, tally)
}

func (s *Server) studentAbsences(c *gin.Context) {
	days := int(s.lookback.Load())
	if raw := strings.TrimSpace(c.Query("days")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > absence.MaxLookbackDays {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "days must be an integer between 1 and " + strconv.Itoa(absence.MaxLookbackDays),
			})
			return
		}
		days = n
	}
	ctx := c.Request.Context()
	st, err := s.deps.Store.StudentByDocument(ctx, c.Param("documento"))
	if errors.Is(err, school.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
		return
	}
	if err != nil {
		s.internal(c, "resolve student", err)
		return
	}
	cal, err := s.deps.Calendars.Current(ctx)
	if err != nil {
		s.internal(c, "load class days", err)
		return
	}
	sum, err := absence.Summarize(ctx, s.deps.Store, cal, st, s.deps.Zone.Today(s.now()), days)
	if err != nil {
		s.internal(c, "summarize absences", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"student": viewOf(st), "summary": sum})
}

func (s *Server) listReports(c *gin.Context) {
	list, err := s.deps.Artifacts.List()
	if err != nil {
		s.internal(c, "list reports", err)
		return
	}
	if list == nil {
		list = []report.Artifact{}
	}
	c.JSON(http.StatusOK, gin.H{"reports": list})
}

// generateReport builds the current month unless ?month=YYYY-MM names another.
func (s *Server) generateReport(c *gin.Context) {
	month := s.deps.Reports.CurrentMonth(s.now())
	if raw := strings.TrimSpace(c.Query("month")); raw != "" {
		d, err := calendar.ParseDate(raw + "-01")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "month must be YYYY-MM"})
			return
		}
		month = d
	}
	art, err := s.deps.Reports.Generate(c.Request.Context(), month)
	if errors.Is(err, report.ErrNothingToReport) {
		c.JSON(http.StatusOK, gin.H{"generated": false, "key": month.MonthKey(), "message": "No hay inasistentes para reportar"})
		return
	}
	if err != nil {
		s.internal(c, "generate report", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"generated": true, "report": art})
}

func (s *Server) downloadReport(c *gin.Context) {
	art, body, err := s.deps.Artifacts.Open(c.Param("key"))
	switch {
	case errors.Is(err, report.ErrInvalidKey):
		c.JSON(http.StatusBadRequest, gin.H{"error": "key must be YYYY-MM"})
		return
	case errors.Is(err, report.ErrArtifactNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
		return
	case err != nil:
		s.internal(c, "open report", err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+art.Filename+`"`)
	c.Data(http.StatusOK, "application/pdf", body)
}

func (s *Server) internal(c *gin.Context, op string, err error) {
	s.log.Error(op+" failed", logx.Err(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": op + " failed"})
}
