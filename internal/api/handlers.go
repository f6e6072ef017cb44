package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"qrattend/internal/attendance"
)

type handler struct {
	svc    *attendance.Service
	loc    *time.Location
	now    func() time.Time
	logger *zap.Logger
}

func statusFor(k attendance.Kind) int {
	switch k {
	case attendance.KindNotFound:
		return http.StatusNotFound
	case attendance.KindInvalidState, attendance.KindConflict:
		return http.StatusConflict
	case attendance.KindUnauthorized:
		return http.StatusForbidden
	case attendance.KindMalformed:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": "InvalidRequest", "error": msg})
}

// fail writes a business error with its own status; anything else is a 500.
func (h *handler) fail(c *gin.Context, err error) {
	if e, ok := attendance.AsError(err); ok {
		c.JSON(statusFor(e.Kind), gin.H{"code": e.Code, "error": e.Message})
		return
	}
	h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"code": "Internal", "error": "Something went wrong, please try again."})
}

func (h *handler) currentSlot(c *gin.Context) {
	cohort := attendance.Cohort{Year: c.Query("year"), Branch: c.Query("branch")}
	if cohort.Year == "" || cohort.Branch == "" {
		badRequest(c, "year and branch are required")
		return
	}
	slot, err := h.svc.Resolver.CurrentSlot(c.Request.Context(), cohort, h.now())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, slot)
}

func (h *handler) startSession(c *gin.Context) {
	var req struct {
		TeacherID string `json:"teacher_id" binding:"required"`
		Subject   string `json:"subject" binding:"required"`
		Year      string `json:"year" binding:"required"`
		Branch    string `json:"branch" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	res, err := h.svc.Manager.StartSession(c.Request.Context(), req.TeacherID, req.Subject,
		attendance.Cohort{Year: req.Year, Branch: req.Branch})
	if err != nil {
		h.fail(c, err)
		return
	}
	status := http.StatusCreated
	if res.Refreshed {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

func (h *handler) stopSession(c *gin.Context) {
	sum, err := h.svc.Manager.StopSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": attendance.StatusCompleted, "summary": sum})
}

func (h *handler) finalize(c *gin.Context) {
	sum, err := h.svc.Finalizer.Finalize(c.Request.Context(), c.Param("id"))
	if errors.Is(err, attendance.ErrAlreadyFinalized) {
		e := attendance.ErrAlreadyFinalized
		c.JSON(http.StatusConflict, gin.H{"code": e.Code, "error": e.Message, "summary": sum})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": sum})
}

func (h *handler) progress(c *gin.Context) {
	p, err := h.svc.Manager.Progress(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *handler) qrImage(c *gin.Context) {
	token, err := h.svc.Manager.CurrentToken(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	size := 256
	if v := c.Query("size"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 128 && parsed <= 1024 {
			size = parsed
		}
	}
	png, err := qrcode.Encode(token, qrcode.Medium, size)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (h *handler) submitScan(c *gin.Context) {
	var req struct {
		Token     string `json:"token" binding:"required"`
		StudentID string `json:"student_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	res, err := h.svc.Validator.SubmitScan(c.Request.Context(), req.Token, req.StudentID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !res.Accepted {
		c.JSON(statusFor(res.Err.Kind), res)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handler) cancelDay(c *gin.Context) {
	var req struct {
		Year   string `json:"year" binding:"required"`
		Branch string `json:"branch" binding:"required"`
		Date   string `json:"date" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	day, err := time.ParseInLocation("2006-01-02", req.Date, h.loc)
	if err != nil {
		badRequest(c, "date must be YYYY-MM-DD")
		return
	}
	res, err := h.svc.Finalizer.CancelDay(c.Request.Context(), attendance.Cohort{Year: req.Year, Branch: req.Branch}, day)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
