package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"credential_verifier/internal/csrf"
	"credential_verifier/internal/model"
	"credential_verifier/internal/service"
	"credential_verifier/internal/storage"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	ActionReprocess      = "reprocess"
	ActionApprove        = "approve"
	ActionReject         = "reject"
	ActionProcessPending = "process_pending"
)

type VerificationHandler struct {
	svc    service.VerificationService
	store  storage.DiplomaStore
	csrf   *csrf.Manager
	logger *zap.Logger
}

func NewVerificationHandler(svc service.VerificationService, store storage.DiplomaStore, csrfManager *csrf.Manager, logger *zap.Logger) *VerificationHandler {
	return &VerificationHandler{
		svc:    svc,
		store:  store,
		csrf:   csrfManager,
		logger: logger,
	}
}

type actionInput struct {
	Token  string `json:"_token" form:"_token"`
	Reason string `json:"reason" form:"reason"`
}

// Submit принимает диплом специалиста
// POST /api/v1/verifications
func (h *VerificationHandler) Submit(c *gin.Context) {
	userID, ok := GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not found in token"})
		return
	}

	fileHeader, err := c.FormFile("diploma")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "diploma file is required"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "diploma file could not be read"})
		return
	}
	defer file.Close()

	result, err := h.svc.Submit(c.Request.Context(), service.SubmitRequest{
		ProfessionalUUID: userID.String(),
		LicenseNumber:    c.PostForm("license_number"),
		Specialty:        c.PostForm("specialty"),
		Filename:         fileHeader.Filename,
		Content:          file,
	})
	if err != nil {
		h.writeError(c, err, "")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"verification": result.Verification,
		"diploma_url":  h.store.PublicURL(result.Verification.DiplomaFilename),
		"warnings":     warnings(result),
	})
}

// List - дашборд администратора
// GET /api/v1/admin/verifications?status=
func (h *VerificationHandler) List(c *gin.Context) {
	filter, err := model.ParseStatusFilter(c.Query("status"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit, err := optionalInt32(c, "limit")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	offset, err := optionalInt32(c, "offset")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	verifications, err := h.svc.ListVerifications(ctx, filter, limit, offset)
	if err != nil {
		h.writeError(c, err, "")
		return
	}
	stats, err := h.svc.Statistics(ctx)
	if err != nil {
		h.writeError(c, err, "")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"verifications": verifications,
		"statistics":    stats,
		"status":        filter,
	})
}

// Get возвращает запись вместе с CSRF-токенами для действий над ней
// GET /api/v1/admin/verifications/:id
func (h *VerificationHandler) Get(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	v, err := h.svc.GetVerification(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err, "")
		return
	}

	subject := csrfSubject(c)
	c.JSON(http.StatusOK, gin.H{
		"verification": v,
		"diploma_url":  h.store.PublicURL(v.DiplomaFilename),
		"csrf_tokens": gin.H{
			ActionReprocess: h.csrf.Generate(subject, ActionReprocess, id),
			ActionApprove:   h.csrf.Generate(subject, ActionApprove, id),
			ActionReject:    h.csrf.Generate(subject, ActionReject, id),
		},
	})
}

// Reprocess - POST /api/v1/admin/verifications/:id/reprocess
func (h *VerificationHandler) Reprocess(c *gin.Context) {
	id, _, ok := h.bindAction(c, ActionReprocess)
	if !ok {
		return
	}

	result, err := h.svc.Process(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err, detailRedirect(id))
		return
	}
	h.writeResult(c, "Verification reprocessed", result)
}

// Approve - POST /api/v1/admin/verifications/:id/approve
func (h *VerificationHandler) Approve(c *gin.Context) {
	id, input, ok := h.bindAction(c, ActionApprove)
	if !ok {
		return
	}

	result, err := h.svc.Approve(c.Request.Context(), id, reviewerIdentity(c), input.Reason)
	if err != nil {
		h.writeError(c, err, detailRedirect(id))
		return
	}
	h.writeResult(c, "Verification approved", result)
}

// Reject - POST /api/v1/admin/verifications/:id/reject
func (h *VerificationHandler) Reject(c *gin.Context) {
	id, input, ok := h.bindAction(c, ActionReject)
	if !ok {
		return
	}

	result, err := h.svc.Reject(c.Request.Context(), id, reviewerIdentity(c), input.Reason)
	if err != nil {
		h.writeError(c, err, detailRedirect(id))
		return
	}
	h.writeResult(c, "Verification rejected", result)
}

// ProcessPending - POST /api/v1/admin/verifications/process-pending
func (h *VerificationHandler) ProcessPending(c *gin.Context) {
	var input actionInput
	if err := c.ShouldBind(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !h.csrf.Validate(input.Token, csrfSubject(c), ActionProcessPending, 0) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Invalid CSRF token", "redirect": dashboardRedirect})
		return
	}

	summary, err := h.svc.ProcessAllPending(c.Request.Context())
	if err != nil {
		h.writeError(c, err, dashboardRedirect)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// ProcessPendingToken выдает токен для пакетной обработки
// GET /api/v1/admin/verifications/process-pending/token
func (h *VerificationHandler) ProcessPendingToken(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"_token": h.csrf.Generate(csrfSubject(c), ActionProcessPending, 0)})
}

// Statistics - GET /api/v1/admin/verifications/statistics
func (h *VerificationHandler) Statistics(c *gin.Context) {
	stats, err := h.svc.Statistics(c.Request.Context())
	if err != nil {
		h.writeError(c, err, "")
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *VerificationHandler) bindAction(c *gin.Context, action string) (int64, actionInput, bool) {
	var input actionInput
	id, ok := h.parseID(c)
	if !ok {
		return 0, input, false
	}
	if err := c.ShouldBind(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "redirect": detailRedirect(id)})
		return 0, input, false
	}
	if !h.csrf.Validate(input.Token, csrfSubject(c), action, id) {
		h.logger.Warn("csrf token rejected", zap.String("action", action), zap.Int64("verification_id", id))
		c.JSON(http.StatusForbidden, gin.H{"error": "Invalid CSRF token", "redirect": detailRedirect(id)})
		return 0, input, false
	}
	return id, input, true
}

func (h *VerificationHandler) parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid verification ID"})
		return 0, false
	}
	return id, true
}

func (h *VerificationHandler) writeResult(c *gin.Context, message string, result *model.ProcessResult) {
	c.JSON(http.StatusOK, gin.H{
		"message":      message,
		"verification": result.Verification,
		"warnings":     warnings(result),
	})
}

// writeError переводит ошибки сервиса в HTTP-статусы
func (h *VerificationHandler) writeError(c *gin.Context, err error, redirect string) {
	status := http.StatusInternalServerError
	message := "Internal server error"

	switch {
	case errors.Is(err, service.ErrReasonRequired):
		status, message = http.StatusUnprocessableEntity, "A rejection reason is required"
	case errors.Is(err, service.ErrInvalidInput):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrNotFound):
		status, message = http.StatusNotFound, "Verification not found"
	case errors.Is(err, service.ErrInvalidTransition):
		status, message = http.StatusConflict, err.Error()
	case errors.Is(err, service.ErrVerificationBusy):
		status, message = http.StatusConflict, "Verification is being processed, try again later"
	default:
		h.logger.Error("request failed", zap.Error(err), zap.String("path", c.Request.URL.Path))
	}

	body := gin.H{"error": message}
	if redirect != "" {
		body["redirect"] = redirect
	}
	c.JSON(status, body)
}

const dashboardRedirect = "/admin/verifications"

func detailRedirect(id int64) string {
	return fmt.Sprintf("%s/%d", dashboardRedirect, id)
}

func csrfSubject(c *gin.Context) string {
	id, _ := GetUserID(c)
	return id.String()
}

func optionalInt32(c *gin.Context, key string) (*int32, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %q", key, raw)
	}
	n := int32(v)
	return &n, nil
}

func warnings(result *model.ProcessResult) []string {
	if result.Warnings == nil {
		return []string{}
	}
	return result.Warnings
}
