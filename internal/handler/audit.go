package handler

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mealhelper/tracelog/internal/interceptor"
	"github.com/mealhelper/tracelog/internal/model"
	"github.com/mealhelper/tracelog/internal/pkg/apperrors"
	"github.com/mealhelper/tracelog/internal/service"
)

// AuditHandler serves the read-only audit query surface under /api/logs.
type AuditHandler struct {
	svc *service.AuditService
	ic  *interceptor.Interceptor
}

func NewAuditHandler(svc *service.AuditService, ic *interceptor.Interceptor) *AuditHandler {
	return &AuditHandler{svc: svc, ic: ic}
}

func (h *AuditHandler) Register(rg *gin.RouterGroup) {
	logs := rg.Group("/logs")
	logs.GET("", h.wrap("ListBetween", h.ListBetween))
	logs.GET("/recent", h.wrap("Recent", h.Recent))
	logs.GET("/user/:userId", h.wrap("ListByUser", h.ListByUser))
	logs.GET("/business/:businessType", h.wrap("ListByBusinessType", h.ListByBusinessType))
	logs.GET("/statistics", h.wrap("Statistics", h.Statistics))
}

// query routes are logged but not themselves audited
func (h *AuditHandler) wrap(method string, fn interceptor.ControllerFunc) gin.HandlerFunc {
	return interceptor.Handler(h.ic, interceptor.Meta{Component: "AuditHandler", Method: method}, fn)
}

func (h *AuditHandler) ListByUser(c *gin.Context) (any, error) {
	page, err := intQuery(c, "page", 0)
	if err != nil {
		return nil, err
	}
	size, err := intQuery(c, "size", 10)
	if err != nil {
		return nil, err
	}
	result, err := h.svc.ListByUser(c.Request.Context(), c.Param("userId"), page, size)
	if err != nil {
		return nil, apperrors.Wrap(err)
	}
	return result, nil
}

func (h *AuditHandler) ListByBusinessType(c *gin.Context) (any, error) {
	business, err := model.ParseBusinessType(c.Param("businessType"))
	if err != nil {
		return nil, apperrors.NewInvalidRequest(err.Error())
	}
	records, err := h.svc.ListByBusinessType(c.Request.Context(), business)
	if err != nil {
		return nil, apperrors.Wrap(err)
	}
	return nonNil(records), nil
}

func (h *AuditHandler) Statistics(c *gin.Context) (any, error) {
	stats, err := h.svc.Statistics(c.Request.Context())
	if err != nil {
		return nil, apperrors.Wrap(err)
	}
	return stats, nil
}

func (h *AuditHandler) ListBetween(c *gin.Context) (any, error) {
	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)
	if raw := c.Query("from"); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			return nil, apperrors.NewInvalidRequest(err.Error())
		}
		from = t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			return nil, apperrors.NewInvalidRequest(err.Error())
		}
		to = t
	}
	if to.Before(from) {
		return nil, apperrors.NewInvalidRequest("to must not be before from")
	}

	records, err := h.svc.ListBetween(c.Request.Context(), from, to)
	if err != nil {
		return nil, apperrors.Wrap(err)
	}
	return nonNil(records), nil
}

func (h *AuditHandler) Recent(c *gin.Context) (any, error) {
	limit, err := intQuery(c, "limit", 100)
	if err != nil {
		return nil, err
	}
	records, err := h.svc.Recent(c.Request.Context(), limit)
	if err != nil {
		return nil, apperrors.Wrap(err)
	}
	return nonNil(records), nil
}

func intQuery(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.NewInvalidRequest(fmt.Sprintf("%s must be an integer", key))
	}
	return v, nil
}

func nonNil(records []*model.AuditRecord) []*model.AuditRecord {
	if records == nil {
		return []*model.AuditRecord{}
	}
	return records
}

func parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid time format")
}
