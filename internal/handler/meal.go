package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mealhelper/tracelog/internal/interceptor"
	"github.com/mealhelper/tracelog/internal/model"
	"github.com/mealhelper/tracelog/internal/pkg/apperrors"
	"github.com/mealhelper/tracelog/internal/pkg/tracectx"
	"github.com/mealhelper/tracelog/internal/service"
)

type MealHandler struct {
	svc *service.MealService
	ic  *interceptor.Interceptor
}

func NewMealHandler(svc *service.MealService, ic *interceptor.Interceptor) *MealHandler {
	return &MealHandler{svc: svc, ic: ic}
}

func (h *MealHandler) Register(rg *gin.RouterGroup) {
	meals := rg.Group("/meals")
	meals.POST("", h.wrap("Create", model.BusinessMeal, model.OperationCreate, h.Create))
	meals.GET("", h.wrap("List", model.BusinessMeal, model.OperationQuery, h.List))
	meals.GET("/summary", h.wrap("Summary", model.BusinessNutrition, model.OperationAnalyze, h.Summary))
	meals.GET("/:id", h.wrap("Get", model.BusinessMeal, model.OperationQuery, h.Get))
	meals.DELETE("/:id", h.wrap("Delete", model.BusinessMeal, model.OperationDelete, h.Delete))
}

func (h *MealHandler) wrap(method string, business model.BusinessType, op model.OperationType, fn interceptor.ControllerFunc) gin.HandlerFunc {
	return interceptor.Handler(h.ic, interceptor.Meta{
		Component: "MealHandler",
		Method:    method,
		Business:  business,
		Operation: op,
	}, fn)
}

func (h *MealHandler) Create(c *gin.Context) (any, error) {
	var req model.CreateMealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, apperrors.NewInvalidRequest(err.Error())
	}
	meal, err := h.svc.Create(c.Request.Context(), req)
	if err != nil {
		return nil, err
	}
	c.Status(http.StatusCreated)
	return meal, nil
}

func (h *MealHandler) Get(c *gin.Context) (any, error) {
	return h.svc.Get(c.Request.Context(), c.Param("id"))
}

// List shows the caller's own meals when a User-Id header was sent.
func (h *MealHandler) List(c *gin.Context) (any, error) {
	ctx := c.Request.Context()
	userID, _ := tracectx.UserID(ctx)
	return h.svc.List(ctx, userID)
}

func (h *MealHandler) Summary(c *gin.Context) (any, error) {
	ctx := c.Request.Context()
	userID, _ := tracectx.UserID(ctx)
	return h.svc.Analyze(ctx, userID)
}

func (h *MealHandler) Delete(c *gin.Context) (any, error) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		return nil, err
	}
	c.Status(http.StatusNoContent)
	return nil, nil
}
