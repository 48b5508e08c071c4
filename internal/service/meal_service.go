package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mealhelper/tracelog/internal/interceptor"
	"github.com/mealhelper/tracelog/internal/model"
	"github.com/mealhelper/tracelog/internal/pkg/apperrors"
	"github.com/mealhelper/tracelog/internal/pkg/tracectx"
)

// MealService is a small in-memory meal log. Each public method goes through
// the interceptor at the service layer.
type MealService struct {
	mu    sync.RWMutex
	meals map[string]*model.Meal

	create  func(context.Context, model.CreateMealRequest) (*model.Meal, error)
	get     func(context.Context, string) (*model.Meal, error)
	list    func(context.Context, string) ([]*model.Meal, error)
	remove  func(context.Context, string) error
	analyze func(context.Context, string) (*model.NutritionSummary, error)
}

func NewMealService(ic *interceptor.Interceptor) *MealService {
	s := &MealService{meals: make(map[string]*model.Meal)}

	s.create = interceptor.Wrap1(ic, mealMeta("Create", model.BusinessMeal, model.OperationCreate), s.doCreate)
	s.get = interceptor.Wrap1(ic, mealMeta("Get", model.BusinessMeal, model.OperationQuery), s.doGet)
	s.list = interceptor.Wrap1(ic, mealMeta("List", model.BusinessMeal, model.OperationQuery), s.doList)
	s.remove = interceptor.WrapErr1(ic, mealMeta("Delete", model.BusinessMeal, model.OperationDelete), s.doDelete)
	s.analyze = interceptor.Wrap1(ic, mealMeta("Analyze", model.BusinessNutrition, model.OperationAnalyze), s.doAnalyze)
	return s
}

func mealMeta(method string, business model.BusinessType, op model.OperationType) interceptor.Meta {
	return interceptor.Meta{
		Layer:     interceptor.LayerService,
		Component: "MealService",
		Method:    method,
		Business:  business,
		Operation: op,
	}
}

func (s *MealService) Create(ctx context.Context, req model.CreateMealRequest) (*model.Meal, error) {
	return s.create(ctx, req)
}

func (s *MealService) Get(ctx context.Context, id string) (*model.Meal, error) {
	return s.get(ctx, id)
}

// List returns the user's meals, newest first. An empty userID lists all.
func (s *MealService) List(ctx context.Context, userID string) ([]*model.Meal, error) {
	return s.list(ctx, userID)
}

func (s *MealService) Delete(ctx context.Context, id string) error {
	return s.remove(ctx, id)
}

func (s *MealService) Analyze(ctx context.Context, userID string) (*model.NutritionSummary, error) {
	return s.analyze(ctx, userID)
}

func (s *MealService) doCreate(ctx context.Context, req model.CreateMealRequest) (*model.Meal, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperrors.NewInvalidRequest("meal name is required")
	}
	if req.Calories < 0 {
		return nil, apperrors.NewInvalidRequest("calories must not be negative")
	}

	meal := &model.Meal{
		ID:       uuid.New().String(),
		Name:     name,
		Calories: req.Calories,
		EatenAt:  time.Now().UTC(),
	}
	if req.EatenAt != nil {
		meal.EatenAt = req.EatenAt.UTC()
	}
	if userID, ok := tracectx.UserID(ctx); ok {
		meal.UserID = userID
	}

	s.mu.Lock()
	s.meals[meal.ID] = meal
	s.mu.Unlock()

	out := *meal
	return &out, nil
}

func (s *MealService) doGet(_ context.Context, id string) (*model.Meal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meal, ok := s.meals[id]
	if !ok {
		return nil, apperrors.NewNotFound("meal not found")
	}
	out := *meal
	return &out, nil
}

func (s *MealService) doList(_ context.Context, userID string) ([]*model.Meal, error) {
	s.mu.RLock()
	out := make([]*model.Meal, 0, len(s.meals))
	for _, m := range s.meals {
		if userID != "" && m.UserID != userID {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].EatenAt.Equal(out[j].EatenAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].EatenAt.After(out[j].EatenAt)
	})
	return out, nil
}

func (s *MealService) doDelete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.meals[id]; !ok {
		return apperrors.NewNotFound("meal not found")
	}
	delete(s.meals, id)
	return nil
}

func (s *MealService) doAnalyze(ctx context.Context, userID string) (*model.NutritionSummary, error) {
	meals, err := s.doList(ctx, userID)
	if err != nil {
		return nil, err
	}
	summary := &model.NutritionSummary{UserID: userID, Meals: len(meals)}
	for _, m := range meals {
		summary.TotalCalories += m.Calories
	}
	if summary.Meals > 0 {
		summary.AvgCalories = summary.TotalCalories / summary.Meals
	}
	return summary, nil
}
