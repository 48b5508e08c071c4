package model

import "time"

// Meal is one logged meal in the demo catalogue.
type Meal struct {
	ID       string    `json:"id"`
	UserID   string    `json:"user_id,omitempty"`
	Name     string    `json:"name"`
	Calories int       `json:"calories"`
	EatenAt  time.Time `json:"eaten_at"`
}

// CreateMealRequest represents the incoming JSON body
type CreateMealRequest struct {
	Name     string     `json:"name" binding:"required"`
	Calories int        `json:"calories" binding:"gte=0"`
	EatenAt  *time.Time `json:"eaten_at,omitempty"` // defaults to now
}

type NutritionSummary struct {
	UserID        string `json:"user_id,omitempty"`
	Meals         int    `json:"meals"`
	TotalCalories int    `json:"total_calories"`
	AvgCalories   int    `json:"avg_calories"`
}
