package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status 审计记录的执行结果
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// BusinessType classifies which domain area an audited call belongs to.
type BusinessType string

const (
	BusinessMeal      BusinessType = "MEAL"
	BusinessNutrition BusinessType = "NUTRITION"
	BusinessRAG       BusinessType = "RAG"
	BusinessAuth      BusinessType = "AUTH"
	BusinessConfig    BusinessType = "CONFIG"
	BusinessSync      BusinessType = "SYNC"
	// BusinessSystem tags records produced by LogException.
	BusinessSystem BusinessType = "SYSTEM"
)

// BusinessTypes lists the closed set in declaration order.
var BusinessTypes = []BusinessType{
	BusinessMeal, BusinessNutrition, BusinessRAG, BusinessAuth,
	BusinessConfig, BusinessSync, BusinessSystem,
}

func (b BusinessType) Code() string { return string(b) }

// Description is the human label stored as the record's module name.
func (b BusinessType) Description() string {
	switch b {
	case BusinessMeal:
		return "Meal Management"
	case BusinessNutrition:
		return "Nutrition Analysis"
	case BusinessRAG:
		return "RAG Query"
	case BusinessAuth:
		return "User Authentication"
	case BusinessConfig:
		return "System Configuration"
	case BusinessSync:
		return "Data Sync"
	case BusinessSystem:
		return "System Exception"
	default:
		return ""
	}
}

func (b BusinessType) Valid() bool { return b.Description() != "" }

func ParseBusinessType(code string) (BusinessType, error) {
	b := BusinessType(strings.ToUpper(strings.TrimSpace(code)))
	if !b.Valid() {
		return "", fmt.Errorf("unknown business type %q", code)
	}
	return b, nil
}

// OperationType classifies the kind of action.
type OperationType string

const (
	OperationCreate  OperationType = "CREATE"
	OperationUpdate  OperationType = "UPDATE"
	OperationDelete  OperationType = "DELETE"
	OperationQuery   OperationType = "QUERY"
	OperationAnalyze OperationType = "ANALYZE"
	OperationLogin   OperationType = "LOGIN"
	OperationLogout  OperationType = "LOGOUT"
)

func (o OperationType) Code() string { return string(o) }

func (o OperationType) Description() string {
	switch o {
	case OperationCreate:
		return "Create"
	case OperationUpdate:
		return "Update"
	case OperationDelete:
		return "Delete"
	case OperationQuery:
		return "Query"
	case OperationAnalyze:
		return "Analyze"
	case OperationLogin:
		return "Login"
	case OperationLogout:
		return "Logout"
	default:
		return ""
	}
}

func (o OperationType) Valid() bool { return o.Description() != "" }

func ParseOperationType(code string) (OperationType, error) {
	o := OperationType(strings.ToUpper(strings.TrimSpace(code)))
	if !o.Valid() {
		return "", fmt.Errorf("unknown operation type %q", code)
	}
	return o, nil
}

// LogLevel is the level a performance note is emitted at.
type LogLevel string

const (
	LevelTrace LogLevel = "TRACE"
	LevelDebug LogLevel = "DEBUG"
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

// AuditRecord 代表一次被拦截调用的审计记录，写入后不再修改
type AuditRecord struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt      time.Time `gorm:"index:idx_system_logs_created;index:idx_system_logs_user,priority:2" json:"created_at"`
	TraceID        string    `gorm:"size:64;index" json:"trace_id,omitempty"`
	UserID         string    `gorm:"size:64;index:idx_system_logs_user,priority:1" json:"user_id,omitempty"`
	BusinessType   string    `gorm:"size:20;index" json:"business_type"`
	OperationType  string    `gorm:"size:20" json:"operation_type"`
	MethodName     string    `gorm:"size:200" json:"method_name"`
	RequestParams  string    `gorm:"type:text" json:"request_params,omitempty"`
	ResponseResult string    `gorm:"type:text" json:"response_result,omitempty"`
	ExecuteTimeMs  int64     `json:"execute_time_ms"`
	IPAddress      string    `gorm:"size:50" json:"ip_address"`
	UserAgent      string    `gorm:"type:text" json:"user_agent"`
	ExceptionInfo  string    `gorm:"type:text" json:"exception_info,omitempty"`
	Status         Status    `gorm:"size:10;index" json:"status"`
	ModuleName     string    `gorm:"size:100" json:"module_name"`
}

func (AuditRecord) TableName() string {
	return "system_logs"
}

var (
	ErrMissingException = errors.New("failed record without exception info")
	ErrNegativeDuration = errors.New("negative execute time")
	ErrUnknownStatus    = errors.New("unknown status")
)

// Validate checks the record invariants.
func (r *AuditRecord) Validate() error {
	if r == nil {
		return errors.New("nil record")
	}
	switch r.Status {
	case StatusSuccess:
	case StatusFailed:
		if strings.TrimSpace(r.ExceptionInfo) == "" {
			return ErrMissingException
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStatus, r.Status)
	}
	if r.ExecuteTimeMs < 0 {
		return ErrNegativeDuration
	}
	return nil
}

// Page is one page of a newest-first listing. Page numbers start at 0.
type Page[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Size  int   `json:"size"`
}
