package model

import (
	"context"
	"time"

	"github.com/Laisky/zap"

	"github.com/Laisky/gemini-balance/common/config"
	"github.com/Laisky/gemini-balance/common/graceful"
	"github.com/Laisky/gemini-balance/common/logger"
)

// RequestLog is one completed relay request.
type RequestLog struct {
	Id               int       `json:"id" gorm:"primaryKey;autoIncrement"`
	RequestId        string    `json:"request_id" gorm:"index"`
	CreatedAt        time.Time `json:"created_at" gorm:"index"`
	Model            string    `json:"model" gorm:"index;type:varchar(64)"`
	Key              string    `json:"key" gorm:"type:varchar(32)"` // redacted
	Dialect          string    `json:"dialect" gorm:"type:varchar(16)"`
	Streaming        bool      `json:"streaming"`
	Success          bool      `json:"success"`
	StatusCode       int       `json:"status_code"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	LatencyMs        int64     `json:"latency_ms"`
}

// ErrorLog is one failed relay request. RequestBody is only populated when
// ERROR_LOG_RECORD_REQUEST_BODY is enabled.
type ErrorLog struct {
	Id           int       `json:"id" gorm:"primaryKey;autoIncrement"`
	RequestId    string    `json:"request_id" gorm:"index"`
	CreatedAt    time.Time `json:"created_at" gorm:"index"`
	Model        string    `json:"model" gorm:"index;type:varchar(64)"`
	Key          string    `json:"key" gorm:"type:varchar(32)"` // redacted
	Dialect      string    `json:"dialect" gorm:"type:varchar(16)"`
	StatusCode   int       `json:"status_code"`
	ErrorCode    string    `json:"error_code" gorm:"type:varchar(64)"`
	ErrorMessage string    `json:"error_message" gorm:"type:text"`
	RequestBody  string    `json:"request_body" gorm:"type:text"`
}

// RecordRequestLog persists a request log entry off the request path.
func RecordRequestLog(ctx context.Context, entry *RequestLog) {
	if DB == nil {
		return
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	// Persistence outlives the request; keep trace values, drop cancellation.
	ctx = context.WithoutCancel(ctx)
	graceful.GoCritical(ctx, "record_request_log", func(ctx context.Context) {
		if err := DB.WithContext(ctx).Create(entry).Error; err != nil {
			logger.Logger.Error("persist request log", zap.Error(err))
		}
	})
}

// RecordErrorLog persists an error log entry off the request path.
func RecordErrorLog(ctx context.Context, entry *ErrorLog) {
	if DB == nil {
		return
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if !config.ErrorLogRecordRequestBody {
		entry.RequestBody = ""
	}
	ctx = context.WithoutCancel(ctx)
	graceful.GoCritical(ctx, "record_error_log", func(ctx context.Context) {
		if err := DB.WithContext(ctx).Create(entry).Error; err != nil {
			logger.Logger.Error("persist error log", zap.Error(err))
		}
	})
}

// QueryErrorLogs returns the most recent error logs, newest first.
func QueryErrorLogs(ctx context.Context, limit int) ([]ErrorLog, error) {
	if DB == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var out []ErrorLog
	err := DB.WithContext(ctx).Order("id desc").Limit(limit).Find(&out).Error
	return out, err
}

// QueryRequestLogs returns the most recent request logs, newest first.
func QueryRequestLogs(ctx context.Context, limit int) ([]RequestLog, error) {
	if DB == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var out []RequestLog
	err := DB.WithContext(ctx).Order("id desc").Limit(limit).Find(&out).Error
	return out, err
}
