package handler

import (
	"time"

	"mailagent-go/internal/model"
	"mailagent-go/internal/syncer"
)

// SyncRequest represents the request structure for a recent-mode sync
type SyncRequest struct {
	MaxResults int   `json:"max_results" binding:"omitempty,min=1,max=100"`
	Classify   *bool `json:"classify"`
}

// HistoricalSyncRequest represents the request structure for a historical sync
type HistoricalSyncRequest struct {
	DaysBack int   `json:"days_back" binding:"omitempty,min=1,max=365"`
	Classify *bool `json:"classify"`
}

// SyncResponse represents the outcome of a sync run
type SyncResponse struct {
	Status          string   `json:"status"`
	RunID           string   `json:"run_id"`
	Fetched         int      `json:"fetched"`
	Processed       int      `json:"processed"`
	Skipped         int      `json:"skipped"`
	Errors          []string `json:"errors"`
	DurationSeconds float64  `json:"duration_seconds"`
}

func newSyncResponse(status string, res *syncer.Result) SyncResponse {
	return SyncResponse{
		Status:          status,
		RunID:           res.RunID,
		Fetched:         res.Fetched,
		Processed:       res.Processed,
		Skipped:         res.Skipped,
		Errors:          res.Errors,
		DurationSeconds: res.Duration.Seconds(),
	}
}

// EmailListQuery represents the query parameters for listing emails
type EmailListQuery struct {
	Status     string `form:"status"`
	Importance string `form:"importance"`
	Category   string `form:"category"`
	Limit      int    `form:"limit,default=50" binding:"min=1,max=500"`
	Offset     int    `form:"offset" binding:"min=0"`
}

// EmailListResponse represents a page of emails
type EmailListResponse struct {
	Emails []model.Message `json:"emails"`
	Count  int             `json:"count"`
}

// EmailUpdateRequest represents the mutable fields of an email
type EmailUpdateRequest struct {
	Status     *string  `json:"status"`
	Importance *string  `json:"importance"`
	Category   *string  `json:"category"`
	Labels     []string `json:"labels"`
}

// ResponsesResponse lists the reply drafts of an email
type ResponsesResponse struct {
	EmailID   string             `json:"email_id"`
	Responses []model.ReplyDraft `json:"responses"`
}

// SendEmailRequest represents the request structure for sending a reply
type SendEmailRequest struct {
	To         string `json:"to" binding:"required"`
	Subject    string `json:"subject" binding:"required"`
	Body       string `json:"body" binding:"required"`
	InReplyTo  string `json:"in_reply_to"`
	ResponseID *uint  `json:"response_id"`
}

// ImproveRequest represents the request structure for refining a draft
type ImproveRequest struct {
	Draft    string `json:"draft" binding:"required"`
	Feedback string `json:"feedback" binding:"required"`
}

// PreferenceRequest represents the request structure for saving a preference
type PreferenceRequest struct {
	Value string `json:"value"`
}

// StatusResponse represents the connectivity of the external services
type StatusResponse struct {
	Status         string  `json:"status"`
	GmailConnected bool    `json:"gmail_connected"`
	LLMConnected   bool    `json:"llm_connected"`
	Model          *string `json:"model,omitempty"`
	Error          *string `json:"error,omitempty"`
}

// StatsResponse represents the dashboard counters
type StatsResponse struct {
	TotalEmails    int64            `json:"total_emails"`
	UnreadEmails   int64            `json:"unread_emails"`
	HighImportance int64            `json:"high_importance"`
	Categories     map[string]int64 `json:"categories"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Metrics   map[string]string `json:"metrics,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
