package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mailagent-go/internal/model"
)

var (
	// ErrNotFound is returned when a message or draft does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateKey is returned when a message with the same ID is already stored.
	ErrDuplicateKey = errors.New("duplicate key")
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Store is the persistence contract used by the enrichment pipeline and the HTTP layer.
type Store interface {
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	MessageExists(ctx context.Context, id string) (bool, error)
	ListMessages(ctx context.Context, filter model.MessageFilter) ([]model.Message, error)
	CreateMessage(ctx context.Context, msg *model.Message) error
	UpdateMessage(ctx context.Context, id string, upd model.MessageUpdate) (*model.Message, error)
	DeleteMessage(ctx context.Context, id string) (bool, error)

	SaveDraft(ctx context.Context, messageID string, variant int, content, tone string) (*model.ReplyDraft, error)
	SaveDrafts(ctx context.Context, drafts []model.ReplyDraft) ([]model.ReplyDraft, error)
	ListDrafts(ctx context.Context, messageID string) ([]model.ReplyDraft, error)
	DeleteUnsentDrafts(ctx context.Context, messageID string) (int64, error)
	MarkDraftSent(ctx context.Context, draftID uint) (bool, error)

	SetPreference(ctx context.Context, key, value string) error
	GetPreference(ctx context.Context, key, def string) (string, error)

	AppendSyncAudit(ctx context.Context, audit *model.SyncAudit) error
	ListSyncAudits(ctx context.Context, limit int) ([]model.SyncAudit, error)

	Stats(ctx context.Context) (*Stats, error)
	Ping(ctx context.Context) error
}

// Stats aggregates message counts for the dashboard.
type Stats struct {
	Total          int64            `json:"total"`
	Unread         int64            `json:"unread"`
	HighImportance int64            `json:"high_importance"`
	Categories     map[string]int64 `json:"categories"`
}

// Repository is the gorm-backed Store.
type Repository struct {
	db *gorm.DB
}

var _ Store = (*Repository)(nil)

func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	var msg model.Message
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&msg)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get message: %w", result.Error)
	}
	return &msg, nil
}

func (r *Repository) MessageExists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.Message{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("database error checking message: %w", err)
	}
	return count > 0, nil
}

// ListMessages returns messages ordered by date, newest first.
func (r *Repository) ListMessages(ctx context.Context, filter model.MessageFilter) ([]model.Message, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := r.db.WithContext(ctx).Model(&model.Message{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Importance != "" {
		query = query.Where("importance = ?", filter.Importance)
	}
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}

	var messages []model.Message
	result := query.Order("date DESC").Limit(limit).Offset(max(filter.Offset, 0)).Find(&messages)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list messages: %w", result.Error)
	}
	return messages, nil
}

func (r *Repository) CreateMessage(ctx context.Context, msg *model.Message) error {
	if msg.Status == "" {
		msg.Status = model.StatusUnread
	}
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("message %s: %w", msg.ID, ErrDuplicateKey)
		}
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

func (r *Repository) UpdateMessage(ctx context.Context, id string, upd model.MessageUpdate) (*model.Message, error) {
	fields := map[string]interface{}{}
	if upd.Status != nil {
		fields["status"] = *upd.Status
	}
	if upd.Importance != nil {
		fields["importance"] = *upd.Importance
	}
	if upd.Category != nil {
		fields["category"] = *upd.Category
	}
	if upd.AISummary != nil {
		fields["ai_summary"] = *upd.AISummary
	}

	var msg model.Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&msg).Error; err != nil {
			return err
		}
		if upd.Labels != nil {
			msg.Labels = upd.Labels
			if err := tx.Model(&msg).Select("labels").Updates(&msg).Error; err != nil {
				return err
			}
		}
		if len(fields) == 0 {
			return nil
		}
		return tx.Model(&msg).Updates(fields).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update message: %w", err)
	}
	return r.GetMessage(ctx, id)
}

// DeleteMessage removes a message together with its drafts.
func (r *Repository) DeleteMessage(ctx context.Context, id string) (bool, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("email_id = ?", id).Delete(&model.ReplyDraft{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&model.Message{})
		deleted = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete message: %w", err)
	}
	return deleted > 0, nil
}

func (r *Repository) SaveDraft(ctx context.Context, messageID string, variant int, content, tone string) (*model.ReplyDraft, error) {
	draft := model.ReplyDraft{
		MessageID:     messageID,
		VariantNumber: variant,
		Content:       content,
		Tone:          tone,
		GeneratedAt:   time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(&draft).Error; err != nil {
		return nil, fmt.Errorf("failed to save draft: %w", err)
	}
	return &draft, nil
}

// SaveDrafts persists a batch of drafts in one transaction so readers see all or none.
func (r *Repository) SaveDrafts(ctx context.Context, drafts []model.ReplyDraft) ([]model.ReplyDraft, error) {
	if len(drafts) == 0 {
		return nil, nil
	}
	now := time.Now()
	for i := range drafts {
		if drafts[i].GeneratedAt.IsZero() {
			drafts[i].GeneratedAt = now
		}
	}
	if err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&drafts).Error
	}); err != nil {
		return nil, fmt.Errorf("failed to save drafts: %w", err)
	}
	return drafts, nil
}

func (r *Repository) ListDrafts(ctx context.Context, messageID string) ([]model.ReplyDraft, error) {
	var drafts []model.ReplyDraft
	result := r.db.WithContext(ctx).
		Where("email_id = ?", messageID).
		Order("variant_number ASC").Order("id ASC").
		Find(&drafts)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list drafts: %w", result.Error)
	}
	return drafts, nil
}

func (r *Repository) DeleteUnsentDrafts(ctx context.Context, messageID string) (int64, error) {
	result := r.db.WithContext(ctx).Where("email_id = ? AND sent = ?", messageID, false).Delete(&model.ReplyDraft{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete drafts: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *Repository) MarkDraftSent(ctx context.Context, draftID uint) (bool, error) {
	result := r.db.WithContext(ctx).Model(&model.ReplyDraft{}).
		Where("id = ?", draftID).
		Updates(map[string]interface{}{"sent": true, "sent_at": time.Now()})
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark draft sent: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// SetPreference upserts a preference value.
func (r *Repository) SetPreference(ctx context.Context, key, value string) error {
	pref := model.Preference{Key: key, Value: value, UpdatedAt: time.Now()}
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&pref)
	if result.Error != nil {
		return fmt.Errorf("failed to set preference: %w", result.Error)
	}
	return nil
}

// GetPreference returns def when the key has never been set.
func (r *Repository) GetPreference(ctx context.Context, key, def string) (string, error) {
	var pref model.Preference
	result := r.db.WithContext(ctx).Where(&model.Preference{Key: key}).First(&pref)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return def, nil
	}
	if result.Error != nil {
		return "", fmt.Errorf("failed to get preference: %w", result.Error)
	}
	return pref.Value, nil
}

func (r *Repository) AppendSyncAudit(ctx context.Context, audit *model.SyncAudit) error {
	if audit.SyncDate.IsZero() {
		audit.SyncDate = time.Now()
	}
	if audit.Errors == nil {
		audit.Errors = []string{}
	}
	if err := r.db.WithContext(ctx).Create(audit).Error; err != nil {
		return fmt.Errorf("failed to append sync audit: %w", err)
	}
	return nil
}

func (r *Repository) ListSyncAudits(ctx context.Context, limit int) ([]model.SyncAudit, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var audits []model.SyncAudit
	result := r.db.WithContext(ctx).Order("sync_date DESC").Order("id DESC").Limit(limit).Find(&audits)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list sync audits: %w", result.Error)
	}
	return audits, nil
}

func (r *Repository) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Categories: map[string]int64{}}
	db := r.db.WithContext(ctx).Model(&model.Message{})

	if err := db.Session(&gorm.Session{}).Count(&stats.Total).Error; err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}
	if err := db.Session(&gorm.Session{}).Where("status = ?", model.StatusUnread).Count(&stats.Unread).Error; err != nil {
		return nil, fmt.Errorf("failed to count unread messages: %w", err)
	}
	if err := db.Session(&gorm.Session{}).Where("importance = ?", model.ImportanceHigh).Count(&stats.HighImportance).Error; err != nil {
		return nil, fmt.Errorf("failed to count important messages: %w", err)
	}

	var rows []struct {
		Category string
		Count    int64
	}
	if err := db.Session(&gorm.Session{}).
		Select("category, COUNT(*) AS count").
		Where("category IS NOT NULL").
		Group("category").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count categories: %w", err)
	}
	for _, row := range rows {
		stats.Categories[row.Category] = row.Count
	}
	return stats, nil
}

func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// isDuplicate covers drivers whose error translation misses primary key violations.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "Duplicate entry")
}
