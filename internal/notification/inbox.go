package notification

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/d60-Lab/socialsync/internal/model"
)

// Inbox 通知读取与已读标记
type Inbox struct {
	db *gorm.DB
}

func NewInbox(db *gorm.DB) *Inbox { return &Inbox{db: db} }

// List returns the newest notifications first. before, when non-zero,
// restricts the page to rows updated strictly earlier.
func (i *Inbox) List(ctx context.Context, recipientID string, unreadOnly bool, before time.Time, limit int) ([]model.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	q := i.db.WithContext(ctx).Where("recipient_id = ?", recipientID)
	if unreadOnly {
		q = q.Where("is_read = ?", false)
	}
	if !before.IsZero() {
		q = q.Where("updated_at < ?", before.UTC())
	}
	var out []model.Notification
	err := q.Order("updated_at DESC, id DESC").Limit(limit).Find(&out).Error
	return out, err
}

func (i *Inbox) UnreadCount(ctx context.Context, recipientID string) (int64, error) {
	var n int64
	err := i.db.WithContext(ctx).Model(&model.Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Count(&n).Error
	return n, err
}

// MarkRead 只会标记属于该收件人的通知
func (i *Inbox) MarkRead(ctx context.Context, recipientID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := i.db.WithContext(ctx).Model(&model.Notification{}).
		Where("recipient_id = ? AND id IN ? AND is_read = ?", recipientID, ids, false).
		UpdateColumn("is_read", true)
	return res.RowsAffected, res.Error
}

func (i *Inbox) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	res := i.db.WithContext(ctx).Model(&model.Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		UpdateColumn("is_read", true)
	return res.RowsAffected, res.Error
}
