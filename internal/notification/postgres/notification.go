package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	notificationDatamodel "github.com/frahmantamala/spotpay-billing/internal/core/datamodel/notification"
	"github.com/frahmantamala/spotpay-billing/internal/notification"
)

type NotificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) notification.RepositoryAPI {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) WithTx(tx *gorm.DB) notification.RepositoryAPI {
	return &NotificationRepository{db: tx}
}

func (r *NotificationRepository) Enqueue(ctx context.Context, n *notificationDatamodel.Notification) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "payment_id"}}, DoNothing: true}).
		Create(n).Error
}

func (r *NotificationRepository) GetByPaymentID(ctx context.Context, paymentID string) (*notificationDatamodel.Notification, error) {
	var n notificationDatamodel.Notification
	if err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).Take(&n).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &n, nil
}

func (r *NotificationRepository) ListDue(ctx context.Context, maxAttempts, limit int) ([]notificationDatamodel.Notification, error) {
	var due []notificationDatamodel.Notification
	err := r.db.WithContext(ctx).
		Where("status = ? AND attempts < ?", notificationDatamodel.StatusPending, maxAttempts).
		Order("id ASC").
		Limit(limit).
		Find(&due).Error
	return due, err
}

func (r *NotificationRepository) Claim(ctx context.Context, id int64, attempts int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&notificationDatamodel.Notification{}).
		Where("id = ? AND attempts = ? AND status = ?", id, attempts, notificationDatamodel.StatusPending).
		Updates(map[string]interface{}{
			"attempts":   attempts + 1,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *NotificationRepository) Finish(ctx context.Context, id int64, status string, lastError *string, sentAt *time.Time) error {
	return r.db.WithContext(ctx).
		Model(&notificationDatamodel.Notification{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"last_error": lastError,
			"sent_at":    sentAt,
			"updated_at": time.Now().UTC(),
		}).Error
}
