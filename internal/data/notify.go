package data

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/iWorld-y/team_pulse/internal/domain"
	"github.com/iWorld-y/team_pulse/internal/repo"
)

// notifier stores in-app notifications for the web client to poll.
type notifier struct {
	data *Data
	log  *log.Helper
}

func NewNotifier(data *Data, logger log.Logger) repo.Notifier {
	return &notifier{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func (n *notifier) Notify(ctx context.Context, msg *domain.Notification) error {
	if msg.Priority == "" {
		msg.Priority = domain.PriorityNormal
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	err := n.data.db.QueryRowContext(ctx, n.data.rebind(`
		INSERT INTO notifications (user_id, type, title, message, priority, created_at)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		msg.UserID, msg.Type, msg.Title, msg.Message, string(msg.Priority), formatTime(msg.CreatedAt),
	).Scan(&msg.ID)
	if err != nil {
		return fmt.Errorf("insert notification for user %d: %w", msg.UserID, err)
	}
	n.log.Infow("msg", "notification stored", "user_id", msg.UserID, "type", msg.Type)
	return nil
}

// ListNotifications returns a user's notifications, newest first.
func ListNotifications(ctx context.Context, d *Data, userID int64) ([]*domain.Notification, error) {
	rows, err := d.db.QueryContext(ctx, d.rebind(`
		SELECT id, user_id, type, title, message, priority, created_at
		FROM notifications WHERE user_id = ? ORDER BY id DESC`), userID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []*domain.Notification
	for rows.Next() {
		var (
			m         domain.Notification
			priority  string
			createdAt string
		)
		if err := rows.Scan(&m.ID, &m.UserID, &m.Type, &m.Title, &m.Message, &priority, &createdAt); err != nil {
			return nil, err
		}
		m.Priority = domain.NotificationPriority(priority)
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
