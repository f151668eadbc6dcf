package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"planengine/internal/model"
)

// InsertNotification persists an in-app notification.
func (c *conn) InsertNotification(ctx context.Context, n *model.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := c.exec(ctx, `
		INSERT INTO notifications (id, user_id, title, content, object_type, object_id, event, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, n.ID, n.UserID, n.Title, n.Content, string(n.ObjectType), n.ObjectID, n.Event, boolInt(n.IsRead), ts(n.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ListNotifications returns a user's notifications, newest first.
func (c *conn) ListNotifications(ctx context.Context, userID string, isRead *bool, limit, offset int) ([]model.Notification, int, error) {
	w := &whereBuilder{}
	w.add("user_id = ?", userID)
	if isRead != nil {
		w.add("is_read = ?", boolInt(*isRead))
	}
	total, err := c.count(ctx, "SELECT COUNT(*) FROM notifications"+w.sql(), w.args)
	if err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}
	rows, err := c.query(ctx, `SELECT id, user_id, title, content, object_type, object_id, event, is_read, created_at
		FROM notifications`+w.sql()+` ORDER BY created_at DESC, id`+limitClause(limit, offset), w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()
	var out []model.Notification
	for rows.Next() {
		var n model.Notification
		var objectType, created string
		var read int64
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Content, &objectType, &n.ObjectID, &n.Event, &read, &created); err != nil {
			return nil, 0, fmt.Errorf("scan notification: %w", err)
		}
		n.ObjectType = model.ObjectType(objectType)
		n.IsRead = read != 0
		n.CreatedAt = parseTS(created)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, total, nil
}

// MarkNotificationRead marks one of the user's notifications read.
func (c *conn) MarkNotificationRead(ctx context.Context, userID, id string) error {
	res, err := c.exec(ctx, "UPDATE notifications SET is_read = 1 WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("notification %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// MarkAllNotificationsRead marks every unread notification of the user
// read and returns how many changed.
func (c *conn) MarkAllNotificationsRead(ctx context.Context, userID string) (int, error) {
	res, err := c.exec(ctx, "UPDATE notifications SET is_read = 1 WHERE user_id = ? AND is_read = 0", userID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// UnreadCount counts unread notifications of the user.
func (c *conn) UnreadCount(ctx context.Context, userID string) (int, error) {
	n, err := c.count(ctx, "SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = 0", []any{userID})
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return n, nil
}

// HasRecentNotification reports whether the user already received event
// about the object at or after since.
func (c *conn) HasRecentNotification(ctx context.Context, userID string, objectType model.ObjectType, objectID, event string, since time.Time) (bool, error) {
	n, err := c.count(ctx, `SELECT COUNT(*) FROM notifications
		WHERE user_id = ? AND object_type = ? AND object_id = ? AND event = ? AND created_at >= ?`,
		[]any{userID, string(objectType), objectID, event, ts(since)})
	if err != nil {
		return false, fmt.Errorf("check recent notification: %w", err)
	}
	return n > 0, nil
}
