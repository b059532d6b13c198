package commands

import (
	"context"
	"fmt"

	"rfq-sync/domain"
)

func (s *Service) CreateNotification(ctx context.Context, actingAs domain.Actor, d domain.NotificationDraft) (*domain.Notification, error) {
	id, err := s.nextID(ctx, domain.NotificationSequence)
	if err != nil {
		return nil, err
	}
	n, err := domain.CreateNotification(id, d.UserID, d.Title, d.Description, d.Type, d.Data, actingAs, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("save notification %d: %w", id, err)
	}
	s.commit(ctx, n)
	return n, nil
}

// MarkNotificationRead marks one notification read. Marking a read
// notification again succeeds without raising events.
func (s *Service) MarkNotificationRead(ctx context.Context, actingAs domain.Actor, id int64) error {
	n, err := s.store.GetNotification(ctx, id)
	if err != nil {
		return fmt.Errorf("load notification %d: %w", id, err)
	}
	if n == nil {
		return fmt.Errorf("notification %d: %w", id, domain.ErrNotFound)
	}
	if err := authorize(actingAs, n.UserID); err != nil {
		return err
	}
	if !n.MarkRead(actingAs, s.now()) {
		return nil
	}
	if err := s.store.SaveNotification(ctx, n); err != nil {
		return fmt.Errorf("save notification %d: %w", id, err)
	}
	s.commit(ctx, n)
	return nil
}

// MarkAllNotificationsRead requests that every unread notification of userID
// be marked read and returns how many were requested. The marking runs in the
// background consumer.
func (s *Service) MarkAllNotificationsRead(ctx context.Context, actingAs domain.Actor, userID string) (int, error) {
	if err := authorize(actingAs, userID); err != nil {
		return 0, err
	}
	ns, err := s.store.ListNotificationsByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list notifications for %s: %w", userID, err)
	}
	var ids []int64
	for _, n := range ns {
		if n.Status == domain.NotificationUnread {
			ids = append(ids, n.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.bus.Publish(ctx, domain.NotificationsMarkAllAsReadForUser{NotificationIDs: ids}); err != nil {
		return 0, fmt.Errorf("request mark all read: %w", err)
	}
	return len(ids), nil
}
