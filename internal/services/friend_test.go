package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/HammerMeetNail/tastemate/internal/models"
	"github.com/HammerMeetNail/tastemate/internal/realtime"
)

type publishedEvent struct {
	userID uuid.UUID
	event  realtime.Event
}

type fakePublisher struct {
	events []publishedEvent
}

func (f *fakePublisher) Publish(userID uuid.UUID, event realtime.Event) bool {
	f.events = append(f.events, publishedEvent{userID: userID, event: event})
	return true
}

type fakeNotifier struct {
	notification *models.Notification
	err          error
	calls        int
	recipientID  uuid.UUID
	actorID      uuid.UUID
}

func (f *fakeNotifier) NotifyFriendRequestAccepted(ctx context.Context, recipientID, actorID uuid.UUID) (*models.Notification, error) {
	f.calls++
	f.recipientID = recipientID
	f.actorID = actorID
	if f.err != nil {
		return nil, f.err
	}
	return f.notification, nil
}

// friendPairTx routes the queries a pair mutation issues: the per-user FOR
// UPDATE locks, the existing-edge lookup, the mutation itself, and the
// username lookup for the push payload.
func friendPairTx(t *testing.T, existing *models.FriendshipStatus, mutation func(sql string, args []any) Row) *fakeTx {
	t.Helper()
	return &fakeTx{
		QueryRowFunc: func(ctx context.Context, sql string, args ...any) Row {
			switch {
			case strings.Contains(sql, "FOR UPDATE"):
				return rowFromValues(args[0])
			case strings.Contains(sql, "SELECT status FROM friendships"):
				if existing == nil {
					return fakeRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
				}
				return rowFromValues(string(*existing))
			case strings.Contains(sql, "SELECT username"):
				return rowFromValues("acceptor")
			default:
				return mutation(sql, args)
			}
		},
	}
}

func TestFriendSendRequest_Self(t *testing.T) {
	service := NewFriendService(&fakeDB{})
	id := uuid.New()

	_, err := service.SendRequest(context.Background(), id, id)
	if !errors.Is(err, ErrCannotFriendSelf) {
		t.Fatalf("expected ErrCannotFriendSelf, got %v", err)
	}
}

func TestFriendSendRequest_AlreadyFriends(t *testing.T) {
	accepted := models.FriendshipStatusAccepted
	rolledBack := false
	tx := friendPairTx(t, &accepted, nil)
	tx.RollbackFunc = func(ctx context.Context) error {
		rolledBack = true
		return nil
	}
	service := NewFriendService(&fakeDB{
		BeginFunc: func(ctx context.Context) (Tx, error) { return tx, nil },
	})

	_, err := service.SendRequest(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, ErrAlreadyFriends) {
		t.Fatalf("expected ErrAlreadyFriends, got %v", err)
	}
	if !rolledBack {
		t.Fatal("expected rollback")
	}
}

func TestFriendSendRequest_PendingExists(t *testing.T) {
	pending := models.FriendshipStatusPending
	tx := friendPairTx(t, &pending, nil)
	service := NewFriendService(&fakeDB{
		BeginFunc: func(ctx context.Context) (Tx, error) { return tx, nil },
	})

	_, err := service.SendRequest(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, ErrFriendRequestExists) {
		t.Fatalf("expected ErrFriendRequestExists, got %v", err)
	}
}

func TestFriendSendRequest_TargetMissing(t *testing.T) {
	tx := &fakeTx{
		QueryRowFunc: func(ctx context.Context, sql string, args ...any) Row {
			return fakeRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
		},
	}
	service := NewFriendService(&fakeDB{
		BeginFunc: func(ctx context.Context) (Tx, error) { return tx, nil },
	})

	_, err := service.SendRequest(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestFriendSendRequest_Success(t *testing.T) {
	actorID := uuid.New()
	targetID := uuid.New()
	friendshipID := uuid.New()
	now := time.Now()
	committed := false

	tx := friendPairTx(t, nil, func(sql string, args []any) Row {
		if !strings.Contains(sql, "INSERT INTO friendships") {
			t.Fatalf("unexpected sql: %q", sql)
		}
		return rowFromValues(friendshipID, args[0], args[1], "pending", now, now)
	})
	tx.CommitFunc = func(ctx context.Context) error {
		committed = true
		return nil
	}

	publisher := &fakePublisher{}
	service := NewFriendService(&fakeDB{
		BeginFunc: func(ctx context.Context) (Tx, error) { return tx, nil },
	})
	service.SetEventPublisher(publisher)

	friendship, err := service.SendRequest(context.Background(), actorID, targetID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !committed {
		t.Fatal("expected commit")
	}
	if friendship.Status != models.FriendshipStatusPending {
		t.Fatalf("expected pending status, got %q", friendship.Status)
	}
	if len(publisher.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(publisher.events))
	}
	if publisher.events[0].userID != targetID {
		t.Fatalf("expected event for target, got %v", publisher.events[0].userID)
	}
	if publisher.events[0].event.Type != realtime.EventNewFriendRequest {
		t.Fatalf("unexpected event type %q", publisher.events[0].event.Type)
	}
}

func TestFriendAcceptRequest_NotFound(t *testing.T) {
	tx := &fakeTx{
		QueryRowFunc: func(ctx context.Context, sql string, args ...any) Row {
			if strings.Contains(sql, "FOR UPDATE") {
				return rowFromValues(args[0])
			}
			return fakeRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
		},
	}
	service := NewFriendService(&fakeDB{
		BeginFunc: func(ctx context.Context) (Tx, error) { return tx, nil },
	})

	_, err := service.AcceptRequest(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, ErrFriendRequestNotFound) {
		t.Fatalf("expected ErrFriendRequestNotFound, got %v", err)
	}
}

func TestFriendAcceptRequest_Success(t *testing.T) {
	actorID := uuid.New()
	requesterID := uuid.New()
	notificationID := uuid.New()
	now := time.Now()

	tx := friendPairTx(t, nil, func(sql string, args []any) Row {
		if !strings.Contains(sql, "UPDATE friendships") {
			t.Fatalf("unexpected sql: %q", sql)
		}
		return rowFromValues(uuid.New(), requesterID, actorID, "accepted", now, now)
	})

	publisher := &fakePublisher{}
	notifier := &fakeNotifier{notification: &models.Notification{ID: notificationID}}
	service := NewFriendService(&fakeDB{
		BeginFunc: func(ctx context.Context) (Tx, error) { return tx, nil },
	})
	service.SetEventPublisher(publisher)
	service.SetNotificationService(notifier)

	friendship, err := service.AcceptRequest(context.Background(), actorID, requesterID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if friendship.Status != models.FriendshipStatusAccepted {
		t.Fatalf("expected accepted status, got %q", friendship.Status)
	}
	if notifier.calls != 1 {
		t.Fatalf("expected 1 notification call, got %d", notifier.calls)
	}
	if notifier.recipientID != requesterID || notifier.actorID != actorID {
		t.Fatal("notification addressed to the wrong pair")
	}

	if len(publisher.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(publisher.events))
	}
	accepted := publisher.events[0]
	if accepted.userID != requesterID || accepted.event.Type != realtime.EventFriendRequestAccepted {
		t.Fatalf("unexpected first event: %+v", accepted)
	}
	payload, ok := accepted.event.Payload.(realtime.FriendRequestAcceptedPayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", accepted.event.Payload)
	}
	if payload.NotificationID != notificationID {
		t.Fatalf("expected notification id in payload, got %v", payload.NotificationID)
	}
	refresh := publisher.events[1]
	if refresh.userID != actorID || refresh.event.Type != realtime.EventFriendListChanged {
		t.Fatalf("unexpected second event: %+v", refresh)
	}
}

func TestFriendAcceptRequest_NotificationFailureDoesNotFail(t *testing.T) {
	actorID := uuid.New()
	requesterID := uuid.New()
	now := time.Now()

	tx := friendPairTx(t, nil, func(sql string, args []any) Row {
		return rowFromValues(uuid.New(), requesterID, actorID, "accepted", now, now)
	})
	service := NewFriendService(&fakeDB{
		BeginFunc: func(ctx context.Context) (Tx, error) { return tx, nil },
	})
	service.SetNotificationService(&fakeNotifier{err: errors.New("smtp down")})

	if _, err := service.AcceptRequest(context.Background(), actorID, requesterID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFriendDeclineRequest(t *testing.T) {
	actorID := uuid.New()
	requesterID := uuid.New()
	publisher := &fakePublisher{}
	service := NewFriendService(&fakeDB{
		ExecFunc: func(ctx context.Context, sql string, args ...any) (CommandTag, error) {
			if args[0] != requesterID || args[1] != actorID {
				t.Fatalf("delete arguments reversed: %v", args)
			}
			return fakeCommandTag{rowsAffected: 1}, nil
		},
	})
	service.SetEventPublisher(publisher)

	if err := service.DeclineRequest(context.Background(), actorID, requesterID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(publisher.events) != 1 || publisher.events[0].event.Type != realtime.EventFriendRequestDeclined {
		t.Fatalf("expected declined event, got %+v", publisher.events)
	}
	if publisher.events[0].userID != requesterID {
		t.Fatal("declined event addressed to the wrong user")
	}
}

func TestFriendDeclineRequest_NotFound(t *testing.T) {
	service := NewFriendService(&fakeDB{
		ExecFunc: func(ctx context.Context, sql string, args ...any) (CommandTag, error) {
			return fakeCommandTag{}, nil
		},
	})

	err := service.DeclineRequest(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, ErrFriendRequestNotFound) {
		t.Fatalf("expected ErrFriendRequestNotFound, got %v", err)
	}
}

func TestFriendCancelRequest_NotFound(t *testing.T) {
	service := NewFriendService(&fakeDB{
		ExecFunc: func(ctx context.Context, sql string, args ...any) (CommandTag, error) {
			return fakeCommandTag{}, nil
		},
	})

	err := service.CancelRequest(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, ErrFriendRequestNotFound) {
		t.Fatalf("expected ErrFriendRequestNotFound, got %v", err)
	}
}

func TestFriendRemove_NotFriends(t *testing.T) {
	tx := &fakeTx{
		QueryRowFunc: func(ctx context.Context, sql string, args ...any) Row {
			if strings.Contains(sql, "FOR UPDATE") {
				return rowFromValues(args[0])
			}
			return rowFromValues(false)
		},
	}
	publisher := &fakePublisher{}
	service := NewFriendService(&fakeDB{
		BeginFunc: func(ctx context.Context) (Tx, error) { return tx, nil },
	})
	service.SetEventPublisher(publisher)

	err := service.RemoveFriend(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, ErrNotFriend) {
		t.Fatalf("expected ErrNotFriend, got %v", err)
	}
	if len(publisher.events) != 0 {
		t.Fatalf("expected no events, got %d", len(publisher.events))
	}
}

func TestFriendRemove_Success(t *testing.T) {
	actorID := uuid.New()
	friendID := uuid.New()
	committed := false

	tx := &fakeTx{
		QueryRowFunc: func(ctx context.Context, sql string, args ...any) Row {
			if strings.Contains(sql, "FOR UPDATE") {
				return rowFromValues(args[0])
			}
			return rowFromValues(true)
		},
		ExecFunc: func(ctx context.Context, sql string, args ...any) (CommandTag, error) {
			if !strings.Contains(sql, "DELETE FROM friendships") {
				t.Fatalf("unexpected sql: %q", sql)
			}
			return fakeCommandTag{rowsAffected: 2}, nil
		},
		CommitFunc: func(ctx context.Context) error {
			committed = true
			return nil
		},
	}
	publisher := &fakePublisher{}
	service := NewFriendService(&fakeDB{
		BeginFunc: func(ctx context.Context) (Tx, error) { return tx, nil },
	})
	service.SetEventPublisher(publisher)

	if err := service.RemoveFriend(context.Background(), actorID, friendID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !committed {
		t.Fatal("expected commit")
	}
	if len(publisher.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(publisher.events))
	}
	if publisher.events[0].userID != friendID || publisher.events[1].userID != actorID {
		t.Fatal("removal events addressed to the wrong users")
	}
}

func TestFriendIsFriend(t *testing.T) {
	service := NewFriendService(&fakeDB{
		QueryRowFunc: func(ctx context.Context, sql string, args ...any) Row {
			return rowFromValues(true)
		},
	})

	ok, err := service.IsFriend(context.Background(), uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected friends")
	}
}

func TestFriendListFriends(t *testing.T) {
	actorID := uuid.New()
	friendID := uuid.New()
	now := time.Now()
	service := NewFriendService(&fakeDB{
		QueryFunc: func(ctx context.Context, sql string, args ...any) (Rows, error) {
			return &fakeRows{rows: [][]any{
				{uuid.New(), actorID, friendID, "accepted", now, now, friendID, "pat"},
			}}, nil
		},
	})

	friends, err := service.ListFriends(context.Background(), actorID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(friends) != 1 {
		t.Fatalf("expected 1 friend, got %d", len(friends))
	}
	if friends[0].FriendID != friendID || friends[0].FriendUsername != "pat" {
		t.Fatalf("unexpected friend row: %+v", friends[0])
	}
}

func TestFriendListIncomingRequests_Empty(t *testing.T) {
	service := NewFriendService(&fakeDB{
		QueryFunc: func(ctx context.Context, sql string, args ...any) (Rows, error) {
			return &fakeRows{}, nil
		},
	})

	requests, err := service.ListIncomingRequests(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if requests == nil || len(requests) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v", requests)
	}
}
