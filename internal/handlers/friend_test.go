package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/HammerMeetNail/tastemate/internal/services"
	"github.com/HammerMeetNail/tastemate/internal/testutil"
)

func friendHandlerWith(friendDB, userDB *stubDB) *FriendHandler {
	return NewFriendHandler(services.NewFriendService(friendDB), services.NewUserService(userDB))
}

func TestFriendSendRequestHandler_Unauthorized(t *testing.T) {
	handler := friendHandlerWith(&stubDB{}, &stubDB{})

	rr := httptest.NewRecorder()
	req := testutil.NewTestRequest(http.MethodPost, "/api/friends/requests/x", nil)
	req.SetPathValue("id", uuid.NewString())
	handler.SendRequest(rr, req)

	testutil.AssertStatusCode(t, rr, http.StatusUnauthorized)
}

func TestFriendSendRequestHandler_InvalidID(t *testing.T) {
	handler := friendHandlerWith(&stubDB{}, &stubDB{})

	rr := httptest.NewRecorder()
	req := testutil.NewTestRequest(http.MethodPost, "/api/friends/requests/nope", nil)
	req.SetPathValue("id", "nope")
	handler.SendRequest(rr, asUser(req, testUser()))

	testutil.AssertStatusCode(t, rr, http.StatusBadRequest)
}

func TestFriendSendRequestHandler_Self(t *testing.T) {
	user := testUser()
	handler := friendHandlerWith(&stubDB{}, &stubDB{})

	rr := httptest.NewRecorder()
	req := testutil.NewTestRequest(http.MethodPost, "/api/friends/requests/x", nil)
	req.SetPathValue("id", user.ID.String())
	handler.SendRequest(rr, asUser(req, user))

	testutil.AssertStatusCode(t, rr, http.StatusBadRequest)
	testutil.AssertJSONContains(t, rr.Body.Bytes(), "error", "Cannot send a friend request to yourself")
}

func TestFriendRemoveHandler_NotFriends(t *testing.T) {
	friendDB := &stubDB{
		BeginFunc: func(ctx context.Context) (services.Tx, error) {
			return &stubFriendTx{accepted: false}, nil
		},
	}
	handler := friendHandlerWith(friendDB, &stubDB{})

	rr := httptest.NewRecorder()
	req := testutil.NewTestRequest(http.MethodDelete, "/api/friends/x", nil)
	req.SetPathValue("id", uuid.NewString())
	handler.Remove(rr, asUser(req, testUser()))

	testutil.AssertStatusCode(t, rr, http.StatusNotFound)
}

// stubFriendTx serves the pair locks and the accepted-edge check a friend
// removal performs.
type stubFriendTx struct {
	accepted bool
}

func (s *stubFriendTx) Exec(ctx context.Context, sql string, args ...any) (services.CommandTag, error) {
	return stubTag{rowsAffected: 1}, nil
}

func (s *stubFriendTx) Query(ctx context.Context, sql string, args ...any) (services.Rows, error) {
	return &stubRows{}, nil
}

func (s *stubFriendTx) QueryRow(ctx context.Context, sql string, args ...any) services.Row {
	if strings.Contains(sql, "FOR UPDATE") {
		return rowOf(args[0])
	}
	return rowOf(s.accepted)
}

func (s *stubFriendTx) Commit(ctx context.Context) error   { return nil }
func (s *stubFriendTx) Rollback(ctx context.Context) error { return nil }

func TestFriendSearchHandler_MissingQuery(t *testing.T) {
	handler := friendHandlerWith(&stubDB{}, &stubDB{})

	rr := httptest.NewRecorder()
	req := testutil.NewTestRequest(http.MethodGet, "/api/friends/search", nil)
	handler.Search(rr, asUser(req, testUser()))

	testutil.AssertStatusCode(t, rr, http.StatusBadRequest)
}

func TestFriendListHandler(t *testing.T) {
	user := testUser()
	friendID := uuid.New()
	now := time.Now()
	friendDB := &stubDB{
		QueryFunc: func(ctx context.Context, sql string, args ...any) (services.Rows, error) {
			return &stubRows{rows: [][]any{
				{uuid.New(), user.ID, friendID, "accepted", now, now, friendID, "pat"},
			}}, nil
		},
	}
	handler := friendHandlerWith(friendDB, &stubDB{})

	rr := httptest.NewRecorder()
	req := testutil.NewTestRequest(http.MethodGet, "/api/friends", nil)
	handler.List(rr, asUser(req, user))

	testutil.AssertStatusCode(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), "pat") {
		t.Fatalf("expected friend username in response, got %s", rr.Body.String())
	}
}

func TestFriendDeclineHandler_NotFound(t *testing.T) {
	friendDB := &stubDB{
		ExecFunc: func(ctx context.Context, sql string, args ...any) (services.CommandTag, error) {
			return stubTag{}, nil
		},
	}
	handler := friendHandlerWith(friendDB, &stubDB{})

	rr := httptest.NewRecorder()
	req := testutil.NewTestRequest(http.MethodPut, "/api/friends/requests/x/decline", nil)
	req.SetPathValue("id", uuid.NewString())
	handler.DeclineRequest(rr, asUser(req, testUser()))

	testutil.AssertStatusCode(t, rr, http.StatusNotFound)
}
