package shared_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/epicoop/epicoop/internal/shared"
	_ "github.com/epicoop/epicoop/testing"
)

func newManager(t *testing.T) *shared.SessionManager {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return shared.NewSessionManager(client, "epicoop_session", "secret", time.Hour, false)
}

func cookieRequest(res *httptest.ResponseRecorder, target string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, c := range res.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

func TestIdentityRoundTrip(t *testing.T) {
	sm := newManager(t)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(ctx, req)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	sess.SetIdentity(shared.DirectIdentity(shared.UserSnapshot{
		UserID: 7, OrganizationID: 2, Username: "marie", Role: "Manager", RBACEnabled: true,
	}))

	res := httptest.NewRecorder()
	if err := sm.Commit(ctx, res, req, sess); err != nil {
		t.Fatalf("commit: %v", err)
	}

	reloaded, err := sm.Load(ctx, cookieRequest(res, "/"))
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if id, err := shared.CurrentUserID(reloaded); err != nil || id != 7 {
		t.Fatalf("expected identity to survive round trip, got %d %v", id, err)
	}
	if !shared.RBACEnabled(reloaded) {
		t.Fatalf("expected rbac flag persisted")
	}
}

func TestRegenerateInvalidatesOldSessionID(t *testing.T) {
	sm := newManager(t)
	ctx := context.Background()

	// Establish an anonymous session, as a login page visit would.
	req := httptest.NewRequest(http.MethodGet, "/login", nil)
	sess, err := sm.Load(ctx, req)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	res := httptest.NewRecorder()
	if err := sm.Commit(ctx, res, req, sess); err != nil {
		t.Fatalf("commit: %v", err)
	}
	preLoginID := sess.ID

	// Login: regenerate and attach the identity.
	loginReq := cookieRequest(res, "/login")
	sess, err = sm.Load(ctx, loginReq)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	sess.Regenerate()
	sess.SetIdentity(shared.DirectIdentity(shared.UserSnapshot{
		UserID: 7, OrganizationID: 2, Username: "marie", Role: "Manager", RBACEnabled: true,
	}))
	loginRes := httptest.NewRecorder()
	if err := sm.Commit(ctx, loginRes, loginReq, sess); err != nil {
		t.Fatalf("commit login: %v", err)
	}

	if sess.ID == preLoginID {
		t.Fatalf("expected a fresh session id at login")
	}

	// The pre-login cookie must no longer name an authenticated session.
	staleReq := cookieRequest(res, "/")
	stale, err := sm.Load(ctx, staleReq)
	if err != nil {
		t.Fatalf("load stale: %v", err)
	}
	if _, err := shared.CurrentUserID(stale); err == nil {
		t.Fatalf("expected stale cookie to be anonymous")
	}
}

func TestDestroyClearsCookieAndStore(t *testing.T) {
	sm := newManager(t)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, _ := sm.Load(ctx, req)
	sess.SetIdentity(shared.DirectIdentity(shared.UserSnapshot{UserID: 7, OrganizationID: 2, Username: "marie", Role: "Member"}))
	res := httptest.NewRecorder()
	if err := sm.Commit(ctx, res, req, sess); err != nil {
		t.Fatalf("commit: %v", err)
	}

	logoutReq := cookieRequest(res, "/logout")
	sess, _ = sm.Load(ctx, logoutReq)
	sm.Destroy(sess)
	logoutRes := httptest.NewRecorder()
	if err := sm.Commit(ctx, logoutRes, logoutReq, sess); err != nil {
		t.Fatalf("commit destroy: %v", err)
	}

	var cleared bool
	for _, c := range logoutRes.Result().Cookies() {
		if c.Name == sm.CookieName() && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatalf("expected expired cookie after destroy")
	}

	reloaded, _ := sm.Load(ctx, cookieRequest(res, "/"))
	if _, err := shared.CurrentUserID(reloaded); err == nil {
		t.Fatalf("expected destroyed session to be anonymous")
	}
}

func TestFlashMessagesPopOnce(t *testing.T) {
	sm := newManager(t)
	sess, _ := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))

	sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Bienvenue"})
	if msg := sess.PopFlash(); msg == nil || msg.Message != "Bienvenue" {
		t.Fatalf("expected queued flash, got %+v", msg)
	}
	if msg := sess.PopFlash(); msg != nil {
		t.Fatalf("expected flash consumed, got %+v", msg)
	}
}
