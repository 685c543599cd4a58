package whatsapp

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/Paulofn1/green-connect-hub/internal/domain"
	"github.com/Paulofn1/green-connect-hub/internal/fakebackend"
	"github.com/Paulofn1/green-connect-hub/internal/gateway"
	"github.com/Paulofn1/green-connect-hub/internal/reconciler"
	"github.com/Paulofn1/green-connect-hub/internal/transport"
)

type harness struct {
	svc *Service
	srv *fakebackend.Server
	mgr *transport.Manager
}

func newHarness(t *testing.T, accounts ...domain.Account) *harness {
	t.Helper()
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))))
	srv := fakebackend.New()
	for _, a := range accounts {
		srv.AddAccount(a)
	}
	mgr := transport.NewManager(transport.Options{
		URL:         srv.WSURL(),
		MaxAttempts: 5,
		Backoff:     transport.Backoff{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond, Multiplier: 2},
	}, transport.WebsocketDialer{})
	gw := gateway.New(gateway.Config{BaseURL: srv.URL, Timeout: 2 * time.Second})
	state, err := reconciler.New()
	if err != nil {
		t.Fatalf("reconciler: %v", err)
	}
	svc, err := New(mgr, gw, state, Options{Workers: 2})
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	t.Cleanup(func() {
		svc.Stop()
		mgr.Close()
		srv.Close()
	})
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	h := &harness{svc: svc, srv: srv, mgr: mgr}
	waitFor(t, "channel connected", func() bool { return svc.SocketConnected() && srv.Clients() == 1 })
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (h *harness) status(id string) domain.ConnectionStatus {
	acc, err := h.svc.Account(id)
	if err != nil {
		return ""
	}
	return acc.Status
}

func (h *harness) waitStatus(t *testing.T, id string, want domain.ConnectionStatus) {
	t.Helper()
	waitFor(t, id+" "+string(want), func() bool { return h.status(id) == want })
}

func (h *harness) signalCount(event, id string) int {
	n := 0
	for _, s := range h.srv.Signals() {
		if s.Event == event && s.Data == id {
			n++
		}
	}
	return n
}

func apiCode(err error) string {
	var ae *domain.ApiError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

func TestPairingFlow(t *testing.T) {
	h := newHarness(t, domain.Account{ID: "acc-1", Name: "Sales"})
	ctx := context.Background()

	if err := h.svc.Select(ctx, "acc-1"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := h.svc.Connect(ctx, "acc-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if got := h.status("acc-1"); got != domain.StatusConnecting {
		t.Fatalf("expected optimistic connecting, got %s", got)
	}

	if err := h.srv.PushQR("acc-1", "QR-1", 1); err != nil {
		t.Fatalf("push qr: %v", err)
	}
	h.waitStatus(t, "acc-1", domain.StatusQRReady)
	qr, ok := h.svc.QRCode("acc-1")
	if !ok || qr.Payload != "QR-1" {
		t.Fatalf("expected QR-1, got %+v", qr)
	}

	_ = h.srv.PushQR("acc-1", "QR-2", 2)
	waitFor(t, "qr replacement", func() bool {
		qr, ok := h.svc.QRCode("acc-1")
		return ok && qr.Payload == "QR-2"
	})

	_ = h.srv.PushStatus("acc-1", domain.StatusAuthenticating, "")
	h.waitStatus(t, "acc-1", domain.StatusAuthenticating)
	_ = h.srv.PushStatus("acc-1", domain.StatusConnected, "+5511999990000")
	h.waitStatus(t, "acc-1", domain.StatusConnected)

	acc, _ := h.svc.Account("acc-1")
	if acc.Phone != "+5511999990000" || acc.LastConnectedAt == nil {
		t.Fatalf("connected side effects missing: %+v", acc)
	}
	if _, ok := h.svc.QRCode("acc-1"); ok {
		t.Fatalf("qr must be cleared once connected")
	}
	logs := h.svc.Logs("acc-1")
	if len(logs) == 0 || logs[0].Type != domain.LogSuccess {
		t.Fatalf("expected success log on top, got %+v", logs)
	}
	if h.signalCount(domain.SignalJoinAccount, "acc-1") == 0 {
		t.Fatalf("expected join:account for acc-1")
	}
}

func TestConnectFailureRollsBack(t *testing.T) {
	h := newHarness(t, domain.Account{ID: "acc-2", Name: "Support"})
	h.srv.FailNext(fakebackend.OpConnect, 0, "SESSION_BUSY", "session already starting")

	err := h.svc.Connect(context.Background(), "acc-2")
	if apiCode(err) != "SESSION_BUSY" {
		t.Fatalf("expected SESSION_BUSY, got %v", err)
	}
	if got := h.status("acc-2"); got != domain.StatusDisconnected {
		t.Fatalf("expected rollback to disconnected, got %s", got)
	}
	logs := h.svc.Logs("acc-2")
	if len(logs) == 0 || logs[0].Type != domain.LogError || logs[0].Message != "connect failed: session already starting" {
		t.Fatalf("expected connect failure log on top, got %+v", logs)
	}
}

func TestPushBeatsFailedAcknowledgment(t *testing.T) {
	h := newHarness(t, domain.Account{ID: "acc-1", Name: "Sales"})
	h.srv.FailNext(fakebackend.OpConnect, 0, "LATE_FAILURE", "gateway hiccup")
	release := h.srv.Gate(fakebackend.OpConnect)
	defer release()

	done := make(chan error, 1)
	go func() { done <- h.svc.Connect(context.Background(), "acc-1") }()

	waitFor(t, "connect request in flight", func() bool { return h.srv.Calls(fakebackend.OpConnect) == 1 })
	_ = h.srv.PushQR("acc-1", "QR-1", 1)
	h.waitStatus(t, "acc-1", domain.StatusQRReady)

	release()
	if err := <-done; err == nil {
		t.Fatalf("expected the connect command to fail")
	}
	if got := h.status("acc-1"); got != domain.StatusQRReady {
		t.Fatalf("late failure must not revert a newer push, got %s", got)
	}
	if _, ok := h.svc.QRCode("acc-1"); !ok {
		t.Fatalf("qr must survive the late failure")
	}
}

func TestDisconnectFailureRefreshesFromServer(t *testing.T) {
	h := newHarness(t, domain.Account{ID: "acc-1", Name: "Sales"})
	_ = h.srv.PushStatus("acc-1", domain.StatusConnected, "+1")
	h.waitStatus(t, "acc-1", domain.StatusConnected)

	h.srv.FailNext(fakebackend.OpDisconnect, 500, "INTERNAL", "boom")
	if err := h.svc.Disconnect(context.Background(), "acc-1"); apiCode(err) != "INTERNAL" {
		t.Fatalf("expected INTERNAL, got %v", err)
	}
	if got := h.status("acc-1"); got != domain.StatusConnected {
		t.Fatalf("expected server status connected after refresh, got %s", got)
	}
}

func TestCommandPreconditions(t *testing.T) {
	h := newHarness(t, domain.Account{ID: "acc-1", Name: "Sales"})
	ctx := context.Background()

	if code := apiCode(h.svc.Connect(ctx, "nope")); code != domain.CodeAccountNotFound {
		t.Fatalf("expected ACCOUNT_NOT_FOUND, got %s", code)
	}
	_ = h.srv.PushStatus("acc-1", domain.StatusConnected, "+1")
	h.waitStatus(t, "acc-1", domain.StatusConnected)
	if code := apiCode(h.svc.Connect(ctx, "acc-1")); code != domain.CodeInvalidState {
		t.Fatalf("expected INVALID_STATE, got %s", code)
	}
	if h.srv.Calls(fakebackend.OpConnect) != 0 {
		t.Fatalf("rejected commands must not reach the backend")
	}
}

func TestSelectSwitchesRoomsAndLoadsState(t *testing.T) {
	h := newHarness(t,
		domain.Account{ID: "acc-1", Name: "Sales"},
		domain.Account{ID: "acc-2", Name: "Support", Status: domain.StatusQRReady},
	)
	ctx := context.Background()
	h.srv.SetQR("acc-2", domain.QRCodeResponse{QRCode: "QR-REST", ExpiresAt: time.Now().Add(time.Minute)})
	h.srv.SetLogs("acc-2", []domain.ConnectionLog{
		{ID: "s2", Message: "qr generated", Type: domain.LogInfo},
		{ID: "s1", Message: "session created", Type: domain.LogInfo},
	})

	if err := h.svc.Select(ctx, "acc-1"); err != nil {
		t.Fatalf("select acc-1: %v", err)
	}
	if err := h.svc.Select(ctx, "acc-2"); err != nil {
		t.Fatalf("select acc-2: %v", err)
	}
	if h.svc.Selected() != "acc-2" {
		t.Fatalf("unexpected selection %q", h.svc.Selected())
	}
	rooms := h.svc.Rooms()
	if len(rooms) != 1 || rooms[0] != "acc-2" {
		t.Fatalf("expected only acc-2 room, got %v", rooms)
	}
	waitFor(t, "leave signal", func() bool { return h.signalCount(domain.SignalLeaveAccount, "acc-1") == 1 })

	qr, ok := h.svc.QRCode("acc-2")
	if !ok || qr.Payload != "QR-REST" {
		t.Fatalf("expected fetched qr, got %+v", qr)
	}
	logs := h.svc.Logs("acc-2")
	if len(logs) != 2 || logs[0].ID != "s2" {
		t.Fatalf("expected seeded history, got %+v", logs)
	}

	// pushes for an unselected account still land under its own id
	_ = h.srv.PushStatus("acc-1", domain.StatusConnecting, "")
	h.waitStatus(t, "acc-1", domain.StatusConnecting)
	if got := h.status("acc-2"); got != domain.StatusQRReady {
		t.Fatalf("acc-2 must be untouched, got %s", got)
	}
}

func TestReselectKeepsSingleHistory(t *testing.T) {
	h := newHarness(t,
		domain.Account{ID: "acc-a", Name: "Sales"},
		domain.Account{ID: "acc-b", Name: "Support"},
	)
	ctx := context.Background()
	h.srv.SetLogs("acc-a", []domain.ConnectionLog{
		{ID: "s2", Message: "qr generated", Type: domain.LogInfo},
		{ID: "s1", Message: "session created", Type: domain.LogInfo},
	})

	for _, id := range []string{"acc-a", "acc-b", "acc-a", "acc-b", "acc-a"} {
		if err := h.svc.Select(ctx, id); err != nil {
			t.Fatalf("select %s: %v", id, err)
		}
	}
	logs := h.svc.Logs("acc-a")
	if len(logs) != 2 || logs[0].ID != "s2" || logs[1].ID != "s1" {
		t.Fatalf("expected history once, got %+v", logs)
	}

	h.svc.state.AppendLog("acc-a", domain.LogInfo, "local entry", nil)
	if err := h.svc.Select(ctx, "acc-a"); err != nil {
		t.Fatalf("reselect: %v", err)
	}
	logs = h.svc.Logs("acc-a")
	if len(logs) != 3 || logs[0].Message != "local entry" {
		t.Fatalf("expected local entry above history, got %+v", logs)
	}
}

func TestSelectLoadsQRWhenLogFetchFails(t *testing.T) {
	h := newHarness(t, domain.Account{ID: "acc-1", Name: "Sales", Status: domain.StatusQRReady})
	h.srv.SetQR("acc-1", domain.QRCodeResponse{QRCode: "QR-REST", ExpiresAt: time.Now().Add(time.Minute)})
	h.srv.FailNext(fakebackend.OpLogs, 500, "INTERNAL", "logs unavailable")

	err := h.svc.Select(context.Background(), "acc-1")
	if apiCode(err) != "INTERNAL" {
		t.Fatalf("expected log fetch error, got %v", err)
	}
	if qr, ok := h.svc.QRCode("acc-1"); !ok || qr.Payload != "QR-REST" {
		t.Fatalf("expected qr loaded despite log failure, got %+v", qr)
	}
}

func TestResyncPicksUpMissedChanges(t *testing.T) {
	h := newHarness(t,
		domain.Account{ID: "acc-1", Name: "Sales"},
		domain.Account{ID: "acc-2", Name: "Support"},
	)
	h.srv.SetStatus("acc-2", domain.StatusExpired)
	h.srv.AddAccount(domain.Account{ID: "acc-3", Name: "Billing"})

	if err := h.svc.Resync(context.Background()); err != nil {
		t.Fatalf("resync: %v", err)
	}
	if got := h.status("acc-2"); got != domain.StatusExpired {
		t.Fatalf("expected expired, got %s", got)
	}
	if len(h.svc.Accounts()) != 3 {
		t.Fatalf("expected 3 accounts, got %d", len(h.svc.Accounts()))
	}
	if h.srv.Calls(fakebackend.OpStatus) != 3 {
		t.Fatalf("expected one status fetch per account, got %d", h.srv.Calls(fakebackend.OpStatus))
	}
}

func TestGlobalErrorsAreStreamed(t *testing.T) {
	h := newHarness(t, domain.Account{ID: "acc-1", Name: "Sales"})
	_ = h.srv.Push(string(domain.EventError), map[string]interface{}{"code": "RATE_LIMITED", "message": "slow down"})

	select {
	case e := <-h.svc.Errors():
		if e.Code != "RATE_LIMITED" || e.AccountID != "" {
			t.Fatalf("unexpected error event %+v", e)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no error streamed")
	}
	waitFor(t, "global error stored", func() bool { return len(h.svc.GlobalErrors()) == 1 })
	if len(h.svc.Logs("acc-1")) != 0 {
		t.Fatalf("global errors must not reach account logs")
	}
}

func TestReconnectRejoinsRooms(t *testing.T) {
	h := newHarness(t, domain.Account{ID: "acc-1", Name: "Sales"})
	if err := h.svc.Select(context.Background(), "acc-1"); err != nil {
		t.Fatalf("select: %v", err)
	}
	waitFor(t, "first join", func() bool { return h.signalCount(domain.SignalJoinAccount, "acc-1") >= 1 })
	time.Sleep(20 * time.Millisecond)
	joins := h.signalCount(domain.SignalJoinAccount, "acc-1")
	lists := h.srv.Calls(fakebackend.OpList)

	h.srv.DropClients()
	waitFor(t, "rejoin", func() bool { return h.signalCount(domain.SignalJoinAccount, "acc-1") > joins })
	waitFor(t, "refresh after reconnect", func() bool { return h.srv.Calls(fakebackend.OpList) > lists })
}

func TestCreateAndDeleteAccount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	acc, err := h.svc.CreateAccount(ctx, domain.CreateAccountPayload{Name: "Ops"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if acc.Status != domain.StatusDisconnected {
		t.Fatalf("new account must start disconnected, got %s", acc.Status)
	}
	if err := h.svc.Select(ctx, acc.ID); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := h.svc.DeleteAccount(ctx, acc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := h.svc.Account(acc.ID); apiCode(err) != domain.CodeAccountNotFound {
		t.Fatalf("deleted account still present")
	}
	if h.svc.Selected() != "" || len(h.svc.Rooms()) != 0 {
		t.Fatalf("selection and rooms must be cleared, got %q %v", h.svc.Selected(), h.svc.Rooms())
	}
}
