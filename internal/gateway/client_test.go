package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Paulofn1/green-connect-hub/internal/domain"
	"github.com/Paulofn1/green-connect-hub/internal/fakebackend"
)

func newTestClient(t *testing.T) (*Client, *fakebackend.Server) {
	t.Helper()
	srv := fakebackend.New()
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, Timeout: 2 * time.Second}), srv
}

func apiCode(t *testing.T, err error) string {
	t.Helper()
	var ae *domain.ApiError
	if !errors.As(err, &ae) {
		t.Fatalf("expected *domain.ApiError, got %T (%v)", err, err)
	}
	return ae.Code
}

func TestAccountLifecycle(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	created, err := c.CreateAccount(ctx, domain.CreateAccountPayload{Name: "Sales"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" || created.Status != domain.StatusDisconnected {
		t.Fatalf("unexpected account %+v", created)
	}

	name := "Support"
	active := true
	updated, err := c.UpdateAccount(ctx, created.ID, domain.UpdateAccountPayload{Name: &name, BotActive: &active})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "Support" || !updated.BotActive {
		t.Fatalf("unexpected update result %+v", updated)
	}

	list, err := c.ListAccounts(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v %+v", err, list)
	}
	got, err := c.GetAccount(ctx, created.ID)
	if err != nil || got.Name != "Support" {
		t.Fatalf("get: %v %+v", err, got)
	}

	if err := c.DeleteAccount(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err = c.GetAccount(ctx, created.ID)
	if code := apiCode(t, err); code != domain.CodeAccountNotFound {
		t.Fatalf("expected %s, got %s", domain.CodeAccountNotFound, code)
	}
}

func TestSuccessFalseIsAnError(t *testing.T) {
	c, srv := newTestClient(t)
	srv.AddAccount(domain.Account{ID: "acc-1", Name: "one"})
	srv.FailNext(fakebackend.OpConnect, 0, "SESSION_BUSY", "session already starting")

	err := c.Connect(context.Background(), "acc-1")
	if code := apiCode(t, err); code != "SESSION_BUSY" {
		t.Fatalf("expected SESSION_BUSY, got %s", code)
	}
	if srv.Calls(fakebackend.OpConnect) != 1 {
		t.Fatalf("expected exactly one call, got %d", srv.Calls(fakebackend.OpConnect))
	}
}

func TestNonEnvelopeErrorMapsToHTTPCode(t *testing.T) {
	c, srv := newTestClient(t)
	srv.FailNextRaw(fakebackend.OpList, http.StatusBadGateway, "<html>bad gateway</html>")
	_, err := c.ListAccounts(context.Background())
	if code := apiCode(t, err); code != "HTTP_502" {
		t.Fatalf("expected HTTP_502, got %s", code)
	}
}

func TestNetworkErrorIsNotRetried(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c := New(Config{BaseURL: base, Timeout: time.Second})
	err := c.Connect(context.Background(), "acc-2")
	if code := apiCode(t, err); code != domain.CodeNetworkError {
		t.Fatalf("expected NETWORK_ERROR, got %s", code)
	}
}

func TestTimeout(t *testing.T) {
	c, srv := newTestClient(t)
	c.timeout = 50 * time.Millisecond
	srv.AddAccount(domain.Account{ID: "acc-1", Name: "one"})
	release := srv.Gate(fakebackend.OpStatus)
	defer release()

	_, err := c.GetStatus(context.Background(), "acc-1")
	if code := apiCode(t, err); code != domain.CodeTimeout {
		t.Fatalf("expected TIMEOUT, got %s (%v)", code, err)
	}
}

func TestValidationHappensBeforeSending(t *testing.T) {
	c, srv := newTestClient(t)
	ctx := context.Background()

	_, err := c.SendMessage(ctx, domain.SendMessagePayload{AccountID: "acc-1", Message: "hi"})
	if code := apiCode(t, err); code != domain.CodeValidationError {
		t.Fatalf("expected VALIDATION_ERROR, got %s", code)
	}
	_, err = c.SendBulkMessages(ctx, domain.BulkMessagePayload{AccountID: "acc-1", Message: "hi"})
	if code := apiCode(t, err); code != domain.CodeValidationError {
		t.Fatalf("expected VALIDATION_ERROR for empty phones, got %s", code)
	}
	if err := c.Connect(ctx, " "); apiCode(t, err) != domain.CodeValidationError {
		t.Fatalf("expected VALIDATION_ERROR for empty id")
	}
	if srv.Calls(fakebackend.OpSend)+srv.Calls(fakebackend.OpBulk)+srv.Calls(fakebackend.OpConnect) != 0 {
		t.Fatalf("invalid payloads must not reach the server")
	}
}

func TestMessages(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	msg, err := c.SendMessage(ctx, domain.SendMessagePayload{AccountID: "acc-1", Phone: "+5511", Message: "hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.Direction != domain.DirectionOutgoing || msg.Content != "hello" {
		t.Fatalf("unexpected message %+v", msg)
	}

	res, err := c.SendBulkMessages(ctx, domain.BulkMessagePayload{
		AccountID:            "acc-1",
		Phones:               []string{"+1", "+2", "invalid-3"},
		Message:              "promo",
		DelayBetweenMessages: 500,
	})
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if res != (domain.BulkResult{Total: 3, Sent: 2, Failed: 1}) {
		t.Fatalf("unexpected bulk result %+v", res)
	}

	history, err := c.GetMessageHistory(ctx, "+5511")
	if err != nil || len(history) != 1 || history[0].ID != msg.ID {
		t.Fatalf("history: %v %+v", err, history)
	}
}

func TestQRCodeAndLogs(t *testing.T) {
	c, srv := newTestClient(t)
	ctx := context.Background()
	expires := time.Date(2024, 3, 1, 12, 1, 0, 0, time.UTC)
	srv.SetQR("acc-1", domain.QRCodeResponse{QRCode: "data:image/png;base64,AAA", ExpiresAt: expires})
	srv.SetLogs("acc-1", []domain.ConnectionLog{{ID: "l2", Message: "b", Type: domain.LogInfo}, {ID: "l1", Message: "a", Type: domain.LogInfo}})

	qr, err := c.GetQRCode(ctx, "acc-1")
	if err != nil || qr.QRCode == "" || !qr.ExpiresAt.Equal(expires) {
		t.Fatalf("qr: %v %+v", err, qr)
	}
	logs, err := c.GetConnectionLogs(ctx, "acc-1")
	if err != nil || len(logs) != 2 || logs[0].ID != "l2" {
		t.Fatalf("logs: %v %+v", err, logs)
	}
	_, err = c.GetQRCode(ctx, "acc-9")
	if code := apiCode(t, err); code != "QR_NOT_AVAILABLE" {
		t.Fatalf("expected QR_NOT_AVAILABLE, got %s", code)
	}
}
