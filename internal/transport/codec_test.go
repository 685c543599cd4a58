package transport

import (
	"errors"
	"testing"
	"time"

	"github.com/Paulofn1/green-connect-hub/internal/domain"
)

func TestDecodeStatusEvent(t *testing.T) {
	raw := []byte(`{"event":"connection-status","data":{"accountId":"acc-1","status":"CONNECTED","phone":"+551199990000","pushName":"Ana","timestamp":"2024-03-01T12:00:00Z"}}`)
	ev, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	st, ok := ev.(*domain.StatusEvent)
	if !ok {
		t.Fatalf("expected *StatusEvent, got %T", ev)
	}
	if st.Type() != domain.EventConnectionStatus || st.Status != domain.StatusConnected || st.Phone != "+551199990000" || st.PushName != "Ana" {
		t.Fatalf("unexpected event %+v", st)
	}
	if !st.Timestamp.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected timestamp %v", st.Timestamp)
	}
}

func TestDecodeConnectedDefaultsStatus(t *testing.T) {
	ev, err := Decode([]byte(`{"event":"whatsapp:connected","data":{"accountId":"acc-1"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	st := ev.(*domain.StatusEvent)
	if st.Type() != domain.EventConnected || st.Status != domain.StatusConnected {
		t.Fatalf("unexpected event %+v", st)
	}
}

func TestDecodeQRCodeEpochMillis(t *testing.T) {
	ev, err := Decode([]byte(`{"event":"qr-code","data":{"accountId":"acc-1","qrCode":"data:image/png;base64,AAA","attempt":2,"expiresAt":1709294400000}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	qr := ev.(*domain.QRCodeEvent)
	if qr.Attempt != 2 || qr.QRCode == "" {
		t.Fatalf("unexpected qr %+v", qr)
	}
	if qr.ExpiresAt.UnixMilli() != 1709294400000 {
		t.Fatalf("unexpected expiresAt %v", qr.ExpiresAt)
	}
}

func TestDecodeLogEvent(t *testing.T) {
	ev, err := Decode([]byte(`{"event":"log","data":{"accountId":"acc-1","log":{"id":"l1","timestamp":"2024-03-01T12:00:00Z","message":"socket open","type":"success","metadata":{"k":"v"}}}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	le := ev.(*domain.LogEvent)
	if le.Log.AccountID != "acc-1" || le.Log.Type != domain.LogSuccess || le.Log.Message != "socket open" || le.Log.Metadata["k"] != "v" {
		t.Fatalf("unexpected log %+v", le.Log)
	}
}

func TestDecodeGlobalError(t *testing.T) {
	ev, err := Decode([]byte(`{"event":"whatsapp:error","data":{"code":"RATE_LIMIT","message":"slow down"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	ee := ev.(*domain.ErrorEvent)
	if ee.Account() != "" || ee.Code != "RATE_LIMIT" || ee.Type() != domain.EventError {
		t.Fatalf("unexpected error event %+v", ee)
	}
}

func TestDecodeRejectsInvalidFrames(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `nope`},
		{"no name", `{"data":{}}`},
		{"unknown name", `{"event":"whatever","data":{}}`},
		{"status without account", `{"event":"connection-status","data":{"status":"connected"}}`},
		{"unknown status", `{"event":"connection-status","data":{"accountId":"a","status":"paired"}}`},
		{"qr without payload", `{"event":"qr-code","data":{"accountId":"a"}}`},
		{"error without content", `{"event":"error","data":{}}`},
		{"bad log type", `{"event":"log","data":{"accountId":"a","log":{"message":"x","type":"debug"}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.raw)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
	_, err := Decode([]byte(`{"event":"whatever"}`))
	if !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
}

func TestEncodeFrame(t *testing.T) {
	data, err := EncodeFrame(domain.SignalJoinAccount, "acc-1")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(data) != `{"event":"join:account","data":"acc-1"}` {
		t.Fatalf("unexpected frame %s", data)
	}
}
