package reconciler

import (
	"testing"

	"github.com/Paulofn1/green-connect-hub/internal/domain"
)

func TestAllowedServerTable(t *testing.T) {
	tests := []struct {
		from, to domain.ConnectionStatus
		want     bool
	}{
		{domain.StatusConnecting, domain.StatusQRReady, true},
		{domain.StatusQRReady, domain.StatusQRReady, true},
		{domain.StatusDisconnected, domain.StatusQRReady, true},
		{domain.StatusAuthenticating, domain.StatusQRReady, false},
		{domain.StatusConnected, domain.StatusQRReady, false},
		{domain.StatusQRReady, domain.StatusAuthenticating, true},
		{domain.StatusConnecting, domain.StatusAuthenticating, false},
		{domain.StatusDisconnected, domain.StatusAuthenticating, false},
		{domain.StatusConnected, domain.StatusConnecting, false},
		{domain.StatusExpired, domain.StatusConnecting, true},
	}
	for _, tt := range tests {
		if got := Allowed(tt.from, tt.to, OriginPush); got != tt.want {
			t.Fatalf("push %s -> %s: expected %v, got %v", tt.from, tt.to, tt.want, got)
		}
	}
	for _, from := range domain.Statuses {
		for _, to := range []domain.ConnectionStatus{domain.StatusConnected, domain.StatusDisconnected, domain.StatusExpired} {
			if !Allowed(from, to, OriginPush) {
				t.Fatalf("push %s -> %s must be allowed from any status", from, to)
			}
		}
	}
}

func TestAllowedUserTable(t *testing.T) {
	for _, from := range domain.Statuses {
		wantConnect := from == domain.StatusDisconnected || from == domain.StatusExpired
		if got := Allowed(from, domain.StatusConnecting, OriginUser); got != wantConnect {
			t.Fatalf("user connect from %s: expected %v, got %v", from, wantConnect, got)
		}
		wantDisconnect := from != domain.StatusDisconnected
		if got := Allowed(from, domain.StatusDisconnected, OriginUser); got != wantDisconnect {
			t.Fatalf("user disconnect from %s: expected %v, got %v", from, wantDisconnect, got)
		}
		if Allowed(from, domain.StatusConnected, OriginUser) {
			t.Fatalf("user command must never produce connected")
		}
	}
}

func TestReconcilePushAlwaysDominates(t *testing.T) {
	cur := Entry{Status: domain.StatusConnecting, Version: 7}
	got, ok := Reconcile(cur, Candidate{Status: domain.StatusConnected, Origin: OriginPush, Basis: 1})
	if !ok || got.Status != domain.StatusConnected || got.Version != 8 {
		t.Fatalf("unexpected merge result %+v ok=%v", got, ok)
	}
}

func TestReconcileDropsStaleRollbackAndSnapshot(t *testing.T) {
	cur := Entry{Status: domain.StatusConnected, Version: 5}
	if _, ok := Reconcile(cur, Candidate{Status: domain.StatusDisconnected, Origin: OriginRollback, Basis: 4}); ok {
		t.Fatalf("stale rollback must not apply")
	}
	if _, ok := Reconcile(cur, Candidate{Status: domain.StatusConnecting, Origin: OriginSnapshot, Basis: 4}); ok {
		t.Fatalf("stale snapshot must not apply")
	}
	got, ok := Reconcile(Entry{Status: domain.StatusConnecting, Version: 5},
		Candidate{Status: domain.StatusDisconnected, Origin: OriginRollback, Basis: 5})
	if !ok || got.Status != domain.StatusDisconnected {
		t.Fatalf("fresh rollback should revert, got %+v ok=%v", got, ok)
	}
}

func TestReconcileRollbackOnlyFromConnecting(t *testing.T) {
	cur := Entry{Status: domain.StatusQRReady, Version: 3}
	if _, ok := Reconcile(cur, Candidate{Status: domain.StatusDisconnected, Origin: OriginRollback, Basis: 3}); ok {
		t.Fatalf("rollback from qr_ready must not apply")
	}
}

func TestReconcileSnapshotSameStatusIsNoop(t *testing.T) {
	cur := Entry{Status: domain.StatusConnected, Version: 2}
	if _, ok := Reconcile(cur, Candidate{Status: domain.StatusConnected, Origin: OriginSnapshot, Basis: 2}); ok {
		t.Fatalf("snapshot with the current status should not bump the version")
	}
}
