package fakebackend

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/Paulofn1/green-connect-hub/internal/domain"
	"github.com/Paulofn1/green-connect-hub/internal/transport"
)

func (s *Server) serveWS(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil
	}
	s.wsMu.Lock()
	s.clients[conn] = true
	s.wsMu.Unlock()
	defer func() {
		s.wsMu.Lock()
		delete(s.clients, conn)
		s.wsMu.Unlock()
		_ = conn.Close()
	}()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		name, payload, err := transport.DecodeFrame(data)
		if err != nil {
			continue
		}
		s.wsMu.Lock()
		s.signals = append(s.signals, Signal{Event: name, Data: payload})
		s.wsMu.Unlock()
	}
}

// Clients reports how many push connections are open.
func (s *Server) Clients() int {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	return len(s.clients)
}

// Signals returns the client frames received so far.
func (s *Server) Signals() []Signal {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	return append([]Signal(nil), s.signals...)
}

// Push sends one named event to every connected client.
func (s *Server) Push(event string, payload interface{}) error {
	data, err := transport.EncodeFrame(event, payload)
	if err != nil {
		return err
	}
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	for conn := range s.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return err
		}
	}
	return nil
}

// PushStatus pushes connection-status and mirrors it server-side.
func (s *Server) PushStatus(id string, status domain.ConnectionStatus, phone string) error {
	s.SetStatus(id, status)
	return s.Push(string(domain.EventConnectionStatus), map[string]interface{}{
		"accountId": id,
		"status":    status,
		"phone":     phone,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// PushQR pushes a qr-code event and mirrors it server-side.
func (s *Server) PushQR(id, code string, attempt int) error {
	expires := time.Now().Add(60 * time.Second)
	s.SetStatus(id, domain.StatusQRReady)
	s.SetQR(id, domain.QRCodeResponse{QRCode: code, ExpiresAt: expires})
	return s.Push(string(domain.EventQRCode), map[string]interface{}{
		"accountId": id,
		"qrCode":    code,
		"attempt":   attempt,
		"expiresAt": expires.Format(time.RFC3339),
	})
}

// DropClients closes every push connection, as a server restart would.
func (s *Server) DropClients() {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	for conn := range s.clients {
		_ = conn.Close()
	}
}
