// Package fakebackend is a scriptable stand-in for the session backend: the
// REST command surface plus the push channel, served from one httptest
// server. Tests use it to drive pushes and inject failures.
package fakebackend

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/Paulofn1/green-connect-hub/internal/domain"
)

// Operation names accepted by FailNext and Gate.
const (
	OpList       = "list"
	OpGet        = "get"
	OpCreate     = "create"
	OpUpdate     = "update"
	OpDelete     = "delete"
	OpConnect    = "connect"
	OpDisconnect = "disconnect"
	OpStatus     = "status"
	OpQR         = "qr"
	OpLogs       = "logs"
	OpSend       = "send"
	OpBulk       = "bulk"
	OpHistory    = "history"
)

// Signal is one client frame received on the push channel.
type Signal struct {
	Event string
	Data  interface{}
}

type failure struct {
	status  int
	code    string
	message string
	raw     string
}

type Server struct {
	*httptest.Server
	echo     *echo.Echo
	upgrader websocket.Upgrader

	mu       sync.Mutex
	accounts map[string]*domain.Account
	logs     map[string][]domain.ConnectionLog
	messages map[string][]domain.Message
	qr       map[string]domain.QRCodeResponse
	failures map[string][]failure
	gates    map[string]chan struct{}
	calls    map[string]int
	nextID   int

	wsMu    sync.Mutex
	clients map[*websocket.Conn]bool
	signals []Signal
}

func New() *Server {
	s := &Server{
		echo:     echo.New(),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		accounts: make(map[string]*domain.Account),
		logs:     make(map[string][]domain.ConnectionLog),
		messages: make(map[string][]domain.Message),
		qr:       make(map[string]domain.QRCodeResponse),
		failures: make(map[string][]failure),
		gates:    make(map[string]chan struct{}),
		calls:    make(map[string]int),
		clients:  make(map[*websocket.Conn]bool),
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.routes()
	s.Server = httptest.NewServer(s.echo)
	return s
}

// WSURL is the push channel endpoint.
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
}

// Close drops push clients, then stops the HTTP server.
func (s *Server) Close() {
	s.DropClients()
	s.Server.Close()
}

func (s *Server) routes() {
	g := s.echo.Group("/api/whatsapp")
	g.GET("/accounts", s.op(OpList, s.listAccounts))
	g.POST("/accounts", s.op(OpCreate, s.createAccount))
	g.GET("/accounts/:id", s.op(OpGet, s.getAccount))
	g.PATCH("/accounts/:id", s.op(OpUpdate, s.updateAccount))
	g.DELETE("/accounts/:id", s.op(OpDelete, s.deleteAccount))
	g.POST("/accounts/:id/connect", s.op(OpConnect, s.connect))
	g.POST("/accounts/:id/disconnect", s.op(OpDisconnect, s.disconnect))
	g.GET("/accounts/:id/status", s.op(OpStatus, s.getAccount))
	g.GET("/accounts/:id/qr", s.op(OpQR, s.getQR))
	g.GET("/accounts/:id/logs", s.op(OpLogs, s.getLogs))
	g.POST("/messages/send", s.op(OpSend, s.send))
	g.POST("/messages/bulk", s.op(OpBulk, s.bulk))
	g.GET("/messages/:contactId", s.op(OpHistory, s.history))
	s.echo.GET("/ws", s.serveWS)
}

// op counts the call, waits on any gate and applies a queued failure
// before running the real handler.
func (s *Server) op(name string, h echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		s.mu.Lock()
		s.calls[name]++
		gate := s.gates[name]
		var f *failure
		if q := s.failures[name]; len(q) > 0 {
			f = &q[0]
			s.failures[name] = q[1:]
		}
		s.mu.Unlock()
		if gate != nil {
			<-gate
		}
		if f != nil {
			if f.raw != "" {
				return c.String(f.status, f.raw)
			}
			return c.JSON(f.status, domain.Response[struct{}]{
				Success: false,
				Error:   &domain.ErrorBody{Code: f.code, Message: f.message},
			})
		}
		return h(c)
	}
}

func ok[T any](c echo.Context, data T) error {
	return c.JSON(http.StatusOK, domain.Response[T]{Success: true, Data: &data})
}

func notFound(c echo.Context) error {
	return c.JSON(http.StatusNotFound, domain.Response[struct{}]{
		Error: &domain.ErrorBody{Code: domain.CodeAccountNotFound, Message: "account not found"},
	})
}

// FailNext makes the next call of op answer with a failure envelope. A zero
// status still answers 200 with success:false.
func (s *Server) FailNext(op string, status int, code, message string) {
	if status == 0 {
		status = http.StatusOK
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], failure{status: status, code: code, message: message})
}

// FailNextRaw makes the next call of op answer with a non-envelope body.
func (s *Server) FailNextRaw(op string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], failure{status: status, raw: body})
}

// Gate holds every call of op until the returned release func runs.
func (s *Server) Gate(op string) (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.gates[op] = ch
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.gates, op)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Calls reports how many requests op has received.
func (s *Server) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *Server) AddAccount(a domain.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.Status == "" {
		a.Status = domain.StatusDisconnected
	}
	cp := a.Clone()
	s.accounts[a.ID] = &cp
}

// SetStatus changes server-side state without pushing anything.
func (s *Server) SetStatus(id string, status domain.ConnectionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[id]; ok {
		a.Status = status
	}
}

func (s *Server) SetLogs(id string, logs []domain.ConnectionLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[id] = logs
}

func (s *Server) SetQR(id string, qr domain.QRCodeResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.qr[id] = qr
}

func (s *Server) AddMessage(m domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.ContactID] = append(s.messages[m.ContactID], m)
}

func (s *Server) listAccounts(c echo.Context) error {
	s.mu.Lock()
	out := make([]domain.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a.Clone())
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return ok(c, out)
}

func (s *Server) getAccount(c echo.Context) error {
	s.mu.Lock()
	a, found := s.accounts[c.Param("id")]
	var cp domain.Account
	if found {
		cp = a.Clone()
	}
	s.mu.Unlock()
	if !found {
		return notFound(c)
	}
	return ok(c, cp)
}

func (s *Server) createAccount(c echo.Context) error {
	var p domain.CreateAccountPayload
	if err := c.Bind(&p); err != nil || p.Name == "" {
		return c.JSON(http.StatusBadRequest, domain.Response[struct{}]{
			Error: &domain.ErrorBody{Code: domain.CodeValidationError, Message: "name is required"},
		})
	}
	now := time.Now()
	s.mu.Lock()
	s.nextID++
	a := &domain.Account{
		ID:        fmt.Sprintf("acc-%d", s.nextID),
		Name:      p.Name,
		Phone:     p.Phone,
		Status:    domain.StatusDisconnected,
		CreatedAt: &now,
		UpdatedAt: &now,
	}
	s.accounts[a.ID] = a
	cp := a.Clone()
	s.mu.Unlock()
	return ok(c, cp)
}

func (s *Server) updateAccount(c echo.Context) error {
	var p domain.UpdateAccountPayload
	if err := c.Bind(&p); err != nil {
		return c.JSON(http.StatusBadRequest, domain.Response[struct{}]{
			Error: &domain.ErrorBody{Code: domain.CodeValidationError, Message: err.Error()},
		})
	}
	s.mu.Lock()
	a, found := s.accounts[c.Param("id")]
	var cp domain.Account
	if found {
		if p.Name != nil {
			a.Name = *p.Name
		}
		if p.BotActive != nil {
			a.BotActive = *p.BotActive
		}
		now := time.Now()
		a.UpdatedAt = &now
		cp = a.Clone()
	}
	s.mu.Unlock()
	if !found {
		return notFound(c)
	}
	return ok(c, cp)
}

func (s *Server) deleteAccount(c echo.Context) error {
	s.mu.Lock()
	_, found := s.accounts[c.Param("id")]
	delete(s.accounts, c.Param("id"))
	s.mu.Unlock()
	if !found {
		return notFound(c)
	}
	return c.JSON(http.StatusOK, domain.Response[struct{}]{Success: true})
}

func (s *Server) connect(c echo.Context) error {
	s.mu.Lock()
	a, found := s.accounts[c.Param("id")]
	if found {
		a.Status = domain.StatusConnecting
	}
	s.mu.Unlock()
	if !found {
		return notFound(c)
	}
	return c.JSON(http.StatusOK, domain.Response[struct{}]{Success: true})
}

func (s *Server) disconnect(c echo.Context) error {
	s.mu.Lock()
	a, found := s.accounts[c.Param("id")]
	if found {
		a.Status = domain.StatusDisconnected
	}
	s.mu.Unlock()
	if !found {
		return notFound(c)
	}
	return c.JSON(http.StatusOK, domain.Response[struct{}]{Success: true})
}

func (s *Server) getQR(c echo.Context) error {
	s.mu.Lock()
	qr, found := s.qr[c.Param("id")]
	s.mu.Unlock()
	if !found {
		return c.JSON(http.StatusOK, domain.Response[struct{}]{
			Error: &domain.ErrorBody{Code: "QR_NOT_AVAILABLE", Message: "no qr code available"},
		})
	}
	return ok(c, qr)
}

func (s *Server) getLogs(c echo.Context) error {
	s.mu.Lock()
	logs := append([]domain.ConnectionLog{}, s.logs[c.Param("id")]...)
	s.mu.Unlock()
	return ok(c, logs)
}

func (s *Server) send(c echo.Context) error {
	var p domain.SendMessagePayload
	if err := c.Bind(&p); err != nil {
		return err
	}
	s.mu.Lock()
	s.nextID++
	m := domain.Message{
		ID:        fmt.Sprintf("msg-%d", s.nextID),
		AccountID: p.AccountID,
		ContactID: p.Phone,
		Content:   p.Message,
		Type:      domain.MessageText,
		Direction: domain.DirectionOutgoing,
		Status:    domain.MessageSent,
		Timestamp: time.Now(),
		MediaURL:  p.MediaURL,
	}
	if p.MediaURL != "" {
		m.Type = domain.MessageImage
	}
	s.messages[p.Phone] = append(s.messages[p.Phone], m)
	s.mu.Unlock()
	return ok(c, m)
}

func (s *Server) bulk(c echo.Context) error {
	var p domain.BulkMessagePayload
	if err := c.Bind(&p); err != nil {
		return err
	}
	res := domain.BulkResult{Total: len(p.Phones)}
	for _, phone := range p.Phones {
		if strings.HasPrefix(phone, "invalid") {
			res.Failed++
			continue
		}
		res.Sent++
	}
	return ok(c, res)
}

func (s *Server) history(c echo.Context) error {
	s.mu.Lock()
	msgs := append([]domain.Message{}, s.messages[c.Param("contactId")]...)
	s.mu.Unlock()
	return ok(c, msgs)
}
