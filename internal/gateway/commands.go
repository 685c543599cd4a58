package gateway

import (
	"context"
	"net/http"

	"github.com/Paulofn1/green-connect-hub/internal/domain"
)

// Accounts

func (c *Client) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	return call[[]domain.Account](ctx, c, http.MethodGet, c.endpoint("/accounts"), nil, true)
}

func (c *Client) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	if err := requireID("id", id); err != nil {
		return domain.Account{}, err
	}
	return call[domain.Account](ctx, c, http.MethodGet, c.endpoint("/accounts/%s", id), nil, true)
}

func (c *Client) CreateAccount(ctx context.Context, p domain.CreateAccountPayload) (domain.Account, error) {
	if err := c.check(p); err != nil {
		return domain.Account{}, err
	}
	return call[domain.Account](ctx, c, http.MethodPost, c.endpoint("/accounts"), p, true)
}

func (c *Client) UpdateAccount(ctx context.Context, id string, p domain.UpdateAccountPayload) (domain.Account, error) {
	if err := requireID("id", id); err != nil {
		return domain.Account{}, err
	}
	if err := c.check(p); err != nil {
		return domain.Account{}, err
	}
	return call[domain.Account](ctx, c, http.MethodPatch, c.endpoint("/accounts/%s", id), p, true)
}

func (c *Client) DeleteAccount(ctx context.Context, id string) error {
	if err := requireID("id", id); err != nil {
		return err
	}
	_, err := call[empty](ctx, c, http.MethodDelete, c.endpoint("/accounts/%s", id), nil, false)
	return err
}

// Connection

// Connect asks the backend to start a pairing session. Progress arrives
// as push events, not in the response.
func (c *Client) Connect(ctx context.Context, id string) error {
	if err := requireID("accountId", id); err != nil {
		return err
	}
	_, err := call[empty](ctx, c, http.MethodPost, c.endpoint("/accounts/%s/connect", id), nil, false)
	return err
}

func (c *Client) Disconnect(ctx context.Context, id string) error {
	if err := requireID("accountId", id); err != nil {
		return err
	}
	_, err := call[empty](ctx, c, http.MethodPost, c.endpoint("/accounts/%s/disconnect", id), nil, false)
	return err
}

func (c *Client) GetStatus(ctx context.Context, id string) (domain.Account, error) {
	if err := requireID("accountId", id); err != nil {
		return domain.Account{}, err
	}
	return call[domain.Account](ctx, c, http.MethodGet, c.endpoint("/accounts/%s/status", id), nil, true)
}

func (c *Client) GetQRCode(ctx context.Context, id string) (domain.QRCodeResponse, error) {
	if err := requireID("accountId", id); err != nil {
		return domain.QRCodeResponse{}, err
	}
	return call[domain.QRCodeResponse](ctx, c, http.MethodGet, c.endpoint("/accounts/%s/qr", id), nil, true)
}

func (c *Client) GetConnectionLogs(ctx context.Context, id string) ([]domain.ConnectionLog, error) {
	if err := requireID("accountId", id); err != nil {
		return nil, err
	}
	return call[[]domain.ConnectionLog](ctx, c, http.MethodGet, c.endpoint("/accounts/%s/logs", id), nil, true)
}

// Messages

func (c *Client) SendMessage(ctx context.Context, p domain.SendMessagePayload) (domain.Message, error) {
	if err := c.check(p); err != nil {
		return domain.Message{}, err
	}
	return call[domain.Message](ctx, c, http.MethodPost, c.endpoint("/messages/send"), p, true)
}

func (c *Client) SendBulkMessages(ctx context.Context, p domain.BulkMessagePayload) (domain.BulkResult, error) {
	if err := c.check(p); err != nil {
		return domain.BulkResult{}, err
	}
	return call[domain.BulkResult](ctx, c, http.MethodPost, c.endpoint("/messages/bulk"), p, true)
}

func (c *Client) GetMessageHistory(ctx context.Context, contactID string) ([]domain.Message, error) {
	if err := requireID("contactId", contactID); err != nil {
		return nil, err
	}
	return call[[]domain.Message](ctx, c, http.MethodGet, c.endpoint("/messages/%s", contactID), nil, true)
}
