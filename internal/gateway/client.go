// Package gateway issues request/response commands against the backend REST
// surface. Nothing here is retried; callers own retry policy.
package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/guonaihong/gout"
	"github.com/guonaihong/gout/dataflow"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Paulofn1/green-connect-hub/internal/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	DefaultTimeout = 30 * time.Second
	basePath       = "/api/whatsapp"
)

type Config struct {
	BaseURL    string
	Timeout    time.Duration
	Token      string
	HTTPClient *http.Client
}

type Client struct {
	baseURL  string
	timeout  time.Duration
	token    string
	http     *http.Client
	validate *validator.Validate
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		timeout:  cfg.Timeout,
		token:    cfg.Token,
		http:     cfg.HTTPClient,
		validate: newValidator(),
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) endpoint(format string, ids ...string) string {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = url.PathEscape(id)
	}
	return c.baseURL + basePath + fmt.Sprintf(format, args...)
}

func (c *Client) flow(method, u string) *dataflow.DataFlow {
	g := gout.New(c.http)
	switch method {
	case http.MethodPost:
		return g.POST(u)
	case http.MethodPatch:
		return g.PATCH(u)
	case http.MethodDelete:
		return g.DELETE(u)
	default:
		return g.GET(u)
	}
}

func (c *Client) headers() gout.H {
	h := gout.H{
		"Accept":       "application/json",
		"X-Request-ID": uuid.NewString(),
	}
	if c.token != "" {
		h["Authorization"] = "Bearer " + c.token
	}
	return h
}

// call performs one request and unwraps the {success, data, error}
// envelope. A success:false body and a transport failure both come back as
// *domain.ApiError. When needData is set a missing data member is an error.
func call[T any](ctx context.Context, c *Client, method, u string, body interface{}, needData bool) (T, error) {
	var zero T
	var raw string
	var status int

	df := c.flow(method, u).
		WithContext(ctx).
		SetTimeout(c.timeout).
		SetHeader(c.headers())
	if body != nil {
		df = df.SetJSON(body)
	}
	start := time.Now()
	err := df.BindBody(&raw).Code(&status).Do()
	if err != nil {
		ae := classify(err)
		zap.L().Warn("gateway: request failed",
			zap.String("method", method),
			zap.String("url", u),
			zap.String("code", ae.Code),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return zero, ae
	}
	zap.L().Debug("gateway: response",
		zap.String("method", method),
		zap.String("url", u),
		zap.Int("status", status),
		zap.Duration("elapsed", time.Since(start)))

	var env domain.Response[T]
	if jerr := json.Unmarshal([]byte(raw), &env); jerr != nil {
		if status < 200 || status >= 300 {
			return zero, httpError(status, nil)
		}
		return zero, &domain.ApiError{Code: domain.CodeDecodeError, Message: "malformed response body", Status: status, Cause: jerr}
	}
	if !env.Success || status < 200 || status >= 300 {
		if env.Error != nil && env.Error.Code != "" {
			return zero, &domain.ApiError{Code: env.Error.Code, Message: env.Error.Message, Status: status}
		}
		if status < 200 || status >= 300 {
			return zero, httpError(status, env.Error)
		}
		msg := "request failed"
		if env.Error != nil && env.Error.Message != "" {
			msg = env.Error.Message
		}
		return zero, &domain.ApiError{Code: domain.CodeUnknownError, Message: msg, Status: status}
	}
	if env.Data == nil {
		if needData {
			return zero, &domain.ApiError{Code: domain.CodeDecodeError, Message: "response carried no data", Status: status}
		}
		return zero, nil
	}
	return *env.Data, nil
}

func httpError(status int, body *domain.ErrorBody) *domain.ApiError {
	msg := http.StatusText(status)
	if body != nil && body.Message != "" {
		msg = body.Message
	}
	return &domain.ApiError{Code: fmt.Sprintf("HTTP_%d", status), Message: msg, Status: status}
}

func classify(err error) *domain.ApiError {
	var ne net.Error
	text := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &ne) && ne.Timeout(),
		strings.Contains(text, "timeout"),
		strings.Contains(text, "deadline exceeded"):
		return &domain.ApiError{Code: domain.CodeTimeout, Message: "request timed out", Cause: err}
	case errors.Is(err, context.Canceled):
		return &domain.ApiError{Code: domain.CodeNetworkError, Message: "request canceled", Cause: err}
	}
	return &domain.ApiError{Code: domain.CodeNetworkError, Message: err.Error(), Cause: err}
}

// empty stands in for operations whose data member is ignored.
type empty = jsoniter.RawMessage
