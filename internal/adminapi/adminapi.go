package adminapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/Paulofn1/green-connect-hub/internal/domain"
)

// Init registers every local API route on the web server.
func Init() {
	registerAccountRoutes()
	registerChannelRoutes()
	registerMessageRoutes()
}

type envelope struct {
	Success bool              `json:"success"`
	Data    interface{}       `json:"data,omitempty"`
	Error   *domain.ErrorBody `json:"error,omitempty"`
	Details interface{}       `json:"details,omitempty"`
}

func ok(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, envelope{Success: true, Data: data})
}

func fail(c echo.Context, status int, code, message string, details interface{}) error {
	return c.JSON(status, envelope{
		Error:   &domain.ErrorBody{Code: code, Message: message},
		Details: details,
	})
}

// failErr renders a command error, keeping the backend's code.
func failErr(c echo.Context, err error) error {
	var ae *domain.ApiError
	if !errors.As(err, &ae) {
		return fail(c, http.StatusInternalServerError, domain.CodeUnknownError, err.Error(), nil)
	}
	return fail(c, statusFor(ae), ae.Code, ae.Message, nil)
}

func statusFor(ae *domain.ApiError) int {
	switch ae.Code {
	case domain.CodeValidationError:
		return http.StatusBadRequest
	case domain.CodeAccountNotFound:
		return http.StatusNotFound
	case domain.CodeInvalidState:
		return http.StatusConflict
	case domain.CodeTimeout:
		return http.StatusGatewayTimeout
	}
	if ae.Status >= 400 && ae.Status < 500 {
		return ae.Status
	}
	return http.StatusBadGateway
}
