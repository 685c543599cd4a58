package adminapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Paulofn1/green-connect-hub/internal/domain"
	"github.com/Paulofn1/green-connect-hub/internal/webserver"
	"github.com/Paulofn1/green-connect-hub/internal/whatsapp"
)

func registerAccountRoutes() {
	webserver.ApiGET("/whatsapp/accounts", listAccounts)
	webserver.ApiPOST("/whatsapp/accounts", createAccount)
	webserver.ApiGET("/whatsapp/accounts/:id", getAccount)
	webserver.ApiPATCH("/whatsapp/accounts/:id", updateAccount)
	webserver.ApiDELETE("/whatsapp/accounts/:id", deleteAccount)
	webserver.ApiPOST("/whatsapp/accounts/:id/connect", connectAccount)
	webserver.ApiPOST("/whatsapp/accounts/:id/disconnect", disconnectAccount)
	webserver.ApiPOST("/whatsapp/accounts/:id/select", selectAccount)
	webserver.ApiPOST("/whatsapp/accounts/:id/refresh", refreshAccount)
	webserver.ApiGET("/whatsapp/accounts/:id/qr", getAccountQR)
	webserver.ApiGET("/whatsapp/accounts/:id/logs", getAccountLogs)
}

func registerChannelRoutes() {
	webserver.ApiGET("/whatsapp/channel", getChannelStatus)
	webserver.ApiPOST("/whatsapp/channel/reconnect", reconnectChannel)
	webserver.ApiPOST("/whatsapp/resync", postResync)
}

func service(c echo.Context) (*whatsapp.Service, error) {
	svc := whatsapp.Get()
	if svc == nil {
		return nil, fail(c, http.StatusServiceUnavailable, "WA_NOT_INITIALIZED", "WhatsApp service not initialized", nil)
	}
	return svc, nil
}

// listAccounts returns the reconciled local account list.
func listAccounts(c echo.Context) error {
	svc, err := service(c)
	if svc == nil {
		return err
	}
	return ok(c, svc.Accounts())
}

func getAccount(c echo.Context) error {
	svc, err := service(c)
	if svc == nil {
		return err
	}
	acc, err := svc.Account(c.Param("id"))
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, acc)
}

func createAccount(c echo.Context) error {
	svc, err := service(c)
	if svc == nil {
		return err
	}
	var payload domain.CreateAccountPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	acc, err := svc.CreateAccount(c.Request().Context(), payload)
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, acc)
}

func updateAccount(c echo.Context) error {
	svc, err := service(c)
	if svc == nil {
		return err
	}
	var payload domain.UpdateAccountPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	acc, err := svc.UpdateAccount(c.Request().Context(), c.Param("id"), payload)
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, acc)
}

func deleteAccount(c echo.Context) error {
	svc, err := service(c)
	if svc == nil {
		return err
	}
	if err := svc.DeleteAccount(c.Request().Context(), c.Param("id")); err != nil {
		return failErr(c, err)
	}
	return ok(c, map[string]interface{}{"deleted": true})
}

// connectAccount starts pairing. The response only acknowledges the
// request; progress is read back from the account status and QR.
func connectAccount(c echo.Context) error {
	svc, err := service(c)
	if svc == nil {
		return err
	}
	id := c.Param("id")
	if err := svc.Connect(c.Request().Context(), id); err != nil {
		return failErr(c, err)
	}
	zap.L().Info("adminapi: connect requested", zap.String("account_id", id))
	return ok(c, map[string]interface{}{"started": true})
}

func disconnectAccount(c echo.Context) error {
	svc, err := service(c)
	if svc == nil {
		return err
	}
	if err := svc.Disconnect(c.Request().Context(), c.Param("id")); err != nil {
		return failErr(c, err)
	}
	return ok(c, map[string]interface{}{"disconnected": true})
}

func selectAccount(c echo.Context) error {
	svc, err := service(c)
	if svc == nil {
		return err
	}
	id := c.Param("id")
	if err := svc.Select(c.Request().Context(), id); err != nil {
		return failErr(c, err)
	}
	acc, err := svc.Account(id)
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, acc)
}

func refreshAccount(c echo.Context) error {
	svc, err := service(c)
	if svc == nil {
		return err
	}
	id := c.Param("id")
	if err := svc.RefreshAccount(c.Request().Context(), id); err != nil {
		return failErr(c, err)
	}
	acc, err := svc.Account(id)
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, acc)
}

// getAccountQR returns the pending QR code. The caller renders the image
// from the payload.
func getAccountQR(c echo.Context) error {
	svc, err := service(c)
	if svc == nil {
		return err
	}
	id := c.Param("id")
	qr, has := svc.QRCode(id)
	if !has {
		zap.L().Debug("adminapi: no QR available", zap.String("account_id", id))
		return fail(c, http.StatusNotFound, "QR_NOT_AVAILABLE", "No QR code available", nil)
	}
	zap.L().Debug("adminapi: QR served", zap.String("account_id", id), zap.Int("code_len", len(qr.Payload)))
	return ok(c, qr)
}

// getAccountLogs returns the connection log newest first, as JSON or as
// CSV with ?format=csv.
func getAccountLogs(c echo.Context) error {
	svc, err := service(c)
	if svc == nil {
		return err
	}
	id := c.Param("id")
	logs := svc.Logs(id)
	if strings.EqualFold(c.QueryParam("format"), "csv") {
		data, err := gocsv.MarshalBytes(&logs)
		if err != nil {
			return fail(c, http.StatusInternalServerError, "EXPORT_FAILED", "Failed to export logs", err.Error())
		}
		c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", id+"-logs.csv"))
		return c.Blob(http.StatusOK, "text/csv; charset=utf-8", data)
	}
	return ok(c, logs)
}

func getChannelStatus(c echo.Context) error {
	svc, err := service(c)
	if svc == nil {
		return err
	}
	return ok(c, map[string]interface{}{
		"connected": svc.SocketConnected(),
		"selected":  svc.Selected(),
		"rooms":     svc.Rooms(),
		"errors":    svc.GlobalErrors(),
	})
}

func reconnectChannel(c echo.Context) error {
	svc, err := service(c)
	if svc == nil {
		return err
	}
	svc.ReconnectChannel()
	return ok(c, map[string]interface{}{"started": true})
}

func postResync(c echo.Context) error {
	svc, err := service(c)
	if svc == nil {
		return err
	}
	if err := svc.Resync(c.Request().Context()); err != nil {
		return failErr(c, err)
	}
	return ok(c, svc.Accounts())
}
