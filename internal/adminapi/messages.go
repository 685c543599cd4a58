package adminapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Paulofn1/green-connect-hub/internal/domain"
	"github.com/Paulofn1/green-connect-hub/internal/webserver"
)

func registerMessageRoutes() {
	webserver.ApiPOST("/whatsapp/messages/send", postSendMessage)
	webserver.ApiPOST("/whatsapp/messages/bulk", postBulkMessages)
	webserver.ApiGET("/whatsapp/messages/:contactId", getMessageHistory)
}

// postSendMessage sends one message through the backend.
// Body JSON: { "accountId": "...", "phone": "...", "message": "...", "mediaUrl": "..." }
func postSendMessage(c echo.Context) error {
	svc, err := service(c)
	if svc == nil {
		return err
	}
	var payload domain.SendMessagePayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	msg, err := svc.SendMessage(c.Request().Context(), payload)
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, msg)
}

// postBulkMessages sends one message to many phones; delayBetweenMessages
// is in milliseconds and honored by the backend.
func postBulkMessages(c echo.Context) error {
	svc, err := service(c)
	if svc == nil {
		return err
	}
	var payload domain.BulkMessagePayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	res, err := svc.SendBulkMessages(c.Request().Context(), payload)
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, res)
}

func getMessageHistory(c echo.Context) error {
	svc, err := service(c)
	if svc == nil {
		return err
	}
	msgs, err := svc.MessageHistory(c.Request().Context(), c.Param("contactId"))
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, msgs)
}
