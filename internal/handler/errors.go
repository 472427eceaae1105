package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/activation-server/internal/service"
)

// statusForCode maps a business error code to its HTTP status. Codes
// not listed fall through to 400; infrastructure failures are never
// ServiceErrors and map to 500 in respondError.
var statusForCode = map[service.ErrorCode]int{
	service.ErrCodeActivationNotFound:           http.StatusNotFound,
	service.ErrCodeRecoveryCodeNotFound:         http.StatusNotFound,
	service.ErrCodeActivationIncorrectState:     http.StatusConflict,
	service.ErrCodeRecoveryCodeAlreadyExists:    http.StatusConflict,
	service.ErrCodeReplayDetected:               http.StatusConflict,
	service.ErrCodeGenericCryptography:          http.StatusInternalServerError,
	service.ErrCodeCryptoProviderUnavailable:    http.StatusInternalServerError,
	service.ErrCodeUnableToGenerateToken:        http.StatusInternalServerError,
	service.ErrCodeUnableToGenerateRecoveryCode: http.StatusInternalServerError,
}

// respondError writes the error body for a failed operation. Business
// errors carry their stable code and localized message; anything else is
// logged and reported as a generic server error so internals do not leak.
func respondError(c echo.Context, loc service.Localizer, err error) error {
	var svcErr *service.ServiceError
	if errors.As(err, &svcErr) {
		status, ok := statusForCode[svcErr.Code]
		if !ok {
			status = http.StatusBadRequest
		}
		return c.JSON(status, echo.Map{
			"error":   string(svcErr.Code),
			"message": loc.Message(svcErr.Code),
		})
	}
	log.Printf("handler: internal error: %v", err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "server error"})
}
