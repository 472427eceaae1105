package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/activation-server/internal/service"
)

func respond(t *testing.T, err error) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	require.NoError(t, respondError(c, service.DefaultLocalizer{}, err))
	return rec
}

func TestRespondErrorStatusMapping(t *testing.T) {
	for code, status := range map[service.ErrorCode]int{
		service.ErrCodeActivationNotFound:       http.StatusNotFound,
		service.ErrCodeRecoveryCodeNotFound:     http.StatusNotFound,
		service.ErrCodeActivationIncorrectState: http.StatusConflict,
		service.ErrCodeReplayDetected:           http.StatusConflict,
		service.ErrCodeUnableToGenerateToken:    http.StatusInternalServerError,
		service.ErrCodeInvalidRequest:           http.StatusBadRequest,
		service.ErrCodeDecryptionFailed:         http.StatusBadRequest,
	} {
		t.Run(string(code), func(t *testing.T) {
			rec := respond(t, &service.ServiceError{Code: code})
			require.Equal(t, status, rec.Code)

			var body struct {
				Error   string `json:"error"`
				Message string `json:"message"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, string(code), body.Error)
			require.NotEmpty(t, body.Message)
		})
	}
}

func TestRespondErrorHidesInternalErrors(t *testing.T) {
	rec := respond(t, errors.New("dial tcp 127.0.0.1:3306: connection refused"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "3306")
	require.Contains(t, rec.Body.String(), "server error")
}
