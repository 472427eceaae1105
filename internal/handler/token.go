package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/activation-server/internal/service"
)

// TokenHandler exposes the MAC token endpoints.
type TokenHandler struct {
	Tokens    *service.TokenService
	Localizer service.Localizer
}

func NewTokenHandler(tokens *service.TokenService, loc service.Localizer) *TokenHandler {
	return &TokenHandler{Tokens: tokens, Localizer: loc}
}

// CreateToken handles POST /v3/token/create. The envelope fields ride
// next to the signature type that authorized the call.
func (h *TokenHandler) CreateToken(c echo.Context) error {
	var body struct {
		encryptedRequestBody
		SignatureType string `json:"signatureType"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	req, err := decodeEnvelope(body.encryptedRequestBody)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	resp, err := h.Tokens.CreateToken(ctx, req, body.SignatureType)
	if err != nil {
		return respondError(c, h.Localizer, err)
	}
	return c.JSON(http.StatusOK, encodeEnvelope(resp))
}

// ValidateToken handles POST /v3/token/validate. The result is always a
// 200 with a tokenValid flag; callers must not learn why validation
// failed.
func (h *TokenHandler) ValidateToken(c echo.Context) error {
	var body struct {
		TokenID     string `json:"tokenId"`
		TokenDigest string `json:"tokenDigest"`
		Nonce       string `json:"nonce"`
		Timestamp   int64  `json:"timestamp"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	digest, err := decodeField("tokenDigest", body.TokenDigest)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	nonce, err := decodeField("nonce", body.Nonce)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	result, err := h.Tokens.ValidateToken(ctx, service.ValidateTokenRequest{
		TokenID:     body.TokenID,
		TokenDigest: digest,
		Nonce:       nonce,
		Timestamp:   body.Timestamp,
	})
	if err != nil {
		return respondError(c, h.Localizer, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"tokenValid":       result.TokenValid,
		"activationId":     result.ActivationID,
		"userId":           result.UserID,
		"applicationId":    result.ApplicationID,
		"activationStatus": result.ActivationStatus,
		"blockedReason":    result.BlockedReason,
		"activationFlags":  result.ActivationFlags,
		"applicationRoles": result.ApplicationRoles,
		"signatureType":    result.SignatureType,
	})
}

// RemoveToken handles POST /v3/token/remove. Removal of a token that
// does not exist or belongs to another activation reports removed=false.
func (h *TokenHandler) RemoveToken(c echo.Context) error {
	var body struct {
		TokenID      string `json:"tokenId"`
		ActivationID string `json:"activationId"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	removed, err := h.Tokens.RemoveToken(ctx, body.TokenID, body.ActivationID)
	if err != nil {
		return respondError(c, h.Localizer, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"removed": removed})
}
