package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/activation-server/internal/model"
	"github.com/iliyamo/activation-server/internal/service"
)

// RecoveryHandler exposes the recovery code endpoints: the encrypted
// confirm operation on the protocol surface and the administrative
// create/lookup/revoke/config operations behind bearer auth.
type RecoveryHandler struct {
	Recovery  *service.RecoveryEngine
	Localizer service.Localizer
}

func NewRecoveryHandler(recovery *service.RecoveryEngine, loc service.Localizer) *RecoveryHandler {
	return &RecoveryHandler{Recovery: recovery, Localizer: loc}
}

// ConfirmRecoveryCode handles POST /v3/recovery/confirm. The request and
// response bodies are encrypted envelopes.
func (h *RecoveryHandler) ConfirmRecoveryCode(c echo.Context) error {
	var body encryptedRequestBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	req, err := decodeEnvelope(body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	resp, err := h.Recovery.ConfirmRecoveryCode(ctx, req)
	if err != nil {
		return respondError(c, h.Localizer, err)
	}
	return c.JSON(http.StatusOK, encodeEnvelope(resp))
}

// CreateRecoveryCode handles POST /admin/recovery/create. The PUK
// plaintexts appear in this response only; storage keeps hashes.
func (h *RecoveryHandler) CreateRecoveryCode(c echo.Context) error {
	var body struct {
		ApplicationID string `json:"applicationId"`
		UserID        string `json:"userId"`
		PukCount      int    `json:"pukCount"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	created, err := h.Recovery.CreateRecoveryCode(ctx, service.CreateRecoveryCodeRequest{
		ApplicationID: body.ApplicationID,
		UserID:        body.UserID,
		PukCount:      body.PukCount,
	})
	if err != nil {
		return respondError(c, h.Localizer, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"recoveryCodeId":       created.RecoveryCodeID,
		"recoveryCodeMasked":   created.MaskedCode,
		"status":               created.Status,
		"seedNonce":            created.SeedNonce,
		"puks":                 created.Puks,
		"pukDerivationIndexes": created.PukDerivationIdx,
	})
}

// LookupRecoveryCodes handles POST /admin/recovery/lookup.
func (h *RecoveryHandler) LookupRecoveryCodes(c echo.Context) error {
	var body struct {
		ApplicationID      string `json:"applicationId"`
		UserID             string `json:"userId"`
		ActivationID       string `json:"activationId"`
		RecoveryCodeStatus string `json:"recoveryCodeStatus"`
		RecoveryPukStatus  string `json:"recoveryPukStatus"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	codes, err := h.Recovery.LookupRecoveryCodes(ctx, service.LookupRecoveryCodesRequest{
		ApplicationID:      body.ApplicationID,
		UserID:             body.UserID,
		ActivationID:       body.ActivationID,
		RecoveryCodeStatus: model.RecoveryCodeStatus(body.RecoveryCodeStatus),
		RecoveryPukStatus:  model.RecoveryPukStatus(body.RecoveryPukStatus),
	})
	if err != nil {
		return respondError(c, h.Localizer, err)
	}
	items := make([]echo.Map, 0, len(codes))
	for _, code := range codes {
		puks := make([]echo.Map, 0, len(code.Puks))
		for _, puk := range code.Puks {
			puks = append(puks, echo.Map{
				"pukIndex":     puk.PukIndex,
				"status":       puk.Status,
				"lastChangeAt": puk.LastChangeAt,
			})
		}
		items = append(items, echo.Map{
			"recoveryCodeId":     code.RecoveryCodeID,
			"recoveryCodeMasked": code.MaskedCode,
			"applicationId":      code.ApplicationID,
			"userId":             code.UserID,
			"activationId":       code.ActivationID,
			"status":             code.Status,
			"puks":               puks,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"recoveryCodes": items})
}

// RevokeRecoveryCodes handles POST /admin/recovery/revoke.
func (h *RecoveryHandler) RevokeRecoveryCodes(c echo.Context) error {
	var body struct {
		RecoveryCodeIDs []int64 `json:"recoveryCodeIds"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	revoked, err := h.Recovery.RevokeRecoveryCodes(ctx, body.RecoveryCodeIDs)
	if err != nil {
		return respondError(c, h.Localizer, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"revoked": revoked})
}

// GetRecoveryConfig handles GET /admin/recovery/config/:applicationId.
func (h *RecoveryHandler) GetRecoveryConfig(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	cfg, err := h.Recovery.GetRecoveryConfig(ctx, c.Param("applicationId"))
	if err != nil {
		return respondError(c, h.Localizer, err)
	}
	return c.JSON(http.StatusOK, recoveryConfigBody(cfg))
}

// UpdateRecoveryConfig handles PUT /admin/recovery/config/:applicationId.
func (h *RecoveryHandler) UpdateRecoveryConfig(c echo.Context) error {
	var body struct {
		ActivationRecovery   bool    `json:"activationRecoveryEnabled"`
		PostcardRecovery     bool    `json:"postcardRecoveryEnabled"`
		AllowMultipleCodes   bool    `json:"allowMultipleRecoveryCodes"`
		RemotePostcardPublic *string `json:"remotePostcardPublicKey"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	cfg, err := h.Recovery.UpdateRecoveryConfig(ctx, service.UpdateRecoveryConfigRequest{
		ApplicationID:        c.Param("applicationId"),
		ActivationRecovery:   body.ActivationRecovery,
		PostcardRecovery:     body.PostcardRecovery,
		AllowMultipleCodes:   body.AllowMultipleCodes,
		RemotePostcardPublic: body.RemotePostcardPublic,
	})
	if err != nil {
		return respondError(c, h.Localizer, err)
	}
	return c.JSON(http.StatusOK, recoveryConfigBody(cfg))
}

// recoveryConfigBody renders the config without the private key column.
func recoveryConfigBody(cfg *model.RecoveryConfig) echo.Map {
	return echo.Map{
		"applicationId":              cfg.ApplicationID,
		"activationRecoveryEnabled":  cfg.ActivationRecovery,
		"postcardRecoveryEnabled":    cfg.PostcardRecovery,
		"allowMultipleRecoveryCodes": cfg.AllowMultipleCodes,
		"postcardPublicKey":          cfg.PostcardPublicKey,
		"remotePostcardPublicKey":    cfg.RemotePostcardPublic,
	}
}
