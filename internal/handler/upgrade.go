package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/activation-server/internal/service"
)

// UpgradeHandler exposes the activation upgrade endpoints.
type UpgradeHandler struct {
	Upgrades  *service.UpgradeService
	Localizer service.Localizer
}

func NewUpgradeHandler(upgrades *service.UpgradeService, loc service.Localizer) *UpgradeHandler {
	return &UpgradeHandler{Upgrades: upgrades, Localizer: loc}
}

// StartUpgrade handles POST /v3/upgrade/start. The request and response
// bodies are encrypted envelopes.
func (h *UpgradeHandler) StartUpgrade(c echo.Context) error {
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
	resp, err := h.Upgrades.StartUpgrade(ctx, req)
	if err != nil {
		return respondError(c, h.Localizer, err)
	}
	return c.JSON(http.StatusOK, encodeEnvelope(resp))
}

// CommitUpgrade handles POST /v3/upgrade/commit.
func (h *UpgradeHandler) CommitUpgrade(c echo.Context) error {
	var body struct {
		ActivationID   string `json:"activationId"`
		ApplicationKey string `json:"applicationKey"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	committed, err := h.Upgrades.CommitUpgrade(ctx, body.ActivationID, body.ApplicationKey)
	if err != nil {
		return respondError(c, h.Localizer, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"committed": committed})
}
