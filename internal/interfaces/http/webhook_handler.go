package http

import (
	"net/url"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/ecf-emisor/internal/application/dto"
	"github.com/jhoicas/ecf-emisor/internal/domain/entity"
	"github.com/jhoicas/ecf-emisor/internal/domain/repository"
)

// WebhookHandler maneja las suscripciones de webhooks del tenant.
type WebhookHandler struct {
	webhooks repository.WebhookRepository
}

// NewWebhookHandler construye el handler.
func NewWebhookHandler(webhooks repository.WebhookRepository) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks}
}

// Crear suscribe una URL a los eventos de ciclo de vida de las facturas.
// POST /api/webhooks
func (h *WebhookHandler) Crear(c *fiber.Ctx) error {
	tenantID := GetTenantID(c)
	if tenantID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	var in dto.CrearWebhookRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	u, err := url.Parse(in.URL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "url inválida"})
	}
	if len(in.Secret) < 16 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "secret de al menos 16 caracteres"})
	}
	w := &entity.WebhookSubscription{
		TenantID: tenantID,
		URL:      in.URL,
		Secret:   in.Secret,
		Activa:   true,
	}
	if err := h.webhooks.Create(c.Context(), w); err != nil {
		return responderError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": w.ID, "url": w.URL, "activa": w.Activa})
}
