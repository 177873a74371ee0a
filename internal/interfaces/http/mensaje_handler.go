package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/ecf-emisor/internal/application/dto"
	"github.com/jhoicas/ecf-emisor/internal/application/emission"
	"github.com/jhoicas/ecf-emisor/internal/domain"
)

// MensajeHandler maneja los mensajes entre partes: acuse de recibo (ARECF) y
// aprobación comercial (ACECF) hacia el emisor de un e-CF recibido.
type MensajeHandler struct {
	mensajeria *emission.Mensajeria
}

// NewMensajeHandler construye el handler.
func NewMensajeHandler(m *emission.Mensajeria) *MensajeHandler {
	return &MensajeHandler{mensajeria: m}
}

// Acuse envía el acuse de recibo de un e-CF recibido.
// POST /api/mensajes/acuse
func (h *MensajeHandler) Acuse(c *fiber.Ctx) error {
	return h.enviar(c, true)
}

// Aprobacion envía la aprobación comercial de un e-CF recibido.
// POST /api/mensajes/aprobacion
func (h *MensajeHandler) Aprobacion(c *fiber.Ctx) error {
	return h.enviar(c, false)
}

func (h *MensajeHandler) enviar(c *fiber.Ctx, acuse bool) error {
	tenantID := GetTenantID(c)
	if tenantID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	var in dto.EnviarMensajeRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	if scoped := GetCompanyID(c); scoped != "" && scoped != in.CompanyID {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Code: "FORBIDDEN", Message: "el token no tiene acceso a la empresa"})
	}

	req := emission.MensajeRequest{
		TenantID:    tenantID,
		CompanyID:   in.CompanyID,
		RNCEmisor:   in.RNCEmisor,
		RNCReceptor: in.RNCReceptor,
		ENCF:        in.ENCF,
		Estado:      in.Estado,
		Detalle:     in.Detalle,
	}
	var err error
	if acuse {
		err = h.mensajeria.EnviarAcuse(c.Context(), req)
	} else {
		err = h.mensajeria.EnviarAprobacionComercial(c.Context(), req)
	}
	if err != nil {
		if domain.IsTransientProtocolError(err) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{Code: "DGII_NO_DISPONIBLE", Message: err.Error()})
		}
		return responderError(c, err)
	}
	return c.JSON(dto.MensajeResponse{ENCF: in.ENCF, Enviado: true})
}
