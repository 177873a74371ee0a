package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/ecf-emisor/internal/application/dto"
	"github.com/jhoicas/ecf-emisor/internal/application/emission"
	"github.com/jhoicas/ecf-emisor/internal/domain/repository"
)

// SecuenciaHandler maneja los rangos de numeración eNCF.
type SecuenciaHandler struct {
	allocator  *emission.Allocator
	anulador   *emission.Anulador
	secuencias repository.SecuenciaRepository
}

// NewSecuenciaHandler construye el handler.
func NewSecuenciaHandler(allocator *emission.Allocator, anulador *emission.Anulador, secuencias repository.SecuenciaRepository) *SecuenciaHandler {
	return &SecuenciaHandler{allocator: allocator, anulador: anulador, secuencias: secuencias}
}

// Registrar da de alta una autorización de numeración DGII.
// POST /api/secuencias
func (h *SecuenciaHandler) Registrar(c *fiber.Ctx) error {
	if GetTenantID(c) == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	var in dto.RegistrarRangoRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	s, err := h.allocator.RegistrarRango(c.Context(), emission.RegistroRango{
		CompanyID: in.CompanyID,
		TipoECF:   in.TipoECF,
		Desde:     in.Desde,
		Hasta:     in.Hasta,
		Vence:     in.Vence,
	})
	if err != nil {
		return responderError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.FromSecuencia(s))
}

// List lista los rangos de una empresa y tipo.
// GET /api/secuencias?company_id=...&tipo_ecf=...
func (h *SecuenciaHandler) List(c *fiber.Ctx) error {
	if GetTenantID(c) == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	companyID := c.Query("company_id")
	tipoECF := c.Query("tipo_ecf")
	if companyID == "" || tipoECF == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "company_id y tipo_ecf requeridos"})
	}
	list, err := h.secuencias.ListByCompanyYTipo(c.Context(), companyID, tipoECF)
	if err != nil {
		return responderError(c, err)
	}
	out := make([]dto.SecuenciaResponse, 0, len(list))
	for _, s := range list {
		out = append(out, dto.FromSecuencia(s))
	}
	return c.JSON(out)
}

// AnularRango reporta a la DGII un tramo de secuencias nunca emitido.
// POST /api/secuencias/anular-rango
func (h *SecuenciaHandler) AnularRango(c *fiber.Ctx) error {
	tenantID := GetTenantID(c)
	if tenantID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	var in dto.AnularRangoRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	err := h.anulador.AnularRangoNoUtilizado(c.Context(), emission.AnulacionRango{
		TenantID:  tenantID,
		CompanyID: in.CompanyID,
		RNCEmisor: in.RNCEmisor,
		TipoECF:   in.TipoECF,
		Desde:     in.Desde,
		Hasta:     in.Hasta,
	})
	if err != nil {
		return responderError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
