package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/ecf-emisor/internal/application/dto"
	"github.com/jhoicas/ecf-emisor/internal/application/emission"
	"github.com/jhoicas/ecf-emisor/internal/application/pipeline"
	"github.com/jhoicas/ecf-emisor/internal/domain"
)

// FacturaHandler maneja las peticiones de emisión y consulta de e-CF.
type FacturaHandler struct {
	issuer   *emission.Issuer
	anulador *emission.Anulador
	pipe     *pipeline.Pipeline
	entorno  string // ambiente DGII, para la URL de consulta de timbre
}

// NewFacturaHandler construye el handler.
func NewFacturaHandler(issuer *emission.Issuer, anulador *emission.Anulador, pipe *pipeline.Pipeline, entorno string) *FacturaHandler {
	return &FacturaHandler{issuer: issuer, anulador: anulador, pipe: pipe, entorno: entorno}
}

// Emitir registra la factura y encola su firma y envío.
// POST /api/facturas  (cabecera opcional Idempotency-Key)
func (h *FacturaHandler) Emitir(c *fiber.Ctx) error {
	tenantID := GetTenantID(c)
	if tenantID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	var in dto.EmitirFacturaRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	if scoped := GetCompanyID(c); scoped != "" && scoped != in.CompanyID {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Code: "FORBIDDEN", Message: "el token no tiene acceso a la empresa"})
	}

	f, existente, err := h.issuer.Emitir(c.Context(), emission.EmitirRequest{
		TenantID:       tenantID,
		CompanyID:      in.CompanyID,
		RNCEmisor:      in.RNCEmisor,
		RNCComprador:   in.RNCComprador,
		TipoECF:        in.TipoECF,
		XMLSinFirmar:   in.XMLSinFirmar,
		XMLResumen:     in.XMLResumen,
		Subtotal:       in.Subtotal,
		TotalITBIS:     in.TotalITBIS,
		MontoTotal:     in.MontoTotal,
		IdempotencyKey: c.Get("Idempotency-Key"),
	})
	if err != nil {
		return responderError(c, err)
	}
	if existente {
		// repetición idempotente: devolver la factura original sin re-encolar
		return c.Status(fiber.StatusOK).JSON(dto.FromFactura(f))
	}
	h.pipe.EncolarEmision(f.ID)
	return c.Status(fiber.StatusAccepted).JSON(dto.FromFactura(f))
}

// GetByID devuelve el estado actual de una factura.
// GET /api/facturas/:id
func (h *FacturaHandler) GetByID(c *fiber.Ctx) error {
	tenantID := GetTenantID(c)
	if tenantID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	f, err := h.issuer.Factura(c.Context(), tenantID, c.Params("id"))
	if err != nil {
		return responderError(c, err)
	}
	return c.JSON(dto.FromFacturaConQR(f, h.entorno))
}

// Anular anula una factura según su elegibilidad.
// POST /api/facturas/:id/anular
func (h *FacturaHandler) Anular(c *fiber.Ctx) error {
	tenantID := GetTenantID(c)
	if tenantID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	if _, err := h.issuer.Factura(c.Context(), tenantID, c.Params("id")); err != nil {
		return responderError(c, err)
	}
	f, err := h.anulador.AnularFactura(c.Context(), c.Params("id"))
	if err != nil {
		return responderError(c, err)
	}
	return c.JSON(dto.FromFactura(f))
}

// responderError mapea los errores de dominio al contrato HTTP.
func responderError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "recurso no encontrado"})
	case errors.Is(err, domain.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: err.Error()})
	case errors.Is(err, domain.ErrDuplicate):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "DUPLICATE", Message: err.Error()})
	case errors.Is(err, domain.ErrRangoSolapado):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "RANGO_SOLAPADO", Message: err.Error()})
	case errors.Is(err, domain.ErrAnulacionRequiereNotaCredito):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "REQUIERE_NOTA_CREDITO", Message: err.Error()})
	case errors.Is(err, domain.ErrAnulacionEnVuelo):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "EN_VUELO", Message: err.Error()})
	case errors.Is(err, domain.ErrConflict):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "CONFLICT", Message: err.Error()})
	case errors.Is(err, domain.ErrSecuenciaNoEncontrada),
		errors.Is(err, domain.ErrSecuenciaVencida),
		errors.Is(err, domain.ErrSecuenciaAgotada):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "SECUENCIA", Message: err.Error()})
	case errors.Is(err, domain.ErrUnauthorized):
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: err.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
}
