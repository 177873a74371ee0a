package http

import (
	"encoding/base64"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/ecf-emisor/internal/application/dto"
	"github.com/jhoicas/ecf-emisor/internal/application/emission"
)

// CertificadoHandler maneja el alta y consulta de certificados de firma.
type CertificadoHandler struct {
	certs *emission.Certificados
}

// NewCertificadoHandler construye el handler.
func NewCertificadoHandler(certs *emission.Certificados) *CertificadoHandler {
	return &CertificadoHandler{certs: certs}
}

// Cargar registra un certificado PKCS#12 (base64) para una empresa.
// POST /api/certificados
func (h *CertificadoHandler) Cargar(c *fiber.Ctx) error {
	tenantID := GetTenantID(c)
	if tenantID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	var in dto.CargarCertificadoRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	contenedor, err := base64.StdEncoding.DecodeString(in.Contenedor)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "contenedor no es base64 válido"})
	}
	cert, err := h.certs.Cargar(c.Context(), emission.CargarRequest{
		TenantID:   tenantID,
		CompanyID:  in.CompanyID,
		Alias:      in.Alias,
		RNCEmisor:  in.RNCEmisor,
		Contenedor: contenedor,
		Passphrase: in.Passphrase,
	})
	if err != nil {
		return responderError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.FromCertificado(cert, time.Now()))
}

// Activo devuelve el certificado vigente de una empresa con su salud.
// GET /api/certificados/activo?company_id=...
func (h *CertificadoHandler) Activo(c *fiber.Ctx) error {
	tenantID := GetTenantID(c)
	if tenantID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	companyID := c.Query("company_id")
	if companyID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "company_id requerido"})
	}
	cert, err := h.certs.Activo(c.Context(), tenantID, companyID)
	if err != nil {
		return responderError(c, err)
	}
	return c.JSON(dto.FromCertificado(cert, time.Now()))
}
