package dto

import (
	"time"

	"github.com/jhoicas/ecf-emisor/internal/domain/entity"
)

// CargarCertificadoRequest alta de un certificado de firma. El contenedor
// PKCS#12 viaja en base64 y se guarda cifrado en la bóveda.
type CargarCertificadoRequest struct {
	CompanyID  string `json:"company_id"`
	Alias      string `json:"alias,omitempty"`
	RNCEmisor  string `json:"rnc_emisor"`
	Contenedor string `json:"contenedor"` // PKCS#12 en base64
	Passphrase string `json:"passphrase"`
}

// CertificadoResponse metadatos y salud de un certificado.
type CertificadoResponse struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	Alias     string    `json:"alias,omitempty"`
	Vence     time.Time `json:"vence"`
	Activo    bool      `json:"activo"`
	Salud     string    `json:"salud"`
}

// FromCertificado convierte la entidad al contrato de la API.
func FromCertificado(c *entity.Certificado, ahora time.Time) CertificadoResponse {
	return CertificadoResponse{
		ID:        c.ID,
		CompanyID: c.CompanyID,
		Alias:     c.Alias,
		Vence:     c.Vence,
		Activo:    c.Activo,
		Salud:     c.Salud(ahora),
	}
}

// CrearWebhookRequest alta de una suscripción de webhooks del tenant.
type CrearWebhookRequest struct {
	URL    string `json:"url"`
	Secret string `json:"secret"`
}
