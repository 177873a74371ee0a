package dto

import (
	"time"

	"github.com/jhoicas/ecf-emisor/internal/domain/entity"
	"github.com/jhoicas/ecf-emisor/internal/infrastructure/dgii/signer"
	"github.com/jhoicas/ecf-emisor/pkg/ecf"
)

// EmitirFacturaRequest solicitud de emisión de un e-CF. El XML del documento
// y sus totales vienen ya construidos por el sistema comercial del tenant.
type EmitirFacturaRequest struct {
	CompanyID    string `json:"company_id"`
	RNCEmisor    string `json:"rnc_emisor"`
	RNCComprador string `json:"rnc_comprador,omitempty"`
	TipoECF      string `json:"tipo_ecf"`
	XMLSinFirmar string `json:"xml"`
	XMLResumen   string `json:"xml_resumen,omitempty"`
	Subtotal     string `json:"subtotal"`
	TotalITBIS   string `json:"total_itbis"`
	MontoTotal   string `json:"monto_total"`
}

// FacturaResponse representación de una factura hacia la API.
type FacturaResponse struct {
	ID              string     `json:"id"`
	CompanyID       string     `json:"company_id"`
	RNCEmisor       string     `json:"rnc_emisor"`
	RNCComprador    string     `json:"rnc_comprador,omitempty"`
	TipoECF         string     `json:"tipo_ecf"`
	ENCF            string     `json:"encf,omitempty"`
	Estado          string     `json:"estado"`
	TrackID         string     `json:"track_id,omitempty"`
	CodigoSeguridad string     `json:"codigo_seguridad,omitempty"`
	FechaFirma      *time.Time `json:"fecha_firma,omitempty"`
	UltimaRespuesta string     `json:"ultima_respuesta,omitempty"`
	UltimoMensaje   string     `json:"ultimo_mensaje,omitempty"`
	MontoTotal      string     `json:"monto_total"`
	URLConsultaQR   string     `json:"url_consulta_qr,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// FromFactura convierte la entidad al contrato de la API (sin cuerpos XML).
func FromFactura(f *entity.Factura) FacturaResponse {
	return FacturaResponse{
		ID:              f.ID,
		CompanyID:       f.CompanyID,
		RNCEmisor:       f.RNCEmisor,
		RNCComprador:    f.RNCComprador,
		TipoECF:         f.TipoECF,
		ENCF:            f.ENCF,
		Estado:          string(f.Estado),
		TrackID:         f.TrackID,
		CodigoSeguridad: f.CodigoSeguridad,
		FechaFirma:      f.FechaFirma,
		UltimaRespuesta: f.UltimaRespuesta,
		UltimoMensaje:   f.UltimoMensaje,
		MontoTotal:      f.MontoTotal.StringFixed(2),
		CreatedAt:       f.CreatedAt,
		UpdatedAt:       f.UpdatedAt,
	}
}

// FromFacturaConQR agrega la URL de consulta de timbre (el destino del QR
// impreso en la representación) cuando la factura ya está firmada.
func FromFacturaConQR(f *entity.Factura, environment string) FacturaResponse {
	out := FromFactura(f)
	if !f.Firmada() || f.FechaFirma == nil {
		return out
	}
	p := signer.QRParams{
		Environment:     environment,
		RNCEmisor:       f.RNCEmisor,
		RNCComprador:    f.RNCComprador,
		ENCF:            f.ENCF,
		FechaEmision:    f.CreatedAt,
		MontoTotal:      f.MontoTotal,
		FechaFirma:      *f.FechaFirma,
		CodigoSeguridad: f.CodigoSeguridad,
	}
	if ecf.AplicaRFCE(f.TipoECF, f.MontoTotal) {
		out.URLConsultaQR = signer.BuildVerificationURLFC(p)
	} else {
		out.URLConsultaQR = signer.BuildVerificationURL(p)
	}
	return out
}
