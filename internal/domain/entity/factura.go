package entity

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/ecf-emisor/internal/domain/ecf"
)

// Factura representa un e-CF: un documento legal único. Nunca se elimina
// (obligación de retención de 10 años, propiedad de la capa de almacenamiento).
type Factura struct {
	ID        string
	TenantID  string
	CompanyID string

	RNCEmisor    string // RNC del emisor (nombre de archivo y QR)
	RNCComprador string // RNC/cédula del comprador (QR estándar; vacío en consumo)

	TipoECF string // uno de los diez códigos de pkg/ecf
	ENCF    string // número asignado por el asignador de secuencias; vacío hasta asignar

	Estado ecf.Estado

	// Cuerpos XML. El XML sin firmar lo produce el constructor externo de
	// payloads; sus bytes exactos importan (el digest se calcula sobre ellos).
	XMLSinFirmar string
	XMLFirmado   string
	XMLResumen   string // RFCE: resumen enviado en la vía reducida (tipo 32 < umbral)

	CodigoSeguridad string     // 6 hex minúsculas, derivado de la firma
	FechaFirma      *time.Time // momento de la firma (elemento FechaHoraFirma)

	// Rastro del protocolo DGII.
	TrackID           string // identificador opaco de la recepción estándar
	UltimaRespuesta   string // último código/estado devuelto por la DGII
	UltimoMensaje     string // mensajes de rechazo u observaciones
	UltimaRespuestaEn *time.Time

	// Totales calculados por el colaborador externo de construcción del XML.
	Subtotal   decimal.Decimal
	TotalITBIS decimal.Decimal
	MontoTotal decimal.Decimal

	// Clave de idempotencia del request de emisión (única, opcional).
	IdempotencyKey string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Firmada reporta si la factura ya tiene firma digital aplicada.
func (f *Factura) Firmada() bool {
	return f.XMLFirmado != "" && f.CodigoSeguridad != ""
}

// Enviada reporta si la factura fue entregada al menos una vez a la DGII.
// Invariante: TrackID no vacío implica al menos un envío.
func (f *Factura) Enviada() bool {
	return f.TrackID != "" || f.Estado == ecf.EstadoEnviado
}

// VentanaContingencia plazo regulatorio para reenviar una factura en contingencia,
// contado desde su creación.
const VentanaContingencia = 72 * time.Hour

// DentroDeVentanaContingencia reporta si la factura aún puede reenviarse
// (menos de 72 horas desde su creación).
func (f *Factura) DentroDeVentanaContingencia(ahora time.Time) bool {
	return ahora.Sub(f.CreatedAt) < VentanaContingencia
}
