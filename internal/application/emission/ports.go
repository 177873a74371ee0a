// Package emission contiene los casos de uso del ciclo de emisión del e-CF:
// registro y asignación de secuencias, firma y envío, contingencia, anulación
// y mensajes entre partes (acuse y aprobación comercial).
package emission

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/jhoicas/ecf-emisor/internal/domain/entity"
	"github.com/jhoicas/ecf-emisor/internal/infrastructure/dgii"
	"github.com/jhoicas/ecf-emisor/internal/infrastructure/dgii/signer"
)

// Firmador puerto hacia el motor de firma XMLDSig.
type Firmador interface {
	Sign(xmlBytes []byte, cert tls.Certificate) (*signer.Resultado, error)
}

// Boveda puerto hacia el almacén de certificados. Devuelve el material de
// firma ya descifrado y listo para usar; el descifrado en reposo es asunto
// de la implementación.
type Boveda interface {
	CertificadoDeFirma(ctx context.Context, tenantID, companyID string) (tls.Certificate, error)
}

// ClienteDGII puerto hacia el cliente del protocolo DGII. Para tests se
// inyecta un doble; la implementación real es *dgii.Client.
type ClienteDGII interface {
	Token(ctx context.Context, tenantID, companyID string, cert tls.Certificate) (string, error)
	InvalidateToken(tenantID, companyID string)
	Enviar(ctx context.Context, token string, xmlFirmado []byte, filename string) (*dgii.Recepcion, error)
	EnviarResumen(ctx context.Context, token string, resumenFirmado []byte, filename string) (*dgii.RecepcionFC, error)
	ConsultarResultado(ctx context.Context, token, trackID string) (*dgii.ResultadoConsulta, error)
	AnularRango(ctx context.Context, token string, anecfFirmado []byte, filename string) (*dgii.ResultadoAnulacion, error)
	EnviarAcuse(ctx context.Context, token, destinoURL string, arecfFirmado []byte, filename string) (*dgii.ResultadoAcuse, error)
	EnviarAprobacionComercial(ctx context.Context, token, destinoURL string, acecfFirmado []byte, filename string) (*dgii.ResultadoAcuse, error)
	Directorio(ctx context.Context, token string) ([]dgii.EmisorDirectorio, error)
	ServicioDisponible(ctx context.Context) error
}

var _ ClienteDGII = (*dgii.Client)(nil)

// Notificador puerto de salida de eventos de ciclo de vida. El dispatcher de
// webhooks lo implementa; en tests se usa un doble o nil-safe no-op.
type Notificador interface {
	NotificarCambioEstado(ctx context.Context, f *entity.Factura)
}

// NotificadorNop descarta los eventos (tests y CLI).
type NotificadorNop struct{}

func (NotificadorNop) NotificarCambioEstado(context.Context, *entity.Factura) {}

// nombreArchivo nombre de archivo exigido por la recepción: <RNC><eNCF>.xml.
func nombreArchivo(rncEmisor, encf string) string {
	return rncEmisor + encf + ".xml"
}

// fechaHoraDGII formatea el sello de fecha/hora del protocolo (dd-MM-aaaa HH:mm:ss).
func fechaHoraDGII(t time.Time) string {
	return t.Format("02-01-2006 15:04:05")
}
