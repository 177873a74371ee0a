package emission

import (
	"context"
	"fmt"
	"time"

	"github.com/jhoicas/ecf-emisor/internal/domain"
	pkgecf "github.com/jhoicas/ecf-emisor/pkg/ecf"
	"github.com/jhoicas/ecf-emisor/pkg/logger"
)

// Mensajeria envía los mensajes entre partes del ecosistema e-CF: el acuse
// de recibo (ARECF) y la aprobación comercial (ACECF) hacia el emisor de un
// documento recibido. El destino se resuelve por el directorio de emisores.
type Mensajeria struct {
	boveda   Boveda
	firmador Firmador
	cliente  ClienteDGII
	log      *logger.Logger
	now      func() time.Time
}

// NewMensajeria construye el servicio de mensajes entre partes.
func NewMensajeria(boveda Boveda, firmador Firmador, cliente ClienteDGII, log *logger.Logger) *Mensajeria {
	return &Mensajeria{boveda: boveda, firmador: firmador, cliente: cliente, log: log, now: time.Now}
}

// WithClock reemplaza el reloj (tests).
func (m *Mensajeria) WithClock(now func() time.Time) *Mensajeria {
	m.now = now
	return m
}

// Estados del acuse de recibo ARECF.
const (
	AcuseRecibido  = "0" // e-CF recibido y legible
	AcuseRechazado = "1" // e-CF ilegible o con errores de formato
)

// MensajeRequest datos comunes de un mensaje entre partes sobre un e-CF recibido.
type MensajeRequest struct {
	TenantID    string
	CompanyID   string
	RNCEmisor   string // emisor del documento original (destinatario del mensaje)
	RNCReceptor string // quien envía este mensaje
	ENCF        string
	Estado      string // ARECF: AcuseRecibido|AcuseRechazado; ACECF: 1 aprobado, 2 rechazado comercialmente
	Detalle     string // motivo, opcional
}

// EnviarAcuse firma y entrega un ARECF al emisor del documento.
func (m *Mensajeria) EnviarAcuse(ctx context.Context, req MensajeRequest) error {
	if err := req.validar(); err != nil {
		return err
	}
	xml := buildARECF(req, m.now())
	return m.enviar(ctx, req, xml, true)
}

// EnviarAprobacionComercial firma y entrega un ACECF al emisor del documento.
func (m *Mensajeria) EnviarAprobacionComercial(ctx context.Context, req MensajeRequest) error {
	if err := req.validar(); err != nil {
		return err
	}
	xml := buildACECF(req, m.now())
	return m.enviar(ctx, req, xml, false)
}

func (req MensajeRequest) validar() error {
	if err := pkgecf.ValidateRNC(req.RNCEmisor); err != nil {
		return fmt.Errorf("%w: RNC emisor: %v", domain.ErrInvalidInput, err)
	}
	if err := pkgecf.ValidateRNC(req.RNCReceptor); err != nil {
		return fmt.Errorf("%w: RNC receptor: %v", domain.ErrInvalidInput, err)
	}
	if _, _, err := pkgecf.ParseENCF(req.ENCF); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if req.Estado == "" {
		return fmt.Errorf("%w: estado del mensaje requerido", domain.ErrInvalidInput)
	}
	return nil
}

func (m *Mensajeria) enviar(ctx context.Context, req MensajeRequest, xml string, acuse bool) error {
	cert, err := m.boveda.CertificadoDeFirma(ctx, req.TenantID, req.CompanyID)
	if err != nil {
		return &domain.CryptoError{Op: "cargar-certificado", Err: err}
	}
	firmado, err := m.firmador.Sign([]byte(xml), cert)
	if err != nil {
		return &domain.CryptoError{Op: "firmar-mensaje", Err: err}
	}
	token, err := m.cliente.Token(ctx, req.TenantID, req.CompanyID, cert)
	if err != nil {
		return err
	}

	destino, err := m.resolverDestino(ctx, token, req.RNCEmisor, acuse)
	if err != nil {
		return err
	}
	filename := req.RNCReceptor + req.ENCF + ".xml"
	if acuse {
		r, err := m.cliente.EnviarAcuse(ctx, token, destino, firmado.XMLFirmado, filename)
		if err != nil {
			return err
		}
		m.log.Info().Str("encf", req.ENCF).Str("estado", r.Estado).Msg("acuse de recibo entregado")
		return nil
	}
	r, err := m.cliente.EnviarAprobacionComercial(ctx, token, destino, firmado.XMLFirmado, filename)
	if err != nil {
		return err
	}
	m.log.Info().Str("encf", req.ENCF).Str("estado", r.Estado).Msg("aprobación comercial entregada")
	return nil
}

// resolverDestino busca en el directorio la URL de recepción (ARECF) o de
// aprobación (ACECF) del emisor. Si el directorio no lo lista, el mensaje va
// al servicio puente de la DGII (cadena vacía: el cliente usa su default).
func (m *Mensajeria) resolverDestino(ctx context.Context, token, rncEmisor string, acuse bool) (string, error) {
	emisores, err := m.cliente.Directorio(ctx, token)
	if err != nil {
		if domain.IsTransientProtocolError(err) {
			return "", err
		}
		// directorio no disponible de forma terminal: usar el puente
		return "", nil
	}
	for _, e := range emisores {
		if e.RNC != rncEmisor {
			continue
		}
		if acuse {
			return e.URLRecepcion, nil
		}
		return e.URLAceptacion, nil
	}
	return "", nil
}

func buildARECF(req MensajeRequest, ahora time.Time) string {
	return fmt.Sprintf(`<ARECF><DetalleAcusedeRecibo><Version>1.0</Version><RNCEmisor>%s</RNCEmisor><RNCComprador>%s</RNCComprador><eNCF>%s</eNCF><Estado>%s</Estado><DetalleMotivoRechazo>%s</DetalleMotivoRechazo><FechaHoraAcuseRecibo>%s</FechaHoraAcuseRecibo></DetalleAcusedeRecibo></ARECF>`,
		req.RNCEmisor, req.RNCReceptor, req.ENCF, req.Estado, req.Detalle, fechaHoraDGII(ahora))
}

func buildACECF(req MensajeRequest, ahora time.Time) string {
	return fmt.Sprintf(`<ACECF><DetalleAprobacionComercial><Version>1.0</Version><RNCEmisor>%s</RNCEmisor><eNCF>%s</eNCF><FechaEmision>%s</FechaEmision><RNCComprador>%s</RNCComprador><Estado>%s</Estado><DetalleMotivoRechazo>%s</DetalleMotivoRechazo><FechaHoraAprobacionComercial>%s</FechaHoraAprobacionComercial></DetalleAprobacionComercial></ACECF>`,
		req.RNCEmisor, req.ENCF, ahora.Format("02-01-2006"), req.RNCReceptor, req.Estado, req.Detalle, fechaHoraDGII(ahora))
}
