package emission

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/ecf-emisor/internal/domain"
	"github.com/jhoicas/ecf-emisor/internal/domain/ecf"
	"github.com/jhoicas/ecf-emisor/internal/domain/entity"
	"github.com/jhoicas/ecf-emisor/internal/domain/repository"
	pkgecf "github.com/jhoicas/ecf-emisor/pkg/ecf"
	"github.com/jhoicas/ecf-emisor/pkg/logger"
)

// Issuer orquesta el ciclo de emisión de un e-CF:
//
//	asignar eNCF → firmar → enviar (estándar o RFCE) → actualizar estado
//
// Un intento de Procesar es una pasada completa; los reintentos con backoff
// y el pase a contingencia los decide el pipeline según la clase del error
// (domain.IsTransientProtocolError es el único hecho que consulta).
type Issuer struct {
	facturas    repository.FacturaRepository
	allocator   *Allocator
	boveda      Boveda
	firmador    Firmador
	cliente     ClienteDGII
	notificador Notificador
	log         *logger.Logger
	now         func() time.Time
}

// NewIssuer construye el emisor con todas sus dependencias.
// notificador puede ser nil (se reemplaza por un no-op).
func NewIssuer(
	facturas repository.FacturaRepository,
	allocator *Allocator,
	boveda Boveda,
	firmador Firmador,
	cliente ClienteDGII,
	notificador Notificador,
	log *logger.Logger,
) *Issuer {
	if notificador == nil {
		notificador = NotificadorNop{}
	}
	return &Issuer{
		facturas:    facturas,
		allocator:   allocator,
		boveda:      boveda,
		firmador:    firmador,
		cliente:     cliente,
		notificador: notificador,
		log:         log,
		now:         time.Now,
	}
}

// WithClock reemplaza el reloj (tests).
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// EmitirRequest solicitud de emisión. El XML sin firmar, el resumen RFCE y
// los totales los produce el constructor de payloads del sistema comercial;
// aquí solo se validan los datos fiscales mínimos.
type EmitirRequest struct {
	TenantID     string
	CompanyID    string
	RNCEmisor    string
	RNCComprador string
	TipoECF      string
	XMLSinFirmar string
	XMLResumen   string // requerido solo si la factura califica para RFCE

	Subtotal   string
	TotalITBIS string
	MontoTotal string

	IdempotencyKey string
}

// Emitir registra la factura en BORRADOR y la devuelve lista para encolar.
// Si la clave de idempotencia ya existe, devuelve la factura original con
// existente=true, sin crear ni encolar nada nuevo.
func (i *Issuer) Emitir(ctx context.Context, req EmitirRequest) (f *entity.Factura, existente bool, err error) {
	if req.IdempotencyKey != "" {
		previa, err := i.facturas.GetByIdempotencyKey(ctx, req.TenantID, req.IdempotencyKey)
		if err != nil {
			return nil, false, err
		}
		if previa != nil {
			return previa, true, nil
		}
	}

	if !pkgecf.ValidECFTypeCodes[req.TipoECF] {
		return nil, false, fmt.Errorf("%w: tipo de e-CF %q", domain.ErrInvalidInput, req.TipoECF)
	}
	if err := pkgecf.ValidateRNC(req.RNCEmisor); err != nil {
		return nil, false, fmt.Errorf("%w: RNC emisor: %v", domain.ErrInvalidInput, err)
	}
	if req.RNCComprador != "" {
		if err := pkgecf.ValidateRNC(req.RNCComprador); err != nil {
			return nil, false, fmt.Errorf("%w: RNC comprador: %v", domain.ErrInvalidInput, err)
		}
	}
	if req.XMLSinFirmar == "" {
		return nil, false, fmt.Errorf("%w: XML sin firmar vacío", domain.ErrInvalidInput)
	}

	f = &entity.Factura{
		TenantID:       req.TenantID,
		CompanyID:      req.CompanyID,
		RNCEmisor:      req.RNCEmisor,
		RNCComprador:   req.RNCComprador,
		TipoECF:        req.TipoECF,
		Estado:         ecf.EstadoBorrador,
		XMLSinFirmar:   req.XMLSinFirmar,
		XMLResumen:     req.XMLResumen,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      i.now(),
	}
	if f.Subtotal, err = parseMonto("subtotal", req.Subtotal); err != nil {
		return nil, false, err
	}
	if f.TotalITBIS, err = parseMonto("total ITBIS", req.TotalITBIS); err != nil {
		return nil, false, err
	}
	if f.MontoTotal, err = parseMonto("monto total", req.MontoTotal); err != nil {
		return nil, false, err
	}
	if pkgecf.AplicaRFCE(f.TipoECF, f.MontoTotal) && f.XMLResumen == "" {
		return nil, false, fmt.Errorf("%w: factura de consumo bajo el umbral RFCE sin resumen", domain.ErrInvalidInput)
	}
	if err := i.facturas.Create(ctx, f); err != nil {
		return nil, false, err
	}
	return f, false, nil
}

// Factura devuelve una factura del tenant. No distingue entre inexistente y
// ajena: ambas son ErrNotFound hacia afuera.
func (i *Issuer) Factura(ctx context.Context, tenantID, id string) (*entity.Factura, error) {
	f, err := i.facturas.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if f.TenantID != tenantID {
		return nil, domain.ErrNotFound
	}
	return f, nil
}

// Procesar ejecuta una pasada completa de firma y envío sobre la factura.
//
// Devuelve la factura actualizada. Si el error devuelto es un fallo
// transitorio del WS, la factura queda en PROCESANDO y el llamador decide
// entre reintentar o pasarla a contingencia; los fallos fatales (cripto,
// secuencia, rechazo bien formado) ya quedan persistidos en su estado final.
func (i *Issuer) Procesar(ctx context.Context, facturaID string) (*entity.Factura, error) {
	f, err := i.facturas.GetByID(ctx, facturaID)
	if err != nil {
		return nil, err
	}
	switch f.Estado {
	case ecf.EstadoBorrador, ecf.EstadoProcesando:
		// primer intento o reintento del pipeline
	default:
		i.log.Warn().Str("factura_id", facturaID).Str("estado", string(f.Estado)).
			Msg("factura en estado no procesable, se omite")
		return f, nil
	}
	if f.Estado == ecf.EstadoBorrador {
		f.Estado = ecf.EstadoProcesando
		if err := i.facturas.Update(ctx, f); err != nil {
			return nil, err
		}
	}

	// 1) Asignar eNCF si aún no tiene. La asignación es irrevocable: si un
	// paso posterior falla, el número queda consumido (sin reuso).
	if f.ENCF == "" {
		asig, err := i.allocator.Asignar(ctx, f.CompanyID, f.TipoECF)
		if err != nil {
			return i.marcarError(ctx, f, "asignar-encf", err)
		}
		f.ENCF = asig.ENCF
		if err := i.facturas.Update(ctx, f); err != nil {
			return nil, err
		}
	}

	// 2) Material de firma
	cert, err := i.boveda.CertificadoDeFirma(ctx, f.TenantID, f.CompanyID)
	if err != nil {
		return i.marcarError(ctx, f, "cargar-certificado", &domain.CryptoError{Op: "cargar-certificado", Err: err})
	}

	// 3) Firmar. Cada intento firma de nuevo: FechaHoraFirma fresca.
	firmado, err := i.firmador.Sign([]byte(f.XMLSinFirmar), cert)
	if err != nil {
		return i.marcarError(ctx, f, "firmar", &domain.CryptoError{Op: "firmar", Err: err})
	}
	f.XMLFirmado = string(firmado.XMLFirmado)
	f.CodigoSeguridad = firmado.CodigoSeguridad
	fecha := firmado.FechaFirma
	f.FechaFirma = &fecha
	if err := i.facturas.Update(ctx, f); err != nil {
		return nil, err
	}

	// 4) Autenticación (token cacheado por empresa y ambiente)
	token, err := i.cliente.Token(ctx, f.TenantID, f.CompanyID, cert)
	if err != nil {
		return i.resolverFalloProtocolo(ctx, f, "token", err)
	}

	// 5) Envío por la vía que corresponde
	return i.entregar(ctx, f, token, cert)
}

// entregar envía la factura firmada: RFCE para consumo bajo el umbral,
// estándar para todo lo demás. Compartido entre la emisión y la contingencia.
func (i *Issuer) entregar(ctx context.Context, f *entity.Factura, token string, cert tls.Certificate) (*entity.Factura, error) {
	filename := nombreArchivo(f.RNCEmisor, f.ENCF)

	if pkgecf.AplicaRFCE(f.TipoECF, f.MontoTotal) {
		// Vía reducida: el resumen se firma y valida en línea; el e-CF
		// completo firmado se retiene solo localmente.
		resumen, err := i.firmador.Sign([]byte(f.XMLResumen), cert)
		if err != nil {
			return i.marcarError(ctx, f, "firmar-resumen", &domain.CryptoError{Op: "firmar-resumen", Err: err})
		}
		rec, err := i.cliente.EnviarResumen(ctx, token, resumen.XMLFirmado, filename)
		if err != nil {
			return i.resolverFalloProtocolo(ctx, f, "recepcion-fc", err)
		}
		f.XMLResumen = string(resumen.XMLFirmado)
		return i.registrarRespuesta(ctx, f, rec.Codigo, rec.Mensajes)
	}

	rec, err := i.cliente.Enviar(ctx, token, []byte(f.XMLFirmado), filename)
	if err != nil {
		return i.resolverFalloProtocolo(ctx, f, "recepcion", err)
	}
	f.TrackID = rec.TrackID
	f.Estado = ecf.EstadoEnviado
	f.UltimoMensaje = rec.Mensajes
	ahora := i.now()
	f.UltimaRespuestaEn = &ahora
	if err := i.facturas.Update(ctx, f); err != nil {
		return nil, err
	}
	i.notificador.NotificarCambioEstado(ctx, f)
	i.log.Info().Str("factura_id", f.ID).Str("encf", f.ENCF).Str("track_id", f.TrackID).
		Msg("e-CF recibido por la DGII")
	return f, nil
}

// Consultar consulta el resultado de un envío pendiente por su track id.
// final=true cuando la factura alcanzó un estado terminal y el poll debe
// detenerse; un error transitorio deja final=false para reprogramar.
func (i *Issuer) Consultar(ctx context.Context, facturaID string) (final bool, err error) {
	f, err := i.facturas.GetByID(ctx, facturaID)
	if err != nil {
		return false, err
	}
	if ecf.EsFinal(f.Estado) {
		return true, nil
	}
	if f.TrackID == "" {
		return false, fmt.Errorf("%w: la factura %s no tiene track id", domain.ErrConflict, facturaID)
	}

	cert, err := i.boveda.CertificadoDeFirma(ctx, f.TenantID, f.CompanyID)
	if err != nil {
		return false, &domain.CryptoError{Op: "cargar-certificado", Err: err}
	}
	token, err := i.cliente.Token(ctx, f.TenantID, f.CompanyID, cert)
	if err != nil {
		return false, err
	}
	res, err := i.cliente.ConsultarResultado(ctx, token, f.TrackID)
	if err != nil {
		return false, err
	}

	estado, ok := ecf.EstadoDesdeCodigoDGII(res.Codigo)
	if !ok || estado == ecf.EstadoEnviado {
		// sigue en proceso (o código desconocido): registrar y reintentar
		f.UltimaRespuesta = res.Codigo
		ahora := i.now()
		f.UltimaRespuestaEn = &ahora
		if uerr := i.facturas.Update(ctx, f); uerr != nil {
			return false, uerr
		}
		return false, nil
	}

	if _, err := i.registrarRespuesta(ctx, f, res.Codigo, res.Mensajes); err != nil {
		return false, err
	}
	return true, nil
}

// MarcarConsultaAgotada registra que el poll alcanzó su tope de intentos sin
// resultado. La factura queda en ENVIADO para revisión manual o consulta tardía.
func (i *Issuer) MarcarConsultaAgotada(ctx context.Context, facturaID string) error {
	f, err := i.facturas.GetByID(ctx, facturaID)
	if err != nil {
		return err
	}
	if ecf.EsFinal(f.Estado) {
		return nil
	}
	f.UltimoMensaje = "consulta de resultado agotada: la DGII no emitió resultado tras el máximo de intentos"
	if err := i.facturas.Update(ctx, f); err != nil {
		return err
	}
	i.log.Warn().Str("factura_id", f.ID).Str("track_id", f.TrackID).Msg("poll de resultado agotado")
	return nil
}

// PasarAContingencia mueve la factura a CONTINGENCIA tras agotar los
// reintentos inmediatos contra un WS caído.
func (i *Issuer) PasarAContingencia(ctx context.Context, facturaID string, causa string) error {
	f, err := i.facturas.GetByID(ctx, facturaID)
	if err != nil {
		return err
	}
	if !ecf.TransicionValida(f.Estado, ecf.EstadoContingencia) {
		return fmt.Errorf("%w: %s no puede pasar a contingencia", domain.ErrConflict, f.Estado)
	}
	f.Estado = ecf.EstadoContingencia
	f.UltimoMensaje = causa
	if err := i.facturas.Update(ctx, f); err != nil {
		return err
	}
	i.notificador.NotificarCambioEstado(ctx, f)
	i.log.Warn().Str("factura_id", f.ID).Str("encf", f.ENCF).Msg("factura en contingencia: WS DGII inalcanzable")
	return nil
}

// ── internos ──────────────────────────────────────────────────────────────────

// registrarRespuesta mapea el código DGII al estado de la factura y persiste
// el resultado. Único punto de mapeo tanto para RFCE como para el poll.
func (i *Issuer) registrarRespuesta(ctx context.Context, f *entity.Factura, codigo, mensajes string) (*entity.Factura, error) {
	estado, ok := ecf.EstadoDesdeCodigoDGII(codigo)
	if !ok {
		return i.marcarError(ctx, f, "respuesta-dgii",
			fmt.Errorf("código de estado DGII desconocido %q", codigo))
	}
	f.Estado = estado
	f.UltimaRespuesta = codigo
	f.UltimoMensaje = mensajes
	ahora := i.now()
	f.UltimaRespuestaEn = &ahora
	if err := i.facturas.Update(ctx, f); err != nil {
		return nil, err
	}
	i.notificador.NotificarCambioEstado(ctx, f)
	i.log.Info().Str("factura_id", f.ID).Str("encf", f.ENCF).Str("estado", string(estado)).
		Msg("resultado DGII registrado")
	return f, nil
}

// resolverFalloProtocolo decide el destino de un error del WS: los
// transitorios se devuelven sin tocar el estado (el pipeline reintenta o pasa
// a contingencia); los rechazos bien formados son terminales → RECHAZADO.
func (i *Issuer) resolverFalloProtocolo(ctx context.Context, f *entity.Factura, paso string, err error) (*entity.Factura, error) {
	if domain.IsTransientProtocolError(err) {
		i.log.Warn().Err(err).Str("factura_id", f.ID).Str("paso", paso).Msg("fallo transitorio del WS DGII")
		return f, err
	}
	var pe *domain.ProtocolError
	if errors.As(err, &pe) && !pe.Transient {
		f.Estado = ecf.EstadoRechazado
		f.UltimaRespuesta = pe.Code
		f.UltimoMensaje = pe.Message
		ahora := i.now()
		f.UltimaRespuestaEn = &ahora
		if uerr := i.facturas.Update(ctx, f); uerr != nil {
			return nil, uerr
		}
		i.notificador.NotificarCambioEstado(ctx, f)
		i.log.Info().Str("factura_id", f.ID).Str("encf", f.ENCF).Str("codigo", pe.Code).
			Msg("e-CF rechazado por la DGII")
		return f, err
	}
	return i.marcarError(ctx, f, paso, err)
}

// marcarError deja la factura en ERROR con el detalle del fallo fatal.
func (i *Issuer) marcarError(ctx context.Context, f *entity.Factura, paso string, causa error) (*entity.Factura, error) {
	f.Estado = ecf.EstadoError
	f.UltimoMensaje = fmt.Sprintf("%s: %v", paso, causa)
	if uerr := i.facturas.Update(ctx, f); uerr != nil {
		i.log.Error().Err(uerr).Str("factura_id", f.ID).Msg("no se pudo persistir ERROR")
	}
	i.notificador.NotificarCambioEstado(ctx, f)
	i.log.Error().Err(causa).Str("factura_id", f.ID).Str("paso", paso).Msg("emisión fallida")
	return f, causa
}

func parseMonto(campo, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s %q no es un monto válido", domain.ErrInvalidInput, campo, s)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %s negativo", domain.ErrInvalidInput, campo)
	}
	return d, nil
}
