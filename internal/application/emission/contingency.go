package emission

import (
	"context"
	"time"

	"github.com/jhoicas/ecf-emisor/internal/domain"
	"github.com/jhoicas/ecf-emisor/internal/domain/ecf"
	"github.com/jhoicas/ecf-emisor/internal/domain/entity"
	"github.com/jhoicas/ecf-emisor/internal/domain/repository"
	"github.com/jhoicas/ecf-emisor/pkg/logger"
)

// Contingencia reenvía facturas retenidas mientras el WS DGII estuvo caído.
// El barrido procesa lotes de las más antiguas primero; cada factura dentro
// de la ventana regulatoria de 72 h se firma de nuevo (FechaHoraFirma fresca)
// y se entrega por la misma vía que le correspondía originalmente.
type Contingencia struct {
	facturas  repository.FacturaRepository
	issuer    *Issuer
	cliente   ClienteDGII
	batchSize int
	log       *logger.Logger
	now       func() time.Time
}

// NewContingencia construye el gestor de contingencia.
func NewContingencia(facturas repository.FacturaRepository, issuer *Issuer, cliente ClienteDGII, batchSize int, log *logger.Logger) *Contingencia {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Contingencia{
		facturas:  facturas,
		issuer:    issuer,
		cliente:   cliente,
		batchSize: batchSize,
		log:       log,
		now:       time.Now,
	}
}

// WithClock reemplaza el reloj (tests).
func (c *Contingencia) WithClock(now func() time.Time) *Contingencia {
	c.now = now
	c.issuer.WithClock(now)
	return c
}

// Barrer ejecuta un ciclo de reenvío y devuelve las facturas procesadas.
// El llamador programa el poll de resultado para las que quedaron en ENVIADO.
//
// Antes de tocar el lote se sondea el servicio con el handshake de
// autenticación usando el certificado de la primera factura: si el WS sigue
// caído no se consume ningún intento. Un fallo transitorio a mitad de lote
// detiene el ciclo; el resto espera al siguiente barrido.
func (c *Contingencia) Barrer(ctx context.Context) ([]*entity.Factura, error) {
	lote, err := c.facturas.ListEnContingencia(ctx, c.batchSize)
	if err != nil {
		return nil, err
	}
	if len(lote) == 0 {
		return nil, nil
	}

	primera := lote[0]
	if cert, cerr := c.issuer.boveda.CertificadoDeFirma(ctx, primera.TenantID, primera.CompanyID); cerr == nil {
		if _, terr := c.cliente.Token(ctx, primera.TenantID, primera.CompanyID, cert); domain.IsTransientProtocolError(terr) {
			c.log.Info().Int("pendientes", len(lote)).Msg("WS DGII sigue caído, se pospone el barrido de contingencia")
			return nil, nil
		}
	}

	procesadas := make([]*entity.Factura, 0, len(lote))
	for _, f := range lote {
		// Ventana vencida: falla fatal sin intento de red.
		if !f.DentroDeVentanaContingencia(c.now()) {
			// marcarError devuelve la causa; ya quedó persistida y notificada
			_, _ = c.issuer.marcarError(ctx, f, "contingencia", domain.ErrVentanaContingenciaVencida)
			procesadas = append(procesadas, f)
			continue
		}

		actual, err := c.reenviar(ctx, f)
		if domain.IsTransientProtocolError(err) {
			// el servicio volvió a caerse: devolver la factura a contingencia
			// y dejar el resto del lote para el próximo ciclo
			actual.Estado = ecf.EstadoContingencia
			if uerr := c.facturas.Update(ctx, actual); uerr != nil {
				c.log.Error().Err(uerr).Str("factura_id", actual.ID).Msg("no se pudo restaurar CONTINGENCIA")
			}
			c.log.Warn().Str("factura_id", actual.ID).Msg("WS DGII cayó a mitad del barrido, ciclo detenido")
			return procesadas, nil
		}
		procesadas = append(procesadas, actual)
	}
	return procesadas, nil
}

// reenviar firma de nuevo y entrega una factura en contingencia.
func (c *Contingencia) reenviar(ctx context.Context, f *entity.Factura) (*entity.Factura, error) {
	f.Estado = ecf.EstadoProcesando
	if err := c.facturas.Update(ctx, f); err != nil {
		return f, err
	}

	cert, err := c.issuer.boveda.CertificadoDeFirma(ctx, f.TenantID, f.CompanyID)
	if err != nil {
		return c.issuer.marcarError(ctx, f, "cargar-certificado", &domain.CryptoError{Op: "cargar-certificado", Err: err})
	}
	firmado, err := c.issuer.firmador.Sign([]byte(f.XMLSinFirmar), cert)
	if err != nil {
		return c.issuer.marcarError(ctx, f, "firmar", &domain.CryptoError{Op: "firmar", Err: err})
	}
	f.XMLFirmado = string(firmado.XMLFirmado)
	f.CodigoSeguridad = firmado.CodigoSeguridad
	fecha := firmado.FechaFirma
	f.FechaFirma = &fecha
	if err := c.facturas.Update(ctx, f); err != nil {
		return f, err
	}

	token, err := c.cliente.Token(ctx, f.TenantID, f.CompanyID, cert)
	if err != nil {
		return c.issuer.resolverFalloProtocolo(ctx, f, "token", err)
	}
	return c.issuer.entregar(ctx, f, token, cert)
}
