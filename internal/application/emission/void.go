package emission

import (
	"context"
	"fmt"
	"time"

	"github.com/jhoicas/ecf-emisor/internal/domain"
	"github.com/jhoicas/ecf-emisor/internal/domain/ecf"
	"github.com/jhoicas/ecf-emisor/internal/domain/entity"
	"github.com/jhoicas/ecf-emisor/internal/domain/repository"
	pkgecf "github.com/jhoicas/ecf-emisor/pkg/ecf"
	"github.com/jhoicas/ecf-emisor/pkg/logger"
)

// Anulador anula facturas individuales y reporta a la DGII rangos de
// secuencias no utilizados (documento ANECF firmado).
type Anulador struct {
	facturas    repository.FacturaRepository
	secuencias  repository.SecuenciaRepository
	boveda      Boveda
	firmador    Firmador
	cliente     ClienteDGII
	notificador Notificador
	log         *logger.Logger
	now         func() time.Time
}

// NewAnulador construye el servicio de anulación.
func NewAnulador(
	facturas repository.FacturaRepository,
	secuencias repository.SecuenciaRepository,
	boveda Boveda,
	firmador Firmador,
	cliente ClienteDGII,
	notificador Notificador,
	log *logger.Logger,
) *Anulador {
	if notificador == nil {
		notificador = NotificadorNop{}
	}
	return &Anulador{
		facturas:    facturas,
		secuencias:  secuencias,
		boveda:      boveda,
		firmador:    firmador,
		cliente:     cliente,
		notificador: notificador,
		log:         log,
		now:         time.Now,
	}
}

// WithClock reemplaza el reloj (tests).
func (a *Anulador) WithClock(now func() time.Time) *Anulador {
	a.now = now
	return a
}

// AnularFactura anula una factura local según su elegibilidad:
// aceptadas requieren Nota de Crédito, en vuelo no pueden anularse.
func (a *Anulador) AnularFactura(ctx context.Context, facturaID string) (*entity.Factura, error) {
	f, err := a.facturas.GetByID(ctx, facturaID)
	if err != nil {
		return nil, err
	}
	if err := ecf.PuedeAnular(f.Estado); err != nil {
		return nil, err
	}
	f.Estado = ecf.EstadoAnulado
	if err := a.facturas.Update(ctx, f); err != nil {
		return nil, err
	}
	a.notificador.NotificarCambioEstado(ctx, f)
	a.log.Info().Str("factura_id", f.ID).Str("encf", f.ENCF).Msg("factura anulada")
	return f, nil
}

// AnulacionRango solicitud de anulación de un tramo de secuencias nunca
// emitidas (p.ej. el sobrante de un rango vencido).
type AnulacionRango struct {
	TenantID  string
	CompanyID string
	RNCEmisor string
	TipoECF   string
	Desde     int64
	Hasta     int64
}

// AnularRangoNoUtilizado construye el ANECF, lo firma y lo entrega a la DGII.
// El tramo debe caer dentro de un rango autorizado del par y no contener
// números ya emitidos.
func (a *Anulador) AnularRangoNoUtilizado(ctx context.Context, req AnulacionRango) error {
	if !pkgecf.ValidECFTypeCodes[req.TipoECF] {
		return fmt.Errorf("%w: tipo de e-CF %q", domain.ErrInvalidInput, req.TipoECF)
	}
	if req.Desde < 1 || req.Desde > req.Hasta {
		return fmt.Errorf("%w: tramo [%d, %d] inválido", domain.ErrInvalidInput, req.Desde, req.Hasta)
	}

	secuencias, err := a.secuencias.ListByCompanyYTipo(ctx, req.CompanyID, req.TipoECF)
	if err != nil {
		return err
	}
	var dentro bool
	for _, s := range secuencias {
		if req.Desde >= s.Desde && req.Hasta <= s.Hasta {
			if req.Desde <= s.Actual {
				return fmt.Errorf("%w: el tramo incluye números ya emitidos (último emitido: %d)", domain.ErrConflict, s.Actual)
			}
			dentro = true
			break
		}
	}
	if !dentro {
		return fmt.Errorf("%w: el tramo [%d, %d] no pertenece a ningún rango autorizado", domain.ErrInvalidInput, req.Desde, req.Hasta)
	}

	encfDesde, err := pkgecf.FormatENCF(req.TipoECF, req.Desde)
	if err != nil {
		return err
	}
	encfHasta, err := pkgecf.FormatENCF(req.TipoECF, req.Hasta)
	if err != nil {
		return err
	}

	cert, err := a.boveda.CertificadoDeFirma(ctx, req.TenantID, req.CompanyID)
	if err != nil {
		return &domain.CryptoError{Op: "cargar-certificado", Err: err}
	}
	anecf := buildANECF(req.RNCEmisor, req.TipoECF, encfDesde, encfHasta, req.Hasta-req.Desde+1, a.now())
	firmado, err := a.firmador.Sign([]byte(anecf), cert)
	if err != nil {
		return &domain.CryptoError{Op: "firmar-anecf", Err: err}
	}

	token, err := a.cliente.Token(ctx, req.TenantID, req.CompanyID, cert)
	if err != nil {
		return err
	}
	res, err := a.cliente.AnularRango(ctx, token, firmado.XMLFirmado, req.RNCEmisor+"-anecf.xml")
	if err != nil {
		return err
	}
	a.log.Info().
		Str("company_id", req.CompanyID).
		Str("desde", encfDesde).
		Str("hasta", encfHasta).
		Str("codigo", res.Codigo).
		Msg("rango de secuencias anulado ante la DGII")
	return nil
}

// buildANECF arma el documento de anulación de rangos del formato e-CF.
func buildANECF(rncEmisor, tipoECF, encfDesde, encfHasta string, cantidad int64, ahora time.Time) string {
	return fmt.Sprintf(`<ANECF><Encabezado><Version>1.0</Version><RncEmisor>%s</RncEmisor><CantidadNCFAnulados>%d</CantidadNCFAnulados><FechaHoraAnulacioneNCF>%s</FechaHoraAnulacioneNCF></Encabezado><DetalleAnulacion><Anulacion><NoLinea>1</NoLinea><TipoECF>%s</TipoECF><TablaRangoSecuenciasAnuladaseNCF><RangoSecuenciasAnuladaseNCF><SecuenciaeNCFDesde>%s</SecuenciaeNCFDesde><SecuenciaeNCFHasta>%s</SecuenciaeNCFHasta></RangoSecuenciasAnuladaseNCF></TablaRangoSecuenciasAnuladaseNCF><CantidadeNCFAnulados>%d</CantidadeNCFAnulados></Anulacion></DetalleAnulacion></ANECF>`,
		rncEmisor, cantidad, fechaHoraDGII(ahora), tipoECF, encfDesde, encfHasta, cantidad)
}
