package pipeline

import (
	"context"

	"github.com/jhoicas/ecf-emisor/internal/domain/entity"
	"github.com/jhoicas/ecf-emisor/internal/domain/repository"
	"github.com/jhoicas/ecf-emisor/pkg/logger"
)

// CertSweeper barrido diario de salud de certificados: clasifica cada
// certificado activo por su vencimiento y desactiva los vencidos. Una
// factura de una empresa con certificado vencido falla en la firma; este
// barrido avisa antes de llegar ahí.
type CertSweeper struct {
	certs repository.CertificadoRepository
	clock Clock
	log   *logger.Logger
}

// NewCertSweeper construye el barrido de certificados.
func NewCertSweeper(certs repository.CertificadoRepository, log *logger.Logger) *CertSweeper {
	return &CertSweeper{certs: certs, clock: RealClock{}, log: log}
}

// WithClock reemplaza el reloj (tests).
func (s *CertSweeper) WithClock(clock Clock) *CertSweeper {
	s.clock = clock
	return s
}

// Barrer ejecuta un ciclo de clasificación y devuelve cuántos certificados
// quedaron desactivados por vencimiento.
func (s *CertSweeper) Barrer(ctx context.Context) (desactivados int, err error) {
	activos, err := s.certs.ListActivos(ctx)
	if err != nil {
		return 0, err
	}
	ahora := s.clock.Now()
	for _, c := range activos {
		switch c.Salud(ahora) {
		case entity.CertVencido:
			c.Activo = false
			if uerr := s.certs.Update(ctx, c); uerr != nil {
				s.log.Error().Err(uerr).Str("certificado_id", c.ID).Msg("no se pudo desactivar el certificado vencido")
				continue
			}
			desactivados++
			s.log.Warn().Str("certificado_id", c.ID).Str("company_id", c.CompanyID).
				Time("vencio", c.Vence).Msg("certificado vencido desactivado")
		case entity.CertCritico:
			s.log.Warn().Str("certificado_id", c.ID).Str("company_id", c.CompanyID).
				Time("vence", c.Vence).Msg("certificado vence en 7 días o menos: renovar de inmediato")
		case entity.CertAdvertencia:
			s.log.Info().Str("certificado_id", c.ID).Str("company_id", c.CompanyID).
				Time("vence", c.Vence).Msg("certificado vence en 30 días o menos")
		}
	}
	return desactivados, nil
}
