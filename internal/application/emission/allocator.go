package emission

import (
	"context"
	"fmt"
	"time"

	"github.com/jhoicas/ecf-emisor/internal/domain"
	"github.com/jhoicas/ecf-emisor/internal/domain/entity"
	"github.com/jhoicas/ecf-emisor/internal/domain/repository"
	pkgecf "github.com/jhoicas/ecf-emisor/pkg/ecf"
	"github.com/jhoicas/ecf-emisor/pkg/logger"
)

// tamaño máximo razonable de un rango autorizado; por encima casi siempre es
// un error de captura (la DGII autoriza rangos de miles, no de millones).
const maxTamanoRango = 10_000_000

// umbral de alerta de agotamiento: restan menos del 10 % del rango.
const fraccionAlertaAgotamiento = 10

// Allocator administra los rangos de numeración eNCF: registro de nuevas
// autorizaciones y asignación atómica del siguiente número.
type Allocator struct {
	secuencias repository.SecuenciaRepository
	log        *logger.Logger
	now        func() time.Time
}

// NewAllocator construye el asignador de secuencias.
func NewAllocator(secuencias repository.SecuenciaRepository, log *logger.Logger) *Allocator {
	return &Allocator{secuencias: secuencias, log: log, now: time.Now}
}

// NewAllocatorWithClock igual que NewAllocator con reloj propio (tests).
func NewAllocatorWithClock(secuencias repository.SecuenciaRepository, log *logger.Logger, now func() time.Time) *Allocator {
	return &Allocator{secuencias: secuencias, log: log, now: now}
}

// RegistroRango datos de una autorización de numeración emitida por la DGII.
type RegistroRango struct {
	CompanyID string
	TipoECF   string
	Desde     int64
	Hasta     int64
	Vence     time.Time
}

// RegistrarRango valida y persiste una nueva autorización de numeración.
// Reglas: tipo válido, desde < hasta, tamaño acotado, sin solapamiento con
// ningún rango del par (activo o histórico) y a lo sumo una secuencia activa.
func (a *Allocator) RegistrarRango(ctx context.Context, reg RegistroRango) (*entity.Secuencia, error) {
	if !pkgecf.ValidECFTypeCodes[reg.TipoECF] {
		return nil, fmt.Errorf("%w: tipo de e-CF %q", domain.ErrInvalidInput, reg.TipoECF)
	}
	if reg.Desde < 1 || reg.Desde >= reg.Hasta {
		return nil, fmt.Errorf("%w: rango [%d, %d] inválido", domain.ErrInvalidInput, reg.Desde, reg.Hasta)
	}
	if reg.Hasta-reg.Desde+1 > maxTamanoRango {
		return nil, fmt.Errorf("%w: rango de %d números excede el máximo razonable", domain.ErrInvalidInput, reg.Hasta-reg.Desde+1)
	}
	if !reg.Vence.After(a.now()) {
		return nil, fmt.Errorf("%w: la autorización ya está vencida", domain.ErrInvalidInput)
	}

	existentes, err := a.secuencias.ListByCompanyYTipo(ctx, reg.CompanyID, reg.TipoECF)
	if err != nil {
		return nil, err
	}
	for _, s := range existentes {
		if s.Solapa(reg.Desde, reg.Hasta) {
			return nil, fmt.Errorf("%w: [%d, %d] intersecta la secuencia %s [%d, %d]",
				domain.ErrRangoSolapado, reg.Desde, reg.Hasta, s.ID, s.Desde, s.Hasta)
		}
		if s.Activa {
			return nil, fmt.Errorf("%w: ya existe una secuencia activa para el par", domain.ErrConflict)
		}
	}

	s := &entity.Secuencia{
		CompanyID: reg.CompanyID,
		TipoECF:   reg.TipoECF,
		Desde:     reg.Desde,
		Actual:    reg.Desde - 1, // ningún número emitido todavía
		Hasta:     reg.Hasta,
		Vence:     reg.Vence,
		Activa:    true,
	}
	if err := a.secuencias.Create(ctx, s); err != nil {
		return nil, err
	}
	a.log.Info().
		Str("company_id", reg.CompanyID).
		Str("tipo_ecf", reg.TipoECF).
		Int64("desde", reg.Desde).
		Int64("hasta", reg.Hasta).
		Msg("rango de numeración registrado")
	return s, nil
}

// Asignar emite el siguiente eNCF del rango activo del par. Alerta cuando el
// rango entra en zona de agotamiento (resta menos del 10 %).
func (a *Allocator) Asignar(ctx context.Context, companyID, tipoECF string) (*repository.Asignacion, error) {
	asig, err := a.secuencias.AsignarSiguiente(ctx, companyID, tipoECF)
	if err != nil {
		return nil, err
	}
	if asig.TamanoRango > 0 && asig.Restantes < asig.TamanoRango/fraccionAlertaAgotamiento {
		a.log.Warn().
			Str("company_id", companyID).
			Str("tipo_ecf", tipoECF).
			Int64("restantes", asig.Restantes).
			Msg("secuencia próxima a agotarse: solicitar nueva autorización a la DGII")
	}
	return asig, nil
}
