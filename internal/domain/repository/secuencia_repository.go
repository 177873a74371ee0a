package repository

import (
	"context"

	"github.com/jhoicas/ecf-emisor/internal/domain/entity"
)

// Asignacion resultado de la asignación atómica de un número eNCF.
type Asignacion struct {
	ENCF        string // número formateado: E + tipo + secuencial (10 dígitos)
	Numero      int64  // secuencial asignado
	Restantes   int64  // números disponibles tras esta asignación
	TamanoRango int64  // tamaño total del rango autorizado
}

// SecuenciaRepository persistencia y asignación de rangos de numeración eNCF.
type SecuenciaRepository interface {
	Create(ctx context.Context, s *entity.Secuencia) error
	GetByID(ctx context.Context, id string) (*entity.Secuencia, error)
	// GetActiva devuelve nil, nil si no hay secuencia activa para el par.
	GetActiva(ctx context.Context, companyID, tipoECF string) (*entity.Secuencia, error)
	ListByCompanyYTipo(ctx context.Context, companyID, tipoECF string) ([]*entity.Secuencia, error)
	Update(ctx context.Context, s *entity.Secuencia) error

	// AsignarSiguiente emite el próximo número del rango activo bajo una única
	// transacción con bloqueo de fila (SELECT ... FOR UPDATE): linealizable
	// entre llamadas concurrentes, sin duplicados ni huecos.
	// Errores: domain.ErrSecuenciaNoEncontrada, domain.ErrSecuenciaVencida y
	// domain.ErrSecuenciaAgotada (estos dos últimos desactivan la secuencia).
	AsignarSiguiente(ctx context.Context, companyID, tipoECF string) (*Asignacion, error)
}
