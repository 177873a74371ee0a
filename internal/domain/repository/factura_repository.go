package repository

import (
	"context"

	"github.com/jhoicas/ecf-emisor/internal/domain/entity"
)

// FacturaRepository persistencia de facturas electrónicas.
// Las facturas nunca se eliminan (retención de 10 años).
type FacturaRepository interface {
	Create(ctx context.Context, f *entity.Factura) error
	GetByID(ctx context.Context, id string) (*entity.Factura, error)
	// GetByIdempotencyKey devuelve nil, nil si no existe factura con esa clave.
	GetByIdempotencyKey(ctx context.Context, tenantID, key string) (*entity.Factura, error)
	Update(ctx context.Context, f *entity.Factura) error
	// ListEnContingencia devuelve las facturas en CONTINGENCIA más antiguas
	// primero, hasta limit, para el barrido de reenvío.
	ListEnContingencia(ctx context.Context, limit int) ([]*entity.Factura, error)
	// ListEnviadasSinResultado devuelve facturas ENVIADO con track id, para
	// re-encolar consultas de resultado tras un reinicio del servicio.
	ListEnviadasSinResultado(ctx context.Context, limit int) ([]*entity.Factura, error)
}
