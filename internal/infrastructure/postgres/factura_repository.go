package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/ecf-emisor/internal/domain"
	"github.com/jhoicas/ecf-emisor/internal/domain/ecf"
	"github.com/jhoicas/ecf-emisor/internal/domain/entity"
	"github.com/jhoicas/ecf-emisor/internal/domain/repository"
)

var _ repository.FacturaRepository = (*FacturaRepo)(nil)

// FacturaRepo implementa FacturaRepository (usable con pool o tx).
type FacturaRepo struct {
	q Querier
}

// NewFacturaRepository construye el adaptador. Pasar pool o tx (Querier).
func NewFacturaRepository(q Querier) *FacturaRepo {
	return &FacturaRepo{q: q}
}

const facturaColumns = `
	id, tenant_id, company_id, rnc_emisor, COALESCE(rnc_comprador, ''), tipo_ecf,
	COALESCE(encf, ''), estado,
	COALESCE(xml_sin_firmar, ''), COALESCE(xml_firmado, ''), COALESCE(xml_resumen, ''),
	COALESCE(codigo_seguridad, ''), fecha_firma,
	COALESCE(track_id, ''), COALESCE(ultima_respuesta, ''), COALESCE(ultimo_mensaje, ''), ultima_respuesta_en,
	subtotal, total_itbis, monto_total,
	COALESCE(idempotency_key, ''), created_at, updated_at`

func (r *FacturaRepo) Create(ctx context.Context, f *entity.Factura) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	now := time.Now()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now
	const q = `
		INSERT INTO facturas
			(id, tenant_id, company_id, rnc_emisor, rnc_comprador, tipo_ecf, encf, estado,
			 xml_sin_firmar, xml_firmado, xml_resumen, codigo_seguridad, fecha_firma,
			 track_id, ultima_respuesta, ultimo_mensaje, ultima_respuesta_en,
			 subtotal, total_itbis, monto_total, idempotency_key, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`
	_, err := r.q.Exec(ctx, q,
		f.ID, f.TenantID, f.CompanyID, f.RNCEmisor, nullIfEmpty(f.RNCComprador), f.TipoECF,
		nullIfEmpty(f.ENCF), string(f.Estado),
		nullIfEmpty(f.XMLSinFirmar), nullIfEmpty(f.XMLFirmado), nullIfEmpty(f.XMLResumen),
		nullIfEmpty(f.CodigoSeguridad), f.FechaFirma,
		nullIfEmpty(f.TrackID), nullIfEmpty(f.UltimaRespuesta), nullIfEmpty(f.UltimoMensaje), f.UltimaRespuestaEn,
		f.Subtotal, f.TotalITBIS, f.MontoTotal,
		nullIfEmpty(f.IdempotencyKey), f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: eNCF o clave de idempotencia ya registrados", domain.ErrDuplicate)
		}
		return fmt.Errorf("insert factura: %w", err)
	}
	return nil
}

func (r *FacturaRepo) GetByID(ctx context.Context, id string) (*entity.Factura, error) {
	const q = `SELECT ` + facturaColumns + ` FROM facturas WHERE id = $1`
	f, err := scanFactura(r.q.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get factura by id: %w", err)
	}
	return f, nil
}

// GetByIdempotencyKey devuelve nil, nil si no hay factura con esa clave.
func (r *FacturaRepo) GetByIdempotencyKey(ctx context.Context, tenantID, key string) (*entity.Factura, error) {
	const q = `SELECT ` + facturaColumns + ` FROM facturas WHERE tenant_id = $1 AND idempotency_key = $2`
	f, err := scanFactura(r.q.QueryRow(ctx, q, tenantID, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get factura by idempotency key: %w", err)
	}
	return f, nil
}

func (r *FacturaRepo) Update(ctx context.Context, f *entity.Factura) error {
	f.UpdatedAt = time.Now()
	const q = `
		UPDATE facturas
		SET encf               = COALESCE($2, encf),
		    estado             = $3,
		    xml_firmado        = COALESCE($4, xml_firmado),
		    xml_resumen        = COALESCE($5, xml_resumen),
		    codigo_seguridad   = COALESCE($6, codigo_seguridad),
		    fecha_firma        = COALESCE($7, fecha_firma),
		    track_id           = COALESCE($8, track_id),
		    ultima_respuesta   = COALESCE($9, ultima_respuesta),
		    ultimo_mensaje     = COALESCE($10, ultimo_mensaje),
		    ultima_respuesta_en = COALESCE($11, ultima_respuesta_en),
		    updated_at         = $12
		WHERE id = $1`
	_, err := r.q.Exec(ctx, q,
		f.ID, nullIfEmpty(f.ENCF), string(f.Estado),
		nullIfEmpty(f.XMLFirmado), nullIfEmpty(f.XMLResumen),
		nullIfEmpty(f.CodigoSeguridad), f.FechaFirma,
		nullIfEmpty(f.TrackID), nullIfEmpty(f.UltimaRespuesta), nullIfEmpty(f.UltimoMensaje), f.UltimaRespuestaEn,
		f.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update factura: %w", err)
	}
	return nil
}

// ListEnContingencia facturas en CONTINGENCIA, más antiguas primero.
func (r *FacturaRepo) ListEnContingencia(ctx context.Context, limit int) ([]*entity.Factura, error) {
	const q = `
		SELECT ` + facturaColumns + `
		FROM facturas
		WHERE estado = $1
		ORDER BY created_at
		LIMIT $2`
	return r.list(ctx, q, string(ecf.EstadoContingencia), limit)
}

// ListEnviadasSinResultado facturas ENVIADO con track id pendiente de resultado.
func (r *FacturaRepo) ListEnviadasSinResultado(ctx context.Context, limit int) ([]*entity.Factura, error) {
	const q = `
		SELECT ` + facturaColumns + `
		FROM facturas
		WHERE estado = $1 AND track_id IS NOT NULL
		ORDER BY created_at
		LIMIT $2`
	return r.list(ctx, q, string(ecf.EstadoEnviado), limit)
}

func (r *FacturaRepo) list(ctx context.Context, q string, args ...any) ([]*entity.Factura, error) {
	rows, err := r.q.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list facturas: %w", err)
	}
	defer rows.Close()
	var list []*entity.Factura
	for rows.Next() {
		f, err := scanFactura(rows)
		if err != nil {
			return nil, fmt.Errorf("scan factura: %w", err)
		}
		list = append(list, f)
	}
	return list, rows.Err()
}

func scanFactura(row pgxScanner) (*entity.Factura, error) {
	var f entity.Factura
	var estado string
	err := row.Scan(
		&f.ID, &f.TenantID, &f.CompanyID, &f.RNCEmisor, &f.RNCComprador, &f.TipoECF,
		&f.ENCF, &estado,
		&f.XMLSinFirmar, &f.XMLFirmado, &f.XMLResumen,
		&f.CodigoSeguridad, &f.FechaFirma,
		&f.TrackID, &f.UltimaRespuesta, &f.UltimoMensaje, &f.UltimaRespuestaEn,
		&f.Subtotal, &f.TotalITBIS, &f.MontoTotal,
		&f.IdempotencyKey, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	f.Estado = ecf.Estado(estado)
	return &f, nil
}
