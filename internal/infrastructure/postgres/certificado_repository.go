package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/ecf-emisor/internal/domain"
	"github.com/jhoicas/ecf-emisor/internal/domain/entity"
	"github.com/jhoicas/ecf-emisor/internal/domain/repository"
)

var _ repository.CertificadoRepository = (*CertificadoRepo)(nil)

// CertificadoRepo implementa CertificadoRepository sobre PostgreSQL.
// Solo metadatos: el contenedor PKCS#12 cifrado vive en la bóveda.
type CertificadoRepo struct {
	q Querier
}

// NewCertificadoRepository construye el repositorio.
func NewCertificadoRepository(q Querier) *CertificadoRepo {
	return &CertificadoRepo{q: q}
}

const certificadoColumns = `id, tenant_id, company_id, COALESCE(alias, ''), vence, activo, created_at, updated_at`

func (r *CertificadoRepo) Create(ctx context.Context, c *entity.Certificado) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	const q = `
		INSERT INTO certificados (id, tenant_id, company_id, alias, vence, activo, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())`
	_, err := r.q.Exec(ctx, q, c.ID, c.TenantID, c.CompanyID, nullIfEmpty(c.Alias), c.Vence, c.Activo)
	if err != nil {
		return fmt.Errorf("insert certificado: %w", err)
	}
	return nil
}

func (r *CertificadoRepo) GetActivoByCompany(ctx context.Context, tenantID, companyID string) (*entity.Certificado, error) {
	const q = `
		SELECT ` + certificadoColumns + `
		FROM certificados
		WHERE tenant_id = $1 AND company_id = $2 AND activo = true
		ORDER BY vence DESC
		LIMIT 1`
	c, err := scanCertificado(r.q.QueryRow(ctx, q, tenantID, companyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get certificado activo: %w", err)
	}
	return c, nil
}

func (r *CertificadoRepo) ListActivos(ctx context.Context) ([]*entity.Certificado, error) {
	const q = `SELECT ` + certificadoColumns + ` FROM certificados WHERE activo = true ORDER BY vence`
	rows, err := r.q.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list certificados activos: %w", err)
	}
	defer rows.Close()
	var list []*entity.Certificado
	for rows.Next() {
		c, err := scanCertificado(rows)
		if err != nil {
			return nil, fmt.Errorf("scan certificado: %w", err)
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

func (r *CertificadoRepo) Update(ctx context.Context, c *entity.Certificado) error {
	const q = `
		UPDATE certificados
		SET alias = $2, vence = $3, activo = $4, updated_at = now()
		WHERE id = $1`
	_, err := r.q.Exec(ctx, q, c.ID, nullIfEmpty(c.Alias), c.Vence, c.Activo)
	if err != nil {
		return fmt.Errorf("update certificado: %w", err)
	}
	return nil
}

func scanCertificado(row pgxScanner) (*entity.Certificado, error) {
	var c entity.Certificado
	err := row.Scan(
		&c.ID, &c.TenantID, &c.CompanyID, &c.Alias,
		&c.Vence, &c.Activo, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
