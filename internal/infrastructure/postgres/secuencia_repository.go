package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/ecf-emisor/internal/domain"
	"github.com/jhoicas/ecf-emisor/internal/domain/entity"
	"github.com/jhoicas/ecf-emisor/internal/domain/repository"
	pkgecf "github.com/jhoicas/ecf-emisor/pkg/ecf"
)

var _ repository.SecuenciaRepository = (*SecuenciaRepo)(nil)

// SecuenciaRepo implementa SecuenciaRepository sobre PostgreSQL.
// AsignarSiguiente necesita abrir su propia transacción, por eso recibe el
// pool y no un Querier.
type SecuenciaRepo struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewSecuenciaRepository construye el repositorio.
func NewSecuenciaRepository(pool *pgxpool.Pool) *SecuenciaRepo {
	return &SecuenciaRepo{pool: pool, now: time.Now}
}

// WithClock reemplaza el reloj (tests).
func (r *SecuenciaRepo) WithClock(now func() time.Time) *SecuenciaRepo {
	r.now = now
	return r
}

const secuenciaColumns = `id, company_id, tipo_ecf, desde, actual, hasta, vence, activa, created_at, updated_at`

func (r *SecuenciaRepo) Create(ctx context.Context, s *entity.Secuencia) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	const q = `
		INSERT INTO secuencias
			(id, company_id, tipo_ecf, desde, actual, hasta, vence, activa, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, now(), now())`
	_, err := r.pool.Exec(ctx, q,
		s.ID, s.CompanyID, s.TipoECF, s.Desde, s.Actual, s.Hasta, s.Vence, s.Activa,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: ya existe una secuencia activa para el par", domain.ErrDuplicate)
		}
		return fmt.Errorf("insert secuencia: %w", err)
	}
	return nil
}

func (r *SecuenciaRepo) GetByID(ctx context.Context, id string) (*entity.Secuencia, error) {
	const q = `SELECT ` + secuenciaColumns + ` FROM secuencias WHERE id = $1`
	s, err := scanSecuencia(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get secuencia by id: %w", err)
	}
	return s, nil
}

// GetActiva devuelve nil, nil si no hay secuencia activa para el par.
func (r *SecuenciaRepo) GetActiva(ctx context.Context, companyID, tipoECF string) (*entity.Secuencia, error) {
	const q = `
		SELECT ` + secuenciaColumns + `
		FROM secuencias
		WHERE company_id = $1 AND tipo_ecf = $2 AND activa = true
		LIMIT 1`
	s, err := scanSecuencia(r.pool.QueryRow(ctx, q, companyID, tipoECF))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get secuencia activa: %w", err)
	}
	return s, nil
}

func (r *SecuenciaRepo) ListByCompanyYTipo(ctx context.Context, companyID, tipoECF string) ([]*entity.Secuencia, error) {
	const q = `
		SELECT ` + secuenciaColumns + `
		FROM secuencias
		WHERE company_id = $1 AND tipo_ecf = $2
		ORDER BY desde`
	rows, err := r.pool.Query(ctx, q, companyID, tipoECF)
	if err != nil {
		return nil, fmt.Errorf("list secuencias: %w", err)
	}
	defer rows.Close()
	var list []*entity.Secuencia
	for rows.Next() {
		s, err := scanSecuencia(rows)
		if err != nil {
			return nil, fmt.Errorf("scan secuencia: %w", err)
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

func (r *SecuenciaRepo) Update(ctx context.Context, s *entity.Secuencia) error {
	const q = `
		UPDATE secuencias
		SET actual = $2, vence = $3, activa = $4, updated_at = now()
		WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, s.ID, s.Actual, s.Vence, s.Activa)
	if err != nil {
		return fmt.Errorf("update secuencia: %w", err)
	}
	return nil
}

// AsignarSiguiente emite el próximo número bajo una transacción con bloqueo de
// fila. El SELECT ... FOR UPDATE serializa a los llamadores concurrentes sobre
// la misma secuencia: ningún par de llamadas recibe el mismo número y la
// numeración emitida es un tramo contiguo sin huecos.
func (r *SecuenciaRepo) AsignarSiguiente(ctx context.Context, companyID, tipoECF string) (*repository.Asignacion, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const lockQ = `
		SELECT ` + secuenciaColumns + `
		FROM secuencias
		WHERE company_id = $1 AND tipo_ecf = $2 AND activa = true
		LIMIT 1
		FOR UPDATE`
	s, err := scanSecuencia(tx.QueryRow(ctx, lockQ, companyID, tipoECF))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSecuenciaNoEncontrada
		}
		return nil, fmt.Errorf("lock secuencia: %w", err)
	}

	// Vencida o agotada: se desactiva como efecto colateral aunque la llamada
	// falle; nunca se reactiva.
	if s.Vencida(r.now()) {
		if err := desactivar(ctx, tx, s.ID); err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit transaction: %w", err)
		}
		return nil, domain.ErrSecuenciaVencida
	}
	siguiente := s.Actual + 1
	if siguiente > s.Hasta {
		if err := desactivar(ctx, tx, s.ID); err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit transaction: %w", err)
		}
		return nil, domain.ErrSecuenciaAgotada
	}

	const advanceQ = `UPDATE secuencias SET actual = $2, updated_at = now() WHERE id = $1`
	if _, err := tx.Exec(ctx, advanceQ, s.ID, siguiente); err != nil {
		return nil, fmt.Errorf("avanzar secuencia: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	encf, err := pkgecf.FormatENCF(s.TipoECF, siguiente)
	if err != nil {
		return nil, err
	}
	return &repository.Asignacion{
		ENCF:        encf,
		Numero:      siguiente,
		Restantes:   s.Hasta - siguiente,
		TamanoRango: s.Tamano(),
	}, nil
}

func desactivar(ctx context.Context, q Querier, id string) error {
	const deactivateQ = `UPDATE secuencias SET activa = false, updated_at = now() WHERE id = $1`
	if _, err := q.Exec(ctx, deactivateQ, id); err != nil {
		return fmt.Errorf("desactivar secuencia: %w", err)
	}
	return nil
}

func scanSecuencia(row pgxScanner) (*entity.Secuencia, error) {
	var s entity.Secuencia
	err := row.Scan(
		&s.ID, &s.CompanyID, &s.TipoECF,
		&s.Desde, &s.Actual, &s.Hasta,
		&s.Vence, &s.Activa, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
