package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jhoicas/ecf-emisor/internal/domain"
	"github.com/jhoicas/ecf-emisor/internal/domain/entity"
	"github.com/jhoicas/ecf-emisor/internal/domain/repository"
)

var _ repository.WebhookRepository = (*WebhookRepo)(nil)

// WebhookRepo implementa WebhookRepository sobre PostgreSQL.
type WebhookRepo struct {
	q Querier
}

// NewWebhookRepository construye el repositorio.
func NewWebhookRepository(q Querier) *WebhookRepo {
	return &WebhookRepo{q: q}
}

const webhookColumns = `id, tenant_id, url, secret, activa, fallos, primer_fallo_en, ultimo_fallo_en, created_at, updated_at`

func (r *WebhookRepo) Create(ctx context.Context, w *entity.WebhookSubscription) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	const q = `
		INSERT INTO webhook_subscriptions
			(id, tenant_id, url, secret, activa, fallos, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, now(), now())`
	_, err := r.q.Exec(ctx, q, w.ID, w.TenantID, w.URL, w.Secret, w.Activa)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: la URL ya está suscrita", domain.ErrDuplicate)
		}
		return fmt.Errorf("insert webhook: %w", err)
	}
	return nil
}

func (r *WebhookRepo) ListActivasByTenant(ctx context.Context, tenantID string) ([]*entity.WebhookSubscription, error) {
	const q = `
		SELECT ` + webhookColumns + `
		FROM webhook_subscriptions
		WHERE tenant_id = $1 AND activa = true`
	rows, err := r.q.Query(ctx, q, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()
	var list []*entity.WebhookSubscription
	for rows.Next() {
		var w entity.WebhookSubscription
		err := rows.Scan(
			&w.ID, &w.TenantID, &w.URL, &w.Secret, &w.Activa,
			&w.Fallos, &w.PrimerFalloEn, &w.UltimoFalloEn,
			&w.CreatedAt, &w.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		list = append(list, &w)
	}
	return list, rows.Err()
}

func (r *WebhookRepo) Update(ctx context.Context, w *entity.WebhookSubscription) error {
	const q = `
		UPDATE webhook_subscriptions
		SET activa = $2, fallos = $3, primer_fallo_en = $4, ultimo_fallo_en = $5, updated_at = now()
		WHERE id = $1`
	_, err := r.q.Exec(ctx, q, w.ID, w.Activa, w.Fallos, w.PrimerFalloEn, w.UltimoFalloEn)
	if err != nil {
		return fmt.Errorf("update webhook: %w", err)
	}
	return nil
}
