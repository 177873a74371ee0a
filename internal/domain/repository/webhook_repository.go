package repository

import (
	"context"

	"github.com/jhoicas/ecf-emisor/internal/domain/entity"
)

// WebhookRepository suscripciones de notificación de los sistemas comerciales.
type WebhookRepository interface {
	Create(ctx context.Context, w *entity.WebhookSubscription) error
	ListActivasByTenant(ctx context.Context, tenantID string) ([]*entity.WebhookSubscription, error)
	Update(ctx context.Context, w *entity.WebhookSubscription) error
}
