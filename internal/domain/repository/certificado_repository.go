package repository

import (
	"context"

	"github.com/jhoicas/ecf-emisor/internal/domain/entity"
)

// CertificadoRepository metadatos de certificados de firma por empresa.
// El contenido PKCS#12 cifrado vive en la bóveda, fuera de este núcleo.
type CertificadoRepository interface {
	Create(ctx context.Context, c *entity.Certificado) error
	GetActivoByCompany(ctx context.Context, tenantID, companyID string) (*entity.Certificado, error)
	ListActivos(ctx context.Context) ([]*entity.Certificado, error)
	Update(ctx context.Context, c *entity.Certificado) error
}
