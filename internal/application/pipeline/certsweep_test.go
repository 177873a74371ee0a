package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/ecf-emisor/internal/application/pipeline"
	"github.com/jhoicas/ecf-emisor/internal/domain/entity"
	"github.com/jhoicas/ecf-emisor/pkg/logger"
)

func TestCertSweeper_DesactivaSoloVencidos(t *testing.T) {
	certs := nuevosCerts()
	ctx := context.Background()
	for _, c := range []*entity.Certificado{
		{ID: "c-vencido", TenantID: testTenant, CompanyID: "c1", Activo: true,
			Vence: relojFijo.Add(-time.Hour)},
		{ID: "c-critico", TenantID: testTenant, CompanyID: "c2", Activo: true,
			Vence: relojFijo.Add(3 * 24 * time.Hour)},
		{ID: "c-sano", TenantID: testTenant, CompanyID: "c3", Activo: true,
			Vence: relojFijo.Add(90 * 24 * time.Hour)},
	} {
		require.NoError(t, certs.Create(ctx, c))
	}

	sweeper := pipeline.NewCertSweeper(certs, logger.Nop()).WithClock(relojInstantaneo{})
	desactivados, err := sweeper.Barrer(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, desactivados)

	assert.False(t, certs.certificado(t, "c-vencido").Activo)
	assert.True(t, certs.certificado(t, "c-critico").Activo, "crítico solo se avisa, no se desactiva")
	assert.True(t, certs.certificado(t, "c-sano").Activo)
}

func TestCertSweeper_SinActivos(t *testing.T) {
	sweeper := pipeline.NewCertSweeper(nuevosCerts(), logger.Nop()).WithClock(relojInstantaneo{})
	desactivados, err := sweeper.Barrer(context.Background())
	require.NoError(t, err)
	assert.Zero(t, desactivados)
}
