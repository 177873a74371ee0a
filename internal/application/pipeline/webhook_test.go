package pipeline_test

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/ecf-emisor/internal/application/pipeline"
	"github.com/jhoicas/ecf-emisor/internal/domain/ecf"
	"github.com/jhoicas/ecf-emisor/internal/domain/entity"
	"github.com/jhoicas/ecf-emisor/pkg/logger"
)

type entregaRecibida struct {
	firma  string
	evento string
	cuerpo []byte
}

func facturaAceptada() *entity.Factura {
	return &entity.Factura{
		ID:              "f-001",
		TenantID:        testTenant,
		CompanyID:       testCompany,
		TipoECF:         "31",
		ENCF:            "E310000000001",
		Estado:          ecf.EstadoAceptado,
		TrackID:         "trk-1",
		CodigoSeguridad: "a1b2c3",
	}
}

func TestDispatcher_EntregaFirmada(t *testing.T) {
	recibidas := make(chan entregaRecibida, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cuerpo, _ := io.ReadAll(r.Body)
		recibidas <- entregaRecibida{
			firma:  r.Header.Get("X-ECF-Firma"),
			evento: r.Header.Get("X-ECF-Evento"),
			cuerpo: cuerpo,
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	webhooks := nuevosWebhooks()
	require.NoError(t, webhooks.Create(context.Background(), &entity.WebhookSubscription{
		ID: "w1", TenantID: testTenant, URL: srv.URL, Secret: "s3creto", Activa: true,
	}))

	d := pipeline.NewDispatcher(webhooks, logger.Nop()).WithClock(relojInstantaneo{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx, 1)

	d.NotificarCambioEstado(ctx, facturaAceptada())

	var got entregaRecibida
	select {
	case got = <-recibidas:
	case <-time.After(3 * time.Second):
		t.Fatal("el webhook nunca llegó")
	}

	assert.Equal(t, "factura.cambio_estado", got.evento)
	assert.Equal(t, pipeline.FirmarCuerpo("s3creto", got.cuerpo), got.firma,
		"la firma de la cabecera corresponde al cuerpo entregado")

	var ev pipeline.EventoFactura
	require.NoError(t, json.Unmarshal(got.cuerpo, &ev))
	assert.Equal(t, "f-001", ev.FacturaID)
	assert.Equal(t, "E310000000001", ev.ENCF)
	assert.Equal(t, string(ecf.EstadoAceptado), ev.Estado)
	assert.Equal(t, "trk-1", ev.TrackID)
	assert.Equal(t, "a1b2c3", ev.CodigoSeguridad)
	assert.NotEmpty(t, ev.EmitidoEn)
}

// Las suscripciones inactivas no reciben entregas.
func TestDispatcher_IgnoraSuscripcionesInactivas(t *testing.T) {
	var entregas atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entregas.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	webhooks := nuevosWebhooks()
	require.NoError(t, webhooks.Create(context.Background(), &entity.WebhookSubscription{
		ID: "w1", TenantID: testTenant, URL: srv.URL, Secret: "a", Activa: true,
	}))
	require.NoError(t, webhooks.Create(context.Background(), &entity.WebhookSubscription{
		ID: "w2", TenantID: testTenant, URL: srv.URL, Secret: "b", Activa: false,
	}))

	d := pipeline.NewDispatcher(webhooks, logger.Nop()).WithClock(relojInstantaneo{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx, 1)

	d.NotificarCambioEstado(ctx, facturaAceptada())
	require.Eventually(t, func() bool {
		return entregas.Load() == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), entregas.Load(), "solo la suscripción activa recibe")
}

// El décimo fallo dentro de la ventana de 24 h desactiva la suscripción.
func TestDispatcher_DesactivaPorFallosAcumulados(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	primerFallo := relojFijo.Add(-time.Hour)
	webhooks := nuevosWebhooks()
	require.NoError(t, webhooks.Create(context.Background(), &entity.WebhookSubscription{
		ID: "w1", TenantID: testTenant, URL: srv.URL, Secret: "s", Activa: true,
		Fallos: 9, PrimerFalloEn: &primerFallo,
	}))

	d := pipeline.NewDispatcher(webhooks, logger.Nop()).WithClock(relojInstantaneo{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx, 1)

	d.NotificarCambioEstado(ctx, facturaAceptada())
	require.Eventually(t, func() bool {
		return !webhooks.suscripcion(t, "w1").Activa
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 10, webhooks.suscripcion(t, "w1").Fallos)
}

// Una entrega exitosa limpia la contabilidad de fallos acumulada.
func TestDispatcher_ExitoLimpiaFallos(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	primerFallo := relojFijo.Add(-time.Hour)
	webhooks := nuevosWebhooks()
	require.NoError(t, webhooks.Create(context.Background(), &entity.WebhookSubscription{
		ID: "w1", TenantID: testTenant, URL: srv.URL, Secret: "s", Activa: true,
		Fallos: 3, PrimerFalloEn: &primerFallo,
	}))

	d := pipeline.NewDispatcher(webhooks, logger.Nop()).WithClock(relojInstantaneo{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx, 1)

	d.NotificarCambioEstado(ctx, facturaAceptada())
	require.Eventually(t, func() bool {
		return webhooks.suscripcion(t, "w1").Fallos == 0
	}, 3*time.Second, 10*time.Millisecond)
	assert.Nil(t, webhooks.suscripcion(t, "w1").PrimerFalloEn)
}

func TestFirmarCuerpo(t *testing.T) {
	cuerpo := []byte(`{"factura_id":"f-001"}`)

	firma := pipeline.FirmarCuerpo("s3creto", cuerpo)
	assert.Len(t, firma, 64, "HMAC-SHA256 en hex")
	_, err := hex.DecodeString(firma)
	assert.NoError(t, err)

	assert.Equal(t, firma, pipeline.FirmarCuerpo("s3creto", cuerpo), "determinista")
	assert.NotEqual(t, firma, pipeline.FirmarCuerpo("otra-llave", cuerpo))
	assert.NotEqual(t, firma, pipeline.FirmarCuerpo("s3creto", []byte(`{}`)))
}
