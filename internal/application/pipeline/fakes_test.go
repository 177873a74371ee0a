package pipeline_test

import (
	"context"
	"crypto/tls"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jhoicas/ecf-emisor/internal/application/emission"
	"github.com/jhoicas/ecf-emisor/internal/application/pipeline"
	"github.com/jhoicas/ecf-emisor/internal/domain"
	"github.com/jhoicas/ecf-emisor/internal/domain/ecf"
	"github.com/jhoicas/ecf-emisor/internal/domain/entity"
	"github.com/jhoicas/ecf-emisor/internal/domain/repository"
	"github.com/jhoicas/ecf-emisor/internal/infrastructure/dgii"
	"github.com/jhoicas/ecf-emisor/internal/infrastructure/dgii/signer"
	pkgecf "github.com/jhoicas/ecf-emisor/pkg/ecf"
	"github.com/jhoicas/ecf-emisor/pkg/logger"
)

// Dobles en memoria para ejercitar el pipeline de punta a punta sin red ni
// base de datos. El reloj instantáneo hace que toda espera (reintentos,
// cadencia del poll) dispare de inmediato: los tests observan la secuencia de
// decisiones, no el paso del tiempo.

const (
	testTenant       = "t1"
	testCompany      = "c1"
	testRNCEmisor    = "101023333"
	testRNCComprador = "00101000107"
)

var relojFijo = time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

// relojInstantaneo Clock cuyo After dispara sin esperar.
type relojInstantaneo struct{}

func (relojInstantaneo) Now() time.Time { return relojFijo }

func (relojInstantaneo) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- relojFijo
	return ch
}

// ── facturas ──────────────────────────────────────────────────────────────────

type facturasMem struct {
	mu  sync.Mutex
	m   map[string]*entity.Factura
	seq int
}

func nuevasFacturas() *facturasMem {
	return &facturasMem{m: make(map[string]*entity.Factura)}
}

func (r *facturasMem) Create(_ context.Context, f *entity.Factura) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	f.ID = fmt.Sprintf("f-%03d", r.seq)
	clone := *f
	r.m[f.ID] = &clone
	return nil
}

func (r *facturasMem) GetByID(_ context.Context, id string) (*entity.Factura, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.m[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *f
	return &clone, nil
}

func (r *facturasMem) GetByIdempotencyKey(_ context.Context, tenantID, key string) (*entity.Factura, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.m {
		if f.TenantID == tenantID && f.IdempotencyKey == key {
			clone := *f
			return &clone, nil
		}
	}
	return nil, nil
}

func (r *facturasMem) Update(_ context.Context, f *entity.Factura) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[f.ID]; !ok {
		return domain.ErrNotFound
	}
	clone := *f
	r.m[f.ID] = &clone
	return nil
}

func (r *facturasMem) ListEnContingencia(_ context.Context, limit int) ([]*entity.Factura, error) {
	return r.listar(limit, func(f *entity.Factura) bool {
		return f.Estado == ecf.EstadoContingencia
	})
}

func (r *facturasMem) ListEnviadasSinResultado(_ context.Context, limit int) ([]*entity.Factura, error) {
	return r.listar(limit, func(f *entity.Factura) bool {
		return f.Estado == ecf.EstadoEnviado && f.TrackID != ""
	})
}

func (r *facturasMem) listar(limit int, filtro func(*entity.Factura) bool) ([]*entity.Factura, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Factura
	for _, f := range r.m {
		if filtro(f) {
			clone := *f
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func persistida(t *testing.T, r *facturasMem, id string) *entity.Factura {
	t.Helper()
	f, err := r.GetByID(context.Background(), id)
	require.NoError(t, err)
	return f
}

// ── secuencias ────────────────────────────────────────────────────────────────

type secuenciasMem struct {
	mu  sync.Mutex
	m   map[string]*entity.Secuencia
	seq int
}

func nuevasSecuencias() *secuenciasMem {
	return &secuenciasMem{m: make(map[string]*entity.Secuencia)}
}

func (r *secuenciasMem) Create(_ context.Context, s *entity.Secuencia) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	s.ID = fmt.Sprintf("s-%03d", r.seq)
	clone := *s
	r.m[s.ID] = &clone
	return nil
}

func (r *secuenciasMem) GetByID(_ context.Context, id string) (*entity.Secuencia, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *s
	return &clone, nil
}

func (r *secuenciasMem) GetActiva(_ context.Context, companyID, tipoECF string) (*entity.Secuencia, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.activa(companyID, tipoECF); s != nil {
		clone := *s
		return &clone, nil
	}
	return nil, nil
}

func (r *secuenciasMem) ListByCompanyYTipo(_ context.Context, companyID, tipoECF string) ([]*entity.Secuencia, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Secuencia
	for _, s := range r.m {
		if s.CompanyID == companyID && s.TipoECF == tipoECF {
			clone := *s
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *secuenciasMem) Update(_ context.Context, s *entity.Secuencia) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[s.ID]; !ok {
		return domain.ErrNotFound
	}
	clone := *s
	r.m[s.ID] = &clone
	return nil
}

func (r *secuenciasMem) AsignarSiguiente(_ context.Context, companyID, tipoECF string) (*repository.Asignacion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.activa(companyID, tipoECF)
	if s == nil {
		return nil, domain.ErrSecuenciaNoEncontrada
	}
	if s.Actual >= s.Hasta {
		s.Activa = false
		return nil, domain.ErrSecuenciaAgotada
	}
	s.Actual++
	encf, err := pkgecf.FormatENCF(tipoECF, s.Actual)
	if err != nil {
		return nil, err
	}
	return &repository.Asignacion{
		ENCF:        encf,
		Numero:      s.Actual,
		Restantes:   s.Restantes(),
		TamanoRango: s.Tamano(),
	}, nil
}

func (r *secuenciasMem) activa(companyID, tipoECF string) *entity.Secuencia {
	for _, s := range r.m {
		if s.CompanyID == companyID && s.TipoECF == tipoECF && s.Activa {
			return s
		}
	}
	return nil
}

// ── bóveda, firmador y cliente DGII ──────────────────────────────────────────

type bovedaStub struct{}

func (bovedaStub) CertificadoDeFirma(context.Context, string, string) (tls.Certificate, error) {
	return tls.Certificate{}, nil
}

type firmadorStub struct{}

func (firmadorStub) Sign(xmlBytes []byte, _ tls.Certificate) (*signer.Resultado, error) {
	return &signer.Resultado{
		XMLFirmado:      append([]byte("<!--firmado-->"), xmlBytes...),
		CodigoSeguridad: "a1b2c3",
		FechaFirma:      relojFijo,
	}, nil
}

type clienteStub struct {
	disponibleErr error

	enviarFn    func() (*dgii.Recepcion, error)
	consultarFn func() (*dgii.ResultadoConsulta, error)

	enviarCalls   atomic.Int64
	consultaCalls atomic.Int64
}

func (c *clienteStub) Token(context.Context, string, string, tls.Certificate) (string, error) {
	return "tok-test", nil
}

func (c *clienteStub) InvalidateToken(string, string) {}

func (c *clienteStub) Enviar(context.Context, string, []byte, string) (*dgii.Recepcion, error) {
	c.enviarCalls.Add(1)
	if c.enviarFn != nil {
		return c.enviarFn()
	}
	return &dgii.Recepcion{TrackID: "trk-1"}, nil
}

func (c *clienteStub) EnviarResumen(context.Context, string, []byte, string) (*dgii.RecepcionFC, error) {
	return &dgii.RecepcionFC{Codigo: "1"}, nil
}

func (c *clienteStub) ConsultarResultado(context.Context, string, string) (*dgii.ResultadoConsulta, error) {
	c.consultaCalls.Add(1)
	if c.consultarFn != nil {
		return c.consultarFn()
	}
	return &dgii.ResultadoConsulta{Codigo: "1"}, nil
}

func (c *clienteStub) AnularRango(context.Context, string, []byte, string) (*dgii.ResultadoAnulacion, error) {
	return &dgii.ResultadoAnulacion{Codigo: "0"}, nil
}

func (c *clienteStub) EnviarAcuse(context.Context, string, string, []byte, string) (*dgii.ResultadoAcuse, error) {
	return &dgii.ResultadoAcuse{Estado: "0"}, nil
}

func (c *clienteStub) EnviarAprobacionComercial(context.Context, string, string, []byte, string) (*dgii.ResultadoAcuse, error) {
	return &dgii.ResultadoAcuse{Estado: "1"}, nil
}

func (c *clienteStub) Directorio(context.Context, string) ([]dgii.EmisorDirectorio, error) {
	return nil, nil
}

func (c *clienteStub) ServicioDisponible(context.Context) error { return c.disponibleErr }

func errTransitorio(op string) error {
	return &domain.ProtocolError{Op: op, Message: "servicio DGII inalcanzable", Transient: true}
}

func errTerminal(op, code, msg string) error {
	return &domain.ProtocolError{Op: op, Code: code, Message: msg, Transient: false}
}

// ── webhooks y certificados ──────────────────────────────────────────────────

type webhooksMem struct {
	mu sync.Mutex
	m  map[string]*entity.WebhookSubscription
}

func nuevosWebhooks() *webhooksMem {
	return &webhooksMem{m: make(map[string]*entity.WebhookSubscription)}
}

func (r *webhooksMem) Create(_ context.Context, w *entity.WebhookSubscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *w
	r.m[w.ID] = &clone
	return nil
}

func (r *webhooksMem) ListActivasByTenant(_ context.Context, tenantID string) ([]*entity.WebhookSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.WebhookSubscription
	for _, w := range r.m {
		if w.TenantID == tenantID && w.Activa {
			clone := *w
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *webhooksMem) Update(_ context.Context, w *entity.WebhookSubscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[w.ID]; !ok {
		return domain.ErrNotFound
	}
	clone := *w
	r.m[w.ID] = &clone
	return nil
}

func (r *webhooksMem) suscripcion(t *testing.T, id string) *entity.WebhookSubscription {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.m[id]
	require.True(t, ok)
	clone := *w
	return &clone
}

type certsMem struct {
	mu sync.Mutex
	m  map[string]*entity.Certificado
}

func nuevosCerts() *certsMem {
	return &certsMem{m: make(map[string]*entity.Certificado)}
}

func (r *certsMem) Create(_ context.Context, c *entity.Certificado) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *c
	r.m[c.ID] = &clone
	return nil
}

func (r *certsMem) GetActivoByCompany(_ context.Context, tenantID, companyID string) (*entity.Certificado, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.m {
		if c.TenantID == tenantID && c.CompanyID == companyID && c.Activo {
			clone := *c
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *certsMem) ListActivos(_ context.Context) ([]*entity.Certificado, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Certificado
	for _, c := range r.m {
		if c.Activo {
			clone := *c
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *certsMem) Update(_ context.Context, c *entity.Certificado) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[c.ID]; !ok {
		return domain.ErrNotFound
	}
	clone := *c
	r.m[c.ID] = &clone
	return nil
}

func (r *certsMem) certificado(t *testing.T, id string) *entity.Certificado {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.m[id]
	require.True(t, ok)
	clone := *c
	return &clone
}

// ── entorno armado ────────────────────────────────────────────────────────────

type entorno struct {
	facturas   *facturasMem
	secuencias *secuenciasMem
	cliente    *clienteStub

	issuer *emission.Issuer
	pipe   *pipeline.Pipeline
}

func nuevoEntorno() *entorno {
	e := &entorno{
		facturas:   nuevasFacturas(),
		secuencias: nuevasSecuencias(),
		cliente:    &clienteStub{},
	}
	log := logger.Nop()
	reloj := func() time.Time { return relojFijo }
	allocator := emission.NewAllocatorWithClock(e.secuencias, log, reloj)
	e.issuer = emission.NewIssuer(e.facturas, allocator, bovedaStub{}, firmadorStub{}, e.cliente, nil, log).
		WithClock(reloj)
	contingencia := emission.NewContingencia(e.facturas, e.issuer, e.cliente, 10, log).
		WithClock(reloj)
	e.pipe = pipeline.New(e.issuer, contingencia, e.facturas, 2, log).
		WithClock(relojInstantaneo{})
	return e
}

// conSecuencia siembra un rango de numeración activo.
func (e *entorno) conSecuencia(t *testing.T, tipoECF string, desde, hasta int64) {
	t.Helper()
	require.NoError(t, e.secuencias.Create(context.Background(), &entity.Secuencia{
		CompanyID: testCompany,
		TipoECF:   tipoECF,
		Desde:     desde,
		Hasta:     hasta,
		Actual:    desde - 1,
		Vence:     relojFijo.AddDate(1, 0, 0),
		Activa:    true,
	}))
}

// borrador siembra una factura recién emitida, lista para procesar.
func (e *entorno) borrador(t *testing.T) *entity.Factura {
	t.Helper()
	f, _, err := e.issuer.Emitir(context.Background(), emission.EmitirRequest{
		TenantID:     testTenant,
		CompanyID:    testCompany,
		RNCEmisor:    testRNCEmisor,
		RNCComprador: testRNCComprador,
		TipoECF:      "31",
		XMLSinFirmar: "<ECF><Encabezado/></ECF>",
		Subtotal:     "1000.00",
		TotalITBIS:   "180.00",
		MontoTotal:   "1180.00",
	})
	require.NoError(t, err)
	return f
}

// enviadaSinResultado siembra una factura ENVIADO con track id, como la deja
// un proceso que murió antes de completar su poll.
func (e *entorno) enviadaSinResultado(t *testing.T, encf, trackID string) *entity.Factura {
	t.Helper()
	f := &entity.Factura{
		TenantID:     testTenant,
		CompanyID:    testCompany,
		RNCEmisor:    testRNCEmisor,
		TipoECF:      "31",
		ENCF:         encf,
		Estado:       ecf.EstadoEnviado,
		TrackID:      trackID,
		XMLSinFirmar: "<ECF><Encabezado/></ECF>",
		CreatedAt:    relojFijo.Add(-time.Hour),
	}
	require.NoError(t, e.facturas.Create(context.Background(), f))
	return f
}
