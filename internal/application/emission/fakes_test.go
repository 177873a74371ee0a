package emission_test

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
	"github.com/jhoicas/ecf-emisor/internal/domain"
	"github.com/jhoicas/ecf-emisor/internal/domain/ecf"
	"github.com/jhoicas/ecf-emisor/internal/domain/entity"
	"github.com/jhoicas/ecf-emisor/internal/domain/repository"
	"github.com/jhoicas/ecf-emisor/internal/infrastructure/dgii"
	"github.com/jhoicas/ecf-emisor/internal/infrastructure/dgii/signer"
	pkgecf "github.com/jhoicas/ecf-emisor/pkg/ecf"
	"github.com/jhoicas/ecf-emisor/pkg/logger"
)

// Dobles en memoria de los puertos del ciclo de emisión. Replican la semántica
// relevante de las implementaciones reales (copias al leer y escribir, errores
// de dominio, desactivación de secuencias) sin tocar red ni base de datos.

const (
	testTenant       = "t1"
	testCompany      = "c1"
	testRNCEmisor    = "101023333"
	testRNCComprador = "00101000107"
)

// relojFijo congela el tiempo de los casos de uso.
var relojFijo = time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

func reloj() time.Time { return relojFijo }

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

// persistida devuelve el estado persistido de la factura, no la copia en mano.
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
	now func() time.Time
}

func nuevasSecuencias() *secuenciasMem {
	return &secuenciasMem{m: make(map[string]*entity.Secuencia), now: reloj}
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
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
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

// AsignarSiguiente replica la semántica transaccional del repositorio real:
// vencimiento y agotamiento desactivan la secuencia aunque la llamada falle.
func (r *secuenciasMem) AsignarSiguiente(_ context.Context, companyID, tipoECF string) (*repository.Asignacion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.activa(companyID, tipoECF)
	if s == nil {
		return nil, domain.ErrSecuenciaNoEncontrada
	}
	if r.now().After(s.Vence) {
		s.Activa = false
		return nil, domain.ErrSecuenciaVencida
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

// ── bóveda y firmador ─────────────────────────────────────────────────────────

type bovedaStub struct {
	err error
}

func (b *bovedaStub) CertificadoDeFirma(context.Context, string, string) (tls.Certificate, error) {
	return tls.Certificate{}, b.err
}

type firmadorStub struct {
	mu       sync.Mutex
	err      error
	firmados [][]byte
}

func (f *firmadorStub) Sign(xmlBytes []byte, _ tls.Certificate) (*signer.Resultado, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	f.firmados = append(f.firmados, xmlBytes)
	f.mu.Unlock()
	return &signer.Resultado{
		XMLFirmado:      append([]byte("<!--firmado-->"), xmlBytes...),
		CodigoSeguridad: "a1b2c3",
		FechaFirma:      relojFijo,
	}, nil
}

func (f *firmadorStub) ultimoFirmado() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.firmados) == 0 {
		return ""
	}
	return string(f.firmados[len(f.firmados)-1])
}

// ── cliente DGII ──────────────────────────────────────────────────────────────

type clienteStub struct {
	tokenErr      error
	disponibleErr error

	enviarFn        func() (*dgii.Recepcion, error)
	enviarResumenFn func() (*dgii.RecepcionFC, error)
	consultarFn     func() (*dgii.ResultadoConsulta, error)
	anularFn        func() (*dgii.ResultadoAnulacion, error)

	directorio    []dgii.EmisorDirectorio
	directorioErr error

	enviarCalls   atomic.Int64
	resumenCalls  atomic.Int64
	consultaCalls atomic.Int64
	anularCalls   atomic.Int64

	mu            sync.Mutex
	acuseDestinos []string
	acuseEnviados [][]byte
}

func (c *clienteStub) Token(context.Context, string, string, tls.Certificate) (string, error) {
	if c.tokenErr != nil {
		return "", c.tokenErr
	}
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
	c.resumenCalls.Add(1)
	if c.enviarResumenFn != nil {
		return c.enviarResumenFn()
	}
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
	c.anularCalls.Add(1)
	if c.anularFn != nil {
		return c.anularFn()
	}
	return &dgii.ResultadoAnulacion{Codigo: "0"}, nil
}

func (c *clienteStub) EnviarAcuse(_ context.Context, _ string, destinoURL string, arecf []byte, _ string) (*dgii.ResultadoAcuse, error) {
	c.mu.Lock()
	c.acuseDestinos = append(c.acuseDestinos, destinoURL)
	c.acuseEnviados = append(c.acuseEnviados, arecf)
	c.mu.Unlock()
	return &dgii.ResultadoAcuse{Estado: "0"}, nil
}

func (c *clienteStub) EnviarAprobacionComercial(_ context.Context, _ string, destinoURL string, acecf []byte, _ string) (*dgii.ResultadoAcuse, error) {
	c.mu.Lock()
	c.acuseDestinos = append(c.acuseDestinos, destinoURL)
	c.acuseEnviados = append(c.acuseEnviados, acecf)
	c.mu.Unlock()
	return &dgii.ResultadoAcuse{Estado: "1"}, nil
}

func (c *clienteStub) Directorio(context.Context, string) ([]dgii.EmisorDirectorio, error) {
	if c.directorioErr != nil {
		return nil, c.directorioErr
	}
	return c.directorio, nil
}

func (c *clienteStub) ServicioDisponible(context.Context) error { return c.disponibleErr }

// errores de protocolo listos para configurar los stubs
func errTransitorio(op string) error {
	return &domain.ProtocolError{Op: op, Message: "servicio DGII inalcanzable", Transient: true}
}

func errTerminal(op, code, msg string) error {
	return &domain.ProtocolError{Op: op, Code: code, Message: msg, Transient: false}
}

// ── notificador ───────────────────────────────────────────────────────────────

type notificadorMem struct {
	mu      sync.Mutex
	eventos []ecf.Estado
}

func (n *notificadorMem) NotificarCambioEstado(_ context.Context, f *entity.Factura) {
	n.mu.Lock()
	n.eventos = append(n.eventos, f.Estado)
	n.mu.Unlock()
}

func (n *notificadorMem) ultimos() []ecf.Estado {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]ecf.Estado(nil), n.eventos...)
}

// ── entorno armado ────────────────────────────────────────────────────────────

type entorno struct {
	facturas   *facturasMem
	secuencias *secuenciasMem
	boveda     *bovedaStub
	firmador   *firmadorStub
	cliente    *clienteStub
	notifs     *notificadorMem

	allocator *emission.Allocator
	issuer    *emission.Issuer
}

func nuevoEntorno() *entorno {
	e := &entorno{
		facturas:   nuevasFacturas(),
		secuencias: nuevasSecuencias(),
		boveda:     &bovedaStub{},
		firmador:   &firmadorStub{},
		cliente:    &clienteStub{},
		notifs:     &notificadorMem{},
	}
	log := logger.Nop()
	e.allocator = emission.NewAllocatorWithClock(e.secuencias, log, reloj)
	e.issuer = emission.NewIssuer(e.facturas, e.allocator, e.boveda, e.firmador, e.cliente, e.notifs, log).
		WithClock(reloj)
	return e
}

// conSecuencia registra un rango activo listo para asignar.
func (e *entorno) conSecuencia(t *testing.T, tipoECF string, desde, hasta int64) *entity.Secuencia {
	t.Helper()
	s, err := e.allocator.RegistrarRango(context.Background(), emission.RegistroRango{
		CompanyID: testCompany,
		TipoECF:   tipoECF,
		Desde:     desde,
		Hasta:     hasta,
		Vence:     relojFijo.AddDate(1, 0, 0),
	})
	require.NoError(t, err)
	return s
}

// emitir crea una factura en BORRADOR por la vía normal del caso de uso.
func (e *entorno) emitir(t *testing.T, tipoECF, monto, resumen string) *entity.Factura {
	t.Helper()
	f, existente, err := e.issuer.Emitir(context.Background(), emission.EmitirRequest{
		TenantID:     testTenant,
		CompanyID:    testCompany,
		RNCEmisor:    testRNCEmisor,
		RNCComprador: testRNCComprador,
		TipoECF:      tipoECF,
		XMLSinFirmar: "<ECF><Encabezado/></ECF>",
		XMLResumen:   resumen,
		Subtotal:     "1000.00",
		TotalITBIS:   "180.00",
		MontoTotal:   monto,
	})
	require.NoError(t, err)
	require.False(t, existente)
	return f
}
