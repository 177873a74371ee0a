package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jhoicas/ecf-emisor/internal/application/emission"
	"github.com/jhoicas/ecf-emisor/internal/domain"
	"github.com/jhoicas/ecf-emisor/internal/domain/ecf"
	"github.com/jhoicas/ecf-emisor/internal/domain/entity"
	"github.com/jhoicas/ecf-emisor/internal/domain/repository"
	"github.com/jhoicas/ecf-emisor/pkg/logger"
)

// Reintentos inmediatos de envío ante fallos transitorios, antes de pasar la
// factura a contingencia: esperas de 5 s, 10 s y 20 s.
const (
	reintentosEnvio    = 3
	esperaInicialEnvio = 5 * time.Second
	multiplicadorEnvio = 2.0
)

// Cadencia del poll de resultados: crece hasta estabilizarse en una hora;
// tras maxConsultas intentos sin resultado el poll se rinde y lo registra.
var intervalosConsulta = []time.Duration{
	30 * time.Second, time.Minute, 2 * time.Minute, 5 * time.Minute,
	10 * time.Minute, 30 * time.Minute, time.Hour,
}

const maxConsultas = 20

// Pipeline coordina los trabajos asíncronos de emisión: cola de firma y
// envío con reintentos, y polls de resultado autoprogramados.
type Pipeline struct {
	issuer       *emission.Issuer
	contingencia *emission.Contingencia
	facturas     repository.FacturaRepository
	cola         *Cola
	clock        Clock
	log          *logger.Logger

	ctx      context.Context
	ctxOnce  sync.Once
	pollWG   sync.WaitGroup
	enPoll   map[string]struct{}
	enPollMu sync.Mutex
}

// New construye el pipeline.
func New(
	issuer *emission.Issuer,
	contingencia *emission.Contingencia,
	facturas repository.FacturaRepository,
	workers int,
	log *logger.Logger,
) *Pipeline {
	return &Pipeline{
		issuer:       issuer,
		contingencia: contingencia,
		facturas:     facturas,
		cola:         NewCola(workers, 0, log),
		clock:        RealClock{},
		log:          log,
		enPoll:       make(map[string]struct{}),
	}
}

// WithClock reemplaza el reloj (tests).
func (p *Pipeline) WithClock(clock Clock) *Pipeline {
	p.clock = clock
	return p
}

// Start arranca los workers de la cola y recupera los polls pendientes de
// envíos que quedaron sin resultado (p.ej. tras un reinicio del servicio).
func (p *Pipeline) Start(ctx context.Context, workers int) {
	p.ctxOnce.Do(func() { p.ctx = ctx })
	p.cola.Start(ctx, workers)
	p.recuperarPendientes(ctx)
}

// Esperar bloquea hasta que la cola y los polls en vuelo terminen.
func (p *Pipeline) Esperar() {
	p.cola.Esperar()
	p.pollWG.Wait()
}

// EncolarEmision agenda la firma y envío de una factura. Idempotente por
// factura: si ya hay un trabajo en vuelo, no encola otro.
func (p *Pipeline) EncolarEmision(facturaID string) bool {
	return p.cola.Encolar("emision:"+facturaID, func(ctx context.Context) {
		p.emitir(ctx, facturaID)
	})
}

// emitir ejecuta el trabajo de firma y envío con reintentos inmediatos sobre
// fallos transitorios; si el WS sigue caído al agotarlos, la factura pasa a
// contingencia. Los errores fatales ya quedaron persistidos por el emisor.
func (p *Pipeline) emitir(ctx context.Context, facturaID string) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = esperaInicialEnvio
	expo.Multiplier = multiplicadorEnvio
	expo.RandomizationFactor = 0
	expo.MaxElapsedTime = 0

	var f *entity.Factura
	op := func() error {
		var err error
		f, err = p.issuer.Procesar(ctx, facturaID)
		if err == nil {
			return nil
		}
		if domain.IsTransientProtocolError(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	err := backoff.RetryNotifyWithTimer(op,
		backoff.WithContext(backoff.WithMaxRetries(expo, reintentosEnvio), ctx),
		nil, newClockTimer(p.clock))

	switch {
	case err == nil:
		if f != nil && f.Estado == ecf.EstadoEnviado && f.TrackID != "" {
			p.ProgramarConsulta(f.ID)
		}
	case domain.IsTransientProtocolError(err):
		if cerr := p.issuer.PasarAContingencia(ctx, facturaID, "WS DGII inalcanzable tras reintentos inmediatos"); cerr != nil {
			p.log.Error().Err(cerr).Str("factura_id", facturaID).Msg("no se pudo pasar a contingencia")
		}
	default:
		// fatal o rechazo: estado final ya persistido por el emisor
		p.log.Debug().Err(err).Str("factura_id", facturaID).Msg("emisión cerrada con fallo no transitorio")
	}
}

// ProgramarConsulta lanza el poll de resultado de un envío. La cadencia crece
// (30 s → 1 h) y el poll se reprograma a sí mismo hasta obtener un resultado
// final o agotar los intentos. Un poll por factura.
func (p *Pipeline) ProgramarConsulta(facturaID string) bool {
	p.enPollMu.Lock()
	if _, dup := p.enPoll[facturaID]; dup {
		p.enPollMu.Unlock()
		return false
	}
	p.enPoll[facturaID] = struct{}{}
	p.enPollMu.Unlock()

	p.pollWG.Add(1)
	go p.consultar(facturaID)
	return true
}

func (p *Pipeline) consultar(facturaID string) {
	defer p.pollWG.Done()
	defer func() {
		p.enPollMu.Lock()
		delete(p.enPoll, facturaID)
		p.enPollMu.Unlock()
	}()

	// un poll programado antes de Start corre sin contexto de apagado
	ctx := p.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	for intento := 0; intento < maxConsultas; intento++ {
		espera := intervalosConsulta[len(intervalosConsulta)-1]
		if intento < len(intervalosConsulta) {
			espera = intervalosConsulta[intento]
		}
		select {
		case <-ctx.Done():
			return
		case <-p.clock.After(espera):
		}

		final, err := p.issuer.Consultar(ctx, facturaID)
		if err != nil {
			// transitorio o no: el siguiente intervalo lo reintenta
			p.log.Warn().Err(err).Str("factura_id", facturaID).Int("intento", intento+1).
				Msg("consulta de resultado fallida")
			continue
		}
		if final {
			return
		}
	}
	if err := p.issuer.MarcarConsultaAgotada(ctx, facturaID); err != nil {
		p.log.Error().Err(err).Str("factura_id", facturaID).Msg("no se pudo registrar el poll agotado")
	}
}

// BarrerContingencia ejecuta un ciclo del barrido de contingencia y programa
// el poll de las facturas que quedaron en ENVIADO.
func (p *Pipeline) BarrerContingencia(ctx context.Context) error {
	procesadas, err := p.contingencia.Barrer(ctx)
	if err != nil {
		return err
	}
	for _, f := range procesadas {
		if f.Estado == ecf.EstadoEnviado && f.TrackID != "" {
			p.ProgramarConsulta(f.ID)
		}
	}
	return nil
}

// recuperarPendientes reprograma el poll de envíos que quedaron sin resultado.
func (p *Pipeline) recuperarPendientes(ctx context.Context) {
	pendientes, err := p.facturas.ListEnviadasSinResultado(ctx, 500)
	if err != nil {
		p.log.Error().Err(err).Msg("no se pudieron recuperar los envíos pendientes")
		return
	}
	for _, f := range pendientes {
		p.ProgramarConsulta(f.ID)
	}
	if len(pendientes) > 0 {
		p.log.Info().Int("cantidad", len(pendientes)).Msg("polls de resultado recuperados")
	}
}

// clockTimer adapta Clock al Timer de backoff para inyectar el reloj en los
// reintentos de envío.
type clockTimer struct {
	clock Clock
	c     <-chan time.Time
}

func newClockTimer(clock Clock) *clockTimer { return &clockTimer{clock: clock} }

func (t *clockTimer) Start(d time.Duration) { t.c = t.clock.After(d) }
func (t *clockTimer) C() <-chan time.Time   { return t.c }
func (t *clockTimer) Stop()                 {}
