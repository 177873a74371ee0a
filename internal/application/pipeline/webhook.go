package pipeline

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jhoicas/ecf-emisor/internal/domain/entity"
	"github.com/jhoicas/ecf-emisor/internal/domain/repository"
	"github.com/jhoicas/ecf-emisor/pkg/logger"
)

// Cabeceras de los webhooks salientes.
const (
	headerFirma  = "X-ECF-Firma" // HMAC-SHA256 hex del cuerpo, llave = secret de la suscripción
	headerEvento = "X-ECF-Evento"
)

const (
	webhookTimeout       = 10 * time.Second
	webhookReintentos    = 3
	webhookEsperaInicial = 10 * time.Second
)

// EventoFactura cuerpo del webhook de cambio de estado.
type EventoFactura struct {
	FacturaID       string `json:"factura_id"`
	ENCF            string `json:"encf,omitempty"`
	TipoECF         string `json:"tipo_ecf"`
	Estado          string `json:"estado"`
	TrackID         string `json:"track_id,omitempty"`
	CodigoSeguridad string `json:"codigo_seguridad,omitempty"`
	UltimaRespuesta string `json:"ultima_respuesta,omitempty"`
	UltimoMensaje   string `json:"ultimo_mensaje,omitempty"`
	EmitidoEn       string `json:"emitido_en"`
}

// Dispatcher entrega webhooks firmados a los sistemas comerciales suscritos.
// Implementa emission.Notificador. Las entregas son asíncronas y con
// reintentos; diez fallos en 24 h desactivan la suscripción.
type Dispatcher struct {
	webhooks   repository.WebhookRepository
	httpClient *http.Client
	cola       *Cola
	clock      Clock
	log        *logger.Logger
}

// NewDispatcher construye el dispatcher de webhooks.
func NewDispatcher(webhooks repository.WebhookRepository, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		webhooks:   webhooks,
		httpClient: &http.Client{Timeout: webhookTimeout},
		cola:       NewCola(4, 0, log),
		clock:      RealClock{},
		log:        log,
	}
}

// WithHTTPClient reemplaza el cliente HTTP (tests).
func (d *Dispatcher) WithHTTPClient(hc *http.Client) *Dispatcher {
	d.httpClient = hc
	return d
}

// WithClock reemplaza el reloj (tests).
func (d *Dispatcher) WithClock(clock Clock) *Dispatcher {
	d.clock = clock
	return d
}

// Start arranca los workers de entrega.
func (d *Dispatcher) Start(ctx context.Context, workers int) {
	d.cola.Start(ctx, workers)
}

// Esperar bloquea hasta vaciar las entregas en vuelo.
func (d *Dispatcher) Esperar() {
	d.cola.Esperar()
}

// NotificarCambioEstado encola la entrega del evento a cada suscripción
// activa del tenant. No bloquea el camino de emisión.
func (d *Dispatcher) NotificarCambioEstado(ctx context.Context, f *entity.Factura) {
	subs, err := d.webhooks.ListActivasByTenant(ctx, f.TenantID)
	if err != nil {
		d.log.Error().Err(err).Str("tenant_id", f.TenantID).Msg("no se pudieron listar las suscripciones")
		return
	}
	if len(subs) == 0 {
		return
	}

	evento := EventoFactura{
		FacturaID:       f.ID,
		ENCF:            f.ENCF,
		TipoECF:         f.TipoECF,
		Estado:          string(f.Estado),
		TrackID:         f.TrackID,
		CodigoSeguridad: f.CodigoSeguridad,
		UltimaRespuesta: f.UltimaRespuesta,
		UltimoMensaje:   f.UltimoMensaje,
		EmitidoEn:       d.clock.Now().UTC().Format(time.RFC3339),
	}
	cuerpo, err := json.Marshal(evento)
	if err != nil {
		d.log.Error().Err(err).Str("factura_id", f.ID).Msg("no se pudo serializar el evento")
		return
	}

	for _, sub := range subs {
		sub := sub
		clave := fmt.Sprintf("webhook:%s:%s:%s", sub.ID, f.ID, f.Estado)
		d.cola.Encolar(clave, func(ctx context.Context) {
			d.entregar(ctx, sub, cuerpo)
		})
	}
}

// entregar hace el POST firmado con reintentos exponenciales (10/20/40 s) y
// lleva la contabilidad de fallos de la suscripción.
func (d *Dispatcher) entregar(ctx context.Context, sub *entity.WebhookSubscription, cuerpo []byte) {
	firma := FirmarCuerpo(sub.Secret, cuerpo)

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = webhookEsperaInicial
	expo.Multiplier = 2
	expo.RandomizationFactor = 0
	expo.MaxElapsedTime = 0

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(cuerpo))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(headerFirma, firma)
		req.Header.Set(headerEvento, "factura.cambio_estado")

		resp, err := d.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("webhook %s: status %d", sub.URL, resp.StatusCode)
		}
		return nil
	}
	err := backoff.RetryNotifyWithTimer(op,
		backoff.WithContext(backoff.WithMaxRetries(expo, webhookReintentos), ctx),
		nil, newClockTimer(d.clock))

	if err == nil {
		if sub.Fallos > 0 {
			sub.RegistrarExito()
			if uerr := d.webhooks.Update(ctx, sub); uerr != nil {
				d.log.Error().Err(uerr).Str("webhook_id", sub.ID).Msg("no se pudo limpiar la contabilidad de fallos")
			}
		}
		return
	}

	desactivada := sub.RegistrarFallo(d.clock.Now())
	if uerr := d.webhooks.Update(ctx, sub); uerr != nil {
		d.log.Error().Err(uerr).Str("webhook_id", sub.ID).Msg("no se pudo registrar el fallo de entrega")
	}
	if desactivada {
		d.log.Warn().Str("webhook_id", sub.ID).Str("url", sub.URL).
			Msg("suscripción desactivada: demasiados fallos de entrega en 24 h")
		return
	}
	d.log.Warn().Err(err).Str("webhook_id", sub.ID).Int("fallos", sub.Fallos).Msg("entrega de webhook fallida")
}

// FirmarCuerpo calcula la firma HMAC-SHA256 (hex) de un cuerpo de webhook.
// Exportada para que los suscriptores puedan verificar con el mismo código.
func FirmarCuerpo(secret string, cuerpo []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(cuerpo)
	return hex.EncodeToString(mac.Sum(nil))
}
