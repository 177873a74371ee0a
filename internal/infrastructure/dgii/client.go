// Package dgii implementa el cliente del protocolo de e-CF de la DGII:
// handshake de autenticación (semilla/firma/validación), recepción de
// documentos (estándar y RFCE), consultas, anulación de rangos y mensajes
// entre partes (acuse y aprobación comercial).
package dgii

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gocache "github.com/patrickmn/go-cache"

	"github.com/jhoicas/ecf-emisor/internal/infrastructure/dgii/signer"
	"github.com/jhoicas/ecf-emisor/pkg/logger"
)

// Firmador puerto hacia el motor de firma; el cliente lo usa para firmar la
// semilla de autenticación. Para tests se inyecta un mock.
type Firmador interface {
	Sign(xmlBytes []byte, cert tls.Certificate) (*signer.Resultado, error)
}

// margen de seguridad restado a la vida real del token para no expirar a
// mitad de una operación (cachear 55 de 60 minutos).
const tokenMargin = 5 * time.Minute

// Client cliente HTTP del WS DGII con caché de tokens por
// (tenant, empresa, ambiente).
type Client struct {
	httpClient *http.Client
	endpoints  *Endpoints
	firmador   Firmador
	tokens     *gocache.Cache
	tokenTTL   time.Duration
	log        *logger.Logger
	now        func() time.Time
}

// Option configura el cliente.
type Option func(*Client)

// WithHTTPClient reemplaza el cliente HTTP (tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTokenTTL cambia la vida útil por defecto del token cacheado.
func WithTokenTTL(ttl time.Duration) Option {
	return func(c *Client) { c.tokenTTL = ttl }
}

// WithHTTPTimeout cambia el timeout de las llamadas al WS DGII.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithClock inyecta el reloj (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient construye el cliente DGII. El timeout de red es generoso (60 s):
// el WS puede tardar varios segundos en responder.
func NewClient(endpoints *Endpoints, firmador Firmador, log *logger.Logger, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		endpoints:  endpoints,
		firmador:   firmador,
		// limpieza perezosa al leer + barrido periódico de expirados
		tokens:   gocache.New(55*time.Minute, 10*time.Minute),
		tokenTTL: 55 * time.Minute,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token devuelve un bearer token vigente para (tenant, empresa), ejecutando el
// handshake semilla → firma → validación si no hay uno cacheado. Dos llamadas
// concurrentes pueden pedir tokens frescos a la vez; ambos son válidos.
func (c *Client) Token(ctx context.Context, tenantID, companyID string, cert tls.Certificate) (string, error) {
	key := tenantID + "|" + companyID + "|" + c.endpoints.Environment
	if cached, found := c.tokens.Get(key); found {
		return cached.(string), nil
	}

	token, ttl, err := c.autenticar(ctx, cert)
	if err != nil {
		return "", err
	}
	c.tokens.Set(key, token, ttl)
	c.log.Debug().Str("company_id", companyID).Dur("ttl", ttl).Msg("token DGII renovado")
	return token, nil
}

// InvalidateToken descarta el token cacheado (p.ej. tras un 401 inesperado).
func (c *Client) InvalidateToken(tenantID, companyID string) {
	c.tokens.Delete(tenantID + "|" + companyID + "|" + c.endpoints.Environment)
}

// autenticar ejecuta el handshake completo y devuelve el token con su vida útil.
func (c *Client) autenticar(ctx context.Context, cert tls.Certificate) (string, time.Duration, error) {
	// 1) Pedir la semilla
	seed, err := c.get(ctx, "semilla", c.endpoints.Semilla(), "")
	if err != nil {
		return "", 0, err
	}

	// 2) Firmar la semilla con el certificado de la empresa
	firmada, err := c.firmador.Sign(seed, cert)
	if err != nil {
		return "", 0, fmt.Errorf("dgii: firmar semilla: %w", err)
	}

	// 3) Validar la semilla firmada y extraer el token
	body, err := c.postXML(ctx, "validar-semilla", c.endpoints.ValidarSemilla(), "", "semilla.xml", firmada.XMLFirmado)
	if err != nil {
		return "", 0, err
	}
	token, ok := parseTokenResponse(body)
	if !ok {
		return "", 0, rejectionError("validar-semilla", "", "respuesta de autenticación sin token: "+truncate(string(body), 200))
	}
	return token, c.tokenLifetime(token), nil
}

// tokenLifetime deriva la vida útil del token desde su claim exp (el WS emite
// JWT) menos el margen; si el token no es JWT o no trae exp, usa el TTL fijo.
func (c *Client) tokenLifetime(token string) time.Duration {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return c.tokenTTL
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return c.tokenTTL
	}
	ttl := exp.Time.Sub(c.now()) - tokenMargin
	if ttl <= 0 || ttl > 24*time.Hour {
		return c.tokenTTL
	}
	return ttl
}

// ── transporte ────────────────────────────────────────────────────────────────

// get ejecuta un GET clasificando transporte y status; token opcional.
func (c *Client) get(ctx context.Context, op, url, token string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dgii: crear request %s: %w", op, err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.do(op, req)
}

// postBody ejecuta un POST con cuerpo arbitrario.
func (c *Client) postBody(ctx context.Context, op, url, token, contentType string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("dgii: crear request %s: %w", op, err)
	}
	req.Header.Set("Content-Type", contentType)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.do(op, req)
}

func (c *Client) do(op string, req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // max 1 MB
	if err != nil {
		return nil, transportError(op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(op, resp.StatusCode, raw)
	}
	return raw, nil
}
