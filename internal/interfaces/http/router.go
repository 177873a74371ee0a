package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/ecf-emisor/internal/application/emission"
	"github.com/jhoicas/ecf-emisor/internal/application/pipeline"
	"github.com/jhoicas/ecf-emisor/internal/domain/repository"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	Issuer       *emission.Issuer
	Anulador     *emission.Anulador
	Allocator    *emission.Allocator
	Certificados *emission.Certificados
	Mensajeria   *emission.Mensajeria
	Pipeline     *pipeline.Pipeline
	Secuencias   repository.SecuenciaRepository
	Webhooks     repository.WebhookRepository
	Pool         *pgxpool.Pool
	ClienteDGII  emission.ClienteDGII
	JWTSecret    string
	EntornoDGII  string
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	// Salud (público)
	healthHandler := NewHealthHandler(deps.Pool, deps.ClienteDGII)
	app.Get("/health", healthHandler.Health)
	app.Get("/health/dgii", healthHandler.HealthDGII)

	// Todo lo demás requiere el Bearer Token del tenant
	api := app.Group("/api", AuthMiddleware(deps.JWTSecret))

	facturas := api.Group("/facturas")
	facturaHandler := NewFacturaHandler(deps.Issuer, deps.Anulador, deps.Pipeline, deps.EntornoDGII)
	facturas.Post("/", facturaHandler.Emitir)
	facturas.Get("/:id", facturaHandler.GetByID)
	facturas.Post("/:id/anular", facturaHandler.Anular)

	secuencias := api.Group("/secuencias")
	secuenciaHandler := NewSecuenciaHandler(deps.Allocator, deps.Anulador, deps.Secuencias)
	secuencias.Post("/", secuenciaHandler.Registrar)
	secuencias.Get("/", secuenciaHandler.List)
	secuencias.Post("/anular-rango", secuenciaHandler.AnularRango)

	certificados := api.Group("/certificados")
	certificadoHandler := NewCertificadoHandler(deps.Certificados)
	certificados.Post("/", certificadoHandler.Cargar)
	certificados.Get("/activo", certificadoHandler.Activo)

	mensajes := api.Group("/mensajes")
	mensajeHandler := NewMensajeHandler(deps.Mensajeria)
	mensajes.Post("/acuse", mensajeHandler.Acuse)
	mensajes.Post("/aprobacion", mensajeHandler.Aprobacion)

	webhooks := api.Group("/webhooks")
	webhookHandler := NewWebhookHandler(deps.Webhooks)
	webhooks.Post("/", webhookHandler.Crear)
}
