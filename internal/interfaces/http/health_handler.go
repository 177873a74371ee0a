package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/ecf-emisor/internal/application/emission"
	"github.com/jhoicas/ecf-emisor/internal/domain"
)

// HealthHandler expone la salud del servicio y de sus dependencias.
type HealthHandler struct {
	pool    *pgxpool.Pool
	cliente emission.ClienteDGII
}

// NewHealthHandler construye el handler.
func NewHealthHandler(pool *pgxpool.Pool, cliente emission.ClienteDGII) *HealthHandler {
	return &HealthHandler{pool: pool, cliente: cliente}
}

// Health liveness del proceso y de la conexión a la base de datos.
// GET /health
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	if err := h.pool.Ping(c.Context()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "down", "db": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// HealthDGII disponibilidad de los servicios de la DGII.
// GET /health/dgii
func (h *HealthHandler) HealthDGII(c *fiber.Ctx) error {
	if err := h.cliente.ServicioDisponible(c.Context()); err != nil {
		estado := "down"
		if !domain.IsTransientProtocolError(err) {
			estado = "degraded"
		}
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": estado, "dgii": err.Error()})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}
