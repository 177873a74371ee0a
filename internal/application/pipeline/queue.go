package pipeline

import (
	"context"
	"sync"

	"github.com/jhoicas/ecf-emisor/pkg/logger"
)

// tarea unidad de trabajo de la cola, identificada por la factura que toca.
type tarea struct {
	clave string
	fn    func(ctx context.Context)
}

// Cola cola en memoria con pool de workers y deduplicación por clave: una
// factura nunca tiene dos trabajos en vuelo a la vez, así dos llamadas al
// mismo endpoint no producen dos envíos.
type Cola struct {
	tareas  chan tarea
	enVuelo map[string]struct{}
	mu      sync.Mutex
	wg      sync.WaitGroup
	log     *logger.Logger
}

// NewCola construye la cola con el número de workers indicado.
func NewCola(workers, capacidad int, log *logger.Logger) *Cola {
	if workers <= 0 {
		workers = 4
	}
	if capacidad <= 0 {
		capacidad = 1024
	}
	return &Cola{
		tareas:  make(chan tarea, capacidad),
		enVuelo: make(map[string]struct{}, workers),
		log:     log,
	}
}

// Start lanza los workers; se detienen cuando ctx se cancela.
func (c *Cola) Start(ctx context.Context, workers int) {
	for n := 0; n < workers; n++ {
		c.wg.Add(1)
		go c.worker(ctx)
	}
}

// Encolar agrega un trabajo si la clave no está ya encolada ni ejecutándose.
// Devuelve false si se descartó por duplicado o por cola llena.
func (c *Cola) Encolar(clave string, fn func(ctx context.Context)) bool {
	c.mu.Lock()
	if _, dup := c.enVuelo[clave]; dup {
		c.mu.Unlock()
		return false
	}
	c.enVuelo[clave] = struct{}{}
	c.mu.Unlock()

	select {
	case c.tareas <- tarea{clave: clave, fn: fn}:
		return true
	default:
		c.liberar(clave)
		c.log.Error().Str("clave", clave).Msg("cola de trabajos llena, trabajo descartado")
		return false
	}
}

// Esperar bloquea hasta que los workers terminen (tras cancelar el ctx de Start).
func (c *Cola) Esperar() {
	c.wg.Wait()
}

func (c *Cola) worker(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-c.tareas:
			t.fn(ctx)
			c.liberar(t.clave)
		}
	}
}

func (c *Cola) liberar(clave string) {
	c.mu.Lock()
	delete(c.enVuelo, clave)
	c.mu.Unlock()
}
