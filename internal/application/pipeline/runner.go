package pipeline

import (
	"context"
	"time"

	"github.com/jhoicas/ecf-emisor/pkg/logger"
)

// EjecutarPeriodicamente corre fn cada intervalo hasta que ctx se cancele.
// La primera ejecución es inmediata. Los errores se registran y no detienen
// el ciclo. Los barridos (contingencia, certificados) corren bajo este helper
// en la instancia que sostiene el liderazgo.
func EjecutarPeriodicamente(ctx context.Context, clock Clock, intervalo time.Duration, nombre string, fn func(ctx context.Context) error, log *logger.Logger) {
	for {
		if err := fn(ctx); err != nil {
			log.Error().Err(err).Str("barrido", nombre).Msg("ciclo de barrido fallido")
		}
		select {
		case <-ctx.Done():
			return
		case <-clock.After(intervalo):
		}
	}
}
