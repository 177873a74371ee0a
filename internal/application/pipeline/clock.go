// Package pipeline ejecuta el trabajo asíncrono del emisor: la cola de firma
// y envío, el poll de resultados, los barridos periódicos (contingencia y
// salud de certificados) y la entrega de webhooks.
package pipeline

import "time"

// Clock abstrae el tiempo para que los tests controlen esperas y plazos.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// RealClock reloj del sistema.
type RealClock struct{}

func (RealClock) Now() time.Time                         { return time.Now() }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
