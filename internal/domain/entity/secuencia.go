package entity

import "time"

// Secuencia representa un rango de numeración eNCF autorizado por la DGII
// para un par (empresa, tipo de e-CF). A lo sumo una secuencia activa por par;
// los rangos, activos o históricos, jamás se solapan: un número autorizado
// no puede reutilizarse.
type Secuencia struct {
	ID        string
	CompanyID string
	TipoECF   string // código de tipo (31, 32, ...)

	Desde  int64 // primer número autorizado del rango
	Actual int64 // último número emitido; Desde-1 si no se ha emitido ninguno
	Hasta  int64 // último número autorizado del rango

	Vence  time.Time // fecha de vencimiento de la autorización
	Activa bool      // se desactiva por agotamiento o vencimiento, nunca se reactiva

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Restantes cantidad de números aún disponibles en el rango.
func (s *Secuencia) Restantes() int64 {
	return s.Hasta - s.Actual
}

// Tamano cantidad total de números del rango autorizado.
func (s *Secuencia) Tamano() int64 {
	return s.Hasta - s.Desde + 1
}

// Vencida reporta si la autorización ya venció.
func (s *Secuencia) Vencida(ahora time.Time) bool {
	return ahora.After(s.Vence)
}

// Solapa reporta si el rango [Desde, Hasta] se intersecta con [desde, hasta].
func (s *Secuencia) Solapa(desde, hasta int64) bool {
	return desde <= s.Hasta && hasta >= s.Desde
}
