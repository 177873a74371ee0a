package entity

import "time"

// WebhookSubscription suscripción de un sistema comercial a los eventos del
// ciclo de vida de sus facturas. Los envíos van firmados con HMAC-SHA256.
type WebhookSubscription struct {
	ID       string
	TenantID string

	URL    string
	Secret string // llave HMAC compartida con el suscriptor
	Activa bool

	// Contabilidad de fallos para la desactivación automática:
	// 10 fallos dentro de una ventana móvil de 24 h desactivan la suscripción.
	Fallos        int
	PrimerFalloEn *time.Time
	UltimoFalloEn *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Umbrales de desactivación automática.
const (
	WebhookMaxFallos     = 10
	WebhookVentanaFallos = 24 * time.Hour
)

// RegistrarFallo acumula un fallo de entrega y reporta si la suscripción
// debe desactivarse (10 fallos dentro de la ventana móvil de 24 h).
func (w *WebhookSubscription) RegistrarFallo(ahora time.Time) (desactivar bool) {
	if w.PrimerFalloEn == nil || ahora.Sub(*w.PrimerFalloEn) > WebhookVentanaFallos {
		// fuera de ventana: reinicia el conteo
		w.Fallos = 0
		w.PrimerFalloEn = &ahora
	}
	w.Fallos++
	w.UltimoFalloEn = &ahora
	if w.Fallos >= WebhookMaxFallos {
		w.Activa = false
		return true
	}
	return false
}

// RegistrarExito limpia la contabilidad de fallos tras una entrega exitosa.
func (w *WebhookSubscription) RegistrarExito() {
	w.Fallos = 0
	w.PrimerFalloEn = nil
	w.UltimoFalloEn = nil
}
