// Package ecf contiene las reglas de dominio del ciclo de vida del e-CF:
// estados de la factura, mapeo de códigos DGII y elegibilidad de anulación.
package ecf

import "github.com/jhoicas/ecf-emisor/internal/domain"

// Estado es el estado del ciclo de vida de una factura electrónica.
type Estado string

const (
	EstadoBorrador     Estado = "BORRADOR"     // Creada, aún sin eNCF ni firma
	EstadoProcesando   Estado = "PROCESANDO"   // En el pipeline de firma y envío
	EstadoEnviado      Estado = "ENVIADO"      // Recibida por la DGII, en proceso (track id asignado)
	EstadoAceptado     Estado = "ACEPTADO"     // Aceptada por la DGII
	EstadoRechazado    Estado = "RECHAZADO"    // Rechazo bien formado de la DGII
	EstadoCondicional  Estado = "CONDICIONAL"  // Aceptada condicional (con observaciones)
	EstadoContingencia Estado = "CONTINGENCIA" // WS DGII inalcanzable: reenvío dentro de 72 h
	EstadoError        Estado = "ERROR"        // Falla fatal (cripto o ventana vencida); gestión manual
	EstadoAnulado      Estado = "ANULADO"      // Anulada por el usuario (terminal)
)

// Códigos de estado que devuelve el WS de consulta de resultado de la DGII.
const (
	CodigoDGIIAceptado    = "1"
	CodigoDGIIRechazado   = "2"
	CodigoDGIIEnProceso   = "3"
	CodigoDGIICondicional = "4"
)

// EstadoDesdeCodigoDGII es el único mapeo código DGII → estado de factura.
// Lo consumen idénticamente la vía de envío, la de consulta (poll) y la de
// contingencia; copias divergentes son un bug de correctitud.
// Acepta el código numérico o el texto que algunos ambientes devuelven.
func EstadoDesdeCodigoDGII(codigo string) (Estado, bool) {
	switch codigo {
	case CodigoDGIIAceptado, "Aceptado":
		return EstadoAceptado, true
	case CodigoDGIIRechazado, "Rechazado":
		return EstadoRechazado, true
	case CodigoDGIIEnProceso, "En Proceso", "EnProceso":
		return EstadoEnviado, true
	case CodigoDGIICondicional, "Aceptado Condicional", "AceptadoCondicional":
		return EstadoCondicional, true
	}
	return "", false
}

// EsFinal reporta si el estado ya no cambia por sí solo (el poll se detiene).
func EsFinal(e Estado) bool {
	switch e {
	case EstadoAceptado, EstadoRechazado, EstadoCondicional, EstadoError, EstadoAnulado:
		return true
	}
	return false
}

// PuedeAnular valida la elegibilidad de anulación según el estado actual.
// Devuelve nil si la anulación procede; si no, el error de dominio específico.
func PuedeAnular(e Estado) error {
	switch e {
	case EstadoBorrador, EstadoError, EstadoContingencia, EstadoRechazado:
		return nil
	case EstadoAceptado, EstadoCondicional:
		return domain.ErrAnulacionRequiereNotaCredito
	case EstadoProcesando, EstadoEnviado:
		return domain.ErrAnulacionEnVuelo
	case EstadoAnulado:
		return domain.ErrConflict
	}
	return domain.ErrConflict
}

// transiciones válidas del ciclo de vida (monótonas; no hay vuelta atrás).
var transiciones = map[Estado][]Estado{
	EstadoBorrador:     {EstadoProcesando, EstadoAnulado},
	EstadoProcesando:   {EstadoEnviado, EstadoAceptado, EstadoRechazado, EstadoCondicional, EstadoContingencia, EstadoError},
	EstadoEnviado:      {EstadoAceptado, EstadoRechazado, EstadoCondicional, EstadoError},
	EstadoContingencia: {EstadoProcesando, EstadoAceptado, EstadoRechazado, EstadoError, EstadoAnulado},
	EstadoRechazado:    {EstadoAnulado},
	EstadoError:        {EstadoAnulado},
}

// TransicionValida reporta si el cambio desde → hacia está permitido.
func TransicionValida(desde, hacia Estado) bool {
	for _, t := range transiciones[desde] {
		if t == hacia {
			return true
		}
	}
	return false
}
