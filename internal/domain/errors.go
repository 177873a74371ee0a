package domain

import (
	"errors"
	"fmt"
)

// Errores de dominio (sin dependencias externas).
var (
	ErrNotFound     = errors.New("recurso no encontrado")
	ErrInvalidInput = errors.New("entrada inválida")
	ErrDuplicate    = errors.New("recurso duplicado")
	ErrConflict     = errors.New("conflicto con el estado actual")
	ErrUnauthorized = errors.New("no autorizado")
)

// ── Errores de numeración (Secuencias eNCF) ───────────────────────────────────
// La secuencia se desactiva como efecto colateral aunque la llamada falle.
var (
	ErrSecuenciaNoEncontrada = errors.New("no existe secuencia activa para la empresa y tipo de e-CF")
	ErrSecuenciaVencida      = errors.New("la secuencia autorizada está vencida")
	ErrSecuenciaAgotada      = errors.New("la secuencia autorizada está agotada")
	ErrRangoSolapado         = errors.New("el rango se solapa con una secuencia existente")
)

// ── Errores del ciclo de vida de la factura ───────────────────────────────────
var (
	// ErrAnulacionRequiereNotaCredito: un e-CF aceptado (o aceptado condicional)
	// no se anula; la norma exige emitir una Nota de Crédito que lo corrija.
	ErrAnulacionRequiereNotaCredito = errors.New("un e-CF aceptado no puede anularse: emita una Nota de Crédito electrónica que lo corrija")
	// ErrAnulacionEnVuelo: la factura está en proceso ante la DGII y no puede anularse todavía.
	ErrAnulacionEnVuelo = errors.New("la factura está en proceso ante la DGII y no puede anularse")
	// ErrVentanaContingenciaVencida: pasaron más de 72 horas desde la emisión;
	// se requiere gestión manual ante la DGII.
	ErrVentanaContingenciaVencida = errors.New("ventana de contingencia de 72 horas vencida: requiere gestión manual ante la DGII")
)

// CryptoError falla de llave, certificado o firma. Fatal para el intento:
// la factura pasa a ERROR y no se reintenta automáticamente.
type CryptoError struct {
	Op  string // paso que falló: "cargar-certificado", "firmar", "verificar"
	Err error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("crypto: %s: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error { return e.Err }

// ProtocolError resultado clasificado de una llamada al WS DGII.
// Transient=true (red caída, timeout, 5xx) habilita contingencia y reintento;
// Transient=false es un rechazo bien formado y por tanto terminal.
type ProtocolError struct {
	Op        string // operación DGII: "semilla", "validar-semilla", "recepcion", ...
	Code      string // código devuelto por la DGII, si lo hay
	Message   string
	Transient bool
	Err       error // causa subyacente (error de red, etc.)
}

func (e *ProtocolError) Error() string {
	kind := "terminal"
	if e.Transient {
		kind = "transitorio"
	}
	if e.Err != nil {
		return fmt.Sprintf("dgii %s (%s): %s: %v", e.Op, kind, e.Message, e.Err)
	}
	return fmt.Sprintf("dgii %s (%s): %s", e.Op, kind, e.Message)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsTransientProtocolError reporta si err es un fallo transitorio del WS DGII.
// Es el único hecho del que depende el resto del pipeline (contingencia y reintentos).
func IsTransientProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe) && pe.Transient
}

// IsTerminalProtocolError reporta si err es un rechazo bien formado de la DGII.
func IsTerminalProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe) && !pe.Transient
}

// IsCryptoError reporta si err proviene de material criptográfico.
func IsCryptoError(err error) bool {
	var ce *CryptoError
	return errors.As(err, &ce)
}
