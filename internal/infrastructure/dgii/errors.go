package dgii

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/jhoicas/ecf-emisor/internal/domain"
)

// Clasificación de fallos del WS DGII. Es el único hecho del que depende el
// resto del pipeline: transitorio habilita contingencia/reintento; terminal
// (rechazo bien formado) no se reintenta.

// transportError clasifica un error de transporte (sin respuesta HTTP) como transitorio.
func transportError(op string, err error) *domain.ProtocolError {
	msg := "servicio DGII inalcanzable"
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "timeout llamando al servicio DGII"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		msg = "timeout llamando al servicio DGII"
	}
	return &domain.ProtocolError{
		Op:        op,
		Message:   msg,
		Transient: true,
		Err:       err,
	}
}

// statusError clasifica una respuesta HTTP no exitosa.
// 5xx, 408 y 429 son transitorios; el resto son rechazos terminales.
func statusError(op string, status int, body []byte) *domain.ProtocolError {
	transient := status >= http.StatusInternalServerError ||
		status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests
	return &domain.ProtocolError{
		Op:        op,
		Code:      fmt.Sprintf("HTTP %d", status),
		Message:   truncate(string(body), 500),
		Transient: transient,
	}
}

// rejectionError construye el error terminal para un rechazo bien formado
// (HTTP 200 con estado de rechazo en el cuerpo).
func rejectionError(op, code, message string) *domain.ProtocolError {
	return &domain.ProtocolError{
		Op:        op,
		Code:      code,
		Message:   message,
		Transient: false,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
