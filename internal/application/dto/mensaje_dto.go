package dto

// EnviarMensajeRequest mensaje entre partes sobre un e-CF recibido de otro
// emisor: acuse de recibo (ARECF) o aprobación comercial (ACECF).
type EnviarMensajeRequest struct {
	CompanyID   string `json:"company_id"`
	RNCEmisor   string `json:"rnc_emisor"`   // emisor del documento original
	RNCReceptor string `json:"rnc_receptor"` // empresa que envía el mensaje
	ENCF        string `json:"encf"`
	Estado      string `json:"estado"` // ARECF: 0 recibido, 1 rechazado; ACECF: 1 aprobado, 2 rechazado
	Detalle     string `json:"detalle,omitempty"`
}

// MensajeResponse confirmación de entrega de un mensaje entre partes.
type MensajeResponse struct {
	ENCF    string `json:"encf"`
	Enviado bool   `json:"enviado"`
}
