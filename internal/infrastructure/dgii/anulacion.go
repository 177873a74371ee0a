package dgii

import (
	"context"
	"encoding/json"
)

// ResultadoAnulacion respuesta de la anulación de rangos no utilizados.
type ResultadoAnulacion struct {
	RNC      string
	Codigo   string
	Mensajes string
}

// AnularRango envía el documento ANECF firmado que anula rangos de numeración
// autorizados y no utilizados. No muta el puntero de la secuencia local.
func (c *Client) AnularRango(ctx context.Context, token string, anecfFirmado []byte, filename string) (*ResultadoAnulacion, error) {
	body, err := c.postXML(ctx, "anulacion-rangos", c.endpoints.AnulacionRangos(), token, filename, anecfFirmado)
	if err != nil {
		return nil, err
	}
	var asJSON map[string]any
	if err := json.Unmarshal(body, &asJSON); err != nil {
		return nil, rejectionError("anulacion-rangos", "", "respuesta ilegible: "+truncate(string(body), 200))
	}
	return &ResultadoAnulacion{
		RNC:      parseJSONField(asJSON, "rnc", "RNC", "Rnc"),
		Codigo:   parseJSONField(asJSON, "codigo", "Codigo", "estado", "Estado"),
		Mensajes: parseJSONMessages(asJSON, "mensajes", "Mensajes"),
	}, nil
}
