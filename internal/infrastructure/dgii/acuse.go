package dgii

import (
	"context"
	"encoding/json"
)

// Mensajes entre partes: el acuse de recibo (ARECF) y la aprobación comercial
// (ACECF) se entregan al receptor resuelto vía el directorio de emisores; si
// no se indica destino, se usa el servicio del propio ambiente DGII.

// ResultadoAcuse respuesta del receptor de un ARECF o ACECF.
type ResultadoAcuse struct {
	Estado   string
	Mensajes string
}

// EnviarAcuse entrega un acuse de recibo (ARECF) firmado.
// destinoURL puede venir del directorio; vacío usa el endpoint del ambiente.
func (c *Client) EnviarAcuse(ctx context.Context, token, destinoURL string, arecfFirmado []byte, filename string) (*ResultadoAcuse, error) {
	if destinoURL == "" {
		destinoURL = c.endpoints.RecepcionAcuse()
	}
	return c.enviarMensaje(ctx, "acuse-recibo", destinoURL, token, filename, arecfFirmado)
}

// EnviarAprobacionComercial entrega una aprobación comercial (ACECF) firmada.
func (c *Client) EnviarAprobacionComercial(ctx context.Context, token, destinoURL string, acecfFirmado []byte, filename string) (*ResultadoAcuse, error) {
	if destinoURL == "" {
		destinoURL = c.endpoints.AprobacionComercial()
	}
	return c.enviarMensaje(ctx, "aprobacion-comercial", destinoURL, token, filename, acecfFirmado)
}

func (c *Client) enviarMensaje(ctx context.Context, op, url, token, filename string, xmlFirmado []byte) (*ResultadoAcuse, error) {
	body, err := c.postXML(ctx, op, url, token, filename, xmlFirmado)
	if err != nil {
		return nil, err
	}
	var asJSON map[string]any
	if err := json.Unmarshal(body, &asJSON); err != nil {
		// algunos receptores responden 200 con cuerpo vacío o texto plano
		return &ResultadoAcuse{Estado: "recibido", Mensajes: truncate(string(body), 200)}, nil
	}
	return &ResultadoAcuse{
		Estado:   parseJSONField(asJSON, "estado", "Estado", "codigo", "Codigo"),
		Mensajes: parseJSONMessages(asJSON, "mensajes", "Mensajes"),
	}, nil
}
