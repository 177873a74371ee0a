package dgii

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
)

// Recepcion resultado de la recepción estándar de un e-CF.
// La DGII responde con un track id y el documento queda "en proceso".
type Recepcion struct {
	TrackID  string
	Mensajes string
}

// RecepcionFC resultado de la vía reducida (RFCE). No hay track id: el
// resumen se valida en línea y el XML completo se retiene solo localmente.
type RecepcionFC struct {
	ENCF     string
	Codigo   string // código de estado devuelto (1 aceptado, 2 rechazado, 4 condicional)
	Mensajes string
}

// Enviar entrega un e-CF firmado por la vía estándar: multipart/form-data con
// un único campo "xml" y nombre de archivo <RNCEmisor><eNCF>.xml.
func (c *Client) Enviar(ctx context.Context, token string, xmlFirmado []byte, filename string) (*Recepcion, error) {
	body, err := c.postXML(ctx, "recepcion", c.endpoints.Recepcion(), token, filename, xmlFirmado)
	if err != nil {
		return nil, err
	}

	var asJSON map[string]any
	if err := json.Unmarshal(body, &asJSON); err == nil {
		trackID := parseJSONField(asJSON, "trackId", "TrackId", "trackid")
		if trackID != "" {
			return &Recepcion{
				TrackID:  trackID,
				Mensajes: parseJSONMessages(asJSON, "mensajes", "Mensajes", "error", "Error"),
			}, nil
		}
		// 200 sin track id: rechazo bien formado en la recepción
		return nil, rejectionError("recepcion",
			parseJSONField(asJSON, "codigo", "Codigo"),
			parseJSONMessages(asJSON, "mensajes", "Mensajes", "error", "Error"))
	}
	// Respuesta no-JSON: intentar el tag embebido antes de rendirse
	if trackID, found := extractXMLTag(body, "trackId"); found {
		return &Recepcion{TrackID: trackID}, nil
	}
	return nil, rejectionError("recepcion", "", "respuesta de recepción sin track id: "+truncate(string(body), 200))
}

// EnviarResumen entrega el resumen RFCE de una factura de consumo menor al
// umbral por el servicio de recepción FC. La respuesta trae el estado en línea.
func (c *Client) EnviarResumen(ctx context.Context, token string, resumenFirmado []byte, filename string) (*RecepcionFC, error) {
	body, err := c.postXML(ctx, "recepcion-fc", c.endpoints.RecepcionFC(), token, filename, resumenFirmado)
	if err != nil {
		return nil, err
	}

	var asJSON map[string]any
	if err := json.Unmarshal(body, &asJSON); err == nil {
		return &RecepcionFC{
			ENCF:     parseJSONField(asJSON, "encf", "eNCF", "ENCF"),
			Codigo:   parseJSONField(asJSON, "estado", "Estado", "codigo", "Codigo"),
			Mensajes: parseJSONMessages(asJSON, "mensajes", "Mensajes"),
		}, nil
	}
	if codigo, found := extractXMLTag(body, "estado"); found {
		return &RecepcionFC{Codigo: codigo}, nil
	}
	return nil, rejectionError("recepcion-fc", "", "respuesta RFCE ilegible: "+truncate(string(body), 200))
}

// postXML envía un XML como multipart/form-data con el único campo "xml".
func (c *Client) postXML(ctx context.Context, op, url, token, filename string, xmlBytes []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("xml", filename)
	if err != nil {
		return nil, fmt.Errorf("dgii: crear multipart %s: %w", op, err)
	}
	if _, err := part.Write(xmlBytes); err != nil {
		return nil, fmt.Errorf("dgii: escribir multipart %s: %w", op, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("dgii: cerrar multipart %s: %w", op, err)
	}
	return c.postBody(ctx, op, url, token, w.FormDataContentType(), buf.Bytes())
}
