package dgii

import (
	"context"
	"encoding/json"
)

// ResultadoConsulta estado de un envío según la consulta por track id.
type ResultadoConsulta struct {
	TrackID  string
	Codigo   string // 1 aceptado, 2 rechazado, 3 en proceso, 4 aceptado condicional
	Mensajes string
}

// ConsultarResultado consulta el resultado de un envío por su track id.
func (c *Client) ConsultarResultado(ctx context.Context, token, trackID string) (*ResultadoConsulta, error) {
	body, err := c.get(ctx, "consulta-resultado", c.endpoints.ConsultaResultado(trackID), token)
	if err != nil {
		return nil, err
	}

	var asJSON map[string]any
	if err := json.Unmarshal(body, &asJSON); err == nil {
		return &ResultadoConsulta{
			TrackID:  trackID,
			Codigo:   parseJSONField(asJSON, "estado", "Estado", "codigo", "Codigo"),
			Mensajes: parseJSONMessages(asJSON, "mensajes", "Mensajes"),
		}, nil
	}
	if codigo, found := extractXMLTag(body, "estado"); found {
		return &ResultadoConsulta{TrackID: trackID, Codigo: codigo}, nil
	}
	return nil, rejectionError("consulta-resultado", "", "respuesta de consulta ilegible: "+truncate(string(body), 200))
}

// EstadoECF validez de un e-CF consultado del lado receptor.
type EstadoECF struct {
	ENCF            string
	RNCEmisor       string
	Estado          string
	CodigoSeguridad string
	MontoTotal      string
}

// ConsultarEstado consulta la validez de un e-CF emitido por un tercero.
func (c *Client) ConsultarEstado(ctx context.Context, token, rncEmisor, encf string) (*EstadoECF, error) {
	body, err := c.get(ctx, "consulta-estado", c.endpoints.ConsultaEstado(rncEmisor, encf), token)
	if err != nil {
		return nil, err
	}
	var asJSON map[string]any
	if err := json.Unmarshal(body, &asJSON); err != nil {
		return nil, rejectionError("consulta-estado", "", "respuesta ilegible: "+truncate(string(body), 200))
	}
	return &EstadoECF{
		ENCF:            parseJSONField(asJSON, "encf", "eNCF", "ENCF"),
		RNCEmisor:       parseJSONField(asJSON, "rncEmisor", "RncEmisor"),
		Estado:          parseJSONField(asJSON, "estado", "Estado"),
		CodigoSeguridad: parseJSONField(asJSON, "codigoSeguridad", "CodigoSeguridad"),
		MontoTotal:      parseJSONField(asJSON, "montoTotal", "MontoTotal"),
	}, nil
}

// TrackInfo un envío histórico de un documento.
type TrackInfo struct {
	TrackID        string
	Estado         string
	FechaRecepcion string
}

// ConsultarTrackIDs lista todos los track ids registrados para un documento.
func (c *Client) ConsultarTrackIDs(ctx context.Context, token, rncEmisor, encf string) ([]TrackInfo, error) {
	body, err := c.get(ctx, "consulta-trackids", c.endpoints.ConsultaTrackIDs(rncEmisor, encf), token)
	if err != nil {
		return nil, err
	}
	var list []map[string]any
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, rejectionError("consulta-trackids", "", "respuesta ilegible: "+truncate(string(body), 200))
	}
	infos := make([]TrackInfo, 0, len(list))
	for _, item := range list {
		infos = append(infos, TrackInfo{
			TrackID:        parseJSONField(item, "trackId", "TrackId"),
			Estado:         parseJSONField(item, "estado", "Estado"),
			FechaRecepcion: parseJSONField(item, "fechaRecepcion", "FechaRecepcion"),
		})
	}
	return infos, nil
}

// EmisorDirectorio entrada del directorio de emisores electrónicos: resuelve
// a dónde entregar acuses y aprobaciones comerciales de otra parte.
type EmisorDirectorio struct {
	RNC           string
	Nombre        string
	URLRecepcion  string
	URLAceptacion string
	URLOpcional   string
}

// Directorio consulta el listado de emisores electrónicos autorizados.
func (c *Client) Directorio(ctx context.Context, token string) ([]EmisorDirectorio, error) {
	body, err := c.get(ctx, "directorio", c.endpoints.Directorio(), token)
	if err != nil {
		return nil, err
	}
	var list []map[string]any
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, rejectionError("directorio", "", "respuesta ilegible: "+truncate(string(body), 200))
	}
	emisores := make([]EmisorDirectorio, 0, len(list))
	for _, item := range list {
		emisores = append(emisores, EmisorDirectorio{
			RNC:           parseJSONField(item, "rnc", "RNC", "Rnc"),
			Nombre:        parseJSONField(item, "nombre", "Nombre", "razonSocial"),
			URLRecepcion:  parseJSONField(item, "urlRecepcion", "UrlRecepcion"),
			URLAceptacion: parseJSONField(item, "urlAceptacion", "UrlAceptacion"),
			URLOpcional:   parseJSONField(item, "urlOpcional", "UrlOpcional"),
		})
	}
	return emisores, nil
}

// ServicioDisponible sonda de disponibilidad de los servicios DGII. Un error
// transitorio significa servicio caído; cualquier respuesta 2xx, disponible.
func (c *Client) ServicioDisponible(ctx context.Context) error {
	_, err := c.get(ctx, "estatus-servicios", c.endpoints.EstatusServicios(), "")
	return err
}
