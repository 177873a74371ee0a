package dgii

import "fmt"

// ── Ambientes DGII ────────────────────────────────────────────────────────────

const (
	// EnvProd ambiente de producción.
	EnvProd = "prod"
	// EnvCert ambiente de certificación (postulación).
	EnvCert = "cert"
	// EnvTest ambiente de pruebas.
	EnvTest = "test"
)

// prefijos de ruta por ambiente en ecf.dgii.gov.do.
var envPrefix = map[string]string{
	EnvProd: "ecf",
	EnvCert: "certecf",
	EnvTest: "testecf",
}

// Endpoints resuelve las URLs de los servicios DGII para un ambiente.
// BaseURL es sobreescribible para apuntar a un servidor de pruebas.
type Endpoints struct {
	BaseURL     string // default https://ecf.dgii.gov.do
	Environment string // prod, cert o test
}

// NewEndpoints construye el resolvedor de URLs para el ambiente dado.
func NewEndpoints(environment string) (*Endpoints, error) {
	if _, ok := envPrefix[environment]; !ok {
		return nil, fmt.Errorf("dgii: ambiente desconocido %q (usar prod|cert|test)", environment)
	}
	return &Endpoints{BaseURL: "https://ecf.dgii.gov.do", Environment: environment}, nil
}

func (e *Endpoints) root() string {
	return e.BaseURL + "/" + envPrefix[e.Environment]
}

// Semilla URL de la semilla de autenticación (GET).
func (e *Endpoints) Semilla() string {
	return e.root() + "/autenticacion/api/autenticacion/semilla"
}

// ValidarSemilla URL de validación de la semilla firmada (POST).
func (e *Endpoints) ValidarSemilla() string {
	return e.root() + "/autenticacion/api/autenticacion/validarsemilla"
}

// Recepcion URL de recepción estándar de e-CF firmados (POST multipart).
func (e *Endpoints) Recepcion() string {
	return e.root() + "/recepcion/api/facturaselectronicas"
}

// RecepcionFC URL de recepción del resumen de factura de consumo (RFCE).
func (e *Endpoints) RecepcionFC() string {
	return e.root() + "/recepcionfc/api/recepcion/ecf"
}

// ConsultaResultado URL de consulta de resultado por track id.
func (e *Endpoints) ConsultaResultado(trackID string) string {
	return e.root() + "/consultaresultado/api/consultas/estado?trackid=" + trackID
}

// ConsultaEstado URL de consulta de validez de un e-CF (lado receptor).
func (e *Endpoints) ConsultaEstado(rncEmisor, encf string) string {
	return e.root() + "/consultaestado/api/consultas/estado?rncemisor=" + rncEmisor + "&ncfelectronico=" + encf
}

// ConsultaTrackIDs URL de consulta de todos los track ids de un documento.
func (e *Endpoints) ConsultaTrackIDs(rncEmisor, encf string) string {
	return e.root() + "/consultatrackids/api/trackids/consulta?rncemisor=" + rncEmisor + "&encf=" + encf
}

// AnulacionRangos URL de anulación de rangos de numeración no utilizados.
func (e *Endpoints) AnulacionRangos() string {
	return e.root() + "/anulacionrangos/api/operaciones/anularrango"
}

// RecepcionAcuse URL para el acuse de recibo (ARECF) entre partes.
func (e *Endpoints) RecepcionAcuse() string {
	return e.root() + "/recepcionecf/api/ecf"
}

// AprobacionComercial URL para la aprobación comercial (ACECF).
func (e *Endpoints) AprobacionComercial() string {
	return e.root() + "/aprobacioncomercial/api/aprobacioncomercial"
}

// Directorio URL del directorio de emisores electrónicos autorizados.
func (e *Endpoints) Directorio() string {
	return e.root() + "/consultadirectorio/api/consultas/listado"
}

// EstatusServicios URL de la sonda de disponibilidad de los servicios DGII.
func (e *Endpoints) EstatusServicios() string {
	return e.root() + "/estatusservicios/api/estatusservicios/obtenerestatus"
}
