// Construcción determinista de las URLs de verificación (QR) de la DGII.

package signer

import (
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// Segmentos de ambiente del portal de consulta de timbre.
const (
	qrBase        = "https://ecf.dgii.gov.do"
	qrEnvProd     = "ecf"
	qrEnvCert     = "certecf"
	qrEnvTest     = "testecf"
	qrFechaFormat = "02-01-2006"
)

// QRParams datos requeridos por la consulta de timbre.
type QRParams struct {
	Environment     string // "prod", "cert" o "test"
	RNCEmisor       string
	RNCComprador    string // vacío en la variante de consumo
	ENCF            string
	FechaEmision    time.Time
	MontoTotal      decimal.Decimal
	FechaFirma      time.Time
	CodigoSeguridad string
}

// BuildVerificationURL arma la URL estándar de consulta de timbre (QR del e-CF).
func BuildVerificationURL(p QRParams) string {
	q := url.Values{}
	q.Set("RncEmisor", p.RNCEmisor)
	if p.RNCComprador != "" {
		q.Set("RncComprador", p.RNCComprador)
	}
	q.Set("ENCF", p.ENCF)
	q.Set("FechaEmision", p.FechaEmision.Format(qrFechaFormat))
	q.Set("MontoTotal", p.MontoTotal.StringFixed(2))
	q.Set("FechaFirma", p.FechaFirma.Format(FechaHoraFirmaFormat))
	q.Set("CodigoSeguridad", p.CodigoSeguridad)
	return envBase(p.Environment) + "/ConsultaTimbre?" + q.Encode()
}

// BuildVerificationURLFC arma la variante reducida para facturas de consumo
// menores al umbral RFCE: expone menos datos del comprador.
func BuildVerificationURLFC(p QRParams) string {
	q := url.Values{}
	q.Set("RncEmisor", p.RNCEmisor)
	q.Set("ENCF", p.ENCF)
	q.Set("MontoTotal", p.MontoTotal.StringFixed(2))
	q.Set("CodigoSeguridad", p.CodigoSeguridad)
	return envBase(p.Environment) + "/ConsultaTimbreFC?" + q.Encode()
}

func envBase(environment string) string {
	switch environment {
	case "prod":
		return qrBase + "/" + qrEnvProd
	case "cert":
		return qrBase + "/" + qrEnvCert
	default:
		return qrBase + "/" + qrEnvTest
	}
}
