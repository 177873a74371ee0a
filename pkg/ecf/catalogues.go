// Package ecf contiene catálogos y validaciones alineados a la Norma General
// 01-2020 y al formato de Comprobante Fiscal Electrónico (e-CF) de la DGII
// (República Dominicana).
package ecf

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// Tipos de e-CF (tabla de tipos de comprobante, formato eNCF serie E)
// =============================================================================

const (
	TipoFacturaCreditoFiscal = "31" // Factura de Crédito Fiscal Electrónica
	TipoFacturaConsumo       = "32" // Factura de Consumo Electrónica
	TipoNotaDebito           = "33" // Nota de Débito Electrónica
	TipoNotaCredito          = "34" // Nota de Crédito Electrónica
	TipoCompras              = "41" // Comprobante Electrónico de Compras
	TipoGastosMenores        = "43" // Comprobante Electrónico para Gastos Menores
	TipoRegimenesEspeciales  = "44" // Comprobante Electrónico para Regímenes Especiales
	TipoGubernamental        = "45" // Comprobante Electrónico Gubernamental
	TipoExportaciones        = "46" // Comprobante Electrónico de Exportaciones
	TipoPagosAlExterior      = "47" // Comprobante Electrónico para Pagos al Exterior
)

// ValidECFTypeCodes contiene los diez tipos de e-CF vigentes.
var ValidECFTypeCodes = map[string]bool{
	TipoFacturaCreditoFiscal: true,
	TipoFacturaConsumo:       true,
	TipoNotaDebito:           true,
	TipoNotaCredito:          true,
	TipoCompras:              true,
	TipoGastosMenores:        true,
	TipoRegimenesEspeciales:  true,
	TipoGubernamental:        true,
	TipoExportaciones:        true,
	TipoPagosAlExterior:      true,
}

// TypeCodeNames nombres oficiales por código de tipo.
var TypeCodeNames = map[string]string{
	TipoFacturaCreditoFiscal: "Factura de Crédito Fiscal Electrónica",
	TipoFacturaConsumo:       "Factura de Consumo Electrónica",
	TipoNotaDebito:           "Nota de Débito Electrónica",
	TipoNotaCredito:          "Nota de Crédito Electrónica",
	TipoCompras:              "Comprobante Electrónico de Compras",
	TipoGastosMenores:        "Comprobante Electrónico para Gastos Menores",
	TipoRegimenesEspeciales:  "Comprobante Electrónico para Regímenes Especiales",
	TipoGubernamental:        "Comprobante Electrónico Gubernamental",
	TipoExportaciones:        "Comprobante Electrónico de Exportaciones",
	TipoPagosAlExterior:      "Comprobante Electrónico para Pagos al Exterior",
}

// =============================================================================
// eNCF — Número de Comprobante Fiscal Electrónico
// Formato: serie "E" + tipo (2 dígitos) + secuencial (10 dígitos) = 13 caracteres.
// =============================================================================

// ENCFSerie es la letra de serie de todos los e-CF.
const ENCFSerie = "E"

// ENCFLength longitud total del eNCF.
const ENCFLength = 13

// MontoMaximoRFCE umbral del Resumen de Factura de Consumo (RFCE): las facturas
// de consumo (tipo 32) con total estrictamente menor a este monto se reportan
// en resumen; el monto exacto toma la vía estándar.
var MontoMaximoRFCE = decimal.RequireFromString("250000.00")

// FormatENCF construye el eNCF: "E" + tipo + secuencial con ceros a la izquierda (10 dígitos).
// Ej: FormatENCF("31", 1) -> "E310000000001".
func FormatENCF(typeCode string, sequence int64) (string, error) {
	if !ValidECFTypeCodes[typeCode] {
		return "", fmt.Errorf("ecf: tipo de e-CF inválido %q", typeCode)
	}
	if sequence < 1 || sequence > 9_999_999_999 {
		return "", fmt.Errorf("ecf: secuencial fuera de rango: %d", sequence)
	}
	return fmt.Sprintf("%s%s%010d", ENCFSerie, typeCode, sequence), nil
}

// ParseENCF descompone un eNCF en tipo y secuencial, validando el formato.
func ParseENCF(encf string) (typeCode string, sequence int64, err error) {
	if len(encf) != ENCFLength {
		return "", 0, fmt.Errorf("ecf: eNCF debe tener %d caracteres, se recibieron %d", ENCFLength, len(encf))
	}
	if !strings.HasPrefix(encf, ENCFSerie) {
		return "", 0, fmt.Errorf("ecf: eNCF debe iniciar con la serie %q", ENCFSerie)
	}
	typeCode = encf[1:3]
	if !ValidECFTypeCodes[typeCode] {
		return "", 0, fmt.Errorf("ecf: tipo de e-CF inválido %q en eNCF %s", typeCode, encf)
	}
	sequence, err = strconv.ParseInt(encf[3:], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("ecf: secuencial no numérico en eNCF %s", encf)
	}
	return typeCode, sequence, nil
}

// EsFacturaConsumo reporta si el tipo corresponde a Factura de Consumo (candidata a RFCE).
func EsFacturaConsumo(typeCode string) bool {
	return typeCode == TipoFacturaConsumo
}

// AplicaRFCE decide la vía de envío: resumen (RFCE) solo para facturas de consumo
// con monto total estrictamente menor al umbral. El valor límite exacto va por la vía estándar.
func AplicaRFCE(typeCode string, total decimal.Decimal) bool {
	return EsFacturaConsumo(typeCode) && total.LessThan(MontoMaximoRFCE)
}
