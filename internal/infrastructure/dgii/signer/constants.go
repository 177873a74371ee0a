// Constantes para firma enveloped XMLDSig de e-CF (DGII, República Dominicana).

package signer

// Namespaces y algoritmos XMLDSig.
const (
	NamespaceDS        = "http://www.w3.org/2000/09/xmldsig#"
	AlgC14N            = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
	AlgRSASHA256       = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	AlgSHA256          = "http://www.w3.org/2000/09/xmldsig#sha256"
	TransformEnveloped = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
)

// Raíces de documento que el firmador reconoce. El mismo firmador cubre el
// e-CF y los documentos auxiliares del protocolo DGII.
const (
	RootECF     = "ECF"          // comprobante fiscal electrónico
	RootRFCE    = "RFCE"         // resumen de factura de consumo
	RootSemilla = "SemillaModel" // semilla de autenticación
	RootARECF   = "ARECF"        // acuse de recibo
	RootACECF   = "ACECF"        // aprobación comercial
	RootANECF   = "ANECF"        // anulación de rangos
)

// FechaHoraFirmaFormat formato exigido por la DGII para el sello de firma.
const FechaHoraFirmaFormat = "02-01-2006 15:04:05"

// FechaHoraFirmaTag elemento que se inyecta en el ECF inmediatamente antes de firmar.
const FechaHoraFirmaTag = "FechaHoraFirma"

// CodigoSeguridadLen longitud del código de seguridad impreso en la representación.
const CodigoSeguridadLen = 6
