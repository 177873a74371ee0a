// Extracción de material de firma desde un contenedor PKCS#12 (.p12/.pfx).

package signer

import (
	"crypto/rsa"
	"crypto/tls"
	"fmt"
	"strings"

	"golang.org/x/crypto/pkcs12"
)

// SubjectCheck resultado estructurado de la verificación del titular del
// certificado. La norma no es explícita sobre si un subject ajeno debe
// bloquear la firma; por defecto el chequeo es informativo y la política
// estricta se decide por configuración.
type SubjectCheck struct {
	RNCEsperado string
	Subject     string // subject completo del certificado
	Coincide    bool   // el RNC esperado aparece en el subject
}

// ExtraerMaterial recupera llave privada y certificado de un contenedor
// PKCS#12. Si rncEsperado no es vacío, verifica que aparezca en los campos
// del subject y devuelve el resultado del chequeo sin fallar por sí solo.
func ExtraerMaterial(containerBytes []byte, passphrase, rncEsperado string) (tls.Certificate, *SubjectCheck, error) {
	if len(containerBytes) == 0 {
		return tls.Certificate{}, nil, fmt.Errorf("dgii: contenedor PKCS#12 vacío")
	}
	priv, cert, err := pkcs12.Decode(containerBytes, passphrase)
	if err != nil {
		return tls.Certificate{}, nil, fmt.Errorf("dgii: decodificar PKCS#12: %w", err)
	}
	if _, ok := priv.(*rsa.PrivateKey); !ok {
		return tls.Certificate{}, nil, fmt.Errorf("dgii: la llave del contenedor no es RSA")
	}

	material := tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  priv,
		Leaf:        cert,
	}

	var check *SubjectCheck
	if rncEsperado != "" {
		subject := cert.Subject.String()
		coincide := strings.Contains(subject, rncEsperado)
		// SerialNumber del subject suele llevar el RNC en certificados DGII
		if !coincide && strings.Contains(cert.Subject.SerialNumber, rncEsperado) {
			coincide = true
		}
		check = &SubjectCheck{
			RNCEsperado: rncEsperado,
			Subject:     subject,
			Coincide:    coincide,
		}
	}
	return material, check, nil
}
