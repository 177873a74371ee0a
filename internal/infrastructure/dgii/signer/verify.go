// Verificación de firma enveloped XMLDSig: digest del documento y firma RSA.

package signer

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// Errores de verificación, distinguibles por el llamador:
// documento alterado vs material de llaves corrupto vs XML incompleto.
var (
	ErrDigestNoCoincide = errors.New("dgii: digest no coincide: el documento fue alterado después de la firma")
	ErrFirmaInvalida    = errors.New("dgii: firma inválida: SignatureValue no corresponde a la llave del certificado embebido")
	ErrXMLMalformado    = errors.New("dgii: XML firmado incompleto: falta un elemento requerido de la firma")
)

// Verify valida un documento firmado: recomputa el digest sobre el documento
// sin el nodo Signature y re-verifica la firma RSA contra la llave pública
// del certificado embebido.
func (s *Service) Verify(signedXML []byte) error {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(signedXML); err != nil {
		return fmt.Errorf("dgii: parsear XML firmado: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return ErrXMLMalformado
	}

	var signature *etree.Element
	for _, child := range root.ChildElements() {
		if localTag(child) == "Signature" {
			signature = child
			break
		}
	}
	if signature == nil {
		return ErrXMLMalformado
	}

	signedInfo := findFirst(signature, "SignedInfo")
	digestValue := findFirst(signature, "DigestValue")
	signatureValue := findFirst(signature, "SignatureValue")
	certElement := findFirst(signature, "X509Certificate")
	if signedInfo == nil || digestValue == nil || signatureValue == nil || certElement == nil {
		return ErrXMLMalformado
	}

	// 1) Digest: documento completo menos la firma, canonicalizado.
	root.RemoveChild(signature)
	unsigned, err := serialize(doc)
	if err != nil {
		return err
	}
	canonicalDoc, err := canonicalizeXML(unsigned)
	if err != nil {
		return fmt.Errorf("dgii: canonicalizar documento: %w", err)
	}
	computed := sha256.Sum256(canonicalDoc)
	expected, err := base64.StdEncoding.DecodeString(strings.TrimSpace(digestValue.Text()))
	if err != nil {
		return ErrXMLMalformado
	}
	if !bytes.Equal(computed[:], expected) {
		return ErrDigestNoCoincide
	}

	// 2) Firma: SHA-256 del SignedInfo canonicalizado contra la llave pública.
	canonicalSignedInfo, err := canonicalizeStandalone(signedInfo)
	if err != nil {
		return fmt.Errorf("dgii: canonicalizar SignedInfo: %w", err)
	}
	signHash := sha256.Sum256(canonicalSignedInfo)

	certDER, err := base64.StdEncoding.DecodeString(strings.TrimSpace(certElement.Text()))
	if err != nil {
		return ErrXMLMalformado
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return fmt.Errorf("dgii: parsear certificado embebido: %w", err)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("dgii: el certificado embebido no tiene llave pública RSA")
	}

	sigBytes, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signatureValue.Text()))
	if err != nil {
		return ErrXMLMalformado
	}
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, signHash[:], sigBytes); err != nil {
		return ErrFirmaInvalida
	}
	return nil
}

// canonicalizeStandalone serializa un elemento fuera de su documento,
// re-declarando el namespace heredado del padre (el SignedInfo hereda el
// xmlns de Signature), y lo canonicaliza. El resultado coincide con la
// canonicalización del fragmento construido al momento de firmar.
func canonicalizeStandalone(e *etree.Element) ([]byte, error) {
	clone := e.Copy()
	nsAttr := "xmlns"
	if i := strings.Index(clone.Tag, ":"); i >= 0 {
		nsAttr = "xmlns:" + clone.Tag[:i]
	}
	if clone.SelectAttr(nsAttr) == nil {
		clone.CreateAttr(nsAttr, NamespaceDS)
	}
	tmp := etree.NewDocument()
	tmp.AddChild(clone)
	raw, err := serialize(tmp)
	if err != nil {
		return nil, err
	}
	return canonicalizeXML(raw)
}
