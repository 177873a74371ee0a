// Servicio de firma digital enveloped XMLDSig para e-CF DGII.
// Inyecta <Signature> como último hijo del elemento raíz del documento.

package signer

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/ucarion/c14n"
)

// Resultado de una operación de firma.
type Resultado struct {
	XMLFirmado      []byte
	CodigoSeguridad string // 6 hex minúsculas derivados del SignatureValue
	FechaFirma      time.Time
}

// Service implementa la firma enveloped XMLDSig (SHA-256 / RSA-SHA256 / C14N).
// El reloj es inyectable para congelar el tiempo en tests.
type Service struct {
	now func() time.Time
}

// New crea el servicio de firma con el reloj del sistema.
func New() *Service {
	return &Service{now: time.Now}
}

// NewWithClock crea el servicio con un reloj propio (tests).
func NewWithClock(now func() time.Time) *Service {
	return &Service{now: now}
}

// Sign firma el documento XML con la llave privada RSA del certificado.
// Detecta la raíz del documento: para el e-CF (raíz ECF) inyecta el elemento
// FechaHoraFirma inmediatamente antes de firmar; los documentos auxiliares
// del protocolo (semilla, ARECF, ACECF, ANECF, RFCE) se firman tal cual.
// La Reference apunta al documento completo (URI "") con transform enveloped.
func (s *Service) Sign(xmlBytes []byte, cert tls.Certificate) (*Resultado, error) {
	if len(xmlBytes) == 0 {
		return nil, fmt.Errorf("dgii: XML vacío")
	}
	priv, ok := cert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("dgii: el certificado debe incluir llave privada RSA")
	}
	x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("dgii: parsear certificado: %w", err)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil {
		return nil, fmt.Errorf("dgii: parsear XML: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("dgii: documento sin raíz")
	}

	// 1) Quitar cualquier firma previa y, para el ECF, sellar FechaHoraFirma.
	removeSignature(root)
	fechaFirma := s.now()
	if localTag(root) == RootECF {
		setFechaHoraFirma(root, fechaFirma)
	}

	// 2) Digest del documento completo sin firma (C14N + SHA-256).
	unsigned, err := serialize(doc)
	if err != nil {
		return nil, err
	}
	canonicalDoc, err := canonicalizeXML(unsigned)
	if err != nil {
		return nil, fmt.Errorf("dgii: canonicalizar documento: %w", err)
	}
	docDigest := sha256.Sum256(canonicalDoc)
	docDigestB64 := base64.StdEncoding.EncodeToString(docDigest[:])

	// 3) SignedInfo (C14N, Reference URI="", transforms enveloped + C14N).
	signedInfoXML := buildSignedInfo(docDigestB64)
	canonicalSignedInfo, err := canonicalizeXML([]byte(signedInfoXML))
	if err != nil {
		return nil, fmt.Errorf("dgii: canonicalizar SignedInfo: %w", err)
	}
	signHash := sha256.Sum256(canonicalSignedInfo)
	signatureValue, err := rsa.SignPKCS1v15(nil, priv, crypto.SHA256, signHash[:])
	if err != nil {
		return nil, fmt.Errorf("dgii: firmar SignedInfo: %w", err)
	}
	signatureValueB64 := base64.StdEncoding.EncodeToString(signatureValue)

	// 4) Nodo Signature completo con el certificado embebido.
	certB64 := base64.StdEncoding.EncodeToString(x509Cert.Raw)
	signatureXML := buildSignatureNode(signedInfoXML, signatureValueB64, certB64)

	// 5) Insertar la firma como último hijo de la raíz.
	signedDoc, err := injectSignature(doc, signatureXML)
	if err != nil {
		return nil, err
	}

	return &Resultado{
		XMLFirmado:      signedDoc,
		CodigoSeguridad: CodigoSeguridad(signatureValueB64),
		FechaFirma:      fechaFirma,
	}, nil
}

// CodigoSeguridad deriva el código de seguridad: primeros 6 caracteres hex
// (minúsculas) del SHA-256 sobre el SignatureValue en Base64. Es función pura
// de la firma: siempre reproducible desde un documento firmado sin re-firmar.
func CodigoSeguridad(signatureValueB64 string) string {
	h := sha256.Sum256([]byte(signatureValueB64))
	return hex.EncodeToString(h[:])[:CodigoSeguridadLen]
}

// CodigoSeguridadDesdeXML re-deriva el código de seguridad de un documento ya
// firmado, sin re-firmar.
func CodigoSeguridadDesdeXML(signedXML []byte) (string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(signedXML); err != nil {
		return "", fmt.Errorf("dgii: parsear XML firmado: %w", err)
	}
	sigValue := findFirst(doc.Root(), "SignatureValue")
	if sigValue == nil {
		return "", ErrXMLMalformado
	}
	return CodigoSeguridad(strings.TrimSpace(sigValue.Text())), nil
}

// ── helpers ───────────────────────────────────────────────────────────────────

func canonicalizeXML(data []byte) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = map[string]string{}
	return c14n.Canonicalize(dec)
}

func buildSignedInfo(docDigestB64 string) string {
	var sb strings.Builder
	sb.WriteString(`<SignedInfo xmlns="` + NamespaceDS + `">`)
	sb.WriteString(`<CanonicalizationMethod Algorithm="` + AlgC14N + `"/>`)
	sb.WriteString(`<SignatureMethod Algorithm="` + AlgRSASHA256 + `"/>`)
	sb.WriteString(`<Reference URI="">`)
	sb.WriteString(`<Transforms><Transform Algorithm="` + TransformEnveloped + `"/>`)
	sb.WriteString(`<Transform Algorithm="` + AlgC14N + `"/></Transforms>`)
	sb.WriteString(`<DigestMethod Algorithm="` + AlgSHA256 + `"/>`)
	sb.WriteString(`<DigestValue>` + docDigestB64 + `</DigestValue>`)
	sb.WriteString(`</Reference>`)
	sb.WriteString(`</SignedInfo>`)
	return sb.String()
}

func buildSignatureNode(signedInfoXML, signatureValueB64, certB64 string) string {
	var sb strings.Builder
	sb.WriteString(`<Signature xmlns="` + NamespaceDS + `">`)
	// El SignedInfo ya declara el namespace; dentro de Signature es redundante
	// pero inofensivo para C14N.
	sb.WriteString(signedInfoXML)
	sb.WriteString(`<SignatureValue>` + signatureValueB64 + `</SignatureValue>`)
	sb.WriteString(`<KeyInfo><X509Data><X509Certificate>` + certB64 + `</X509Certificate></X509Data></KeyInfo>`)
	sb.WriteString(`</Signature>`)
	return sb.String()
}

func injectSignature(doc *etree.Document, signatureXML string) ([]byte, error) {
	sigDoc := etree.NewDocument()
	if err := sigDoc.ReadFromString(signatureXML); err != nil {
		return nil, fmt.Errorf("dgii: parsear Signature: %w", err)
	}
	root := doc.Root()
	if sigRoot := sigDoc.Root(); sigRoot != nil {
		root.AddChild(sigRoot)
	}
	return serialize(doc)
}

func serialize(doc *etree.Document) ([]byte, error) {
	var out bytes.Buffer
	if _, err := doc.WriteTo(&out); err != nil {
		return nil, fmt.Errorf("dgii: serializar XML: %w", err)
	}
	return out.Bytes(), nil
}

// localTag devuelve el nombre del elemento sin prefijo de namespace.
func localTag(e *etree.Element) string {
	if i := strings.Index(e.Tag, ":"); i >= 0 {
		return e.Tag[i+1:]
	}
	return e.Tag
}

// removeSignature elimina todo elemento Signature hijo directo de la raíz.
func removeSignature(root *etree.Element) {
	for _, child := range root.ChildElements() {
		if localTag(child) == "Signature" {
			root.RemoveChild(child)
		}
	}
}

// setFechaHoraFirma inyecta (o reemplaza) el elemento FechaHoraFirma como
// último hijo del ECF, de modo que quede cubierto por el digest.
func setFechaHoraFirma(root *etree.Element, t time.Time) {
	for _, child := range root.ChildElements() {
		if localTag(child) == FechaHoraFirmaTag {
			root.RemoveChild(child)
		}
	}
	el := root.CreateElement(FechaHoraFirmaTag)
	el.SetText(t.Format(FechaHoraFirmaFormat))
}

// findFirst busca en profundidad el primer elemento con el tag local dado.
func findFirst(e *etree.Element, tag string) *etree.Element {
	if e == nil {
		return nil
	}
	if localTag(e) == tag {
		return e
	}
	for _, child := range e.ChildElements() {
		if found := findFirst(child, tag); found != nil {
			return found
		}
	}
	return nil
}
