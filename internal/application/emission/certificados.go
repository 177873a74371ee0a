package emission

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/jhoicas/ecf-emisor/internal/domain"
	"github.com/jhoicas/ecf-emisor/internal/domain/entity"
	"github.com/jhoicas/ecf-emisor/internal/domain/repository"
	"github.com/jhoicas/ecf-emisor/internal/infrastructure/dgii/signer"
	pkgecf "github.com/jhoicas/ecf-emisor/pkg/ecf"
	"github.com/jhoicas/ecf-emisor/pkg/logger"
)

// GuardadorMaterial puerto hacia la bóveda para el alta de certificados.
type GuardadorMaterial interface {
	GuardarMaterial(ctx context.Context, certificadoID string, contenedor []byte, passphrase, rncEsperado string) error
	Invalidate(tenantID, companyID string)
}

// Certificados administra el alta y consulta de certificados de firma.
type Certificados struct {
	certs  repository.CertificadoRepository
	boveda GuardadorMaterial
	log    *logger.Logger
	now    func() time.Time
}

// NewCertificados construye el servicio de certificados.
func NewCertificados(certs repository.CertificadoRepository, boveda GuardadorMaterial, log *logger.Logger) *Certificados {
	return &Certificados{certs: certs, boveda: boveda, log: log, now: time.Now}
}

// CargarRequest alta de un certificado: el contenedor PKCS#12 ya decodificado.
type CargarRequest struct {
	TenantID   string
	CompanyID  string
	Alias      string
	RNCEmisor  string
	Contenedor []byte
	Passphrase string
}

// Cargar valida el contenedor, persiste los metadatos y guarda el material
// cifrado en la bóveda. El certificado anterior de la empresa queda inactivo.
func (s *Certificados) Cargar(ctx context.Context, req CargarRequest) (*entity.Certificado, error) {
	if len(req.Contenedor) == 0 || req.Passphrase == "" {
		return nil, fmt.Errorf("%w: contenedor o passphrase vacíos", domain.ErrInvalidInput)
	}
	if err := pkgecf.ValidateRNC(req.RNCEmisor); err != nil {
		return nil, fmt.Errorf("%w: RNC emisor: %v", domain.ErrInvalidInput, err)
	}

	previo, err := s.certs.GetActivoByCompany(ctx, req.TenantID, req.CompanyID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	material, check, err := signer.ExtraerMaterial(req.Contenedor, req.Passphrase, req.RNCEmisor)
	if err != nil {
		return nil, &domain.CryptoError{Op: "cargar-certificado", Err: err}
	}
	leaf, err := x509.ParseCertificate(material.Certificate[0])
	if err != nil {
		return nil, &domain.CryptoError{Op: "cargar-certificado", Err: err}
	}
	if leaf.NotAfter.Before(s.now()) {
		return nil, fmt.Errorf("%w: el certificado ya está vencido (%s)", domain.ErrInvalidInput, leaf.NotAfter.Format(time.RFC3339))
	}
	if check != nil && !check.Coincide {
		s.log.Warn().Str("company_id", req.CompanyID).Str("subject", check.Subject).
			Str("rnc_esperado", check.RNCEsperado).Msg("el sujeto del certificado no menciona el RNC declarado")
	}

	// Desactivar el certificado vigente antes de registrar el nuevo.
	if previo != nil {
		previo.Activo = false
		if uerr := s.certs.Update(ctx, previo); uerr != nil {
			return nil, uerr
		}
	}

	c := &entity.Certificado{
		TenantID:  req.TenantID,
		CompanyID: req.CompanyID,
		Alias:     req.Alias,
		Vence:     leaf.NotAfter,
		Activo:    true,
	}
	if err := s.certs.Create(ctx, c); err != nil {
		return nil, err
	}
	if err := s.boveda.GuardarMaterial(ctx, c.ID, req.Contenedor, req.Passphrase, req.RNCEmisor); err != nil {
		return nil, err
	}
	s.boveda.Invalidate(req.TenantID, req.CompanyID)
	s.log.Info().Str("company_id", req.CompanyID).Time("vence", c.Vence).Msg("certificado de firma registrado")
	return c, nil
}

// Activo devuelve el certificado vigente de la empresa.
func (s *Certificados) Activo(ctx context.Context, tenantID, companyID string) (*entity.Certificado, error) {
	return s.certs.GetActivoByCompany(ctx, tenantID, companyID)
}
