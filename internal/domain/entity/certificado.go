package entity

import "time"

// Certificado material criptográfico de una empresa para firmar e-CF.
// El contenedor PKCS#12 se guarda cifrado en reposo; el descifrado lo hace
// el colaborador de bóveda, fuera de este núcleo.
type Certificado struct {
	ID        string
	TenantID  string
	CompanyID string

	Alias  string
	Vence  time.Time // NotAfter del certificado X.509
	Activo bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Niveles de salud del certificado según su vencimiento (barrido diario).
const (
	CertSaludable   = "SALUDABLE"
	CertAdvertencia = "ADVERTENCIA" // vence en 30 días o menos
	CertCritico     = "CRITICO"     // vence en 7 días o menos
	CertVencido     = "VENCIDO"     // vencido; se desactiva automáticamente
)

// Salud clasifica el certificado según los días restantes hasta su vencimiento.
func (c *Certificado) Salud(ahora time.Time) string {
	restante := c.Vence.Sub(ahora)
	switch {
	case restante <= 0:
		return CertVencido
	case restante <= 7*24*time.Hour:
		return CertCritico
	case restante <= 30*24*time.Hour:
		return CertAdvertencia
	default:
		return CertSaludable
	}
}
