package dto

import (
	"time"

	"github.com/jhoicas/ecf-emisor/internal/domain/entity"
)

// RegistrarRangoRequest alta de una autorización de numeración DGII.
type RegistrarRangoRequest struct {
	CompanyID string    `json:"company_id"`
	TipoECF   string    `json:"tipo_ecf"`
	Desde     int64     `json:"desde"`
	Hasta     int64     `json:"hasta"`
	Vence     time.Time `json:"vence"`
}

// SecuenciaResponse estado de un rango de numeración.
type SecuenciaResponse struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	TipoECF   string    `json:"tipo_ecf"`
	Desde     int64     `json:"desde"`
	Actual    int64     `json:"actual"`
	Hasta     int64     `json:"hasta"`
	Restantes int64     `json:"restantes"`
	Vence     time.Time `json:"vence"`
	Activa    bool      `json:"activa"`
}

// FromSecuencia convierte la entidad al contrato de la API.
func FromSecuencia(s *entity.Secuencia) SecuenciaResponse {
	return SecuenciaResponse{
		ID:        s.ID,
		CompanyID: s.CompanyID,
		TipoECF:   s.TipoECF,
		Desde:     s.Desde,
		Actual:    s.Actual,
		Hasta:     s.Hasta,
		Restantes: s.Restantes(),
		Vence:     s.Vence,
		Activa:    s.Activa,
	}
}

// AnularRangoRequest anulación ante la DGII de un tramo de secuencias no utilizado.
type AnularRangoRequest struct {
	CompanyID string `json:"company_id"`
	RNCEmisor string `json:"rnc_emisor"`
	TipoECF   string `json:"tipo_ecf"`
	Desde     int64  `json:"desde"`
	Hasta     int64  `json:"hasta"`
}
