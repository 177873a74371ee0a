package emission_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/ecf-emisor/internal/application/emission"
	"github.com/jhoicas/ecf-emisor/internal/domain"
	"github.com/jhoicas/ecf-emisor/internal/infrastructure/dgii"
	"github.com/jhoicas/ecf-emisor/pkg/logger"
)

func nuevaMensajeria(e *entorno) *emission.Mensajeria {
	return emission.NewMensajeria(e.boveda, e.firmador, e.cliente, logger.Nop()).WithClock(reloj)
}

func mensajeDePrueba(estado string) emission.MensajeRequest {
	return emission.MensajeRequest{
		TenantID:    testTenant,
		CompanyID:   testCompany,
		RNCEmisor:   "131793916", // emisor del documento recibido
		RNCReceptor: testRNCEmisor,
		ENCF:        "E310000000044",
		Estado:      estado,
	}
}

func TestEnviarAcuse_Validaciones(t *testing.T) {
	e := nuevoEntorno()
	m := nuevaMensajeria(e)

	casos := []struct {
		nombre string
		mut    func(*emission.MensajeRequest)
	}{
		{"RNC emisor inválido", func(r *emission.MensajeRequest) { r.RNCEmisor = "123" }},
		{"RNC receptor inválido", func(r *emission.MensajeRequest) { r.RNCReceptor = "no-numerico" }},
		{"eNCF malformado", func(r *emission.MensajeRequest) { r.ENCF = "B0100000001" }},
		{"estado vacío", func(r *emission.MensajeRequest) { r.Estado = "" }},
	}
	for _, c := range casos {
		t.Run(c.nombre, func(t *testing.T) {
			req := mensajeDePrueba(emission.AcuseRecibido)
			c.mut(&req)
			assert.ErrorIs(t, m.EnviarAcuse(context.Background(), req), domain.ErrInvalidInput)
		})
	}
	assert.Empty(t, e.cliente.acuseDestinos, "un mensaje inválido jamás llega a la red")
}

// El destino del acuse se resuelve por el directorio de emisores: si el RNC
// está listado, el mensaje va directo a su URL de recepción.
func TestEnviarAcuse_DestinoDelDirectorio(t *testing.T) {
	e := nuevoEntorno()
	e.cliente.directorio = []dgii.EmisorDirectorio{
		{RNC: "131793916", Nombre: "Proveedor SRL", URLRecepcion: "https://proveedor.example/arecf"},
	}
	m := nuevaMensajeria(e)

	require.NoError(t, m.EnviarAcuse(context.Background(), mensajeDePrueba(emission.AcuseRecibido)))

	require.Len(t, e.cliente.acuseDestinos, 1)
	assert.Equal(t, "https://proveedor.example/arecf", e.cliente.acuseDestinos[0])

	arecf := string(e.cliente.acuseEnviados[0])
	assert.Contains(t, arecf, "<RNCEmisor>131793916</RNCEmisor>")
	assert.Contains(t, arecf, "<eNCF>E310000000044</eNCF>")
	assert.Contains(t, arecf, "<Estado>0</Estado>")
}

// Emisor no listado en el directorio: el mensaje va al puente de la DGII
// (destino vacío, el cliente resuelve su endpoint por defecto).
func TestEnviarAcuse_EmisorNoListadoUsaElPuente(t *testing.T) {
	e := nuevoEntorno()
	m := nuevaMensajeria(e)

	require.NoError(t, m.EnviarAcuse(context.Background(), mensajeDePrueba(emission.AcuseRechazado)))

	require.Len(t, e.cliente.acuseDestinos, 1)
	assert.Empty(t, e.cliente.acuseDestinos[0])
}

// Directorio caído (transitorio): el mensaje no se entrega a ciegas, el error
// se propaga para reintentar después.
func TestEnviarAcuse_DirectorioCaido(t *testing.T) {
	e := nuevoEntorno()
	e.cliente.directorioErr = errTransitorio("directorio")
	m := nuevaMensajeria(e)

	err := m.EnviarAcuse(context.Background(), mensajeDePrueba(emission.AcuseRecibido))
	require.Error(t, err)
	assert.True(t, domain.IsTransientProtocolError(err))
	assert.Empty(t, e.cliente.acuseDestinos)
}

// Directorio con rechazo terminal: se usa el puente en vez de fallar.
func TestEnviarAcuse_DirectorioTerminalNoBloquea(t *testing.T) {
	e := nuevoEntorno()
	e.cliente.directorioErr = errTerminal("directorio", "HTTP 404", "no disponible")
	m := nuevaMensajeria(e)

	require.NoError(t, m.EnviarAcuse(context.Background(), mensajeDePrueba(emission.AcuseRecibido)))
	require.Len(t, e.cliente.acuseDestinos, 1)
	assert.Empty(t, e.cliente.acuseDestinos[0])
}

func TestEnviarAprobacionComercial(t *testing.T) {
	e := nuevoEntorno()
	e.cliente.directorio = []dgii.EmisorDirectorio{
		{RNC: "131793916", URLAceptacion: "https://proveedor.example/acecf"},
	}
	m := nuevaMensajeria(e)

	require.NoError(t, m.EnviarAprobacionComercial(context.Background(), mensajeDePrueba("1")))

	require.Len(t, e.cliente.acuseDestinos, 1)
	assert.Equal(t, "https://proveedor.example/acecf", e.cliente.acuseDestinos[0],
		"la aprobación usa la URL de aceptación, no la de recepción")

	acecf := string(e.cliente.acuseEnviados[0])
	assert.Contains(t, acecf, "<DetalleAprobacionComercial>")
	assert.Contains(t, acecf, "<Estado>1</Estado>")
}
