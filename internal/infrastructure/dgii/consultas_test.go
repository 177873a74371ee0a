package dgii_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ──────────────────────────────────────────────────────────────────────────────
// Consultas secundarias: validez, track ids y directorio de emisores
// ──────────────────────────────────────────────────────────────────────────────

func TestConsultarEstado(t *testing.T) {
	srv := nuevoServidorDGII(t)
	srv.mux.HandleFunc("/testecf/consultaestado/api/consultas/estado", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "101023333", r.URL.Query().Get("rncemisor"))
		assert.Equal(t, "E310000000001", r.URL.Query().Get("ncfelectronico"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"encf":"E310000000001","rncEmisor":"101023333","estado":"Aceptado","codigoSeguridad":"a1b2c3","montoTotal":"1180.00"}`))
	})

	c := clienteDePrueba(srv, &firmadorStub{})
	est, err := c.ConsultarEstado(context.Background(), "tok", "101023333", "E310000000001")
	require.NoError(t, err)

	assert.Equal(t, "E310000000001", est.ENCF)
	assert.Equal(t, "Aceptado", est.Estado)
	assert.Equal(t, "a1b2c3", est.CodigoSeguridad)
	assert.Equal(t, "1180.00", est.MontoTotal)
}

func TestConsultarTrackIDs(t *testing.T) {
	srv := nuevoServidorDGII(t)
	srv.mux.HandleFunc("/testecf/consultatrackids/api/trackids/consulta", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"trackId":"trk-1","estado":"Rechazado","fechaRecepcion":"24-08-2026 10:00:00"},
			{"trackId":"trk-2","estado":"Aceptado","fechaRecepcion":"25-08-2026 09:30:00"}
		]`))
	})

	c := clienteDePrueba(srv, &firmadorStub{})
	infos, err := c.ConsultarTrackIDs(context.Background(), "tok", "101023333", "E310000000001")
	require.NoError(t, err)

	require.Len(t, infos, 2)
	assert.Equal(t, "trk-1", infos[0].TrackID)
	assert.Equal(t, "Rechazado", infos[0].Estado)
	assert.Equal(t, "trk-2", infos[1].TrackID)
	assert.Equal(t, "25-08-2026 09:30:00", infos[1].FechaRecepcion)
}

func TestDirectorio(t *testing.T) {
	srv := nuevoServidorDGII(t)
	srv.mux.HandleFunc("/testecf/consultadirectorio/api/consultas/listado", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"rnc":"131793916","nombre":"Proveedor SRL","urlRecepcion":"https://proveedor.example/arecf","urlAceptacion":"https://proveedor.example/acecf"}
		]`))
	})

	c := clienteDePrueba(srv, &firmadorStub{})
	emisores, err := c.Directorio(context.Background(), "tok")
	require.NoError(t, err)

	require.Len(t, emisores, 1)
	assert.Equal(t, "131793916", emisores[0].RNC)
	assert.Equal(t, "https://proveedor.example/arecf", emisores[0].URLRecepcion)
	assert.Equal(t, "https://proveedor.example/acecf", emisores[0].URLAceptacion)
}

func TestDirectorio_RespuestaIlegible(t *testing.T) {
	srv := nuevoServidorDGII(t)
	srv.mux.HandleFunc("/testecf/consultadirectorio/api/consultas/listado", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>mantenimiento</html>`))
	})

	c := clienteDePrueba(srv, &firmadorStub{})
	_, err := c.Directorio(context.Background(), "tok")
	assert.Error(t, err)
}
