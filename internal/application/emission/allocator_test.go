package emission_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/ecf-emisor/internal/application/emission"
	"github.com/jhoicas/ecf-emisor/internal/domain"
)

// ──────────────────────────────────────────────────────────────────────────────
// RegistrarRango — alta de autorizaciones de numeración
// ──────────────────────────────────────────────────────────────────────────────

func TestRegistrarRango_Alta(t *testing.T) {
	e := nuevoEntorno()
	s := e.conSecuencia(t, "31", 1, 1000)

	assert.True(t, s.Activa)
	assert.Equal(t, int64(0), s.Actual, "Actual arranca en Desde-1")
	assert.Equal(t, int64(1000), s.Restantes())
}

func TestRegistrarRango_Invalidos(t *testing.T) {
	e := nuevoEntorno()
	base := emission.RegistroRango{
		CompanyID: testCompany,
		TipoECF:   "31",
		Desde:     1,
		Hasta:     100,
		Vence:     relojFijo.AddDate(1, 0, 0),
	}

	casos := []struct {
		nombre string
		mut    func(*emission.RegistroRango)
	}{
		{"tipo inexistente", func(r *emission.RegistroRango) { r.TipoECF = "99" }},
		{"desde cero", func(r *emission.RegistroRango) { r.Desde = 0 }},
		{"desde mayor que hasta", func(r *emission.RegistroRango) { r.Desde = 50; r.Hasta = 10 }},
		{"desde igual a hasta", func(r *emission.RegistroRango) { r.Desde = 50; r.Hasta = 50 }},
		{"tamaño desmedido", func(r *emission.RegistroRango) { r.Hasta = r.Desde + 10_000_000 }},
		{"autorización ya vencida", func(r *emission.RegistroRango) { r.Vence = relojFijo.Add(-time.Hour) }},
	}
	for _, c := range casos {
		t.Run(c.nombre, func(t *testing.T) {
			reg := base
			c.mut(&reg)
			_, err := e.allocator.RegistrarRango(context.Background(), reg)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

// Un número autorizado jamás se reutiliza: el solapamiento se rechaza incluso
// contra rangos históricos ya inactivos.
func TestRegistrarRango_Solapamiento(t *testing.T) {
	e := nuevoEntorno()
	s := e.conSecuencia(t, "31", 100, 200)

	_, err := e.allocator.RegistrarRango(context.Background(), emission.RegistroRango{
		CompanyID: testCompany,
		TipoECF:   "31",
		Desde:     150,
		Hasta:     250,
		Vence:     relojFijo.AddDate(1, 0, 0),
	})
	assert.ErrorIs(t, err, domain.ErrRangoSolapado)

	// Desactivar el rango y volver a intentar: sigue prohibido.
	s.Activa = false
	require.NoError(t, e.secuencias.Update(context.Background(), s))
	_, err = e.allocator.RegistrarRango(context.Background(), emission.RegistroRango{
		CompanyID: testCompany,
		TipoECF:   "31",
		Desde:     150,
		Hasta:     250,
		Vence:     relojFijo.AddDate(1, 0, 0),
	})
	assert.ErrorIs(t, err, domain.ErrRangoSolapado)
}

// A lo sumo una secuencia activa por (empresa, tipo).
func TestRegistrarRango_UnaActivaPorPar(t *testing.T) {
	e := nuevoEntorno()
	e.conSecuencia(t, "31", 1, 100)

	_, err := e.allocator.RegistrarRango(context.Background(), emission.RegistroRango{
		CompanyID: testCompany,
		TipoECF:   "31",
		Desde:     200,
		Hasta:     300,
		Vence:     relojFijo.AddDate(1, 0, 0),
	})
	assert.ErrorIs(t, err, domain.ErrConflict)

	// Otro tipo de e-CF sí admite su propia secuencia activa.
	_, err = e.allocator.RegistrarRango(context.Background(), emission.RegistroRango{
		CompanyID: testCompany,
		TipoECF:   "34",
		Desde:     1,
		Hasta:     100,
		Vence:     relojFijo.AddDate(1, 0, 0),
	})
	assert.NoError(t, err)
}

// ──────────────────────────────────────────────────────────────────────────────
// Asignar — emisión del siguiente número
// ──────────────────────────────────────────────────────────────────────────────

func TestAsignar_Secuencial(t *testing.T) {
	e := nuevoEntorno()
	e.conSecuencia(t, "31", 1, 3)
	ctx := context.Background()

	for n, esperado := range []string{"E310000000001", "E310000000002", "E310000000003"} {
		asig, err := e.allocator.Asignar(ctx, testCompany, "31")
		require.NoError(t, err)
		assert.Equal(t, esperado, asig.ENCF)
		assert.Equal(t, int64(3-(n+1)), asig.Restantes)
	}

	// El rango se agotó: la siguiente asignación falla y desactiva.
	_, err := e.allocator.Asignar(ctx, testCompany, "31")
	assert.ErrorIs(t, err, domain.ErrSecuenciaAgotada)

	activa, err := e.secuencias.GetActiva(ctx, testCompany, "31")
	require.NoError(t, err)
	assert.Nil(t, activa, "la secuencia agotada queda inactiva")
}

// Llamadores concurrentes jamás reciben el mismo número y no dejan huecos:
// el repositorio serializa la asignación (FOR UPDATE en el real, mutex en el
// doble en memoria).
func TestAsignar_Concurrente(t *testing.T) {
	e := nuevoEntorno()
	e.conSecuencia(t, "31", 1, 200)

	const llamadores = 8
	const porLlamador = 25
	type resultado struct {
		encf string
		err  error
	}
	resultados := make(chan resultado, llamadores*porLlamador)

	var wg sync.WaitGroup
	for i := 0; i < llamadores; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < porLlamador; j++ {
				asig, err := e.allocator.Asignar(context.Background(), testCompany, "31")
				if err != nil {
					resultados <- resultado{err: err}
					continue
				}
				resultados <- resultado{encf: asig.ENCF}
			}
		}()
	}
	wg.Wait()
	close(resultados)

	vistos := make(map[string]int)
	for r := range resultados {
		require.NoError(t, r.err)
		vistos[r.encf]++
	}
	require.Len(t, vistos, llamadores*porLlamador, "cada asignación emitió un eNCF distinto")
	for n := 1; n <= llamadores*porLlamador; n++ {
		encf := fmt.Sprintf("E31%010d", n)
		assert.Equal(t, 1, vistos[encf], "el número %d se emitió exactamente una vez", n)
	}
}

func TestAsignar_SinSecuencia(t *testing.T) {
	e := nuevoEntorno()
	_, err := e.allocator.Asignar(context.Background(), testCompany, "31")
	assert.ErrorIs(t, err, domain.ErrSecuenciaNoEncontrada)
}

func TestAsignar_SecuenciaVencida(t *testing.T) {
	e := nuevoEntorno()
	s := e.conSecuencia(t, "31", 1, 100)
	s.Vence = relojFijo.Add(-time.Hour)
	require.NoError(t, e.secuencias.Update(context.Background(), s))

	_, err := e.allocator.Asignar(context.Background(), testCompany, "31")
	assert.ErrorIs(t, err, domain.ErrSecuenciaVencida)

	activa, err := e.secuencias.GetActiva(context.Background(), testCompany, "31")
	require.NoError(t, err)
	assert.Nil(t, activa, "la secuencia vencida queda inactiva")
}
