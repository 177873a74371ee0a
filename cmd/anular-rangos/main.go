// anular-rangos reporta a la DGII la anulación de un tramo de secuencias eNCF
// nunca emitido (p.ej. el sobrante de un rango vencido). Operación manual de
// back-office; la API expone la misma operación en /api/secuencias/anular-rango.
//
// Uso:
//
//	anular-rangos -tenant t1 -company c1 -rnc 101023339 -tipo 31 -desde 950 -hasta 1000
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jhoicas/ecf-emisor/internal/application/emission"
	"github.com/jhoicas/ecf-emisor/internal/infrastructure/dgii"
	"github.com/jhoicas/ecf-emisor/internal/infrastructure/dgii/signer"
	"github.com/jhoicas/ecf-emisor/internal/infrastructure/postgres"
	"github.com/jhoicas/ecf-emisor/internal/infrastructure/vault"
	"github.com/jhoicas/ecf-emisor/pkg/config"
	"github.com/jhoicas/ecf-emisor/pkg/logger"
)

func main() {
	var (
		tenantID  = flag.String("tenant", "", "tenant dueño de la empresa")
		companyID = flag.String("company", "", "empresa emisora")
		rnc       = flag.String("rnc", "", "RNC del emisor")
		tipo      = flag.String("tipo", "", "tipo de e-CF (31, 32, ...)")
		desde     = flag.Int64("desde", 0, "primer secuencial del tramo")
		hasta     = flag.Int64("hasta", 0, "último secuencial del tramo")
	)
	flag.Parse()
	if *tenantID == "" || *companyID == "" || *rnc == "" || *tipo == "" || *desde == 0 || *hasta == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cargar configuración: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Env: cfg.App.Env, Level: "info"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("conexión a PostgreSQL")
	}
	defer pool.Close()

	masterKey, err := hex.DecodeString(cfg.Vault.MasterKeyHex)
	if err != nil {
		log.Fatal().Err(err).Msg("VAULT_MASTER_KEY no es hex válido")
	}
	boveda, err := vault.New(pool, masterKey, cfg.DGII.StrictSubject, log)
	if err != nil {
		log.Fatal().Err(err).Msg("inicializar la bóveda")
	}

	firmador := signer.New()
	endpoints, err := dgii.NewEndpoints(cfg.DGII.Environment)
	if err != nil {
		log.Fatal().Err(err).Msg("ambiente DGII inválido")
	}
	cliente := dgii.NewClient(endpoints, firmador, log)

	anulador := emission.NewAnulador(
		postgres.NewFacturaRepository(pool),
		postgres.NewSecuenciaRepository(pool),
		boveda, firmador, cliente, nil, log,
	)
	err = anulador.AnularRangoNoUtilizado(ctx, emission.AnulacionRango{
		TenantID:  *tenantID,
		CompanyID: *companyID,
		RNCEmisor: *rnc,
		TipoECF:   *tipo,
		Desde:     *desde,
		Hasta:     *hasta,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("anulación de rango fallida")
	}
	log.Info().Str("tipo", *tipo).Int64("desde", *desde).Int64("hasta", *hasta).Msg("tramo anulado ante la DGII")
}
