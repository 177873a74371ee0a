package main

import (
	"context"
	"encoding/hex"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/ecf-emisor/internal/application/emission"
	"github.com/jhoicas/ecf-emisor/internal/application/pipeline"
	"github.com/jhoicas/ecf-emisor/internal/infrastructure/dgii"
	"github.com/jhoicas/ecf-emisor/internal/infrastructure/dgii/signer"
	"github.com/jhoicas/ecf-emisor/internal/infrastructure/postgres"
	"github.com/jhoicas/ecf-emisor/internal/infrastructure/vault"
	httpRouter "github.com/jhoicas/ecf-emisor/internal/interfaces/http"
	"github.com/jhoicas/ecf-emisor/pkg/config"
	"github.com/jhoicas/ecf-emisor/pkg/logger"
)

// lock IDs de los barridos periódicos: solo la instancia que sostiene el
// advisory lock los ejecuta.
const (
	lockBarridoContingencia = int64(4201)
	lockBarridoCertificados = int64(4202)
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:   cfg.App.Env,
		Level: "info",
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("dgii_env", cfg.DGII.Environment).
		Str("app", cfg.App.Name).
		Msg("iniciando emisor e-CF")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("conexión a PostgreSQL")
	}
	defer pool.Close()

	// Repositorios
	facturaRepo := postgres.NewFacturaRepository(pool)
	secuenciaRepo := postgres.NewSecuenciaRepository(pool)
	certificadoRepo := postgres.NewCertificadoRepository(pool)
	webhookRepo := postgres.NewWebhookRepository(pool)

	// Bóveda de certificados
	masterKey, err := hex.DecodeString(cfg.Vault.MasterKeyHex)
	if err != nil {
		log.Fatal().Err(err).Msg("VAULT_MASTER_KEY no es hex válido")
	}
	boveda, err := vault.New(pool, masterKey, cfg.DGII.StrictSubject, log)
	if err != nil {
		log.Fatal().Err(err).Msg("inicializar la bóveda")
	}

	// Firma y protocolo DGII
	firmador := signer.New()
	endpoints, err := dgii.NewEndpoints(cfg.DGII.Environment)
	if err != nil {
		log.Fatal().Err(err).Msg("ambiente DGII inválido")
	}
	cliente := dgii.NewClient(endpoints, firmador, log,
		dgii.WithTokenTTL(time.Duration(cfg.DGII.TokenTTLMinutes)*time.Minute),
		dgii.WithHTTPTimeout(time.Duration(cfg.DGII.HTTPTimeoutSecs)*time.Second),
	)

	// Casos de uso
	dispatcher := pipeline.NewDispatcher(webhookRepo, log)
	allocator := emission.NewAllocator(secuenciaRepo, log)
	issuer := emission.NewIssuer(facturaRepo, allocator, boveda, firmador, cliente, dispatcher, log)
	contingencia := emission.NewContingencia(facturaRepo, issuer, cliente, cfg.Jobs.ContingencyBatchSize, log)
	anulador := emission.NewAnulador(facturaRepo, secuenciaRepo, boveda, firmador, cliente, dispatcher, log)
	certificados := emission.NewCertificados(certificadoRepo, boveda, log)
	mensajeria := emission.NewMensajeria(boveda, firmador, cliente, log)

	// Pipeline asíncrono
	pipe := pipeline.New(issuer, contingencia, facturaRepo, cfg.Jobs.Workers, log)
	pipe.Start(ctx, cfg.Jobs.Workers)
	dispatcher.Start(ctx, 4)

	// Barridos periódicos bajo liderazgo: en despliegues de varias réplicas
	// solo una los corre a la vez.
	arrancarBarrido(ctx, pool, lockBarridoContingencia, "contingencia",
		time.Duration(cfg.Jobs.ContingencySweepMins)*time.Minute, pipe.BarrerContingencia, log)

	certSweeper := pipeline.NewCertSweeper(certificadoRepo, log)
	arrancarBarrido(ctx, pool, lockBarridoCertificados, "certificados",
		24*time.Hour, func(ctx context.Context) error {
			_, err := certSweeper.Barrer(ctx)
			return err
		}, log)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 15,
		WriteTimeout: time.Second * 15,
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())

	httpRouter.Router(app, httpRouter.RouterDeps{
		Issuer:       issuer,
		Anulador:     anulador,
		Allocator:    allocator,
		Certificados: certificados,
		Mensajeria:   mensajeria,
		Pipeline:     pipe,
		Secuencias:   secuenciaRepo,
		Webhooks:     webhookRepo,
		Pool:         pool,
		ClienteDGII:  cliente,
		JWTSecret:    cfg.JWT.Secret,
		EntornoDGII:  cfg.DGII.Environment,
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("señal de apagado recibida, cerrando servidor...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}
	pipe.Esperar()
	dispatcher.Esperar()
	log.Info().Msg("emisor detenido")
}

// arrancarBarrido intenta tomar el advisory lock del barrido y, si esta
// instancia lo consigue, lanza el ciclo periódico; si otra lo sostiene, aquí
// no se ejecuta.
func arrancarBarrido(
	ctx context.Context,
	pool *pgxpool.Pool,
	lockID int64,
	nombre string,
	intervalo time.Duration,
	fn func(ctx context.Context) error,
	log *logger.Logger,
) {
	lider, err := postgres.AdquirirLiderazgo(ctx, pool, lockID)
	if err != nil {
		log.Error().Err(err).Str("barrido", nombre).Msg("no se pudo negociar el liderazgo")
		return
	}
	if !lider {
		log.Info().Str("barrido", nombre).Msg("otra instancia sostiene el liderazgo del barrido")
		return
	}
	go pipeline.EjecutarPeriodicamente(ctx, pipeline.RealClock{}, intervalo, nombre, fn, log)
}
