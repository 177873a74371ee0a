// Package vault implementa la bóveda de certificados de firma: contenedores
// PKCS#12 cifrados en reposo (AES-256-GCM con llave maestra del servicio).
// El caché guarda únicamente la fila cifrada; el material en claro existe solo
// durante la operación de firma que lo pidió.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	gocache "github.com/patrickmn/go-cache"

	"github.com/jhoicas/ecf-emisor/internal/domain"
	"github.com/jhoicas/ecf-emisor/internal/infrastructure/dgii/signer"
	"github.com/jhoicas/ecf-emisor/pkg/logger"
)

// filaMaterial fila de certificado_material tal como está en reposo: el
// contenedor y la passphrase siguen sellados con la llave maestra.
type filaMaterial struct {
	contenedor  []byte
	passphrase  []byte
	rncEsperado string
}

// Boveda carga y descifra el material de firma por empresa. Solo la fila
// cifrada se retiene entre llamadas; cada firma descifra y abre el PKCS#12
// de nuevo.
type Boveda struct {
	pool          *pgxpool.Pool
	master        cipher.AEAD
	cache         *gocache.Cache
	strictSubject bool
	log           *logger.Logger
	leer          func(ctx context.Context, tenantID, companyID string) (filaMaterial, error)
}

// New construye la bóveda. masterKey debe tener 32 bytes (AES-256). Con
// strictSubject=true, un sujeto de certificado que no coincide con el RNC
// declarado es un error fatal; si no, solo se registra la discrepancia.
func New(pool *pgxpool.Pool, masterKey []byte, strictSubject bool, log *logger.Logger) (*Boveda, error) {
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("vault: la llave maestra debe tener 32 bytes, tiene %d", len(masterKey))
	}
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	b := &Boveda{
		pool:          pool,
		master:        aead,
		cache:         gocache.New(15*time.Minute, 30*time.Minute),
		strictSubject: strictSubject,
		log:           log,
	}
	b.leer = b.leerDeBase
	return b, nil
}

// CertificadoDeFirma devuelve el material de firma activo de la empresa,
// descifrado y con el contenedor PKCS#12 abierto para esta llamada.
func (b *Boveda) CertificadoDeFirma(ctx context.Context, tenantID, companyID string) (tls.Certificate, error) {
	key := tenantID + "|" + companyID

	var fila filaMaterial
	if cached, found := b.cache.Get(key); found {
		fila = cached.(filaMaterial)
	} else {
		var err error
		fila, err = b.leer(ctx, tenantID, companyID)
		if err != nil {
			return tls.Certificate{}, err
		}
		b.cache.Set(key, fila, gocache.DefaultExpiration)
	}

	contenedor, err := b.descifrar(fila.contenedor)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("vault: descifrar contenedor: %w", err)
	}
	passphrase, err := b.descifrar(fila.passphrase)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("vault: descifrar passphrase: %w", err)
	}

	cert, check, err := signer.ExtraerMaterial(contenedor, string(passphrase), fila.rncEsperado)
	if err != nil {
		return tls.Certificate{}, err
	}
	if check != nil && !check.Coincide {
		if b.strictSubject {
			return tls.Certificate{}, fmt.Errorf("vault: el sujeto del certificado %q no corresponde al RNC %s", check.Subject, check.RNCEsperado)
		}
		b.log.Warn().
			Str("company_id", companyID).
			Str("subject", check.Subject).
			Str("rnc_esperado", check.RNCEsperado).
			Msg("el sujeto del certificado no menciona el RNC declarado")
	}
	return cert, nil
}

// leerDeBase trae la fila cifrada del certificado activo de la empresa.
func (b *Boveda) leerDeBase(ctx context.Context, tenantID, companyID string) (filaMaterial, error) {
	const q = `
		SELECT m.contenedor, m.passphrase, m.rnc_esperado
		FROM certificado_material m
		JOIN certificados c ON c.id = m.certificado_id
		WHERE c.tenant_id = $1 AND c.company_id = $2 AND c.activo = true
		ORDER BY c.vence DESC
		LIMIT 1`
	var fila filaMaterial
	err := b.pool.QueryRow(ctx, q, tenantID, companyID).Scan(&fila.contenedor, &fila.passphrase, &fila.rncEsperado)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return filaMaterial{}, fmt.Errorf("%w: la empresa no tiene certificado de firma activo", domain.ErrNotFound)
		}
		return filaMaterial{}, fmt.Errorf("vault: leer material: %w", err)
	}
	return fila, nil
}

// GuardarMaterial cifra y persiste un contenedor PKCS#12 con su passphrase.
func (b *Boveda) GuardarMaterial(ctx context.Context, certificadoID string, contenedor []byte, passphrase, rncEsperado string) error {
	contenedorCifrado, err := b.cifrar(contenedor)
	if err != nil {
		return fmt.Errorf("vault: cifrar contenedor: %w", err)
	}
	passphraseCifrada, err := b.cifrar([]byte(passphrase))
	if err != nil {
		return fmt.Errorf("vault: cifrar passphrase: %w", err)
	}
	const q = `
		INSERT INTO certificado_material (certificado_id, contenedor, passphrase, rnc_esperado, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (certificado_id) DO UPDATE
		SET contenedor = EXCLUDED.contenedor, passphrase = EXCLUDED.passphrase, rnc_esperado = EXCLUDED.rnc_esperado`
	if _, err := b.pool.Exec(ctx, q, certificadoID, contenedorCifrado, passphraseCifrada, rncEsperado); err != nil {
		return fmt.Errorf("vault: guardar material: %w", err)
	}
	return nil
}

// Invalidate descarta la fila cacheada de una empresa (rotación de certificado).
func (b *Boveda) Invalidate(tenantID, companyID string) {
	b.cache.Delete(tenantID + "|" + companyID)
}

// cifrar sella el dato con AES-GCM; el nonce va antepuesto al ciphertext.
func (b *Boveda) cifrar(plain []byte) ([]byte, error) {
	nonce := make([]byte, b.master.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return b.master.Seal(nonce, nonce, plain, nil), nil
}

func (b *Boveda) descifrar(sealed []byte) ([]byte, error) {
	ns := b.master.NonceSize()
	if len(sealed) < ns {
		return nil, fmt.Errorf("material cifrado truncado")
	}
	return b.master.Open(nil, sealed[:ns], sealed[ns:], nil)
}
