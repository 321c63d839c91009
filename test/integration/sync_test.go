//go:build integration

// Package integration exercises the Sync Orchestrator against two real,
// ephemeral Postgres instances playing the OLTP and OLAP roles. It is
// gated behind the "integration" build tag so `go test ./...` skips it by
// default; run with `go test -tags=integration ./test/integration/...`.
package integration

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/fairyhunter13/oltp-olap-sync/internal/adapter/repo/olap"
	"github.com/fairyhunter13/oltp-olap-sync/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/oltp-olap-sync/internal/domain"
	"github.com/fairyhunter13/oltp-olap-sync/internal/orchestrator"
)

const oltpSchema = `
CREATE TABLE clientes (
	id_cliente BIGINT PRIMARY KEY, nombre TEXT, apellido TEXT, edad INT,
	email TEXT, telefono TEXT, direccion TEXT
);
CREATE TABLE categoria (id_categoria BIGINT PRIMARY KEY, nombre_categoria TEXT, descripcion TEXT);
CREATE TABLE productos (
	id_producto BIGINT PRIMARY KEY, nombre_producto TEXT, descripcion TEXT,
	precio DOUBLE PRECISION, costo DOUBLE PRECISION, id_categoria BIGINT
);
CREATE TABLE orden (
	id_orden BIGINT PRIMARY KEY, id_cliente BIGINT, ciudad_envio TEXT, pais_envio TEXT,
	estado_envio TEXT, metodo_envio TEXT, costo_envio DOUBLE PRECISION
);
CREATE TABLE orden_producto (
	id_op BIGINT PRIMARY KEY, id_orden BIGINT, id_producto BIGINT,
	cantidad DOUBLE PRECISION, precio_unitario DOUBLE PRECISION
);
CREATE TABLE ventas (id_venta BIGINT PRIMARY KEY, id_orden BIGINT, fecha_venta DATE, metodo_pago TEXT);
`

const olapSchema = `
CREATE TABLE dim_cliente (
	id_cliente BIGINT PRIMARY KEY, nombre TEXT, apellido TEXT, edad INT,
	email TEXT, telefono TEXT, direccion TEXT, ciudad TEXT, pais TEXT
);
CREATE TABLE dim_categoria (id_categoria BIGINT PRIMARY KEY, nombre_categoria TEXT, descripcion TEXT);
CREATE TABLE dim_producto (
	id_producto BIGINT PRIMARY KEY, nombre_producto TEXT, descripcion TEXT,
	precio DOUBLE PRECISION, costo DOUBLE PRECISION, id_categoria BIGINT
);
CREATE TABLE dim_tiempo (
	id_tiempo BIGSERIAL PRIMARY KEY, fecha DATE UNIQUE NOT NULL,
	anio INT, mes INT, dia INT, trimestre INT, semana INT
);
CREATE TABLE dim_metodo_pago (id_metodo_pago BIGSERIAL PRIMARY KEY, metodo_pago TEXT UNIQUE NOT NULL);
CREATE TABLE dim_envio (
	id_envio BIGSERIAL PRIMARY KEY, estado_envio TEXT, metodo_envio TEXT,
	UNIQUE (estado_envio, metodo_envio)
);
CREATE TABLE hecho_ventas (
	id_tiempo BIGINT, id_cliente BIGINT, id_producto BIGINT, id_categoria BIGINT,
	id_metodo_pago BIGINT, id_envio BIGINT,
	cantidad DOUBLE PRECISION, total_venta DOUBLE PRECISION,
	costo_envio DOUBLE PRECISION, margen DOUBLE PRECISION,
	PRIMARY KEY (id_tiempo, id_cliente, id_producto, id_categoria, id_metodo_pago, id_envio)
);
`

// startPostgres spins up an ephemeral postgres:16 container and returns its
// DSN; the container is terminated through t.Cleanup. Grounded on the Tika/Qdrant/Postgres
// GenericContainer + wait.ForLog idiom, adapted here to Postgres-only roles.
func startPostgres(ctx context.Context, t *testing.T, dbName string) string {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image: "postgres:16",
		Env: map[string]string{
			"POSTGRES_PASSWORD": "postgres",
			"POSTGRES_USER":     "postgres",
			"POSTGRES_DB":       dbName,
		},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithStartupTimeout(90 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432")
	require.NoError(t, err)
	return "postgres://postgres:postgres@" + host + ":" + port.Port() + "/" + dbName + "?sslmode=disable"
}

func connectAndMigrate(ctx context.Context, t *testing.T, dsn, schema string) *pgxpool.Pool {
	t.Helper()
	pool, err := postgres.NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.Eventually(t, func() bool { return pool.Ping(ctx) == nil }, 30*time.Second, 500*time.Millisecond)
	_, err = pool.Exec(ctx, schema)
	require.NoError(t, err)
	return pool
}

func seedScenarioOne(ctx context.Context, t *testing.T, oltp *pgxpool.Pool) {
	t.Helper()
	_, err := oltp.Exec(ctx, `INSERT INTO clientes (id_cliente, nombre, apellido, edad, email, telefono, direccion)
		VALUES (7, 'Ana', 'Perez', 30, 'ana@example.com', '555', 'calle 1')`)
	require.NoError(t, err)
	_, err = oltp.Exec(ctx, `INSERT INTO categoria (id_categoria, nombre_categoria, descripcion) VALUES (3, 'Electro', 'gadgets')`)
	require.NoError(t, err)
	_, err = oltp.Exec(ctx, `INSERT INTO productos (id_producto, nombre_producto, descripcion, precio, costo, id_categoria)
		VALUES (9, 'Radio', 'am/fm', 100, 60, 3)`)
	require.NoError(t, err)
	_, err = oltp.Exec(ctx, `INSERT INTO orden (id_orden, id_cliente, ciudad_envio, pais_envio, estado_envio, metodo_envio, costo_envio)
		VALUES (11, 7, 'Lima', 'PE', 'enviado', 'aereo', 5)`)
	require.NoError(t, err)
	_, err = oltp.Exec(ctx, `INSERT INTO orden_producto (id_op, id_orden, id_producto, cantidad, precio_unitario)
		VALUES (101, 11, 9, 2, 120)`)
	require.NoError(t, err)
	_, err = oltp.Exec(ctx, `INSERT INTO ventas (id_venta, id_orden, fecha_venta, metodo_pago)
		VALUES (42, 11, '2024-03-15', 'tarjeta')`)
	require.NoError(t, err)
}

// TestSync_P1_FullVentaProducesExpectedFact exercises scenario P1 from
// spec.md §8: one venta with every dimension resolvable end to end.
func TestSync_P1_FullVentaProducesExpectedFact(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test requires docker")
	}
	ctx := context.Background()
	oltpDSN := startPostgres(ctx, t, "oltp")
	olapDSN := startPostgres(ctx, t, "olap")

	oltpPool := connectAndMigrate(ctx, t, oltpDSN, oltpSchema)
	olapPool := connectAndMigrate(ctx, t, olapDSN, olapSchema)
	seedScenarioOne(ctx, t, oltpPool)

	o := orchestrator.New(postgres.NewReader(oltpPool), olapPool, olap.NewUpserter(),
		[]string{"id_op", "id_orden_producto", "id"})

	id := int64(42)
	result, err := o.Sync(ctx, domain.SyncRequest{Table: "ventas", Op: "insert", ID: &id})
	require.NoError(t, err)
	require.Equal(t, 1, result.FactsWritten)
	require.Equal(t, 0, result.FactsSkipped)

	var trimestre, semana int
	require.NoError(t, olapPool.QueryRow(ctx,
		`SELECT trimestre, semana FROM dim_tiempo WHERE fecha = '2024-03-15'`).Scan(&trimestre, &semana))
	require.Equal(t, 1, trimestre)
	require.Equal(t, 11, semana)

	var cantidad, total, costoEnvio, margen float64
	require.NoError(t, olapPool.QueryRow(ctx,
		`SELECT cantidad, total_venta, costo_envio, margen FROM hecho_ventas`).
		Scan(&cantidad, &total, &costoEnvio, &margen))
	require.Equal(t, 2.0, cantidad)
	require.Equal(t, 240.0, total)
	require.Equal(t, 5.0, costoEnvio)
	require.Equal(t, 120.0, margen)
}

// TestSync_P2_DanglingProductoWritesPlaceholderAndSkipsFact exercises scenario
// P2: the producto referenced by orden_producto is absent from the source, so
// its category is unknowable (the LEFT JOIN in FetchVentas yields a nil
// id_categoria) and the placeholder dim_producto row carries a NULL category.
// With no category surrogate to resolve, the fact is skipped rather than
// written with a guessed category.
func TestSync_P2_DanglingProductoWritesPlaceholderAndSkipsFact(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test requires docker")
	}
	ctx := context.Background()
	oltpDSN := startPostgres(ctx, t, "oltp")
	olapDSN := startPostgres(ctx, t, "olap")

	oltpPool := connectAndMigrate(ctx, t, oltpDSN, oltpSchema)
	olapPool := connectAndMigrate(ctx, t, olapDSN, olapSchema)
	seedScenarioOne(ctx, t, oltpPool)
	_, err := oltpPool.Exec(ctx, `DELETE FROM productos WHERE id_producto = 9`)
	require.NoError(t, err)

	o := orchestrator.New(postgres.NewReader(oltpPool), olapPool, olap.NewUpserter(),
		[]string{"id_op", "id_orden_producto", "id"})

	id := int64(42)
	result, err := o.Sync(ctx, domain.SyncRequest{Table: "ventas", Op: "insert", ID: &id})
	require.NoError(t, err)
	require.Equal(t, 1, result.PlaceholdersMade)
	require.Equal(t, 0, result.FactsWritten)
	require.Equal(t, 1, result.FactsSkipped)

	var nombre *string
	var idCategoria *int64
	require.NoError(t, olapPool.QueryRow(ctx,
		`SELECT nombre_producto, id_categoria FROM dim_producto WHERE id_producto = 9`).
		Scan(&nombre, &idCategoria))
	require.Nil(t, nombre)
	require.Nil(t, idCategoria)
}

// TestSync_P3_ConcurrentTimeInsertionResolvesToOneRow exercises scenario P3:
// two concurrent orchestrator calls for different ventas on the same date
// must not create two dim_tiempo rows for that date.
func TestSync_P3_ConcurrentTimeInsertionResolvesToOneRow(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test requires docker")
	}
	ctx := context.Background()
	oltpDSN := startPostgres(ctx, t, "oltp")
	olapDSN := startPostgres(ctx, t, "olap")

	oltpPool := connectAndMigrate(ctx, t, oltpDSN, oltpSchema)
	olapPool := connectAndMigrate(ctx, t, olapDSN, olapSchema)
	seedScenarioOne(ctx, t, oltpPool)
	_, err := oltpPool.Exec(ctx, `INSERT INTO ventas (id_venta, id_orden, fecha_venta, metodo_pago)
		VALUES (43, 11, '2024-03-15', 'efectivo')`)
	require.NoError(t, err)

	o := orchestrator.New(postgres.NewReader(oltpPool), olapPool, olap.NewUpserter(),
		[]string{"id_op", "id_orden_producto", "id"})

	errs := make(chan error, 2)
	for _, ventaID := range []int64{42, 43} {
		ventaID := ventaID
		go func() {
			_, err := o.Sync(ctx, domain.SyncRequest{Table: "ventas", Op: "insert", ID: &ventaID})
			errs <- err
		}()
	}
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	var count int
	require.NoError(t, olapPool.QueryRow(ctx,
		`SELECT count(*) FROM dim_tiempo WHERE fecha = '2024-03-15'`).Scan(&count))
	require.Equal(t, 1, count)

	require.NoError(t, olapPool.QueryRow(ctx, `SELECT count(*) FROM hecho_ventas`).Scan(&count))
	require.Equal(t, 2, count)
}

// TestSync_P5_OrdenProductoNotificationProbesPKColumns exercises scenario
// P5: the worker must discover id_orden_producto as the working PK column
// (after id_op fails) and reprocess every venta for the resolved orden.
func TestSync_P5_OrdenProductoNotificationProbesPKColumns(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test requires docker")
	}
	ctx := context.Background()
	oltpDSN := startPostgres(ctx, t, "oltp")
	olapDSN := startPostgres(ctx, t, "olap")

	oltpPool := connectAndMigrate(ctx, t, oltpDSN, oltpSchema)
	olapPool := connectAndMigrate(ctx, t, olapDSN, olapSchema)
	seedScenarioOne(ctx, t, oltpPool)
	// This source only exposes id_orden_producto, not id_op.
	_, err := oltpPool.Exec(ctx, `ALTER TABLE orden_producto RENAME COLUMN id_op TO id_orden_producto`)
	require.NoError(t, err)
	_, err = oltpPool.Exec(ctx, `UPDATE orden_producto SET id_orden_producto = 5001 WHERE id_orden_producto = 101`)
	require.NoError(t, err)

	o := orchestrator.New(postgres.NewReader(oltpPool), olapPool, olap.NewUpserter(),
		[]string{"id_op", "id_orden_producto", "id"})

	id := int64(5001)
	result, err := o.Sync(ctx, domain.SyncRequest{Table: "orden_producto", Op: "update", ID: &id})
	require.NoError(t, err)
	require.Equal(t, 1, result.FactsWritten)
}
