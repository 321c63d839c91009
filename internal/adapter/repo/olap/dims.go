package olap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/oltp-olap-sync/internal/domain"
)

const uniqueViolationSQLState = "23505"

// UpsertDimCliente inserts or overwrites a dim_cliente row and returns its
// surrogate (which is the source id_cliente — this dimension is keyed by
// source id, not a generated surrogate).
func (u *Upserter) UpsertDimCliente(ctx context.Context, tx OLAPTx, c domain.Cliente) (int64, error) {
	slog.Debug("upsert_dim_cliente", slog.Int64("id_cliente", c.IDCliente))
	tracer := otel.Tracer("repo.olap")
	ctx, span := tracer.Start(ctx, "olap.UpsertDimCliente")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "dim_cliente"))

	q := `INSERT INTO dim_cliente (id_cliente, nombre, apellido, edad, email, telefono, direccion, ciudad, pais)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	      ON CONFLICT (id_cliente) DO UPDATE SET
	        nombre=EXCLUDED.nombre, apellido=EXCLUDED.apellido, edad=EXCLUDED.edad,
	        email=EXCLUDED.email, telefono=EXCLUDED.telefono, direccion=EXCLUDED.direccion,
	        ciudad=EXCLUDED.ciudad, pais=EXCLUDED.pais
	      RETURNING id_cliente`
	var id int64
	err := tx.QueryRow(ctx, q, c.IDCliente, c.Nombre, c.Apellido, c.Edad, c.Email, c.Telefono,
		c.Direccion, c.CiudadEnv, c.PaisEnvio).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("op=olap.upsert_dim_cliente: %w", err)
	}
	return id, nil
}

// UpsertDimCategoria inserts or overwrites a dim_categoria row.
func (u *Upserter) UpsertDimCategoria(ctx context.Context, tx OLAPTx, c domain.Categoria) (int64, error) {
	slog.Debug("upsert_dim_categoria", slog.Int64("id_categoria", c.IDCategoria))
	tracer := otel.Tracer("repo.olap")
	ctx, span := tracer.Start(ctx, "olap.UpsertDimCategoria")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "dim_categoria"))

	q := `INSERT INTO dim_categoria (id_categoria, nombre_categoria, descripcion)
	      VALUES ($1,$2,$3)
	      ON CONFLICT (id_categoria) DO UPDATE SET
	        nombre_categoria=EXCLUDED.nombre_categoria, descripcion=EXCLUDED.descripcion
	      RETURNING id_categoria`
	var id int64
	err := tx.QueryRow(ctx, q, c.IDCategoria, c.NombreCategoria, c.Descripcion).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("op=olap.upsert_dim_categoria: %w", err)
	}
	return id, nil
}

// UpsertDimProducto inserts or overwrites a dim_producto row. id_categoria
// is carried as a foreign key; the caller is responsible for having
// upserted dim_categoria first (spec §4.4 processing order).
func (u *Upserter) UpsertDimProducto(ctx context.Context, tx OLAPTx, p domain.Producto) (int64, error) {
	slog.Debug("upsert_dim_producto", slog.Int64("id_producto", p.IDProducto))
	tracer := otel.Tracer("repo.olap")
	ctx, span := tracer.Start(ctx, "olap.UpsertDimProducto")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "dim_producto"))

	q := `INSERT INTO dim_producto (id_producto, nombre_producto, descripcion, precio, costo, id_categoria)
	      VALUES ($1,$2,$3,$4,$5,$6)
	      ON CONFLICT (id_producto) DO UPDATE SET
	        nombre_producto=EXCLUDED.nombre_producto, descripcion=EXCLUDED.descripcion,
	        precio=EXCLUDED.precio, costo=EXCLUDED.costo, id_categoria=EXCLUDED.id_categoria
	      RETURNING id_producto`
	var id int64
	err := tx.QueryRow(ctx, q, p.IDProducto, p.NombreProducto, p.Descripcion, p.Precio, p.Costo, p.IDCategoria).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("op=olap.upsert_dim_producto: %w", err)
	}
	return id, nil
}

// UpsertDimMetodoPago inserts or overwrites a dim_metodo_pago row, keyed by
// the metodo_pago natural key. An empty string or nil are both valid keys.
func (u *Upserter) UpsertDimMetodoPago(ctx context.Context, tx OLAPTx, metodo *string) (int64, error) {
	slog.Debug("upsert_dim_metodo_pago", slog.Any("metodo_pago", metodo))
	tracer := otel.Tracer("repo.olap")
	ctx, span := tracer.Start(ctx, "olap.UpsertDimMetodoPago")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "dim_metodo_pago"))

	q := `INSERT INTO dim_metodo_pago (metodo_pago) VALUES ($1)
	      ON CONFLICT (metodo_pago) DO UPDATE SET metodo_pago=EXCLUDED.metodo_pago
	      RETURNING id_metodo_pago`
	var id int64
	if err := tx.QueryRow(ctx, q, metodo).Scan(&id); err != nil {
		return 0, fmt.Errorf("op=olap.upsert_dim_metodo_pago: %w", err)
	}
	return id, nil
}

// UpsertDimEnvio inserts or overwrites a dim_envio row, keyed by the
// (estado_envio, metodo_envio) natural key pair. Both fields may be nil.
func (u *Upserter) UpsertDimEnvio(ctx context.Context, tx OLAPTx, estado, metodo *string) (int64, error) {
	slog.Debug("upsert_dim_envio", slog.Any("estado_envio", estado), slog.Any("metodo_envio", metodo))
	tracer := otel.Tracer("repo.olap")
	ctx, span := tracer.Start(ctx, "olap.UpsertDimEnvio")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "dim_envio"))

	q := `INSERT INTO dim_envio (estado_envio, metodo_envio) VALUES ($1,$2)
	      ON CONFLICT (estado_envio, metodo_envio) DO UPDATE SET
	        estado_envio=EXCLUDED.estado_envio, metodo_envio=EXCLUDED.metodo_envio
	      RETURNING id_envio`
	var id int64
	if err := tx.QueryRow(ctx, q, estado, metodo).Scan(&id); err != nil {
		return 0, fmt.Errorf("op=olap.upsert_dim_envio: %w", err)
	}
	return id, nil
}

// dimTiempoDerived holds the columns derived from a date that Postgres
// itself has no generic dialect-portable way to compute inline (spec §9).
type dimTiempoDerived struct {
	anio, mes, dia, trimestre, semana int
}

func deriveTiempo(fecha time.Time) dimTiempoDerived {
	_, isoWeek := fecha.ISOWeek()
	return dimTiempoDerived{
		anio:      fecha.Year(),
		mes:       int(fecha.Month()),
		dia:       fecha.Day(),
		trimestre: (int(fecha.Month())-1)/3 + 1,
		semana:    isoWeek,
	}
}

// UpsertDimTiempo resolves the surrogate id for fecha, a three-step process
// (spec §4.2, §5):
//
//  1. SELECT by fecha; return the surrogate if found.
//  2. INSERT with derived anio/mes/dia/trimestre/semana, RETURNING the new
//     surrogate.
//  3. On a unique-constraint violation (another caller inserted the same
//     fecha concurrently), roll back just the insert via a savepoint,
//     re-SELECT, and return the surrogate found there.
//
// fecha is normalized to a date (time-of-day truncated) before use.
func (u *Upserter) UpsertDimTiempo(ctx context.Context, tx OLAPTx, fecha time.Time) (int64, error) {
	tracer := otel.Tracer("repo.olap")
	ctx, span := tracer.Start(ctx, "olap.UpsertDimTiempo")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "dim_tiempo"))

	fecha = time.Date(fecha.Year(), fecha.Month(), fecha.Day(), 0, 0, 0, 0, time.UTC)

	if id, found, err := selectDimTiempo(ctx, tx, fecha); err != nil {
		return 0, fmt.Errorf("op=olap.upsert_dim_tiempo.select: %w", err)
	} else if found {
		slog.Debug("upsert_dim_tiempo: existing row", slog.Time("fecha", fecha), slog.Int64("id_tiempo", id))
		return id, nil
	}

	d := deriveTiempo(fecha)
	slog.Debug("upsert_dim_tiempo: inserting", slog.Time("fecha", fecha), slog.Int("anio", d.anio),
		slog.Int("mes", d.mes), slog.Int("dia", d.dia), slog.Int("semana", d.semana))

	savepoint, err := tx.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("op=olap.upsert_dim_tiempo.savepoint_begin: %w", err)
	}

	insertQ := `INSERT INTO dim_tiempo (fecha, anio, mes, dia, trimestre, semana)
	            VALUES ($1,$2,$3,$4,$5,$6)
	            RETURNING id_tiempo`
	var id int64
	err = savepoint.QueryRow(ctx, insertQ, fecha, d.anio, d.mes, d.dia, d.trimestre, d.semana).Scan(&id)
	if err == nil {
		if cerr := savepoint.Commit(ctx); cerr != nil {
			return 0, fmt.Errorf("op=olap.upsert_dim_tiempo.savepoint_commit: %w", cerr)
		}
		return id, nil
	}

	// Any insert error rolls back just the savepoint. Only a unique violation
	// is followed by a re-select (a concurrent inserter may have won the
	// race); any other error is returned.
	_ = savepoint.Rollback(ctx)
	if !isUniqueViolation(err) {
		return 0, fmt.Errorf("op=olap.upsert_dim_tiempo.insert: %w", err)
	}

	slog.Debug("upsert_dim_tiempo: race detected, re-selecting", slog.Time("fecha", fecha))
	id, found, serr := selectDimTiempo(ctx, tx, fecha)
	if serr != nil {
		return 0, fmt.Errorf("op=olap.upsert_dim_tiempo.reselect: %w", serr)
	}
	if !found {
		return 0, fmt.Errorf("op=olap.upsert_dim_tiempo.reselect: %w", domain.ErrConflict)
	}
	return id, nil
}

func selectDimTiempo(ctx context.Context, tx OLAPTx, fecha time.Time) (int64, bool, error) {
	var id int64
	err := tx.QueryRow(ctx, `SELECT id_tiempo FROM dim_tiempo WHERE fecha = $1`, fecha).Scan(&id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, err
	}
	return id, true, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationSQLState
}
