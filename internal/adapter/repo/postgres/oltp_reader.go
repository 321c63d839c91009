// Package postgres provides PostgreSQL database adapters.
//
// It implements the OLTP Reader (source-side queries) and the OLAP
// connection-pool constructor shared by the dimension/fact upserters.
package postgres

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/oltp-olap-sync/internal/domain"
)

// PgxPool is a minimal subset of pgxpool.Pool used by this package, kept
// narrow so unit tests can stub it without a real connection.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Reader implements the OLTP Reader (spec §4.1): typed, read-only queries
// against the source schema, run autocommit (no explicit transaction is ever
// opened here, so a failed query never poisons further reads on the pool).
type Reader struct{ Pool PgxPool }

// NewReader constructs a Reader over the given pool.
func NewReader(p PgxPool) *Reader { return &Reader{Pool: p} }

// FetchClientes reads clientes rows, left-joined against orden for a
// shipping city/country. When id is non-nil it filters to a single customer;
// rows still fan out one-per-matching-orden, and callers that upsert them in
// order naturally get last-write-wins semantics. The join has no ORDER BY,
// so the address captured is an arbitrary orden's; an explicit
// ORDER BY o.id_orden DESC would make it deterministic.
func (r *Reader) FetchClientes(ctx context.Context, id *int64) ([]domain.Cliente, error) {
	tracer := otel.Tracer("repo.oltp")
	ctx, span := tracer.Start(ctx, "oltp.FetchClientes")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "clientes"))

	q := `SELECT c.id_cliente, c.nombre, c.apellido, c.edad, c.email, c.telefono, c.direccion,
	             o.ciudad_envio, o.pais_envio
	      FROM clientes c
	      LEFT JOIN orden o ON c.id_cliente = o.id_cliente`
	args := []any{}
	if id != nil {
		q += ` WHERE c.id_cliente = $1`
		args = append(args, *id)
	}

	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=oltp.fetch_clientes: %w", err)
	}
	defer rows.Close()

	var out []domain.Cliente
	for rows.Next() {
		var c domain.Cliente
		if err := rows.Scan(&c.IDCliente, &c.Nombre, &c.Apellido, &c.Edad, &c.Email, &c.Telefono,
			&c.Direccion, &c.CiudadEnv, &c.PaisEnvio); err != nil {
			return nil, fmt.Errorf("op=oltp.fetch_clientes.scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=oltp.fetch_clientes.rows: %w", err)
	}
	return out, nil
}

// FetchCategorias reads categoria rows, optionally filtered by id.
func (r *Reader) FetchCategorias(ctx context.Context, id *int64) ([]domain.Categoria, error) {
	tracer := otel.Tracer("repo.oltp")
	ctx, span := tracer.Start(ctx, "oltp.FetchCategorias")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "categoria"))

	q := `SELECT id_categoria, nombre_categoria, descripcion FROM categoria`
	args := []any{}
	if id != nil {
		q += ` WHERE id_categoria = $1`
		args = append(args, *id)
	}

	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=oltp.fetch_categorias: %w", err)
	}
	defer rows.Close()

	var out []domain.Categoria
	for rows.Next() {
		var c domain.Categoria
		if err := rows.Scan(&c.IDCategoria, &c.NombreCategoria, &c.Descripcion); err != nil {
			return nil, fmt.Errorf("op=oltp.fetch_categorias.scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=oltp.fetch_categorias.rows: %w", err)
	}
	return out, nil
}

// FetchProductos reads productos rows, optionally filtered by id.
func (r *Reader) FetchProductos(ctx context.Context, id *int64) ([]domain.Producto, error) {
	tracer := otel.Tracer("repo.oltp")
	ctx, span := tracer.Start(ctx, "oltp.FetchProductos")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "productos"))

	q := `SELECT id_producto, nombre_producto, descripcion, precio, costo, id_categoria FROM productos`
	args := []any{}
	if id != nil {
		q += ` WHERE id_producto = $1`
		args = append(args, *id)
	}

	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=oltp.fetch_productos: %w", err)
	}
	defer rows.Close()

	var out []domain.Producto
	for rows.Next() {
		var p domain.Producto
		if err := rows.Scan(&p.IDProducto, &p.NombreProducto, &p.Descripcion, &p.Precio, &p.Costo, &p.IDCategoria); err != nil {
			return nil, fmt.Errorf("op=oltp.fetch_productos.scan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=oltp.fetch_productos.rows: %w", err)
	}
	return out, nil
}

// FetchVentas reads the denormalized sale-line projection (ventas joined to
// orden, orden_producto, productos) that the orchestrator needs to build one
// hecho_ventas row per line. idVenta and idOrden are mutually exclusive
// optional filters; when both are nil every sale line is returned (full
// sync).
//
// The productos join is a LEFT JOIN: orden_producto.id_producto can outlive
// its source row (spec §3's dangling-FK case), and the orchestrator still
// needs the line (with a nil IDCategoria/Precio/Costo) to create a
// placeholder dimension rather than silently dropping the sale.
func (r *Reader) FetchVentas(ctx context.Context, idVenta, idOrden *int64) ([]domain.Venta, error) {
	tracer := otel.Tracer("repo.oltp")
	ctx, span := tracer.Start(ctx, "oltp.FetchVentas")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "ventas"))

	q := `SELECT v.id_venta, v.fecha_venta, o.id_cliente, op.id_producto, p.id_categoria, v.metodo_pago,
	             o.estado_envio, o.metodo_envio, op.cantidad, op.precio_unitario, p.precio, p.costo, o.costo_envio
	      FROM ventas v
	      JOIN orden o ON v.id_orden = o.id_orden
	      JOIN orden_producto op ON o.id_orden = op.id_orden
	      LEFT JOIN productos p ON op.id_producto = p.id_producto`
	args := []any{}
	switch {
	case idVenta != nil:
		q += ` WHERE v.id_venta = $1`
		args = append(args, *idVenta)
	case idOrden != nil:
		q += ` WHERE o.id_orden = $1`
		args = append(args, *idOrden)
	}

	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=oltp.fetch_ventas: %w", err)
	}
	defer rows.Close()

	var out []domain.Venta
	for rows.Next() {
		var v domain.Venta
		if err := rows.Scan(&v.IDVenta, &v.FechaVenta, &v.IDCliente, &v.IDProducto, &v.IDCategoria,
			&v.MetodoPago, &v.EstadoEnvio, &v.MetodoEnvio, &v.Cantidad, &v.PrecioUnitario,
			&v.Precio, &v.Costo, &v.CostoEnvio); err != nil {
			return nil, fmt.Errorf("op=oltp.fetch_ventas.scan: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=oltp.fetch_ventas.rows: %w", err)
	}
	return out, nil
}

// FetchOrden reads a single orden row by id. It returns domain.ErrNotFound
// when no row matches.
func (r *Reader) FetchOrden(ctx context.Context, idOrden int64) (domain.Orden, error) {
	tracer := otel.Tracer("repo.oltp")
	ctx, span := tracer.Start(ctx, "oltp.FetchOrden")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "orden"))

	q := `SELECT id_orden, id_cliente, ciudad_envio, pais_envio, estado_envio, metodo_envio, costo_envio
	      FROM orden WHERE id_orden = $1`
	var o domain.Orden
	err := r.Pool.QueryRow(ctx, q, idOrden).Scan(&o.IDOrden, &o.IDCliente, &o.CiudadEnvio, &o.PaisEnvio,
		&o.EstadoEnvio, &o.MetodoEnvio, &o.CostoEnvio)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Orden{}, fmt.Errorf("op=oltp.fetch_orden: %w", domain.ErrNotFound)
		}
		return domain.Orden{}, fmt.Errorf("op=oltp.fetch_orden: %w", err)
	}
	return o, nil
}

// pkColumnPattern restricts orden_producto primary-key probe columns to
// plain identifiers, since the column name is interpolated into SQL (the
// source schema's natural key for this table is unknown — spec §9 open
// question).
var pkColumnPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// FetchOrdenProductoOrden resolves id_orden for an orden_producto row by
// probing the given primary-key column name. Returns domain.ErrNotFound when
// the column is valid but no row matches, and domain.ErrInvalidArgument when
// the column name isn't a safe identifier.
func (r *Reader) FetchOrdenProductoOrden(ctx context.Context, pkColumn string, pkValue int64) (int64, error) {
	if !pkColumnPattern.MatchString(pkColumn) {
		return 0, fmt.Errorf("op=oltp.fetch_orden_producto_orden: %w: %q", domain.ErrInvalidArgument, pkColumn)
	}
	tracer := otel.Tracer("repo.oltp")
	ctx, span := tracer.Start(ctx, "oltp.FetchOrdenProductoOrden")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "orden_producto"), attribute.String("pk_column", pkColumn))

	q := fmt.Sprintf(`SELECT id_orden FROM orden_producto WHERE %s = $1`, pkColumn)
	var idOrden int64
	err := r.Pool.QueryRow(ctx, q, pkValue).Scan(&idOrden)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, fmt.Errorf("op=oltp.fetch_orden_producto_orden: %w", domain.ErrNotFound)
		}
		return 0, fmt.Errorf("op=oltp.fetch_orden_producto_orden: %w", err)
	}
	return idOrden, nil
}
