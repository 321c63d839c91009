// Package orchestrator implements the Sync Orchestrator (spec §4.4): the
// dimensional synchronization engine that turns a (table, op, id) request
// or a full-refresh command into dimension-then-fact upserts against the
// OLAP store, with placeholder rows for dangling foreign keys.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/oltp-olap-sync/internal/adapter/repo/olap"
	"github.com/fairyhunter13/oltp-olap-sync/internal/domain"
	"github.com/fairyhunter13/oltp-olap-sync/internal/metrics"
)

// OLTPReader is the subset of the OLTP Reader the orchestrator drives.
type OLTPReader interface {
	FetchClientes(ctx context.Context, id *int64) ([]domain.Cliente, error)
	FetchCategorias(ctx context.Context, id *int64) ([]domain.Categoria, error)
	FetchProductos(ctx context.Context, id *int64) ([]domain.Producto, error)
	FetchVentas(ctx context.Context, idVenta, idOrden *int64) ([]domain.Venta, error)
	FetchOrden(ctx context.Context, idOrden int64) (domain.Orden, error)
	FetchOrdenProductoOrden(ctx context.Context, pkColumn string, pkValue int64) (int64, error)
}

// OLAPPool is the subset of pgxpool.Pool the orchestrator needs to open its
// one-transaction-per-call (spec §4.4, §5).
type OLAPPool interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// DimUpserter is the subset of olap.Upserter the orchestrator drives. It is
// an interface so tests can substitute a scripted fake.
type DimUpserter interface {
	UpsertDimCliente(ctx context.Context, tx olap.OLAPTx, c domain.Cliente) (int64, error)
	UpsertDimCategoria(ctx context.Context, tx olap.OLAPTx, c domain.Categoria) (int64, error)
	UpsertDimProducto(ctx context.Context, tx olap.OLAPTx, p domain.Producto) (int64, error)
	UpsertDimTiempo(ctx context.Context, tx olap.OLAPTx, fecha time.Time) (int64, error)
	UpsertDimMetodoPago(ctx context.Context, tx olap.OLAPTx, metodo *string) (int64, error)
	UpsertDimEnvio(ctx context.Context, tx olap.OLAPTx, estado, metodo *string) (int64, error)
	UpsertHechoVentas(ctx context.Context, tx olap.OLAPTx, h domain.HechoVentas) error
}

// Orchestrator implements Sync. PKColumns is the ordered list of candidate
// primary-key column names probed for orden_producto (spec §9's open
// question, made configurable).
type Orchestrator struct {
	Reader    OLTPReader
	OLAP      OLAPPool
	Up        DimUpserter
	PKColumns []string
}

// New constructs an Orchestrator.
func New(reader OLTPReader, olapPool OLAPPool, up DimUpserter, pkColumns []string) *Orchestrator {
	return &Orchestrator{Reader: reader, OLAP: olapPool, Up: up, PKColumns: pkColumns}
}

// Sync runs one logical OLAP transaction implementing req's dispatch (spec
// §4.4's table), committing on success and rolling back on any error.
func (o *Orchestrator) Sync(ctx context.Context, req domain.SyncRequest) (domain.SyncResult, error) {
	tracer := otel.Tracer("orchestrator")
	ctx, span := tracer.Start(ctx, "orchestrator.Sync")
	defer span.End()

	table := strings.ToLower(strings.TrimSpace(req.Table))
	span.SetAttributes(attribute.String("sync.table", table), attribute.String("sync.op", req.Op))
	result := domain.SyncResult{Table: table}
	start := time.Now()

	tx, err := o.OLAP.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		err = fmt.Errorf("op=orchestrator.sync.begin_tx: %w", err)
		metrics.ObserveOrchestratorRun(table, time.Since(start), err)
		return result, err
	}
	committed := false
	defer func() {
		if !committed {
			if rerr := tx.Rollback(ctx); rerr != nil && !errors.Is(rerr, pgx.ErrTxClosed) {
				slog.Error("orchestrator: rollback failed", slog.Any("error", rerr))
			}
		}
	}()
	olapTx := olap.NewTxAdapter(tx)

	if err := o.dispatch(ctx, olapTx, table, req.ID, &result); err != nil {
		err = fmt.Errorf("op=orchestrator.sync: %w", err)
		metrics.ObserveOrchestratorRun(table, time.Since(start), err)
		return result, err
	}

	if err := tx.Commit(ctx); err != nil {
		err = fmt.Errorf("op=orchestrator.sync.commit: %w", err)
		metrics.ObserveOrchestratorRun(table, time.Since(start), err)
		return result, err
	}
	committed = true
	metrics.ObserveOrchestratorRun(table, time.Since(start), nil)
	return result, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, tx olap.OLAPTx, table string, id *int64, result *domain.SyncResult) error {
	switch table {
	case "":
		return o.fullSync(ctx, tx, result)
	case "clientes":
		return o.syncClientes(ctx, tx, id, result)
	case "categoria":
		return o.syncCategorias(ctx, tx, id, result)
	case "productos":
		return o.syncProductos(ctx, tx, id, result)
	case "ventas":
		return o.syncVentas(ctx, tx, id, nil, result)
	case "orden":
		return o.syncOrden(ctx, tx, id, result)
	case "orden_producto":
		return o.syncOrdenProducto(ctx, tx, id, result)
	default:
		slog.Warn("orchestrator: unknown table, falling back to full sync", slog.String("table", table))
		return o.fullSync(ctx, tx, result)
	}
}

func (o *Orchestrator) fullSync(ctx context.Context, tx olap.OLAPTx, result *domain.SyncResult) error {
	slog.Info("orchestrator: full sync starting")
	if err := o.syncClientes(ctx, tx, nil, result); err != nil {
		return err
	}
	if err := o.syncCategorias(ctx, tx, nil, result); err != nil {
		return err
	}
	if err := o.syncProductos(ctx, tx, nil, result); err != nil {
		return err
	}
	return o.syncVentas(ctx, tx, nil, nil, result)
}

func (o *Orchestrator) syncClientes(ctx context.Context, tx olap.OLAPTx, id *int64, result *domain.SyncResult) error {
	rows, err := o.Reader.FetchClientes(ctx, id)
	if err != nil {
		return fmt.Errorf("op=orchestrator.sync_clientes.fetch: %w", err)
	}
	for _, c := range rows {
		if _, err := o.Up.UpsertDimCliente(ctx, tx, c); err != nil {
			return fmt.Errorf("op=orchestrator.sync_clientes.upsert: %w", err)
		}
		result.RowsProcessed++
	}
	return nil
}

func (o *Orchestrator) syncCategorias(ctx context.Context, tx olap.OLAPTx, id *int64, result *domain.SyncResult) error {
	rows, err := o.Reader.FetchCategorias(ctx, id)
	if err != nil {
		return fmt.Errorf("op=orchestrator.sync_categorias.fetch: %w", err)
	}
	for _, c := range rows {
		if _, err := o.Up.UpsertDimCategoria(ctx, tx, c); err != nil {
			return fmt.Errorf("op=orchestrator.sync_categorias.upsert: %w", err)
		}
		result.RowsProcessed++
	}
	return nil
}

func (o *Orchestrator) syncProductos(ctx context.Context, tx olap.OLAPTx, id *int64, result *domain.SyncResult) error {
	rows, err := o.Reader.FetchProductos(ctx, id)
	if err != nil {
		return fmt.Errorf("op=orchestrator.sync_productos.fetch: %w", err)
	}
	for _, p := range rows {
		if _, err := o.Up.UpsertDimProducto(ctx, tx, p); err != nil {
			return fmt.Errorf("op=orchestrator.sync_productos.upsert: %w", err)
		}
		result.RowsProcessed++
	}
	return nil
}

func (o *Orchestrator) syncVentas(ctx context.Context, tx olap.OLAPTx, idVenta, idOrden *int64, result *domain.SyncResult) error {
	rows, err := o.Reader.FetchVentas(ctx, idVenta, idOrden)
	if err != nil {
		return fmt.Errorf("op=orchestrator.sync_ventas.fetch: %w", err)
	}
	for _, v := range rows {
		if err := o.processVenta(ctx, tx, v, result); err != nil {
			return fmt.Errorf("op=orchestrator.sync_ventas.process: %w", err)
		}
		result.RowsProcessed++
	}
	return nil
}

// processVenta implements the strict per-venta processing order of spec
// §4.4(a)-(g).
func (o *Orchestrator) processVenta(ctx context.Context, tx olap.OLAPTx, v domain.Venta, result *domain.SyncResult) error {
	idTiempo, err := o.Up.UpsertDimTiempo(ctx, tx, v.FechaVenta)
	if err != nil {
		return fmt.Errorf("dim_tiempo: %w", err)
	}

	idCategoria, catPlaceholder, err := o.ensureCategoria(ctx, tx, v.IDCategoria)
	if err != nil {
		return fmt.Errorf("dim_categoria: %w", err)
	}
	if catPlaceholder {
		result.PlaceholdersMade++
	}

	idCliente, cliPlaceholder, err := o.ensureCliente(ctx, tx, v.IDCliente)
	if err != nil {
		return fmt.Errorf("dim_cliente: %w", err)
	}
	if cliPlaceholder {
		result.PlaceholdersMade++
	}

	idProducto, prodPlaceholder, err := o.ensureProducto(ctx, tx, v.IDProducto, v.IDCategoria)
	if err != nil {
		return fmt.Errorf("dim_producto: %w", err)
	}
	if prodPlaceholder {
		result.PlaceholdersMade++
	}

	idMetodoPago, err := o.Up.UpsertDimMetodoPago(ctx, tx, v.MetodoPago)
	if err != nil {
		return fmt.Errorf("dim_metodo_pago: %w", err)
	}
	idEnvio, err := o.Up.UpsertDimEnvio(ctx, tx, v.EstadoEnvio, v.MetodoEnvio)
	if err != nil {
		return fmt.Errorf("dim_envio: %w", err)
	}

	if idCategoria == nil {
		slog.Warn("process_venta: skipping fact, categoria surrogate unresolved",
			slog.Int64("id_venta", v.IDVenta), slog.Int64("id_producto", v.IDProducto))
		metrics.RecordFactSkipped("categoria_unresolved")
		result.FactsSkipped++
		return nil
	}

	var costo, costoEnvio float64
	if v.Costo != nil {
		costo = *v.Costo
	}
	if v.CostoEnvio != nil {
		costoEnvio = *v.CostoEnvio
	}

	h := domain.HechoVentas{
		IDTiempo:     idTiempo,
		IDCliente:    idCliente,
		IDProducto:   idProducto,
		IDCategoria:  *idCategoria,
		IDMetodoPago: idMetodoPago,
		IDEnvio:      idEnvio,
		Cantidad:     v.Cantidad,
		TotalVenta:   v.Cantidad * v.PrecioUnitario,
		CostoEnvio:   costoEnvio,
		Margen:       (v.PrecioUnitario - costo) * v.Cantidad,
	}
	if err := o.Up.UpsertHechoVentas(ctx, tx, h); err != nil {
		return fmt.Errorf("hecho_ventas: %w", err)
	}
	result.FactsWritten++
	return nil
}

// ensureCategoria resolves dim_categoria's surrogate for idCategoria. A nil
// idCategoria (the productos join found no row at all, so its category is
// unknowable too — there is no FK path from orden_producto to categoria
// independent of productos) resolves to a nil surrogate, which the caller
// treats as an unresolvable fact.
func (o *Orchestrator) ensureCategoria(ctx context.Context, tx olap.OLAPTx, idCategoria *int64) (*int64, bool, error) {
	if idCategoria == nil {
		return nil, false, nil
	}
	rows, err := o.Reader.FetchCategorias(ctx, idCategoria)
	if err != nil {
		return nil, false, fmt.Errorf("fetch: %w", err)
	}
	if len(rows) > 0 {
		id, err := o.Up.UpsertDimCategoria(ctx, tx, rows[0])
		return &id, false, err
	}
	slog.Warn("ensure_categoria: source row missing, creating placeholder", slog.Int64("id_categoria", *idCategoria))
	metrics.RecordPlaceholder("categoria")
	id, err := o.Up.UpsertDimCategoria(ctx, tx, domain.Categoria{IDCategoria: *idCategoria})
	return &id, true, err
}

func (o *Orchestrator) ensureCliente(ctx context.Context, tx olap.OLAPTx, idCliente int64) (int64, bool, error) {
	rows, err := o.Reader.FetchClientes(ctx, &idCliente)
	if err != nil {
		return 0, false, fmt.Errorf("fetch: %w", err)
	}
	if len(rows) > 0 {
		id, err := o.Up.UpsertDimCliente(ctx, tx, rows[len(rows)-1])
		return id, false, err
	}
	slog.Warn("ensure_cliente: source row missing, creating placeholder", slog.Int64("id_cliente", idCliente))
	metrics.RecordPlaceholder("cliente")
	id, err := o.Up.UpsertDimCliente(ctx, tx, domain.Cliente{IDCliente: idCliente})
	return id, true, err
}

func (o *Orchestrator) ensureProducto(ctx context.Context, tx olap.OLAPTx, idProducto int64, fallbackCategoria *int64) (int64, bool, error) {
	rows, err := o.Reader.FetchProductos(ctx, &idProducto)
	if err != nil {
		return 0, false, fmt.Errorf("fetch: %w", err)
	}
	if len(rows) > 0 {
		id, err := o.Up.UpsertDimProducto(ctx, tx, rows[0])
		return id, false, err
	}
	slog.Warn("ensure_producto: source row missing, creating placeholder", slog.Int64("id_producto", idProducto))
	metrics.RecordPlaceholder("producto")
	id, err := o.Up.UpsertDimProducto(ctx, tx, domain.Producto{IDProducto: idProducto, IDCategoria: fallbackCategoria})
	return id, true, err
}

// syncOrden reprocesses facts for id_orden, then refreshes the order's
// owning dim_cliente in case its shipping address changed (spec §4.4).
func (o *Orchestrator) syncOrden(ctx context.Context, tx olap.OLAPTx, id *int64, result *domain.SyncResult) error {
	if id == nil {
		return fmt.Errorf("sync_orden: %w: id required", domain.ErrInvalidArgument)
	}
	if err := o.syncVentas(ctx, tx, nil, id, result); err != nil {
		return err
	}
	orden, err := o.Reader.FetchOrden(ctx, *id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("sync_orden.fetch_orden: %w", err)
	}
	return o.syncClientes(ctx, tx, &orden.IDCliente, result)
}

// syncOrdenProducto resolves id_orden by trying each candidate primary-key
// column in order (spec §4.4, §9's open question), then reprocesses facts
// for the resolved order.
func (o *Orchestrator) syncOrdenProducto(ctx context.Context, tx olap.OLAPTx, id *int64, result *domain.SyncResult) error {
	if id == nil {
		return fmt.Errorf("sync_orden_producto: %w: id required", domain.ErrInvalidArgument)
	}

	var idOrden int64
	var resolveErr error
	for _, col := range o.PKColumns {
		// FetchOrdenProductoOrden runs against the OLTP pool, a connection
		// entirely independent of the OLAP tx this method is nested in, so
		// a failed candidate column can't abort the outer transaction.
		idOrden, resolveErr = o.Reader.FetchOrdenProductoOrden(ctx, col, *id)
		if resolveErr == nil {
			break
		}
	}
	if resolveErr != nil {
		return fmt.Errorf("sync_orden_producto.resolve: %w", resolveErr)
	}
	return o.syncVentas(ctx, tx, nil, &idOrden, result)
}
