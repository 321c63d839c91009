package olap

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/oltp-olap-sync/internal/domain"
)

// UpsertHechoVentas inserts or overwrites a hecho_ventas row keyed by the
// full composite dimension key, overwriting measures on conflict (spec
// §4.3). It must only be called once every dimension surrogate referenced
// by h is resolved and non-null.
func (u *Upserter) UpsertHechoVentas(ctx context.Context, tx OLAPTx, h domain.HechoVentas) error {
	slog.Debug("upsert_hecho_ventas",
		slog.Int64("id_tiempo", h.IDTiempo), slog.Int64("id_cliente", h.IDCliente),
		slog.Int64("id_producto", h.IDProducto), slog.Float64("cantidad", h.Cantidad))
	tracer := otel.Tracer("repo.olap")
	ctx, span := tracer.Start(ctx, "olap.UpsertHechoVentas")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "hecho_ventas"))

	q := `INSERT INTO hecho_ventas (
	          id_tiempo, id_cliente, id_producto, id_categoria, id_metodo_pago, id_envio,
	          cantidad, total_venta, costo_envio, margen
	      ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	      ON CONFLICT (id_tiempo, id_cliente, id_producto, id_categoria, id_metodo_pago, id_envio)
	      DO UPDATE SET
	          cantidad = EXCLUDED.cantidad,
	          total_venta = EXCLUDED.total_venta,
	          costo_envio = EXCLUDED.costo_envio,
	          margen = EXCLUDED.margen`
	_, err := tx.Exec(ctx, q, h.IDTiempo, h.IDCliente, h.IDProducto, h.IDCategoria, h.IDMetodoPago, h.IDEnvio,
		h.Cantidad, h.TotalVenta, h.CostoEnvio, h.Margen)
	if err != nil {
		return fmt.Errorf("op=olap.upsert_hecho_ventas: %w", err)
	}
	return nil
}
