// Package domain defines core entities, sync request/result types, and
// domain-specific errors.
package domain

import (
	"errors"
	"time"
)

// Error taxonomy (sentinels), wrapped with fmt.Errorf("op=...: %w", ...) at
// call sites throughout the repo/orchestrator/dispatcher packages.
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrSubscriptionLost = errors.New("notification subscription lost")
)

// Cliente mirrors a row of the source clientes table, left-joined against
// orden for the shipping city/country of one of its ordenes (spec §4.1).
type Cliente struct {
	IDCliente int64
	Nombre    *string
	Apellido  *string
	Edad      *int32
	Email     *string
	Telefono  *string
	Direccion *string
	CiudadEnv *string
	PaisEnvio *string
}

// Categoria mirrors a row of the source categoria table.
type Categoria struct {
	IDCategoria     int64
	NombreCategoria *string
	Descripcion     *string
}

// Producto mirrors a row of the source productos table. IDCategoria is
// nullable because a placeholder producto (spec §4.4(c)) may be created
// without knowing its category.
type Producto struct {
	IDProducto     int64
	NombreProducto *string
	Descripcion    *string
	Precio         *float64
	Costo          *float64
	IDCategoria    *int64
}

// Orden mirrors a row of the source orden table.
type Orden struct {
	IDOrden     int64
	IDCliente   int64
	CiudadEnvio *string
	PaisEnvio   *string
	EstadoEnvio *string
	MetodoEnvio *string
	CostoEnvio  *float64
}

// Venta is the denormalized OLTP projection of a sale line: one row of
// ventas left-joined to its orden, orden_producto, and productos rows,
// which is exactly the grain the Sync Orchestrator needs to build one
// hecho_ventas row (spec §4.4).
//
// IDProducto always comes from orden_producto (present even when the
// product itself was later deleted from productos); IDCategoria, Precio,
// and Costo come from the productos join and are nil when that row is
// missing, which the orchestrator treats as a dangling FK (spec §7.3).
type Venta struct {
	IDVenta        int64
	FechaVenta     time.Time
	IDCliente      int64
	IDProducto     int64
	IDCategoria    *int64
	MetodoPago     *string
	EstadoEnvio    *string
	MetodoEnvio    *string
	Cantidad       float64
	PrecioUnitario float64
	Precio         *float64
	Costo          *float64
	CostoEnvio     *float64
}

// HechoVentas is the fully resolved fact row ready for upsert (spec §3, §4.3).
type HechoVentas struct {
	IDTiempo      int64
	IDCliente     int64
	IDProducto    int64
	IDCategoria   int64
	IDMetodoPago  int64
	IDEnvio       int64
	Cantidad      float64
	TotalVenta    float64
	CostoEnvio    float64
	Margen        float64
}

// SyncRequest is the Sync Orchestrator's public contract input (spec §4.4).
type SyncRequest struct {
	Table string
	Op    string
	ID    *int64
}

// SyncResult summarizes what a Sync call did, for logging and the Trigger
// Interface's JSON response.
type SyncResult struct {
	Table            string
	RowsProcessed    int
	FactsWritten     int
	FactsSkipped     int
	PlaceholdersMade int
}
