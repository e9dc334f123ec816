package models

import (
	"time"

	"github.com/lib/pq"
)

// Part is a salvaged part. Identity across imports is (ref_local, id_empresa).
// IDVehiculo keeps the supplier's signed vehicle reference verbatim: positive
// values point at a vehicle id_local, non-positive values mean the reference
// is unresolved and must go through the pending-relation machinery.
type Part struct {
	ID                   int            `json:"id" db:"id"`
	RefLocal             int            `json:"ref_local" db:"ref_local"`
	IDEmpresa            int            `json:"id_empresa" db:"id_empresa"`
	IDVehiculo           int            `json:"id_vehiculo" db:"id_vehiculo"`
	VehicleMarca         string         `json:"vehicle_marca" db:"vehicle_marca"`
	VehicleModelo        string         `json:"vehicle_modelo" db:"vehicle_modelo"`
	VehicleVersion       string         `json:"vehicle_version" db:"vehicle_version"`
	VehicleAnyo          int            `json:"vehicle_anyo" db:"vehicle_anyo"`
	Combustible          string         `json:"combustible" db:"combustible"`
	RelatedVehiclesCount int            `json:"related_vehicles_count" db:"related_vehicles_count"`
	CodFamilia           string         `json:"cod_familia" db:"cod_familia"`
	DescripcionFamilia   string         `json:"descripcion_familia" db:"descripcion_familia"`
	CodArticulo          string         `json:"cod_articulo" db:"cod_articulo"`
	DescripcionArticulo  string         `json:"descripcion_articulo" db:"descripcion_articulo"`
	CodVersionVehiculo   string         `json:"cod_version_vehiculo" db:"cod_version_vehiculo"`
	RefPrincipal         string         `json:"ref_principal" db:"ref_principal"`
	AnyoInicio           int            `json:"anyo_inicio" db:"anyo_inicio"`
	AnyoFin              int            `json:"anyo_fin" db:"anyo_fin"`
	Puertas              int            `json:"puertas" db:"puertas"`
	RvCode               string         `json:"rv_code" db:"rv_code"`
	Precio               string         `json:"precio" db:"precio"`
	AnyoStock            int            `json:"anyo_stock" db:"anyo_stock"`
	Peso                 string         `json:"peso" db:"peso"`
	Ubicacion            int            `json:"ubicacion" db:"ubicacion"`
	Observaciones        string         `json:"observaciones" db:"observaciones"`
	Reserva              int            `json:"reserva" db:"reserva"`
	TipoMaterial         int            `json:"tipo_material" db:"tipo_material"`
	Situacion            string         `json:"situacion" db:"situacion"`
	Imagenes             pq.StringArray `json:"imagenes" db:"imagenes"`
	Activo               bool           `json:"activo" db:"activo"`
	DisponibleAPI        bool           `json:"disponible_api" db:"disponible_api"`
	LastAPIConfirmation  time.Time      `json:"last_api_confirmation" db:"last_api_confirmation"`
	Sincronizado         bool           `json:"sincronizado" db:"sincronizado"`
	IsPendingRelation    bool           `json:"is_pending_relation" db:"is_pending_relation"`
	UltimaSincronizacion time.Time      `json:"ultima_sincronizacion" db:"ultima_sincronizacion"`
	FechaCreacion        time.Time      `json:"fecha_creacion" db:"fecha_creacion"`
	FechaActualizacion   time.Time      `json:"fecha_actualizacion" db:"fecha_actualizacion"`
}

// PartListResponse is the response for listing parts
type PartListResponse struct {
	Items      []Part `json:"items"`
	TotalCount int    `json:"total_count"`
	Page       int    `json:"page"`
	PageSize   int    `json:"page_size"`
}

// PartFilter narrows catalog listings
type PartFilter struct {
	Familia       *string `query:"familia"`
	VehicleMarca  *string `query:"vehicle_marca"`
	VehicleModelo *string `query:"vehicle_modelo"`
	ActiveOnly    bool    `query:"active_only"`
}
