package models

import (
	"time"

	"github.com/lib/pq"
)

// Vehicle is a donor vehicle in the yard. Identity across imports is the
// supplier-assigned id_local; the serial id is internal only.
type Vehicle struct {
	ID                   int            `json:"id" db:"id"`
	IDLocal              int            `json:"id_local" db:"id_local"`
	IDEmpresa            int            `json:"id_empresa" db:"id_empresa"`
	Descripcion          string         `json:"descripcion" db:"descripcion"`
	Marca                string         `json:"marca" db:"marca"`
	Modelo               string         `json:"modelo" db:"modelo"`
	Version              string         `json:"version" db:"version"`
	Anyo                 int            `json:"anyo" db:"anyo"`
	Combustible          string         `json:"combustible" db:"combustible"`
	Bastidor             string         `json:"bastidor" db:"bastidor"`
	Matricula            string         `json:"matricula" db:"matricula"`
	Color                string         `json:"color" db:"color"`
	Kilometraje          int            `json:"kilometraje" db:"kilometraje"`
	Potencia             int            `json:"potencia" db:"potencia"`
	Puertas              *int           `json:"puertas,omitempty" db:"puertas"`
	Imagenes             pq.StringArray `json:"imagenes" db:"imagenes"`
	Activo               bool           `json:"activo" db:"activo"`
	Sincronizado         bool           `json:"sincronizado" db:"sincronizado"`
	ActivePartsCount     int            `json:"active_parts_count" db:"active_parts_count"`
	TotalPartsCount      int            `json:"total_parts_count" db:"total_parts_count"`
	UltimaSincronizacion time.Time      `json:"ultima_sincronizacion" db:"ultima_sincronizacion"`
	FechaCreacion        time.Time      `json:"fecha_creacion" db:"fecha_creacion"`
	FechaActualizacion   time.Time      `json:"fecha_actualizacion" db:"fecha_actualizacion"`
}

// VehicleListResponse is the response for listing vehicles
type VehicleListResponse struct {
	Items      []Vehicle `json:"items"`
	TotalCount int       `json:"total_count"`
	Page       int       `json:"page"`
	PageSize   int       `json:"page_size"`
}

// VehicleFilter narrows catalog listings
type VehicleFilter struct {
	Marca      *string `query:"marca"`
	Modelo     *string `query:"modelo"`
	Anyo       *int    `query:"anyo"`
	ActiveOnly bool    `query:"active_only"`
}
