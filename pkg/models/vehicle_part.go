package models

import "time"

// VehiclePart links a part to a donor vehicle. VehicleID is NULL while the
// referenced vehicle has not been imported yet; IDVehiculoOriginal keeps the
// supplier's vehicle id so the link can be promoted once the vehicle arrives.
type VehiclePart struct {
	ID                 int       `json:"id" db:"id"`
	VehicleID          *int      `json:"vehicle_id,omitempty" db:"vehicle_id"`
	PartID             int       `json:"part_id" db:"part_id"`
	IDVehiculoOriginal int       `json:"id_vehiculo_original" db:"id_vehiculo_original"`
	FechaCreacion      time.Time `json:"fecha_creacion" db:"fecha_creacion"`
}

// IsPending reports whether the relation still lacks a resolved vehicle.
func (vp *VehiclePart) IsPending() bool {
	return vp.VehicleID == nil
}

// PendingRelationStats summarizes unresolved links for the admin surface.
type PendingRelationStats struct {
	PendingRelations int `json:"pending_relations" db:"pending_relations"`
	PendingParts     int `json:"pending_parts" db:"pending_parts"`
	DistinctVehicles int `json:"distinct_vehicles" db:"distinct_vehicles"`
}
