// Package importer implements the MetaSync batch import pipeline: record
// normalization, price classification, batch upserts, vehicle-part
// relationship resolution and the pending-relation reconciliation sweep.
package importer

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"

	"github.com/recambia/recambia/pkg/models"
	"github.com/recambia/recambia/pkg/normalizers"
)

// PlaceholderImage is stored whenever a record carries no usable image, so
// the imagenes column is never empty.
const PlaceholderImage = "https://via.placeholder.com/150?text=Sin+Imagen"

// Defaults for descriptive vehicle fields the supplier left blank. The
// feminine/masculine split follows the Spanish nouns they describe.
const (
	DefaultMarca       = "Desconocida"
	DefaultModelo      = "Desconocido"
	DefaultVersion     = "Desconocida"
	DefaultDescripcion = "Pieza sin descripción"
)

// Year-range defaults applied when a part carries no compatibility bounds.
const (
	DefaultAnyoInicio = 2000
	DefaultAnyoFin    = 2050
)

// Supplier payloads have gone through several historical naming conventions
// (idLocal vs IdLocal, nombreMarca vs marca). Each canonical field keeps an
// ordered alias list here so a newly discovered alias is a one-line change.
var (
	vehicleIDLocalAliases     = []string{"idLocal", "IdLocal"}
	vehicleIDEmpresaAliases   = []string{"idEmpresa", "IdEmpresa"}
	vehicleMarcaAliases       = []string{"nombreMarca", "NombreMarca", "marca", "Marca"}
	vehicleModeloAliases      = []string{"nombreModelo", "NombreModelo", "modelo", "Modelo"}
	vehicleVersionAliases     = []string{"nombreVersion", "NombreVersion", "version", "Version"}
	vehicleAnyoAliases        = []string{"anyoVehiculo", "AnyoVehiculo", "anyo", "Anyo"}
	vehicleCombustibleAliases = []string{"combustible", "Combustible"}
	vehicleBastidorAliases    = []string{"bastidor", "Bastidor"}
	vehicleMatriculaAliases   = []string{"matricula", "Matricula"}
	vehicleColorAliases       = []string{"color", "Color"}
	vehicleKilometrajeAliases = []string{"kilometraje", "Kilometraje"}
	vehiclePotenciaAliases    = []string{"potenciaHP", "PotenciaHP", "potencia", "Potencia"}
	vehiclePuertasAliases     = []string{"puertas", "Puertas"}

	partRefLocalAliases      = []string{"refLocal", "RefLocal"}
	partIDEmpresaAliases     = []string{"idEmpresa", "IdEmpresa"}
	partIDVehiculoAliases    = []string{"idVehiculo", "IdVehiculo"}
	partCodFamiliaAliases    = []string{"codFamilia", "CodFamilia"}
	partDescFamiliaAliases   = []string{"descripcionFamilia", "DescripcionFamilia"}
	partCodArticuloAliases   = []string{"codArticulo", "CodArticulo"}
	partDescArticuloAliases  = []string{"descripcionArticulo", "DescripcionArticulo"}
	partCodVersionAliases    = []string{"codVersion", "CodVersion"}
	partRefPrincipalAliases  = []string{"refPrincipal", "RefPrincipal"}
	partAnyoInicioAliases    = []string{"anyoInicio", "AnyoInicio"}
	partAnyoFinAliases       = []string{"anyoFin", "AnyoFin"}
	partPuertasAliases       = []string{"puertas", "Puertas"}
	partPrecioAliases        = []string{"precio", "Precio"}
	partAnyoStockAliases     = []string{"anyoStock", "AnyoStock"}
	partPesoAliases          = []string{"peso", "Peso"}
	partUbicacionAliases     = []string{"ubicacion", "Ubicacion"}
	partObservacionesAliases = []string{"observaciones", "Observaciones"}
	partReservaAliases       = []string{"reserva", "Reserva"}
	partTipoMaterialAliases  = []string{"tipoMaterial", "TipoMaterial"}

	imageAliases = []string{"urlsImgs", "UrlsImgs", "imagenes", "Imagenes"}
)

// PartRecord is a normalized part together with the supplier's vehicle
// reference, which lives in the vehicle_parts relation rather than in the
// parts row itself.
type PartRecord struct {
	Part               models.Part
	IDVehiculoOriginal int
}

// stringField returns the first alias present with a non-empty string value.
func stringField(raw map[string]any, def string, aliases ...string) string {
	for _, alias := range aliases {
		v, ok := raw[alias]
		if !ok || v == nil {
			continue
		}
		switch s := v.(type) {
		case string:
			if strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		case float64:
			if s != 0 {
				return strconv.FormatFloat(s, 'f', -1, 64)
			}
		}
	}
	return def
}

// intField returns the first alias present with a non-zero numeric value.
// JSON numbers arrive as float64; numeric strings are tolerated too.
func intField(raw map[string]any, def int, aliases ...string) int {
	for _, alias := range aliases {
		v, ok := raw[alias]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			if n != 0 {
				return int(n)
			}
		case int:
			if n != 0 {
				return n
			}
		case string:
			parsed, err := strconv.Atoi(strings.TrimSpace(n))
			if err == nil && parsed != 0 {
				return parsed
			}
		}
	}
	return def
}

// optIntField is intField with an absent-vs-zero distinction for nullable
// columns such as vehicles.puertas.
func optIntField(raw map[string]any, aliases ...string) *int {
	v := intField(raw, 0, aliases...)
	if v == 0 {
		return nil
	}
	return &v
}

// imageField resolves the image list: first array-valued alias wins, a bare
// string is wrapped into a single-element list, and an empty result is
// replaced by the placeholder.
func imageField(raw map[string]any, aliases ...string) []string {
	for _, alias := range aliases {
		v, ok := raw[alias]
		if !ok || v == nil {
			continue
		}
		switch imgs := v.(type) {
		case []any:
			var urls []string
			for _, img := range imgs {
				if s, ok := img.(string); ok && s != "" {
					urls = append(urls, s)
				}
			}
			if len(urls) > 0 {
				return urls
			}
		case []string:
			if len(imgs) > 0 {
				return imgs
			}
		case string:
			if imgs != "" {
				return []string{imgs}
			}
		}
	}
	return []string{PlaceholderImage}
}

// NormalizeVehicle converts one raw supplier vehicle into its canonical
// shape. Missing optional fields never produce an error.
func NormalizeVehicle(raw map[string]any, companyID int) models.Vehicle {
	idLocal := intField(raw, 0, vehicleIDLocalAliases...)
	marca := stringField(raw, DefaultMarca, vehicleMarcaAliases...)
	modelo := stringField(raw, DefaultModelo, vehicleModeloAliases...)
	version := stringField(raw, DefaultVersion, vehicleVersionAliases...)
	anyo := intField(raw, 0, vehicleAnyoAliases...)

	descripcion := synthesizeDescription(marca, modelo, version, anyo, idLocal)

	return models.Vehicle{
		IDLocal:      idLocal,
		IDEmpresa:    intField(raw, companyID, vehicleIDEmpresaAliases...),
		Descripcion:  descripcion,
		Marca:        marca,
		Modelo:       modelo,
		Version:      version,
		Anyo:         anyo,
		Combustible:  stringField(raw, "", vehicleCombustibleAliases...),
		Bastidor:     stringField(raw, "", vehicleBastidorAliases...),
		Matricula:    normalizers.Apply(stringField(raw, "", vehicleMatriculaAliases...), "nplate"),
		Color:        stringField(raw, "", vehicleColorAliases...),
		Kilometraje:  intField(raw, 0, vehicleKilometrajeAliases...),
		Potencia:     intField(raw, 0, vehiclePotenciaAliases...),
		Puertas:      optIntField(raw, vehiclePuertasAliases...),
		Imagenes:     imageField(raw, imageAliases...),
		Activo:       true,
		Sincronizado: true,
	}
}

// NormalizePart converts one raw supplier part into its canonical shape plus
// the external vehicle reference.
func NormalizePart(raw map[string]any, companyID int) PartRecord {
	codVersion := stringField(raw, "", partCodVersionAliases...)

	part := models.Part{
		RefLocal:            intField(raw, 0, partRefLocalAliases...),
		IDEmpresa:           intField(raw, companyID, partIDEmpresaAliases...),
		IDVehiculo:          intField(raw, -1, partIDVehiculoAliases...),
		CodFamilia:          stringField(raw, "", partCodFamiliaAliases...),
		DescripcionFamilia:  stringField(raw, "", partDescFamiliaAliases...),
		CodArticulo:         stringField(raw, "", partCodArticuloAliases...),
		DescripcionArticulo: stringField(raw, DefaultDescripcion, partDescArticuloAliases...),
		CodVersionVehiculo:  codVersion,
		RefPrincipal:        stringField(raw, "", partRefPrincipalAliases...),
		AnyoInicio:          intField(raw, DefaultAnyoInicio, partAnyoInicioAliases...),
		AnyoFin:             intField(raw, DefaultAnyoFin, partAnyoFinAliases...),
		Puertas:             intField(raw, 0, partPuertasAliases...),
		RvCode:              codVersion,
		Precio:              priceField(raw, partPrecioAliases...),
		AnyoStock:           intField(raw, 0, partAnyoStockAliases...),
		Peso:                stringField(raw, "0", partPesoAliases...),
		Ubicacion:           intField(raw, 0, partUbicacionAliases...),
		Observaciones:       stringField(raw, "", partObservacionesAliases...),
		Reserva:             intField(raw, 0, partReservaAliases...),
		TipoMaterial:        intField(raw, 0, partTipoMaterialAliases...),
		Imagenes:            imageField(raw, imageAliases...),
		Activo:              false, // activated once a resolved relation and a valid price exist
		Sincronizado:        true,
	}

	return PartRecord{
		Part:               part,
		IDVehiculoOriginal: part.IDVehiculo,
	}
}

// priceField keeps the price exactly as the supplier sent it, as text. The
// sentinel -1 ("price on request") is preserved verbatim.
func priceField(raw map[string]any, aliases ...string) string {
	for _, alias := range aliases {
		v, ok := raw[alias]
		if !ok || v == nil {
			continue
		}
		switch p := v.(type) {
		case string:
			if strings.TrimSpace(p) != "" {
				return strings.TrimSpace(p)
			}
		case float64:
			return strconv.FormatFloat(p, 'f', -1, 64)
		}
	}
	return "0"
}

// synthesizeDescription builds "{marca} {modelo} {version} ({anyo})" when the
// supplier sent no description, falling back to "Vehículo ID {idLocal}" when
// every descriptive field is unknown.
func synthesizeDescription(marca, modelo, version string, anyo, idLocal int) string {
	if marca == DefaultMarca && modelo == DefaultModelo && version == DefaultVersion {
		return fmt.Sprintf("Vehículo ID %d", idLocal)
	}

	descripcion := fmt.Sprintf("%s %s %s", marca, modelo, version)
	if anyo != 0 {
		descripcion = fmt.Sprintf("%s (%d)", descripcion, anyo)
	}
	return strings.TrimSpace(descripcion)
}

// DecodeRecord unmarshals one raw API item into a field map. A non-object
// item is the only malformed-input case; the caller appends the error to the
// batch error list and keeps going.
func DecodeRecord(item json.RawMessage) (map[string]any, error) {
	var raw map[string]any
	if err := json.Unmarshal(item, &raw); err != nil {
		return nil, httperror.NewHTTPErrorf(http.StatusBadRequest, "malformed supplier record: %v", err)
	}
	return raw, nil
}
