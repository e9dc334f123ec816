package metasync

import "encoding/json"

// ResultSet is the supplier's page envelope: totals plus the cursor for the
// next page.
type ResultSet struct {
	Total  int `json:"total"`
	Count  int `json:"count"`
	Offset int `json:"offset"`
	LastID int `json:"lastId"`
}

// Pagination is the legacy envelope some supplier deployments still return
// instead of result_set.
type Pagination struct {
	LastID int `json:"lastId"`
}

// VehiclePage is one page of raw vehicle records. Items stay raw JSON so a
// malformed record only fails its own normalization.
type VehiclePage struct {
	Vehiculos  []json.RawMessage `json:"vehiculos"`
	ResultSet  *ResultSet        `json:"result_set"`
	Paginacion *Pagination       `json:"paginacion"`
}

// PartPage is one page of raw part records.
type PartPage struct {
	Piezas     []json.RawMessage `json:"piezas"`
	ResultSet  *ResultSet        `json:"result_set"`
	Paginacion *Pagination       `json:"paginacion"`
}

// Total returns the supplier's reported total item count, 0 when absent.
func (rs *ResultSet) TotalItems() int {
	if rs == nil {
		return 0
	}
	return rs.Total
}

// nextLastID resolves the cursor for the next page. Precedence:
// result_set.lastId, then paginacion.lastId, then the caller's fallback
// (the last item id on the page). A cursor that fails to advance past the
// current one reports false so the pager stops instead of looping.
func nextLastID(rs *ResultSet, pg *Pagination, current, fallback int) (int, bool) {
	candidates := []int{}
	if rs != nil && rs.LastID > 0 {
		candidates = append(candidates, rs.LastID)
	}
	if pg != nil && pg.LastID > 0 {
		candidates = append(candidates, pg.LastID)
	}
	if fallback > 0 {
		candidates = append(candidates, fallback)
	}

	for _, next := range candidates {
		if next > current {
			return next, true
		}
	}
	return current, false
}

// NextLastID resolves the vehicle page cursor. See nextLastID.
func (p *VehiclePage) NextLastID(current, fallback int) (int, bool) {
	return nextLastID(p.ResultSet, p.Paginacion, current, fallback)
}

// NextLastID resolves the part page cursor. See nextLastID.
func (p *PartPage) NextLastID(current, fallback int) (int, bool) {
	return nextLastID(p.ResultSet, p.Paginacion, current, fallback)
}
