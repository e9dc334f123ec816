package metasync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextLastIDPrecedence(t *testing.T) {
	t.Run("ResultSetWins", func(t *testing.T) {
		page := &VehiclePage{
			ResultSet:  &ResultSet{LastID: 500},
			Paginacion: &Pagination{LastID: 400},
		}
		next, ok := page.NextLastID(100, 300)
		assert.True(t, ok)
		assert.Equal(t, 500, next)
	})

	t.Run("PaginacionWhenResultSetAbsent", func(t *testing.T) {
		page := &VehiclePage{Paginacion: &Pagination{LastID: 400}}
		next, ok := page.NextLastID(100, 300)
		assert.True(t, ok)
		assert.Equal(t, 400, next)
	})

	t.Run("FallbackToLastItemID", func(t *testing.T) {
		page := &PartPage{}
		next, ok := page.NextLastID(100, 300)
		assert.True(t, ok)
		assert.Equal(t, 300, next)
	})

	t.Run("StaleResultSetFallsThrough", func(t *testing.T) {
		// A cursor that does not advance is skipped in favor of the next
		// candidate that does.
		page := &PartPage{
			ResultSet:  &ResultSet{LastID: 100},
			Paginacion: &Pagination{LastID: 250},
		}
		next, ok := page.NextLastID(100, 0)
		assert.True(t, ok)
		assert.Equal(t, 250, next)
	})

	t.Run("NoAdvanceStops", func(t *testing.T) {
		page := &VehiclePage{ResultSet: &ResultSet{LastID: 100}}
		next, ok := page.NextLastID(100, 100)
		assert.False(t, ok)
		assert.Equal(t, 100, next)
	})

	t.Run("NoCursorAtAll", func(t *testing.T) {
		page := &VehiclePage{}
		next, ok := page.NextLastID(50, 0)
		assert.False(t, ok)
		assert.Equal(t, 50, next)
	})
}

func TestResultSetTotalItems(t *testing.T) {
	var rs *ResultSet
	assert.Equal(t, 0, rs.TotalItems())
	assert.Equal(t, 12000, (&ResultSet{Total: 12000}).TotalItems())
}
