package matching

import (
	"context"
	"testing"
	"unicode/utf8"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recambia/recambia/pkg/models"
)

type fakeVehicleFinder struct {
	byCode   map[string][]models.Vehicle
	byPrefix map[string][]models.Vehicle

	codeCalls   []string
	prefixCalls []string
}

func (f *fakeVehicleFinder) ListByVersionCode(ctx context.Context, code string) ([]models.Vehicle, error) {
	f.codeCalls = append(f.codeCalls, code)
	return f.byCode[code], nil
}

func (f *fakeVehicleFinder) ListByVersionPrefix(ctx context.Context, prefix string, limit int) ([]models.Vehicle, error) {
	f.prefixCalls = append(f.prefixCalls, prefix)
	return f.byPrefix[prefix], nil
}

func newTestMatcher(finder *fakeVehicleFinder) *Matcher {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return NewMatcher(logger, finder, DefaultConfig())
}

func intPtr(v int) *int { return &v }

func TestFindCompatibleVehiclesExactCodeWins(t *testing.T) {
	finder := &fakeVehicleFinder{
		byCode: map[string][]models.Vehicle{
			"6L1A": {{ID: 1, IDLocal: 100, Version: "6L1A"}},
		},
		byPrefix: map[string][]models.Vehicle{
			"6L1A": {{ID: 2, IDLocal: 200, Version: "6L1A Extra"}},
		},
	}
	matcher := newTestMatcher(finder)

	part := &models.Part{RvCode: "6l1a", CodVersionVehiculo: "6L1A EXTRA"}
	matches, err := matcher.FindCompatibleVehicles(context.Background(), part)

	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 1, matches[0].ID)
	assert.Equal(t, []string{"6L1A"}, finder.codeCalls)
	assert.Empty(t, finder.prefixCalls, "prefix lookup must not run after an exact hit")
}

func TestFindCompatibleVehiclesPrefixFallback(t *testing.T) {
	finder := &fakeVehicleFinder{
		byPrefix: map[string][]models.Vehicle{
			"GOLF": {
				{ID: 1, Version: "GOLF V 1.9", Anyo: 2005},
				{ID: 2, Version: "GOLF V 2.0", Anyo: 2012},
				{ID: 3, Version: "POLO 1.4", Anyo: 2005},
			},
		},
	}
	matcher := newTestMatcher(finder)

	part := &models.Part{
		CodVersionVehiculo: "golf v",
		AnyoInicio:         2003,
		AnyoFin:            2009,
	}
	matches, err := matcher.FindCompatibleVehicles(context.Background(), part)

	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 1, matches[0].ID)
}

func TestFindCompatibleVehiclesFansOutToAllMatches(t *testing.T) {
	finder := &fakeVehicleFinder{
		byPrefix: map[string][]models.Vehicle{
			"6L1A": {
				{ID: 1, Version: "6L1A"},
				{ID: 2, Version: "6L1A B"},
				{ID: 3, Version: "6L1A C"},
			},
		},
	}
	matcher := newTestMatcher(finder)

	part := &models.Part{CodVersionVehiculo: "6L1A"}
	matches, err := matcher.FindCompatibleVehicles(context.Background(), part)

	require.NoError(t, err)
	assert.Len(t, matches, 3)
}

func TestFindCompatibleVehiclesDoorCountFilter(t *testing.T) {
	finder := &fakeVehicleFinder{
		byPrefix: map[string][]models.Vehicle{
			"6L1A": {
				{ID: 1, Version: "6L1A", Puertas: intPtr(3)},
				{ID: 2, Version: "6L1A", Puertas: intPtr(5)},
				{ID: 3, Version: "6L1A"}, // unknown door count passes
			},
		},
	}
	matcher := newTestMatcher(finder)

	part := &models.Part{CodVersionVehiculo: "6L1A", Puertas: 5}
	matches, err := matcher.FindCompatibleVehicles(context.Background(), part)

	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, 2, matches[0].ID)
	assert.Equal(t, 3, matches[1].ID)
}

func TestFindCompatibleVehiclesNoVersionInfo(t *testing.T) {
	finder := &fakeVehicleFinder{}
	matcher := newTestMatcher(finder)

	matches, err := matcher.FindCompatibleVehicles(context.Background(), &models.Part{})

	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.Empty(t, finder.codeCalls)
	assert.Empty(t, finder.prefixCalls)
}

func TestVersionPrefix(t *testing.T) {
	assert.Equal(t, "GOLF", versionPrefix("golf v 1.9"))
	assert.Equal(t, "6L1", versionPrefix("6l1"))
	assert.Equal(t, "", versionPrefix("   "))
}

func TestVersionPrefixMultibyte(t *testing.T) {
	// Accented supplier codes must not be cut mid-rune.
	prefix := versionPrefix("peñ123x")
	assert.Equal(t, "PEÑ1", prefix)
	assert.True(t, utf8.ValidString(prefix))

	assert.Equal(t, "AÑO", versionPrefix("año"))
}
