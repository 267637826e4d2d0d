package imagery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skookum/geocascade/internal/config"
	"github.com/skookum/geocascade/internal/types"
)

func TestValidateProviders(t *testing.T) {
	optical := NewSimulatedOptical()
	radar := NewSimulatedRadar()

	assert.NoError(t, ValidateProviders([]Provider{optical, radar}))
	assert.NoError(t, ValidateProviders([]Provider{optical, radar, NewSimulatedBasemap()}))

	err := ValidateProviders([]Provider{optical})
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrConfiguration)
	assert.Contains(t, err.Error(), "2 distinct evidence-source kinds")

	// Two providers of the same kind are still one kind.
	err = ValidateProviders([]Provider{optical, NewSimulatedOptical()})
	require.Error(t, err)

	err = ValidateProviders([]Provider{&SimulatedProvider{SourceKind: "optical"}, radar})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no dataset identifier")
}

func TestSimulatedFetchIsStable(t *testing.T) {
	p := NewSimulatedOptical()
	area := &types.Area{ID: "regional-r1", Tier: types.TierRegional}

	c1, err := p.Fetch(context.Background(), area, DateRange{}, Filters{})
	require.NoError(t, err)
	c2, err := p.Fetch(context.Background(), area, DateRange{}, Filters{})
	require.NoError(t, err)

	assert.Equal(t, c1.Source, c2.Source, "repeated fetches derive the same evidence source")
	assert.Equal(t, "optical-regional-r1", c1.Source.ID)
	assert.Equal(t, DatasetSentinel2, c1.Source.DatasetID)
	assert.Equal(t, types.TierRegional, c1.Source.Tier)
	assert.Equal(t, []string{"regional-r1", "regional-r1"}, p.FetchedAreas())
}

func TestSimulatedFetchFailure(t *testing.T) {
	p := NewSimulatedRadar()
	p.FailWith = errors.New("archive outage")

	_, err := p.Fetch(context.Background(), &types.Area{ID: "a"}, DateRange{}, Filters{})
	require.Error(t, err)
	assert.Empty(t, p.FetchedAreas())
}
