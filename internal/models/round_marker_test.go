package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLegacyMarker(t *testing.T) {
	a, b := 10, 11
	sc := &SectorCount{ID: 1, UserAID: &a, UserBID: &b}
	ts := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)

	tests := []struct {
		name     string
		raw      string
		round    int
		finisher *int
		started  *time.Time
	}{
		{name: "empty", raw: "  "},
		{name: "user a finished", raw: "Usuario1_Finalizado", finisher: &a},
		{name: "user b finished", raw: "Usuario2_Finalizado", finisher: &b},
		{name: "round start", raw: ts.Format(time.RFC3339), started: &ts},
		{name: "recount", raw: "RECONTEO_2", round: 2},
		{name: "recount with start", raw: "RECONTEO_3|" + ts.Format(time.RFC3339), round: 3, started: &ts},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ParseLegacyMarker(tt.raw, sc, RoundMarker{})
			require.NoError(t, err)
			assert.Equal(t, tt.round, m.Round)
			assert.Equal(t, tt.finisher, m.FinishedByUserID)
			if tt.started == nil {
				assert.Nil(t, m.RoundStartedAt)
			} else {
				require.NotNil(t, m.RoundStartedAt)
				assert.True(t, tt.started.Equal(*m.RoundStartedAt))
			}
		})
	}
}

func TestParseLegacyMarkerKeepsBase(t *testing.T) {
	a := 10
	sc := &SectorCount{UserAID: &a}
	m, err := ParseLegacyMarker("Usuario1_Finalizado", sc, RoundMarker{Round: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, m.Round)
}

func TestParseLegacyMarkerRejects(t *testing.T) {
	a := 10
	sc := &SectorCount{ID: 7, UserAID: &a}
	for _, raw := range []string{
		"Usuario2_Finalizado", // no user b
		"RECONTEO_x",
		"RECONTEO_0",
		"RECONTEO_2|yesterday",
		"finished-ish",
	} {
		_, err := ParseLegacyMarker(raw, sc, RoundMarker{})
		assert.Error(t, err, raw)
	}
}

func TestFallbackMarker(t *testing.T) {
	assert.Equal(t, RoundMarker{}, FallbackMarker(&SectorCount{Status: SectorInProgress}))
	assert.Equal(t, RoundMarker{Round: 1}, FallbackMarker(&SectorCount{Status: SectorWithDifferences}))
	a := 10
	assert.Equal(t, RoundMarker{Round: 3}, FallbackMarker(&SectorCount{Status: SectorAwaitingVerification,
		Marker: RoundMarker{Round: 3, FinishedByUserID: &a}}), "recorded round survives")
	assert.Equal(t, RoundMarker{Round: 2}, FallbackMarker(&SectorCount{Status: SectorWithDifferences, Marker: RoundMarker{Round: 2}}))
}

func TestSectorCountHelpers(t *testing.T) {
	a, b := 10, 11
	sc := &SectorCount{UserAID: &a, UserBID: &b}

	slot, ok := sc.Slot(11)
	assert.True(t, ok)
	assert.Equal(t, SlotB, slot)
	assert.False(t, sc.IsAssigned(12))
	assert.Equal(t, ModeInitial, sc.CountMode())

	sc.Marker = RoundMarker{Round: 1, FinishedByUserID: &a}
	assert.Equal(t, ModeRecount, sc.CountMode())
	assert.True(t, sc.FinishedBy(10))
	assert.False(t, sc.FinishedBy(11))

	rr := &RecountRound{ProductIDs: []int{2, 5}}
	assert.True(t, rr.Contains(5))
	assert.False(t, rr.Contains(3))
}
