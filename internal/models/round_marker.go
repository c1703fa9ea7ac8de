package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Free-text markers written by the previous counting system. Rows imported from it
// may carry one of these instead of the typed round columns.
const (
	legacyUserAFinished = "Usuario1_Finalizado"
	legacyUserBFinished = "Usuario2_Finalizado"
	legacyRecountPrefix = "RECONTEO_"
)

// ParseLegacyMarker converts an imported marker into a RoundMarker.
// Recognised forms: "Usuario1_Finalizado", "Usuario2_Finalizado", an RFC3339 round
// start time, and "RECONTEO_<n>" optionally followed by "|<RFC3339>".
// base supplies the fields the marker does not carry.
func ParseLegacyMarker(raw string, sc *SectorCount, base RoundMarker) (RoundMarker, error) {
	m := base
	raw = strings.TrimSpace(raw)

	switch raw {
	case "":
		return m, nil
	case legacyUserAFinished:
		if sc.UserAID == nil {
			return base, fmt.Errorf("marker %q names user A but sector %d has none", raw, sc.ID)
		}
		id := *sc.UserAID
		m.FinishedByUserID = &id
		return m, nil
	case legacyUserBFinished:
		if sc.UserBID == nil {
			return base, fmt.Errorf("marker %q names user B but sector %d has none", raw, sc.ID)
		}
		id := *sc.UserBID
		m.FinishedByUserID = &id
		return m, nil
	}

	if strings.HasPrefix(raw, legacyRecountPrefix) {
		rest := strings.TrimPrefix(raw, legacyRecountPrefix)
		roundPart, tsPart, hasTS := strings.Cut(rest, "|")
		n, err := strconv.Atoi(roundPart)
		if err != nil || n < 1 {
			return base, fmt.Errorf("marker %q: bad round number", raw)
		}
		m.Round = n
		if hasTS {
			ts, err := time.Parse(time.RFC3339, tsPart)
			if err != nil {
				return base, fmt.Errorf("marker %q: bad timestamp: %w", raw, err)
			}
			m.RoundStartedAt = &ts
		}
		return m, nil
	}

	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		m.RoundStartedAt = &ts
		return m, nil
	}

	return base, fmt.Errorf("unrecognised marker %q", raw)
}

// FallbackMarker is used when a legacy marker cannot be parsed. A round the row
// already records is kept; otherwise it is the first pass of the sector's current
// phase. The finisher is always dropped.
func FallbackMarker(sc *SectorCount) RoundMarker {
	if sc.Marker.Round > 0 {
		return RoundMarker{Round: sc.Marker.Round}
	}
	if sc.Status == SectorWithDifferences {
		return RoundMarker{Round: 1}
	}
	return RoundMarker{}
}
