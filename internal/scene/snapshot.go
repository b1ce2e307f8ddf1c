package scene

import (
	"encoding/hex"
	"encoding/json"
	"sort"

	"lukechampine.com/blake3"
)

// Snapshot is an ordered, versioned view of a script's lines, derived from
// the canonical rows every time it is needed. Fingerprint covers the full
// line set (stage directions included) so any structural edit changes it.
type Snapshot struct {
	Fingerprint string
	Markers     map[string]string
	ActorLines  []CachedLine
	ReaderLines []CachedLine
	Lines       []ScriptLine
}

type fingerprintEntry struct {
	ID   string `json:"id"`
	Idx  *int64 `json:"idx"`
	Text string `json:"text"`
}

// BuildSnapshot sorts the lines, computes the scene fingerprint and the
// per-line marker map, and partitions spoken lines between the two reading
// roles. Cue lines belong to the actor, the rest to the reader.
func BuildSnapshot(lines []ScriptLine) Snapshot {
	sorted := make([]ScriptLine, len(lines))
	copy(sorted, lines)
	SortLines(sorted)

	snap := Snapshot{
		Markers: make(map[string]string, len(sorted)),
		Lines:   sorted,
	}

	entries := make([]fingerprintEntry, 0, len(sorted))
	for _, ln := range sorted {
		e := fingerprintEntry{ID: ln.ID, Text: ln.RawText}
		if ln.OrderIndex.Valid {
			idx := ln.OrderIndex.Int64
			e.Idx = &idx
		}
		entries = append(entries, e)
		if ln.UpdatedAt.Valid {
			snap.Markers[ln.ID] = Marker(ln.UpdatedAt.Time)
		}
	}
	raw, _ := json.Marshal(entries)
	sum := blake3.Sum256(raw)
	snap.Fingerprint = hex.EncodeToString(sum[:])

	for i, ln := range sorted {
		if ln.IsStageDirection {
			continue
		}
		cached := CachedLine{
			LineID:   ln.ID,
			Index:    int64(i),
			Text:     ln.RawText,
			AudioURL: ln.AudioURL,
		}
		if ln.IsCueLine {
			snap.ActorLines = append(snap.ActorLines, cached)
		} else {
			snap.ReaderLines = append(snap.ReaderLines, cached)
		}
	}
	return snap
}

// SortLines orders lines by order_index ascending with NULLs last, breaking
// ties by id so the order is total and stable across reads.
func SortLines(lines []ScriptLine) {
	sort.Slice(lines, func(i, j int) bool {
		a, b := lines[i], lines[j]
		switch {
		case a.OrderIndex.Valid && !b.OrderIndex.Valid:
			return true
		case !a.OrderIndex.Valid && b.OrderIndex.Valid:
			return false
		case a.OrderIndex.Valid && b.OrderIndex.Valid && a.OrderIndex.Int64 != b.OrderIndex.Int64:
			return a.OrderIndex.Int64 < b.OrderIndex.Int64
		default:
			return a.ID < b.ID
		}
	})
}
