package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// Domain prefix for iteration snapshot digests. The version suffix enables
// future algorithm migration without invalidating old run directories.
const domainIteration = "scoter/iteration/v1"

// Digest computes a stable content digest of an iteration snapshot.
//
// The run directory stamps this digest into each iteration's metadata at
// commit time and verifies it on read, so a resumed run can detect a
// corrupted or hand-edited snapshot before trusting it.
//
// Stability rules:
//   - map entries are visited in sorted key order
//   - strings are NFC normalized before hashing
//   - floats are written with strconv 'g' formatting at full precision,
//     which round-trips exactly for float64
func (it Iteration) Digest() string {
	h := sha256.New()
	h.Write([]byte(domainIteration))
	h.Write([]byte{0x00}) // null separator prevents domain/data ambiguity

	writeInt(h, int64(it.Index))
	for _, ev := range it.Events {
		writeEvent(h, ev)
	}
	writeTermMap(h, it.Terms.Static)
	writePerEvent(h, it.Terms.PerEvent)
	if it.Dispersion != nil {
		writeFloat(h, *it.Dispersion)
	}

	return hex.EncodeToString(h.Sum(nil))
}

func writeEvent(w io.Writer, ev Event) {
	writeString(w, ev.Name)
	writeString(w, string(ev.Status))
	writeString(w, ev.FailReason)
	writeFloat(w, ev.Hypo.Lat)
	writeFloat(w, ev.Hypo.Lon)
	writeFloat(w, ev.Hypo.DepthKm)
	writeFloat(w, ev.Hypo.Time)
	for _, p := range ev.Picks {
		writeString(w, p.Network)
		writeString(w, p.Station)
		writeString(w, p.Phase)
		writeFloat(w, p.Time)
	}
	for _, key := range sortedKeys(ev.Residuals) {
		writeString(w, key.String())
		writeFloat(w, ev.Residuals[key])
	}
	for _, key := range sortedKeys(ev.Distances) {
		writeString(w, key.String())
		writeFloat(w, ev.Distances[key])
	}
}

func writeTermMap(w io.Writer, terms map[TermKey]Term) {
	keys := make([]TermKey, 0, len(terms))
	for k := range terms {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Station != keys[j].Station {
			return keys[i].Station < keys[j].Station
		}
		return keys[i].Phase < keys[j].Phase
	})
	for _, k := range keys {
		t := terms[k]
		writeString(w, k.String())
		writeFloat(w, t.Correction)
		writeInt(w, int64(t.Count))
	}
}

func writePerEvent(w io.Writer, perEvent map[string]map[TermKey]Term) {
	names := make([]string, 0, len(perEvent))
	for name := range perEvent {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		writeString(w, name)
		writeTermMap(w, perEvent[name])
	}
}

func sortedKeys(m map[TermKey]float64) []TermKey {
	keys := make([]TermKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Station != keys[j].Station {
			return keys[i].Station < keys[j].Station
		}
		return keys[i].Phase < keys[j].Phase
	})
	return keys
}

func writeString(w io.Writer, s string) {
	// NFC normalize at the hashing boundary so byte-different but
	// canonically equal station labels digest identically.
	b := []byte(norm.NFC.String(s))
	writeInt(w, int64(len(b)))
	w.Write(b)
}

func writeFloat(w io.Writer, f float64) {
	writeString(w, strconv.FormatFloat(f, 'g', -1, 64))
}

func writeInt(w io.Writer, n int64) {
	fmt.Fprintf(w, "%d\x00", n)
}
