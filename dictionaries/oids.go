// Package dictionaries provides embedded lookup data for the
// ICAO 9303 / BSI TR-03110 object identifiers this module encounters
// while parsing EF.CardAccess, EF.COM, EF.SOD, and the SecurityInfo sets
// carried in DG14. Repurposed from the teacher's ATR/MCC-MNC dictionary
// package: same go:embed-backed, lazily-initialized lookup-table shape
// (embed.go, atr.go), new embedded payload.
package dictionaries

import (
	"bufio"
	"bytes"
	"embed"
	"strings"
	"sync"
)

//go:embed oids.csv
var content embed.FS

// OIDEntry describes one known security-protocol object identifier.
type OIDEntry struct {
	OID  string // dotted-decimal
	Name string // short protocol/algorithm name
	Kind string // "PACE", "CA", "AA", "hash", "signature", "other"
}

var (
	oidEntries map[string]OIDEntry
	oidOnce    sync.Once
)

func initOIDs() {
	oidOnce.Do(func() {
		oidEntries = make(map[string]OIDEntry)
		data, err := content.ReadFile("oids.csv")
		if err != nil {
			return
		}
		scanner := bufio.NewScanner(bytes.NewReader(data))
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			fields := strings.SplitN(line, ",", 3)
			if len(fields) < 2 {
				continue
			}
			entry := OIDEntry{OID: strings.TrimSpace(fields[0]), Name: strings.TrimSpace(fields[1])}
			if len(fields) == 3 {
				entry.Kind = strings.TrimSpace(fields[2])
			}
			oidEntries[entry.OID] = entry
		}
	})
}

// LookupOID returns the known entry for a dotted-decimal OID string.
func LookupOID(oid string) (OIDEntry, bool) {
	initOIDs()
	e, ok := oidEntries[oid]
	return e, ok
}

// OIDName returns a human-readable name for oid, or oid itself if unknown.
func OIDName(oid string) string {
	if e, ok := LookupOID(oid); ok {
		return e.Name
	}
	return oid
}

// HasPACEParameterID reports whether oid is one of the standardized
// id-PACE-* algorithm identifiers (ICAO 9303 Part 11, Protocol OIDs).
func HasPACEParameterID(oid string) bool {
	e, ok := LookupOID(oid)
	return ok && e.Kind == "PACE"
}
