package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// IDPrefix marks event ids derived by this engine. Every character of a
// derived id (prefix plus lowercase hex) is in the base32hex alphabet, so
// the id can double as a client-specified remote id.
const IDPrefix = "fftb"

// identityDomain separates event identity hashes from any other use of the
// same inputs. The version suffix allows a future algorithm change.
const identityDomain = "tbsync/event/v1"

// idHexLen is the number of hex characters kept after the prefix (128 bits).
const idHexLen = 32

// DeriveEventID computes the stable identity of an engine-owned event.
//
// The hash covers the plan date, the NFC-normalized trimmed name, the start
// instant in UTC and the event's index in the plan. Recomputing with the same
// inputs always yields the same id, which lets a restarted process recreate
// events idempotently.
func DeriveEventID(date, name string, start time.Time, index int) string {
	h := sha256.New()
	h.Write([]byte(identityDomain))
	for _, field := range []string{
		date,
		norm.NFC.String(strings.TrimSpace(name)),
		start.UTC().Format(time.RFC3339),
		strconv.Itoa(index),
	} {
		h.Write([]byte{0x00})
		h.Write([]byte(field))
	}
	return IDPrefix + hex.EncodeToString(h.Sum(nil))[:idHexLen]
}

// IsOwnedID reports whether id was derived by this engine.
func IsOwnedID(id string) bool {
	return strings.HasPrefix(id, IDPrefix)
}

// AssignIDs fills in derived ids for non-foreign events that have none.
// Events whose timing does not resolve on its own use the zero start, so
// callers usually run ResolveTimings first.
func AssignIDs(p Plan) Plan {
	out := p.Clone()
	for i, e := range out.Events {
		if e.ID != "" || e.Foreign {
			continue
		}
		start, _, _ := e.Window()
		out.Events[i].ID = DeriveEventID(p.Date, e.Name, start, i)
	}
	return out
}
