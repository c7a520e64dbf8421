// Package reference turns internal numeric ids into opaque, non-sequential
// reference strings and back. References are salted hashids chunked into
// hyphenated pairs ("ab-cd-ef-gh") so they read well over the phone. The
// entity kind is encoded alongside the id, so a booking reference never
// decodes as a reservation.
package reference

import (
	"fmt"
	"strings"

	"github.com/speps/go-hashids/v2"
)

const (
	DefaultMinLength = 8
	chunkSize        = 2
	delimiter        = "-"
	alphabet         = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// Kind distinguishes the id spaces sharing one encoder.
type Kind int64

const (
	KindDefinition Kind = iota + 1
	KindOccurrence
	KindReservation
	KindBooking
)

// Encoder converts between ids and references.
type Encoder interface {
	Encode(kind Kind, id int64) string
	Decode(kind Kind, ref string) (int64, error)
}

// Hashids is the production Encoder.
type Hashids struct {
	h *hashids.HashID
}

// New builds an encoder. The salt must be stable for the lifetime of the data.
func New(salt string, minLength int) (*Hashids, error) {
	if minLength <= 0 {
		minLength = DefaultMinLength
	}
	hd := hashids.NewData()
	hd.Salt = salt
	hd.MinLength = minLength
	hd.Alphabet = alphabet
	h, err := hashids.NewWithData(hd)
	if err != nil {
		return nil, fmt.Errorf("reference encoder: %w", err)
	}
	return &Hashids{h: h}, nil
}

// MustNew is New for static configuration.
func MustNew(salt string, minLength int) *Hashids {
	enc, err := New(salt, minLength)
	if err != nil {
		panic(err)
	}
	return enc
}

func (e *Hashids) Encode(kind Kind, id int64) string {
	raw, err := e.h.EncodeInt64([]int64{int64(kind), id})
	if err != nil {
		// Only negative ids fail to encode.
		panic(fmt.Sprintf("reference: cannot encode id %d: %v", id, err))
	}
	return chunk(raw)
}

func (e *Hashids) Decode(kind Kind, ref string) (int64, error) {
	raw := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(ref)), delimiter, "")
	if raw == "" {
		return 0, fmt.Errorf("invalid reference %q", ref)
	}
	ids, err := e.h.DecodeInt64WithError(raw)
	if err != nil || len(ids) != 2 || Kind(ids[0]) != kind {
		return 0, fmt.Errorf("invalid reference %q", ref)
	}
	return ids[1], nil
}

func chunk(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i += chunkSize {
		if i > 0 {
			b.WriteString(delimiter)
		}
		end := i + chunkSize
		if end > len(s) {
			end = len(s)
		}
		b.WriteString(s[i:end])
	}
	return b.String()
}
