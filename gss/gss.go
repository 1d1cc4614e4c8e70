// Package gss implements the Global Symbol Stream (spec.md §4.5.1): a flat
// sequence of framed symbol records with no in-stream header, shared by
// every GSI/PSI Symbol Name Table as the table each indexes into.
package gss

import (
	"fmt"

	"github.com/pdbfmt/pdbfmt/symbols"
)

// AllowedKinds is the documented set of symbol kinds permitted directly in
// the GSS: public symbols, global/static data and procedures, and the
// *REF/*REF2 cross-module reference records GSI indexes.
var AllowedKinds = map[symbols.Kind]bool{
	symbols.S_PUB32:      true,
	symbols.S_GDATA32:    true,
	symbols.S_LDATA32:    true,
	symbols.S_GTHREAD32:  true,
	symbols.S_LTHREAD32:  true,
	symbols.S_GPROC32:    true,
	symbols.S_LPROC32:    true,
	symbols.S_GPROC32_ID: true,
	symbols.S_LPROC32_ID: true,
	symbols.S_UDT:        true,
	symbols.S_CONSTANT:   true,
	symbols.S_PROCREF:    true,
	symbols.S_LPROCREF:   true,
	symbols.S_DATAREF:    true,
	symbols.S_PROCREF2:   true,
	symbols.S_LPROCREF2:  true,
	symbols.S_DATAREF2:   true,
}

// ErrDisallowedKind is returned by Validate for a symbol kind outside
// AllowedKinds.
type ErrDisallowedKind struct {
	Kind symbols.Kind
}

func (e *ErrDisallowedKind) Error() string {
	return fmt.Sprintf("gss: symbol kind %v not permitted in the global symbol stream", e.Kind)
}

// Iterator walks a GSS's framed symbol records.
func Iterator(data []byte) *symbols.Iterator { return symbols.NewIterator(data) }

// Validate checks that every record in data is one of AllowedKinds.
func Validate(data []byte) error {
	it := Iterator(data)
	for {
		rec, err := it.Next()
		if err != nil {
			return err
		}
		if rec == nil {
			return nil
		}
		if !AllowedKinds[rec.Kind] {
			return &ErrDisallowedKind{Kind: rec.Kind}
		}
	}
}

// Build concatenates pre-encoded symbol records into a GSS's raw bytes.
// Each element of records must already be framed (e.g. via symbols.Encode).
func Build(records [][]byte) []byte {
	var out []byte
	for _, r := range records {
		out = append(out, r...)
	}
	return out
}
