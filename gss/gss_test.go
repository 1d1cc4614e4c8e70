package gss

import (
	"testing"

	"github.com/pdbfmt/pdbfmt/symbols"
)

func TestValidateAcceptsAllowedKinds(t *testing.T) {
	payload := append([]byte{0x00, 0x10, 0x00, 0x00}, append([]byte("Foo"), 0)...)
	data := Build([][]byte{symbols.Encode(symbols.S_UDT, payload)})
	if err := Validate(data); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsDisallowedKind(t *testing.T) {
	data := Build([][]byte{symbols.Encode(symbols.S_FRAMEPROC, make([]byte, 28))})
	err := Validate(data)
	if err == nil {
		t.Fatalf("expected error for disallowed kind")
	}
	if _, ok := err.(*ErrDisallowedKind); !ok {
		t.Fatalf("err = %T, want *ErrDisallowedKind", err)
	}
}
