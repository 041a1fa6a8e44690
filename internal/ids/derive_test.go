package ids

import (
	"errors"
	"strings"
	"testing"
)

func TestDeriveDeterministic(t *testing.T) {
	codec := Base32Codec{}
	a, err := Derive(codec, KindSpace, []byte("code"), []byte("creator"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Derive(codec, KindSpace, []byte("code"), []byte("creator"))
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("derivation not deterministic: %s != %s", a, b)
	}
	if !strings.HasPrefix(a, "space:") {
		t.Fatalf("missing kind prefix: %s", a)
	}
}

func TestDerivePartBoundaries(t *testing.T) {
	codec := Base32Codec{}
	a, _ := Derive(codec, KindAuthorization, []byte("ab"), []byte("c"))
	b, _ := Derive(codec, KindAuthorization, []byte("a"), []byte("bc"))
	if a == b {
		t.Fatal("length prefixing should separate part boundaries")
	}
}

func TestDeriveKindsDiffer(t *testing.T) {
	codec := Base32Codec{}
	a, _ := Derive(codec, KindSpace, []byte("x"))
	b, _ := Derive(codec, KindAuthorization, []byte("x"))
	if a == b {
		t.Fatal("kinds must produce distinct identifiers")
	}
}

type rejectingCodec struct{}

func (rejectingCodec) CreateIdentifier(digest []byte, kind Kind) (string, error) {
	return "", ErrInvalidLength
}

func TestDerivePropagatesCodecRefusal(t *testing.T) {
	if _, err := Derive(rejectingCodec{}, KindSpace, []byte("x")); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
}

func TestBase32CodecRejectsBadLength(t *testing.T) {
	if _, err := (Base32Codec{}).CreateIdentifier([]byte("short"), KindSpace); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
}
