package protocol

import (
	"errors"
	"testing"
)

func TestArgsScan(t *testing.T) {
	args := NewArgs("XFER 16, 5,0x1F,7junk", VerbXfer)

	v, err := args.Uint()
	if err != nil || v != 16 {
		t.Errorf("Expected 16, got %d (%v)", v, err)
	}

	v, err = args.NextUint()
	if err != nil || v != 5 {
		t.Errorf("Expected blank after comma to be skipped, got %d (%v)", v, err)
	}

	if !args.Next() {
		t.Fatal("Expected a third field")
	}
	v, err = args.Hex()
	if err != nil || v != 0x1f {
		t.Errorf("Expected 0x1F, got %#x (%v)", v, err)
	}

	// Trailing junk after the digits is ignored
	v, err = args.NextUint()
	if err != nil || v != 7 {
		t.Errorf("Expected 7, got %d (%v)", v, err)
	}

	if args.Next() {
		t.Error("Expected no more fields")
	}
}

func TestArgsOptional(t *testing.T) {
	args := NewArgs("SET COM 1,,3", VerbSetCom)
	if _, err := args.Uint(); err != nil {
		t.Fatalf("mode: %v", err)
	}

	// Present but empty is malformed
	if _, err := args.OptUint(); !errors.Is(err, ErrSyntax) {
		t.Errorf("Expected ErrSyntax for empty field, got %v", err)
	}

	args = NewArgs("SET COM 1", VerbSetCom)
	args.Uint()
	o, err := args.OptUint()
	if err != nil || o.Valid {
		t.Errorf("Absent field should be invalid without error, got %+v (%v)", o, err)
	}
	if o.Or(42) != 42 {
		t.Errorf("Expected default 42, got %d", o.Or(42))
	}
}

func TestArgsRange(t *testing.T) {
	args := NewArgs("XFER 99999999999", VerbXfer)
	if _, err := args.Uint(); !errors.Is(err, ErrRange) {
		t.Errorf("Expected ErrRange for overflow, got %v", err)
	}

	args = NewArgs("XFER 1,4294967295", VerbXfer)
	args.Uint()
	if _, err := args.OptDelay(); !errors.Is(err, ErrRange) {
		t.Errorf("Expected ErrRange for a forever delay, got %v", err)
	}

	args = NewArgs("XFER 1,4294967294", VerbXfer)
	args.Uint()
	o, err := args.OptDelay()
	if err != nil || o.Value != 4294967294 {
		t.Errorf("Expected largest finite delay to be accepted, got %+v (%v)", o, err)
	}
}

func TestFrameText(t *testing.T) {
	frame := PadFrame("GET VER", CommandFrameSize)
	if len(frame) != CommandFrameSize {
		t.Errorf("Expected %d byte frame, got %d", CommandFrameSize, len(frame))
	}
	if got := FrameText(frame); got != "GET VER" {
		t.Errorf("Expected \"GET VER\", got %q", got)
	}

	// Frames without a terminator keep all bytes
	raw := []byte("GET CNT")
	if got := FrameText(raw); got != "GET CNT" {
		t.Errorf("Expected \"GET CNT\", got %q", got)
	}
}
