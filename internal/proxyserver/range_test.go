package proxyserver

import (
	"errors"
	"testing"
)

func TestParseRangeNoHeader(t *testing.T) {
	start, end, endKnown, err := parseRange("")
	if err != nil {
		t.Fatalf("parseRange(\"\") error = %v", err)
	}
	if start != 0 || end != 0 || endKnown {
		t.Fatalf("parseRange(\"\") = (%d, %d, %v), want (0, 0, false)", start, end, endKnown)
	}
}

func TestParseRangeOpenEnded(t *testing.T) {
	start, _, endKnown, err := parseRange("bytes=100-")
	if err != nil {
		t.Fatalf("parseRange error = %v", err)
	}
	if start != 100 || endKnown {
		t.Fatalf("parseRange(bytes=100-) = (%d, endKnown=%v), want (100, false)", start, endKnown)
	}
}

func TestParseRangeBounded(t *testing.T) {
	start, end, endKnown, err := parseRange("bytes=0-499")
	if err != nil {
		t.Fatalf("parseRange error = %v", err)
	}
	if start != 0 || end != 499 || !endKnown {
		t.Fatalf("parseRange(bytes=0-499) = (%d, %d, %v), want (0, 499, true)", start, end, endKnown)
	}
}

func TestParseRangeSuffixRejected(t *testing.T) {
	_, _, _, err := parseRange("bytes=-500")
	if !errors.Is(err, errInvalidRange) {
		t.Fatalf("parseRange(bytes=-500) error = %v, want errInvalidRange", err)
	}
}

func TestParseRangeMultiRangeRejected(t *testing.T) {
	_, _, _, err := parseRange("bytes=0-1,2-3")
	if !errors.Is(err, errInvalidRange) {
		t.Fatalf("parseRange multi-range error = %v, want errInvalidRange", err)
	}
}

func TestParseRangeMalformedUnitRejected(t *testing.T) {
	_, _, _, err := parseRange("items=0-1")
	if !errors.Is(err, errInvalidRange) {
		t.Fatalf("parseRange bad unit error = %v, want errInvalidRange", err)
	}
}

func TestParseRangeEndBeforeStartRejected(t *testing.T) {
	_, _, _, err := parseRange("bytes=500-100")
	if !errors.Is(err, errInvalidRange) {
		t.Fatalf("parseRange end<start error = %v, want errInvalidRange", err)
	}
}

func TestParseRangeNonNumericRejected(t *testing.T) {
	_, _, _, err := parseRange("bytes=abc-def")
	if !errors.Is(err, errInvalidRange) {
		t.Fatalf("parseRange non-numeric error = %v, want errInvalidRange", err)
	}
}
