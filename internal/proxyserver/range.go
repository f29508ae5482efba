package proxyserver

import (
	"errors"
	"strconv"
	"strings"
)

// errInvalidRange classifies a syntactically malformed Range header into
// the 400 spec §6 requires. Named the way the teacher's server_utils.go
// names its own errInvalidRange, adapted to reject suffix ranges outright
// (spec §6: "positive ranges only — negative suffix ranges → 400") instead
// of resolving them against a known size. Range-not-satisfiable (416) is a
// semantic failure that needs a known source length, which this parser
// never has — that check happens downstream against
// cachedomain.ErrHTTPRange once the Cache Stream knows the length.
var errInvalidRange = errors.New("invalid range")

// parseRange parses a Range header value of the form "bytes=N-[M]". An
// empty header means "no Range requested" (start 0, endKnown false, full
// body). Suffix ranges ("bytes=-500") and multi-range requests
// ("bytes=0-1,2-3") are rejected as invalid rather than resolved, per
// spec §6 ("Range: bytes=N-[M] only").
func parseRange(header string) (start, end int64, endKnown bool, err error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, 0, false, nil
	}

	lower := strings.ToLower(header)
	if !strings.HasPrefix(lower, "bytes=") {
		return 0, 0, false, errInvalidRange
	}
	spec := strings.TrimSpace(header[len("bytes="):])
	if spec == "" || strings.Contains(spec, ",") {
		return 0, 0, false, errInvalidRange
	}

	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false, errInvalidRange
	}
	startStr := strings.TrimSpace(parts[0])
	endStr := strings.TrimSpace(parts[1])

	if startStr == "" {
		// Suffix range: "bytes=-500". Not supported per spec §6.
		return 0, 0, false, errInvalidRange
	}

	start, parseErr := strconv.ParseInt(startStr, 10, 64)
	if parseErr != nil || start < 0 {
		return 0, 0, false, errInvalidRange
	}

	if endStr == "" {
		return start, 0, false, nil
	}

	end, parseErr = strconv.ParseInt(endStr, 10, 64)
	if parseErr != nil || end < 0 {
		return 0, 0, false, errInvalidRange
	}
	if end < start {
		return 0, 0, false, errInvalidRange
	}
	return start, end, true, nil
}
