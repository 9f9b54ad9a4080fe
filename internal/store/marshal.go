package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/lokitest/internal/directive"
)

// timeLayout keeps stored timestamps lexically sortable.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// marshalDirectives returns the canonical JSON and fingerprint of ds. A nil
// slice means the case never reached CHECKING and stores NULL for both.
func marshalDirectives(ds []directive.Directive) (data, fingerprint sql.NullString, err error) {
	if ds == nil {
		return data, fingerprint, nil
	}

	raw, err := directive.MarshalCanonical(ds)
	if err != nil {
		return data, fingerprint, fmt.Errorf("marshal directives: %w", err)
	}
	fp, err := directive.Fingerprint(ds)
	if err != nil {
		return data, fingerprint, err
	}

	return sql.NullString{String: string(raw), Valid: true}, sql.NullString{String: fp, Valid: true}, nil
}

// unmarshalDirectives parses canonical JSON TEXT back to directives. Line
// numbers are not stored and come back as zero.
func unmarshalDirectives(data sql.NullString) ([]directive.Directive, error) {
	if !data.Valid {
		return nil, nil
	}
	ds := []directive.Directive{}
	if err := json.Unmarshal([]byte(data.String), &ds); err != nil {
		return nil, fmt.Errorf("unmarshal directives: %w", err)
	}
	return ds, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
