package docstore

import (
	"encoding/json"
	"math"
	"testing"
	"time"
)

func TestTimestampShapes(t *testing.T) {
	want := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	local := want.In(time.FixedZone("EST", -5*3600))

	tests := []struct {
		name string
		in   any
		want time.Time
		ok   bool
	}{
		{"time value", local, want, true},
		{"time pointer", &local, want, true},
		{"iso utc", "2024-01-01T10:00:00Z", want, true},
		{"iso fractional", "2024-01-01T10:00:00.000Z", want, true},
		{"iso offset", "2024-01-01T05:00:00-05:00", want, true},
		{"iso without zone", "2024-01-01T10:00:00", want, true},
		{"iso date", "2024-01-01", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"epoch millis float", float64(want.UnixMilli()), want, true},
		{"epoch millis int64", want.UnixMilli(), want, true},
		{"json number", json.Number("1704103200000"), want, true},
		{"seconds map", map[string]any{"seconds": float64(want.Unix()), "nanoseconds": float64(0)}, want, true},
		{"underscore seconds map", map[string]any{"_seconds": float64(want.Unix()), "_nanoseconds": float64(500)}, want.Add(500 * time.Nanosecond), true},
		{"seconds map without nanos", map[string]any{"seconds": want.Unix()}, want, true},
		{"nil", nil, time.Time{}, false},
		{"zero time", time.Time{}, time.Time{}, false},
		{"nil pointer", (*time.Time)(nil), time.Time{}, false},
		{"blank string", "  ", time.Time{}, false},
		{"garbage string", "next tuesday", time.Time{}, false},
		{"bool", true, time.Time{}, false},
		{"map without seconds", map[string]any{"nanos": 1}, time.Time{}, false},
		{"map with string seconds", map[string]any{"seconds": "1704103200"}, time.Time{}, false},
		{"nan", math.NaN(), time.Time{}, false},
		{"slice", []any{1, 2}, time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Timestamp(tt.in)
			if ok != tt.ok {
				t.Fatalf("expected ok=%v, got %v (%v)", tt.ok, ok, got)
			}
			if ok && !got.Equal(tt.want) {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
			if ok && got.Location() != time.UTC {
				t.Fatalf("expected UTC, got %s", got.Location())
			}
		})
	}
}

func TestFormatTimestampSortsChronologically(t *testing.T) {
	a := FormatTimestamp(time.Date(2024, 1, 1, 9, 59, 59, 999_000_000, time.UTC))
	b := FormatTimestamp(time.Date(2024, 1, 1, 10, 0, 0, 0, time.FixedZone("X", 0)))
	if a != "2024-01-01T09:59:59.999Z" || b != "2024-01-01T10:00:00.000Z" {
		t.Fatalf("unexpected formatting %s %s", a, b)
	}
	if !(a < b) {
		t.Fatal("expected lexical order to match chronological order")
	}
}

func TestAliasesPriority(t *testing.T) {
	start := Aliases{"startAt", "start", "startTime"}

	fields := map[string]any{
		"start":     "2024-01-01T10:00:00Z",
		"startTime": "2023-01-01T10:00:00Z",
	}
	got, ok := start.Timestamp(fields)
	if !ok || got.Year() != 2024 {
		t.Fatalf("expected start alias to win, got %v %v", got, ok)
	}

	fields["startAt"] = nil
	if _, name, _ := start.Lookup(fields); name != "start" {
		t.Fatalf("expected nil value to be skipped, got %s", name)
	}

	fields["startAt"] = "garbage"
	if _, ok := start.Timestamp(fields); ok {
		t.Fatal("expected unparseable winning alias to resolve to absent")
	}

	if _, ok := start.Timestamp(map[string]any{}); ok {
		t.Fatal("expected empty document to resolve to absent")
	}
}

func TestAliasesString(t *testing.T) {
	practitioner := Aliases{"practitionerId", "providerId"}
	if got := practitioner.String(map[string]any{"practitionerId": " ", "providerId": " p1 "}); got != "p1" {
		t.Fatalf("expected p1, got %q", got)
	}
	if got := practitioner.String(map[string]any{"practitionerId": 7}); got != "" {
		t.Fatalf("expected non-strings ignored, got %q", got)
	}
}

func TestSplitAndJoin(t *testing.T) {
	collection, id, err := Split(Join("clinics", "c1", "public", "availability", "blocks", "a1"))
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if collection != "clinics/c1/public/availability/blocks" || id != "a1" {
		t.Fatalf("unexpected split %s %s", collection, id)
	}
	if CollectionID(collection) != "blocks" {
		t.Fatalf("unexpected collection id %s", CollectionID(collection))
	}
	if CollectionID("invites") != "invites" {
		t.Fatal("expected root collection id to be itself")
	}

	for _, bad := range []string{"clinics", "clinics/c1/closures", "clinics//x/y", ""} {
		if _, _, err := Split(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}
