// internal/tile/enumerator_test.go - Tests for tile enumeration
package tile

import (
	"errors"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"

	"github.com/valpere/tilecutter/internal"
	"github.com/valpere/tilecutter/pkg/geogrid"
)

var scenarioExtent = orb.Bound{Min: orb.Point{-95.84, 35.98}, Max: orb.Point{-88.99, 40.56}}

func TestEnumeratorScenario(t *testing.T) {
	e, err := NewEnumerator(geogrid.Default, ZoomRange{Min: 7, Max: 7}, scenarioExtent)
	if err != nil {
		t.Fatalf("NewEnumerator failed: %v", err)
	}

	want := []TileRange{{Level: 7, MinCol: 29, MaxCol: 32, MinRow: 77, MaxRow: 79}}
	if diff := cmp.Diff(want, e.Ranges()); diff != "" {
		t.Errorf("Ranges() mismatch (-want +got):\n%s", diff)
	}

	got := slices.Collect(e.All())
	if len(got) != 12 || e.Count() != 12 {
		t.Fatalf("got %d coordinates, Count() = %d, want 12", len(got), e.Count())
	}
	if got[0] != (Coordinate{Level: 7, Column: 29, Row: 77}) {
		t.Errorf("first coordinate = %v", got[0])
	}
	if got[1] != (Coordinate{Level: 7, Column: 30, Row: 77}) {
		t.Errorf("second coordinate = %v, want column to advance first", got[1])
	}
	if got[11] != (Coordinate{Level: 7, Column: 32, Row: 79}) {
		t.Errorf("last coordinate = %v", got[11])
	}
}

func TestEnumeratorOrderAndUniqueness(t *testing.T) {
	e, err := NewEnumerator(geogrid.Default, ZoomRange{Min: 5, Max: 9}, scenarioExtent)
	if err != nil {
		t.Fatal(err)
	}

	seen := make(map[Coordinate]bool)
	var prev *Coordinate
	var n int64
	for c := range e.All() {
		if seen[c] {
			t.Fatalf("duplicate coordinate %v", c)
		}
		seen[c] = true
		n++

		if err := ValidateCoordinate(c); err != nil {
			t.Fatalf("out of grid coordinate %v: %v", c, err)
		}

		if prev != nil {
			ordered := prev.Level < c.Level ||
				(prev.Level == c.Level && prev.Row < c.Row) ||
				(prev.Level == c.Level && prev.Row == c.Row && prev.Column < c.Column)
			if !ordered {
				t.Fatalf("%v yielded after %v", c, *prev)
			}
		}
		p := c
		prev = &p
	}

	if n != e.Count() {
		t.Errorf("yielded %d, Count() = %d", n, e.Count())
	}

	var sum int64
	for _, tr := range e.Ranges() {
		sum += int64(tr.MaxCol-tr.MinCol+1) * int64(tr.MaxRow-tr.MinRow+1)
	}
	if sum != n {
		t.Errorf("sum of range products = %d, yielded %d", sum, n)
	}
}

func TestEnumeratorIsRestartable(t *testing.T) {
	e, err := NewEnumerator(geogrid.Default, ZoomRange{Min: 6, Max: 8}, scenarioExtent)
	if err != nil {
		t.Fatal(err)
	}

	first := slices.Collect(e.All())
	second := slices.Collect(e.All())
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("second pass differs (-first +second):\n%s", diff)
	}
}

func TestEnumeratorStopsEarly(t *testing.T) {
	e, err := NewEnumerator(geogrid.Default, ZoomRange{Min: 7, Max: 10}, scenarioExtent)
	if err != nil {
		t.Fatal(err)
	}

	n := 0
	for range e.All() {
		n++
		if n == 3 {
			break
		}
	}
	if n != 3 {
		t.Errorf("iterated %d times, want 3", n)
	}
}

func TestEnumeratorWholeWorld(t *testing.T) {
	world := orb.Bound{Min: orb.Point{-180, -89}, Max: orb.Point{180, 89}}
	e, err := NewEnumerator(geogrid.Default, ZoomRange{Min: 0, Max: 2}, world)
	if err != nil {
		t.Fatal(err)
	}

	// 1 + 4 + 16
	if got := e.Count(); got != 21 {
		t.Errorf("Count() = %d, want 21", got)
	}
	for c := range e.All() {
		if err := ValidateCoordinate(c); err != nil {
			t.Errorf("coordinate %v outside grid: %v", c, err)
		}
	}
}

func TestEnumeratorNormalizesExtent(t *testing.T) {
	flipped := orb.Bound{Min: scenarioExtent.Max, Max: scenarioExtent.Min}
	a, err := NewEnumerator(geogrid.Default, ZoomRange{Min: 7, Max: 8}, scenarioExtent)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewEnumerator(geogrid.Default, ZoomRange{Min: 7, Max: 8}, flipped)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(a.Ranges(), b.Ranges()); diff != "" {
		t.Errorf("ranges differ (-sorted +flipped):\n%s", diff)
	}
}

func TestEnumeratorErrors(t *testing.T) {
	tests := []struct {
		name     string
		zooms    ZoomRange
		extent   orb.Bound
		wantCode string
		wantErr  error
	}{
		{
			name:     "inverted zoom",
			zooms:    ZoomRange{Min: 8, Max: 7},
			extent:   scenarioExtent,
			wantCode: internal.ErrorCodeValidation,
			wantErr:  geogrid.ErrZoomOutOfRange,
		},
		{
			name:     "zoom too deep",
			zooms:    ZoomRange{Min: 0, Max: geogrid.MaxZoom + 1},
			extent:   scenarioExtent,
			wantCode: internal.ErrorCodeValidation,
			wantErr:  geogrid.ErrZoomOutOfRange,
		},
		{
			name:     "pole",
			zooms:    ZoomRange{Min: 1, Max: 1},
			extent:   orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 90}},
			wantCode: internal.ErrorCodeDomain,
			wantErr:  geogrid.ErrLatitudeOutOfRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEnumerator(geogrid.Default, tt.zooms, tt.extent)
			if err == nil {
				t.Fatal("expected error")
			}
			if code := internal.CodeOf(err); code != tt.wantCode {
				t.Errorf("code = %s, want %s", code, tt.wantCode)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error %v does not wrap %v", err, tt.wantErr)
			}
		})
	}
}
