package overlay

import (
	"errors"
	"testing"

	"essay_edu_backend/internal/util"
)

func TestFormatSelector(t *testing.T) {
	got := FormatSelector(util.PercentRect{X: 10.5, Y: 5, Width: 20, Height: 10})
	want := "xywh=percent:10.5000,5.0000,20.0000,10.0000"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestParseSelector(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    util.PercentRect
		wantErr bool
	}{
		{"plain", "xywh=percent:10,5,20,10", util.PercentRect{X: 10, Y: 5, Width: 20, Height: 10}, false},
		{"decimals", "xywh=percent:10.5000,5.0000,20.0000,10.0000", util.PercentRect{X: 10.5, Y: 5, Width: 20, Height: 10}, false},
		{"spaces", "xywh=percent:10, 5, 20, 10", util.PercentRect{X: 10, Y: 5, Width: 20, Height: 10}, false},
		{"missing prefix", "10,5,20,10", util.PercentRect{}, true},
		{"pixel unit", "xywh=pixel:10,5,20,10", util.PercentRect{}, true},
		{"too few parts", "xywh=percent:10,5,20", util.PercentRect{}, true},
		{"too many parts", "xywh=percent:10,5,20,10,3", util.PercentRect{}, true},
		{"non numeric", "xywh=percent:a,b,c,d", util.PercentRect{}, true},
		{"empty", "", util.PercentRect{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSelector(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedSelector) {
					t.Fatalf("expected ErrMalformedSelector, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	in := util.PercentRect{X: 12.3456, Y: 0.0001, Width: 33.3333, Height: 99.9999}
	out, err := ParseSelector(FormatSelector(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != in {
		t.Fatalf("round trip changed rect: %+v -> %+v", in, out)
	}
}
