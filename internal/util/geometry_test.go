package util

import (
	"errors"
	"testing"
)

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func TestToPercentRect(t *testing.T) {
	r := ToPercentRect(PixelRect{X: 100, Y: 100, Width: 200, Height: 200}, 1000, 2000)
	if r.X != 10 || r.Y != 5 || r.Width != 20 || r.Height != 10 {
		t.Fatalf("unexpected percent rect: %+v", r)
	}
}

func TestRoundTripWithinOnePixel(t *testing.T) {
	tests := []struct {
		name   string
		rect   PixelRect
		width  int
		height int
	}{
		{"tall page", PixelRect{X: 100, Y: 100, Width: 200, Height: 200}, 1000, 2000},
		{"square image", PixelRect{X: 33, Y: 77, Width: 140, Height: 61}, 900, 900},
		{"odd dimensions", PixelRect{X: 1, Y: 1, Width: 3, Height: 7}, 997, 1333},
		{"full image", PixelRect{X: 0, Y: 0, Width: 640, Height: 480}, 640, 480},
		{"small region large image", PixelRect{X: 2111, Y: 1999, Width: 13, Height: 17}, 4000, 6000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			percent := ToPercentRect(tt.rect, tt.width, tt.height)
			back := ToPixelRect(percent, tt.width, tt.height)

			if abs(back.X-tt.rect.X) > 1 || abs(back.Y-tt.rect.Y) > 1 ||
				abs(back.Width-tt.rect.Width) > 1 || abs(back.Height-tt.rect.Height) > 1 {
				t.Errorf("round trip drifted more than 1px: %+v -> %+v -> %+v", tt.rect, percent, back)
			}
		})
	}
}

func TestToPixelRectScalesAcrossDisplaySizes(t *testing.T) {
	// 同一百分比矩形在不同显示尺寸下应保持相对位置
	percent := PercentRect{X: 10, Y: 5, Width: 20, Height: 10}

	display := ToPixelRect(percent, 500, 1000)
	if display.X != 50 || display.Y != 50 || display.Width != 100 || display.Height != 100 {
		t.Fatalf("unexpected scaled rect: %+v", display)
	}

	natural := ToPixelRect(percent, 1000, 2000)
	if natural.X != 100 || natural.Y != 100 || natural.Width != 200 || natural.Height != 200 {
		t.Fatalf("unexpected natural rect: %+v", natural)
	}
}

func TestBoundsToRect(t *testing.T) {
	r := BoundsToRect(10, 20, 110, 70)
	want := PixelRect{X: 10, Y: 20, Width: 100, Height: 50}
	if r != want {
		t.Fatalf("got %+v, want %+v", r, want)
	}
}

func TestValidatePixelRect(t *testing.T) {
	tests := []struct {
		name    string
		rect    PixelRect
		wantErr bool
	}{
		{"valid", PixelRect{X: 0, Y: 0, Width: 10, Height: 10}, false},
		{"zero width", PixelRect{X: 5, Y: 5, Width: 0, Height: 10}, true},
		{"zero height", PixelRect{X: 5, Y: 5, Width: 10, Height: 0}, true},
		{"negative width", PixelRect{X: 5, Y: 5, Width: -3, Height: 10}, true},
		{"negative x", PixelRect{X: -1, Y: 5, Width: 10, Height: 10}, true},
		{"negative y", PixelRect{X: 5, Y: -1, Width: 10, Height: 10}, true},
		{"single pixel", PixelRect{X: 0, Y: 0, Width: 1, Height: 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePixelRect(tt.rect)
			if tt.wantErr && !errors.Is(err, ErrInvalidRegion) {
				t.Errorf("expected ErrInvalidRegion, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
