package util

import "math"

// PixelRect 图片像素空间的矩形
type PixelRect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// PercentRect 相对图片尺寸的百分比矩形，叠加层内部使用该空间
type PercentRect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func ToPercentRect(r PixelRect, imageWidth, imageHeight int) PercentRect {
	return PercentRect{
		X:      float64(r.X) / float64(imageWidth) * 100,
		Y:      float64(r.Y) / float64(imageHeight) * 100,
		Width:  float64(r.Width) / float64(imageWidth) * 100,
		Height: float64(r.Height) / float64(imageHeight) * 100,
	}
}

func ToPixelRect(r PercentRect, imageWidth, imageHeight int) PixelRect {
	return PixelRect{
		X:      int(math.Round(r.X / 100 * float64(imageWidth))),
		Y:      int(math.Round(r.Y / 100 * float64(imageHeight))),
		Width:  int(math.Round(r.Width / 100 * float64(imageWidth))),
		Height: int(math.Round(r.Height / 100 * float64(imageHeight))),
	}
}

// BoundsToRect 由起止坐标构造矩形
func BoundsToRect(xStart, yStart, xEnd, yEnd int) PixelRect {
	return PixelRect{X: xStart, Y: yStart, Width: xEnd - xStart, Height: yEnd - yStart}
}

// ValidatePixelRect 零面积或负起点的矩形不得进入存储
func ValidatePixelRect(r PixelRect) error {
	if r.Width <= 0 || r.Height <= 0 || r.X < 0 || r.Y < 0 {
		return ErrInvalidRegion
	}
	return nil
}
