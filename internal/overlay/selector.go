package overlay

import (
	"fmt"
	"strconv"
	"strings"

	"essay_edu_backend/internal/util"
)

// 叠加层上报框选区域使用media-fragment风格的百分比选择器，
// 形如 xywh=percent:10.5,5,20,10
const selectorPrefix = "xywh=percent:"

func FormatSelector(r util.PercentRect) string {
	return fmt.Sprintf("%s%s,%s,%s,%s",
		selectorPrefix,
		formatCoord(r.X),
		formatCoord(r.Y),
		formatCoord(r.Width),
		formatCoord(r.Height),
	)
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func ParseSelector(s string) (util.PercentRect, error) {
	var rect util.PercentRect
	if !strings.HasPrefix(s, selectorPrefix) {
		return rect, ErrMalformedSelector
	}

	parts := strings.Split(strings.TrimPrefix(s, selectorPrefix), ",")
	if len(parts) != 4 {
		return rect, ErrMalformedSelector
	}

	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return rect, ErrMalformedSelector
		}
		vals[i] = v
	}

	rect.X, rect.Y, rect.Width, rect.Height = vals[0], vals[1], vals[2], vals[3]
	return rect, nil
}
