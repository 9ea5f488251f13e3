package projection

import (
	"image"
	"image/color"
	"math"
)

// SampleColors reads the nearest pixel color for each visible point of proj, in point order.
// The returned slice has one entry per set mask bit; the mask itself is returned unchanged.
// Coordinates are rounded half to even and never interpolated.
func SampleColors(img image.Image, proj Projection) ([]color.NRGBA, []bool) {
	colors := make([]color.NRGBA, 0, proj.Visible())
	bounds := img.Bounds()
	for i, ok := range proj.Mask {
		if !ok {
			continue
		}
		u, v := proj.Pixel(i)
		x := bounds.Min.X + int(math.RoundToEven(u))
		y := bounds.Min.Y + int(math.RoundToEven(v))
		c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
		c.A = math.MaxUint8
		colors = append(colors, c)
	}
	return colors, proj.Mask
}
