package compositor

import (
	"image"
	"strings"
)

// RegionMask returns a w×h mask that is 255 inside r and falls off linearly
// to 0 over feather pixels outside it.
func RegionMask(w, h int, r image.Rectangle, feather int) *image.Gray {
	m := image.NewGray(image.Rect(0, 0, w, h))
	r = r.Intersect(m.Bounds())
	if r.Empty() {
		return m
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			d := distance(r, x, y)
			switch {
			case d == 0:
				m.Pix[m.PixOffset(x, y)] = 255
			case feather > 0 && d < feather:
				m.Pix[m.PixOffset(x, y)] = uint8(255 * (feather - d) / feather)
			}
		}
	}
	return m
}

// distance is the Chebyshev distance from (x,y) to r, zero inside.
func distance(r image.Rectangle, x, y int) int {
	dx, dy := 0, 0
	if x < r.Min.X {
		dx = r.Min.X - x
	} else if x >= r.Max.X {
		dx = x - r.Max.X + 1
	}
	if y < r.Min.Y {
		dy = r.Min.Y - y
	} else if y >= r.Max.Y {
		dy = y - r.Max.Y + 1
	}
	if dx > dy {
		return dx
	}
	return dy
}

// Invert returns 255-m for every pixel.
func Invert(m *image.Gray) *image.Gray {
	out := image.NewGray(m.Bounds())
	for i, v := range m.Pix {
		out.Pix[i] = 255 - v
	}
	return out
}

// AlphaMask extracts the alpha channel of src as an intensity surface.
func AlphaMask(src image.Image) *image.Gray {
	n := ToNRGBA(src)
	b := n.Bounds()
	out := image.NewGray(b)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.Pix[out.PixOffset(x, y)] = n.Pix[n.PixOffset(x, y)+3]
		}
	}
	return out
}

// MaskBounds returns the bounding box of pixels above threshold.
func MaskBounds(m *image.Gray, threshold uint8) (image.Rectangle, bool) {
	b := m.Bounds()
	box := image.Rectangle{}
	found := false
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if m.Pix[m.PixOffset(x, y)] <= threshold {
				continue
			}
			px := image.Rect(x, y, x+1, y+1)
			if !found {
				box, found = px, true
			} else {
				box = box.Union(px)
			}
		}
	}
	return box, found
}

// PositionRect maps a free-text spatial tag such as "top-left" or
// "bottom center" onto a cell of a 3×3 grid over a w×h image. Unknown tags
// map to the center cell.
func PositionRect(w, h int, position string) image.Rectangle {
	col, row := 1, 1
	tag := strings.ToLower(position)
	switch {
	case strings.Contains(tag, "left"):
		col = 0
	case strings.Contains(tag, "right"):
		col = 2
	}
	switch {
	case strings.Contains(tag, "top"), strings.Contains(tag, "upper"):
		row = 0
	case strings.Contains(tag, "bottom"), strings.Contains(tag, "lower"):
		row = 2
	}
	cw, ch := w/3, h/3
	r := image.Rect(col*cw, row*ch, (col+1)*cw, (row+1)*ch)
	if col == 2 {
		r.Max.X = w
	}
	if row == 2 {
		r.Max.Y = h
	}
	return r
}
