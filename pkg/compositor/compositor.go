// Package compositor forces generative edits to respect a region mask.
//
// Generative inpainting models routinely repaint pixels outside the mask they
// were given. Composite restores the original everywhere the mask says so,
// blending by mask intensity, and always keeps the original alpha channel.
// The result is a pure function of its inputs.
package compositor

import (
	"image"

	"golang.org/x/image/draw"

	"github.com/gomcpgo/replicate_image_edit/pkg/editerr"
	"github.com/gomcpgo/replicate_image_edit/pkg/imageref"
)

// Composite blends edited into original where mask is set. edited and mask
// are resampled to original's dimensions. The output is anchored at (0,0).
//
// For each pixel, weight = mask/255 and every RGB channel becomes
// original*(1-weight) + edited*weight; alpha is copied from original.
func Composite(original, edited, mask image.Image) *image.NRGBA {
	b := original.Bounds()
	w, h := b.Dx(), b.Dy()

	orig := ToNRGBA(original)
	ed := ResampleNRGBA(edited, w, h)
	m := ResampleGray(mask, w, h)

	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := orig.PixOffset(x, y)
			weight := uint32(m.Pix[m.PixOffset(x, y)])
			out.Pix[i+0] = blend(orig.Pix[i+0], ed.Pix[i+0], weight)
			out.Pix[i+1] = blend(orig.Pix[i+1], ed.Pix[i+1], weight)
			out.Pix[i+2] = blend(orig.Pix[i+2], ed.Pix[i+2], weight)
			out.Pix[i+3] = orig.Pix[i+3]
		}
	}
	return out
}

// blend computes round((o*(255-w) + e*w) / 255) in integers, so w=0 yields o
// and w=255 yields e exactly.
func blend(o, e uint8, w uint32) uint8 {
	return uint8((uint32(o)*(255-w) + uint32(e)*w + 127) / 255)
}

// CompositeImages decodes the three payloads, composites them and encodes
// the result as PNG.
func CompositeImages(original, edited, mask *imageref.Image) (*imageref.Image, error) {
	if original == nil || edited == nil || mask == nil {
		return nil, editerr.Validation("composite", "original, edited and mask images are required")
	}
	o, err := original.Decode()
	if err != nil {
		return nil, editerr.Wrap("composite: original", err)
	}
	e, err := edited.Decode()
	if err != nil {
		return nil, editerr.Wrap("composite: edited", err)
	}
	m, err := mask.Decode()
	if err != nil {
		return nil, editerr.Wrap("composite: mask", err)
	}
	return imageref.EncodePNG(Composite(o, e, m))
}

// ToNRGBA returns a non-premultiplied copy of src anchored at (0,0).
func ToNRGBA(src image.Image) *image.NRGBA {
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	if n, ok := src.(*image.NRGBA); ok {
		for y := 0; y < b.Dy(); y++ {
			copy(dst.Pix[y*dst.Stride:(y+1)*dst.Stride], n.Pix[n.PixOffset(b.Min.X, b.Min.Y+y):])
		}
		return dst
	}
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// ResampleNRGBA converts src to NRGBA at w×h, scaling only when the
// dimensions differ.
func ResampleNRGBA(src image.Image, w, h int) *image.NRGBA {
	b := src.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return ToNRGBA(src)
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

// ResampleGray converts src to single-channel intensity at w×h.
func ResampleGray(src image.Image, w, h int) *image.Gray {
	gray := ToGray(src)
	if gray.Bounds().Dx() == w && gray.Bounds().Dy() == h {
		return gray
	}
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), gray, gray.Bounds(), draw.Src, nil)
	return dst
}

// ToGray converts src to an intensity surface anchored at (0,0).
func ToGray(src image.Image) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	if g, ok := src.(*image.Gray); ok {
		for y := 0; y < b.Dy(); y++ {
			copy(dst.Pix[y*dst.Stride:(y+1)*dst.Stride], g.Pix[g.PixOffset(b.Min.X, b.Min.Y+y):])
		}
		return dst
	}
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}
