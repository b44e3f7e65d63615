package compositor

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/gomcpgo/replicate_image_edit/pkg/imageref"
)

// pattern returns a w×h NRGBA image with varied channels and partial alpha.
func pattern(w, h int, seed uint8) *image.NRGBA {
	m := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			m.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x*31) + seed,
				G: uint8(y*17) + seed*3,
				B: uint8(x*y) ^ seed,
				A: uint8(128 + (x+y)%128),
			})
		}
	}
	return m
}

func uniformGray(w, h int, v uint8) *image.Gray {
	m := image.NewGray(image.Rect(0, 0, w, h))
	for i := range m.Pix {
		m.Pix[i] = v
	}
	return m
}

func TestComposite_ZeroMaskIsIdentity(t *testing.T) {
	orig := pattern(16, 12, 3)
	edited := pattern(16, 12, 200)

	out := Composite(orig, edited, uniformGray(16, 12, 0))

	if !bytes.Equal(out.Pix, orig.Pix) {
		t.Error("expected output to equal the original for an all-zero mask")
	}
}

func TestComposite_FullMaskTakesEditedRGBKeepsOriginalAlpha(t *testing.T) {
	orig := pattern(16, 12, 3)
	edited := image.NewRGBA(image.Rect(0, 0, 16, 12))
	for y := 0; y < 12; y++ {
		for x := 0; x < 16; x++ {
			edited.SetRGBA(x, y, color.RGBA{R: uint8(x * 9), G: 77, B: uint8(y * 13), A: 255})
		}
	}

	out := Composite(orig, edited, uniformGray(16, 12, 255))

	for y := 0; y < 12; y++ {
		for x := 0; x < 16; x++ {
			got := out.NRGBAAt(x, y)
			e := edited.RGBAAt(x, y)
			if got.R != e.R || got.G != e.G || got.B != e.B {
				t.Fatalf("pixel (%d,%d): expected edited rgb %v, got %v", x, y, e, got)
			}
			if got.A != orig.NRGBAAt(x, y).A {
				t.Fatalf("pixel (%d,%d): expected original alpha %d, got %d", x, y, orig.NRGBAAt(x, y).A, got.A)
			}
		}
	}
}

func TestComposite_TransparentEditCannotLeakAlpha(t *testing.T) {
	orig := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for i := range orig.Pix {
		orig.Pix[i] = 255
	}
	edited := image.NewNRGBA(image.Rect(0, 0, 4, 4)) // fully transparent

	out := Composite(orig, edited, uniformGray(4, 4, 255))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			if out.NRGBAAt(x, y).A != 255 {
				t.Fatalf("alpha leaked from edited image at (%d,%d)", x, y)
			}
		}
	}
}

func TestComposite_HalfMaskBlends(t *testing.T) {
	orig := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	orig.SetNRGBA(0, 0, color.NRGBA{R: 0, G: 100, B: 255, A: 255})
	edited := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	edited.SetNRGBA(0, 0, color.NRGBA{R: 255, G: 200, B: 0, A: 255})

	out := Composite(orig, edited, uniformGray(1, 1, 128))
	got := out.NRGBAAt(0, 0)
	want := color.NRGBA{R: 128, G: 150, B: 127, A: 255}
	if got != want {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestComposite_ResamplesMismatchedInputs(t *testing.T) {
	orig := pattern(20, 10, 1)
	edited := pattern(40, 20, 9)
	mask := uniformGray(5, 5, 0)

	out := Composite(orig, edited, mask)

	if out.Bounds() != image.Rect(0, 0, 20, 10) {
		t.Fatalf("expected original dimensions, got %v", out.Bounds())
	}
	if !bytes.Equal(out.Pix, orig.Pix) {
		t.Error("expected identity for a resampled all-zero mask")
	}
}

func TestComposite_OffsetOriginal(t *testing.T) {
	full := pattern(10, 10, 5)
	sub := full.SubImage(image.Rect(2, 3, 8, 9)).(*image.NRGBA)

	out := Composite(sub, pattern(6, 6, 50), uniformGray(6, 6, 0))
	for y := 0; y < 6; y++ {
		for x := 0; x < 6; x++ {
			if out.NRGBAAt(x, y) != full.NRGBAAt(x+2, y+3) {
				t.Fatalf("pixel (%d,%d) not preserved", x, y)
			}
		}
	}
}

func TestCompositeImages_Deterministic(t *testing.T) {
	enc := func(m image.Image) *imageref.Image {
		img, err := imageref.EncodePNG(m)
		if err != nil {
			t.Fatal(err)
		}
		return img
	}
	orig := enc(pattern(24, 18, 4))
	edited := enc(pattern(30, 30, 99))
	mask := enc(RegionMask(24, 18, image.Rect(4, 4, 12, 12), 3))

	a, err := CompositeImages(orig, edited, mask)
	if err != nil {
		t.Fatal(err)
	}
	b, err := CompositeImages(orig, edited, mask)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a.Data, b.Data) {
		t.Error("expected byte-identical output for identical inputs")
	}
}

func TestCompositeImages_RequiresAllInputs(t *testing.T) {
	if _, err := CompositeImages(nil, nil, nil); err == nil {
		t.Error("expected validation error")
	}
}
