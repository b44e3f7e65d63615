package dispatcher

import (
	"bytes"
	"context"
	"image"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/gomcpgo/replicate_image_edit/pkg/compositor"
	"github.com/gomcpgo/replicate_image_edit/pkg/editerr"
	"github.com/gomcpgo/replicate_image_edit/pkg/editing"
	"github.com/gomcpgo/replicate_image_edit/pkg/imageref"
	"github.com/gomcpgo/replicate_image_edit/pkg/plan"
)

// inpaintTarget segments label, regenerates the masked area and composites
// the result so nothing outside the mask changes.
func (d *Dispatcher) inpaintTarget(ctx context.Context, img *imageref.Image, label, prompt string, rec *StepRecord) (*imageref.Image, error) {
	if d.caps.Inpainter == nil {
		return nil, unsupported("inpaint")
	}
	mask, err := d.locate(ctx, img, label, rec)
	if err != nil {
		return nil, err
	}
	if r, ok := maskRegion(mask); ok {
		rec.Region = &r
	}
	edited, err := d.caps.Inpainter.Inpaint(ctx, img, mask, prompt)
	if err != nil {
		return nil, err
	}
	return compositor.CompositeImages(img, edited, mask)
}

// add paints element into the grid cell named by its position.
func (d *Dispatcher) add(ctx context.Context, img *imageref.Image, o plan.Add, rec *StepRecord) (*imageref.Image, error) {
	if d.caps.Inpainter == nil {
		return nil, unsupported("inpaint")
	}
	w, h, err := dimensions(img)
	if err != nil {
		return nil, err
	}
	region := compositor.PositionRect(w, h, o.Position)
	rec.Region = &region
	feather := min(w, h) / 32
	if feather < 2 {
		feather = 2
	}
	mask, err := imageref.EncodePNG(compositor.RegionMask(w, h, region, feather))
	if err != nil {
		return nil, err
	}
	edited, err := d.caps.Inpainter.Inpaint(ctx, img, mask, o.Element)
	if err != nil {
		return nil, err
	}
	return compositor.CompositeImages(img, edited, mask)
}

// background removes the background, or replaces it with a generated scene
// composited behind the original subject.
func (d *Dispatcher) background(ctx context.Context, img *imageref.Image, description string) (*imageref.Image, error) {
	if d.caps.Background == nil {
		return nil, unsupported("background removal")
	}
	cutout, err := d.caps.Background.RemoveBackground(ctx, img)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(description) == "" {
		return cutout, nil
	}
	if d.caps.Generator == nil {
		return nil, unsupported("generation")
	}

	original, err := img.Decode()
	if err != nil {
		return nil, err
	}
	b := original.Bounds()
	scene, err := d.caps.Generator.Generate(ctx, description, b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}
	sceneImg, err := scene.Decode()
	if err != nil {
		return nil, err
	}
	cut, err := cutout.Decode()
	if err != nil {
		return nil, err
	}
	// Subject pixels are opaque in the cutout; everything else is background.
	backgroundMask := compositor.Invert(compositor.AlphaMask(cut))
	return imageref.EncodePNG(compositor.Composite(original, sceneImg, backgroundMask))
}

// move records the advisory destination region and delegates the edit to
// the native editor, which takes no region parameter.
func (d *Dispatcher) move(ctx context.Context, img *imageref.Image, o plan.Move, rec *StepRecord) (*imageref.Image, error) {
	if d.caps.Editor == nil {
		return nil, unsupported("native edit")
	}
	mask, err := d.locate(ctx, img, o.Target, rec)
	if err != nil {
		return nil, err
	}
	w, h, err := dimensions(img)
	if err != nil {
		return nil, err
	}
	if box, ok := maskRegion(mask); ok {
		region := movedRegion(box, w, h, o.NewPosition)
		rec.Region = &region
		d.logger.Debug("advisory move region",
			zap.String("target", o.Target),
			zap.Stringer("from", box),
			zap.Stringer("to", region),
		)
	}
	return d.caps.Editor.Edit(ctx, img, editing.MoveInstruction(o.Target, o.NewPosition))
}

func (d *Dispatcher) resize(ctx context.Context, img *imageref.Image, o plan.Resize, rec *StepRecord) (*imageref.Image, error) {
	if d.caps.Editor == nil {
		return nil, unsupported("native edit")
	}
	mask, err := d.locate(ctx, img, o.Target, rec)
	if err != nil {
		return nil, err
	}
	w, h, err := dimensions(img)
	if err != nil {
		return nil, err
	}
	if box, ok := maskRegion(mask); ok {
		region := scaledRegion(box, o.Scale, w, h)
		rec.Region = &region
		d.logger.Debug("advisory resize region",
			zap.String("target", o.Target),
			zap.Stringer("from", box),
			zap.Stringer("to", region),
		)
	}
	return d.caps.Editor.Edit(ctx, img, editing.ResizeInstruction(o.Target, o.Scale))
}

// observe records a report and passes the input image through unchanged.
func (d *Dispatcher) observe(ctx context.Context, img *imageref.Image, question string, rec *StepRecord) (*imageref.Image, error) {
	if d.caps.Reporter == nil {
		return nil, unsupported("report")
	}
	report, err := d.caps.Reporter.Report(ctx, img, question)
	if err != nil {
		return nil, err
	}
	rec.Report = report
	return img, nil
}

// extract returns the target's mask, co-registered with the input image.
func (d *Dispatcher) extract(ctx context.Context, img *imageref.Image, label string, rec *StepRecord) (*imageref.Image, error) {
	mask, err := d.locate(ctx, img, label, rec)
	if err != nil {
		return nil, err
	}
	w, h, err := dimensions(img)
	if err != nil {
		return nil, err
	}
	m, err := mask.Decode()
	if err != nil {
		return nil, err
	}
	if r, ok := compositor.MaskBounds(compositor.ResampleGray(m, w, h), 127); ok {
		rec.Region = &r
	}
	return imageref.EncodePNG(compositor.ResampleGray(m, w, h))
}

func dimensions(img *imageref.Image) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img.Data))
	if err != nil {
		return 0, 0, editerr.Validation("decode_image", "failed to read %s dimensions: %v", img.MIMEType, err)
	}
	return cfg.Width, cfg.Height, nil
}

// maskRegion is the bounding box of the set pixels of mask.
func maskRegion(mask *imageref.Image) (image.Rectangle, bool) {
	m, err := mask.Decode()
	if err != nil {
		return image.Rectangle{}, false
	}
	return compositor.MaskBounds(compositor.ToGray(m), 127)
}

// movedRegion centres box on the grid cell named by position.
func movedRegion(box image.Rectangle, w, h int, position string) image.Rectangle {
	cell := compositor.PositionRect(w, h, position)
	cx := (cell.Min.X + cell.Max.X) / 2
	cy := (cell.Min.Y + cell.Max.Y) / 2
	half := image.Pt(box.Dx()/2, box.Dy()/2)
	moved := image.Rectangle{Min: image.Pt(cx, cy).Sub(half), Max: image.Pt(cx, cy).Sub(half).Add(box.Size())}
	return moved.Intersect(image.Rect(0, 0, w, h))
}

// scaledRegion scales box about its centre by scale.
func scaledRegion(box image.Rectangle, scale float64, w, h int) image.Rectangle {
	cx := float64(box.Min.X+box.Max.X) / 2
	cy := float64(box.Min.Y+box.Max.Y) / 2
	hw := float64(box.Dx()) * scale / 2
	hh := float64(box.Dy()) * scale / 2
	r := image.Rect(
		int(math.Round(cx-hw)), int(math.Round(cy-hh)),
		int(math.Round(cx+hw)), int(math.Round(cy+hh)),
	)
	return r.Intersect(image.Rect(0, 0, w, h))
}
