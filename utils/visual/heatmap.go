package visual

import (
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/HugoSmits86/nativewebp"

	"haruki-hca-codec/utils/cricodecs/crihca"
)

// Rows per channel: one per band, plus a separator row.
const bandRows = crihca.SamplesPerSubframe + 1

// HeatMap draws one column per frame and one row per band, channels stacked
// top to bottom with the lowest band at the bottom of each strip. Red is
// the scale factor, green the resolution. Bands with no coded data are
// black; intensity and HFR bands are tinted blue.
func HeatMap(info *crihca.Info, frames []crihca.FrameSummary) (*image.NRGBA, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames to draw")
	}
	img := image.NewNRGBA(image.Rect(0, 0, len(frames), info.ChannelCount*bandRows))
	for x, f := range frames {
		for c, ch := range f.Channels {
			top := c * bandRows
			for b := 0; b < crihca.SamplesPerSubframe; b++ {
				img.SetNRGBA(x, top+crihca.SamplesPerSubframe-1-b, bandColor(info, ch, b))
			}
			img.SetNRGBA(x, top+crihca.SamplesPerSubframe, color.NRGBA{R: 40, G: 40, B: 40, A: 255})
		}
	}
	return img, nil
}

func bandColor(info *crihca.Info, ch crihca.ChannelSummary, band int) color.NRGBA {
	black := color.NRGBA{A: 255}
	if band < len(ch.ScaleFactors) {
		sf := ch.ScaleFactors[band]
		res := 0
		if band < len(ch.Resolutions) {
			res = ch.Resolutions[band]
		}
		if sf == 0 {
			return black
		}
		return color.NRGBA{R: uint8(sf * 4), G: uint8(res * 17), A: 255}
	}
	switch {
	case len(ch.Intensity) > 0 && band < info.BaseBandCount+info.StereoBandCount:
		return color.NRGBA{B: 160, A: 255}
	case len(ch.HfrScales) > 0 && band < info.TotalBandCount:
		g := (band - info.BaseBandCount - info.StereoBandCount) / max(info.BandsPerHfrGroup, 1)
		if g >= 0 && g < len(ch.HfrScales) {
			return color.NRGBA{R: uint8(ch.HfrScales[g] * 2), B: 255, A: 255}
		}
	}
	return black
}

// Render inspects a and writes its heat map as a lossless WebP image.
func Render(w io.Writer, a *crihca.Audio) error {
	frames, err := crihca.Inspect(a)
	if err != nil {
		return fmt.Errorf("failed to inspect frames: %w", err)
	}
	img, err := HeatMap(a.Info, frames)
	if err != nil {
		return err
	}
	if err := nativewebp.Encode(w, img, nil); err != nil {
		return fmt.Errorf("failed to encode webp: %w", err)
	}
	return nil
}
