package fingerprint

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ProbeText is drawn twice onto the probe raster
const ProbeText = "CFA-ZERO-TRUST"

// RasterProbe renders a fixed scene off-screen and returns the encoded raster bytes
type RasterProbe interface {
	Render() ([]byte, error)
	Describe() string
}

// CanvasProbe draws shapes and text onto an in-memory RGBA surface. The output depends
// on the rasterizer and encoder of the build, which is the variation it contributes.
type CanvasProbe struct {
	Width  int
	Height int
}

// NewCanvasProbe creates the default 240x60 probe
func NewCanvasProbe() *CanvasProbe {
	return &CanvasProbe{Width: 240, Height: 60}
}

// Describe identifies the surface geometry
func (p *CanvasProbe) Describe() string {
	return fmt.Sprintf("rgba:%dx%d", p.Width, p.Height)
}

// Render implements RasterProbe
func (p *CanvasProbe) Render() ([]byte, error) {
	if p.Width <= 0 || p.Height <= 0 {
		return nil, fmt.Errorf("invalid probe surface %dx%d", p.Width, p.Height)
	}

	img := image.NewRGBA(image.Rect(0, 0, p.Width, p.Height))

	orange := color.RGBA{R: 0xff, G: 0x66, B: 0x00, A: 0xff}
	draw.Draw(img, image.Rect(125, 1, 187, 21), image.NewUniform(orange), image.Point{}, draw.Src)

	drawText(img, ProbeText, 2, 15, color.RGBA{R: 0x00, G: 0x66, B: 0x99, A: 0xff})
	drawText(img, ProbeText, 4, 17, color.NRGBA{R: 102, G: 204, B: 0, A: 178})

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode probe raster: %w", err)
	}
	return buf.Bytes(), nil
}

func drawText(dst draw.Image, text string, x, y int, c color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}
