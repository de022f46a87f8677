package imagerender

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/draw"
	"image/png"

	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"

	"github.com/local/questionextractor/internal/model"
)

// DefaultCropDPI is the resolution used for exported asset images.
const DefaultCropDPI = 150

type rasterizer interface {
	ImageDPI(page int, dpi float64) (*image.RGBA, error)
	Close() error
}

// Cropper renders asset regions from one open document. The last rendered
// page is kept, so regions should be cropped in page order.
type Cropper struct {
	doc  rasterizer
	DPI  int
	page int
	img  image.Image
}

// OpenCropper opens pdfPath for repeated region crops. Close it when done.
func OpenCropper(pdfPath string) (*Cropper, error) {
	doc, err := fitz.New(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	return &Cropper{doc: doc, DPI: DefaultCropDPI}, nil
}

func (c *Cropper) Close() error {
	c.img = nil
	return c.doc.Close()
}

// CropPNG renders the region's page and returns the region as PNG bytes.
func (c *Cropper) CropPNG(r model.AssetRegion) ([]byte, error) {
	img, err := c.pageImage(r.Page)
	if err != nil {
		return nil, err
	}
	sub, err := Crop(img, r.BBox, float64(c.DPI))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, sub); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	log.Debug().Int("page", r.Page).Int("png_size", buf.Len()).Msg("cropped asset region")
	return buf.Bytes(), nil
}

// pageImage returns the raster of a 1-based page.
func (c *Cropper) pageImage(page int) (image.Image, error) {
	if c.img != nil && c.page == page {
		return c.img, nil
	}
	img, err := c.doc.ImageDPI(page-1, float64(c.DPI))
	if err != nil {
		return nil, fmt.Errorf("failed to render page %d: %w", page, err)
	}
	c.page, c.img = page, img
	return img, nil
}

// Crop cuts a box given in page points (top-left origin) out of a page
// raster rendered at dpi. The box is clipped to the raster.
func Crop(img image.Image, box model.BBox, dpi float64) (image.Image, error) {
	scale := dpi / 72.0
	b := img.Bounds()
	rect := image.Rect(
		b.Min.X+int(box.X0*scale),
		b.Min.Y+int(box.Y0*scale),
		b.Min.X+int(box.X1*scale+0.5),
		b.Min.Y+int(box.Y1*scale+0.5),
	).Intersect(b)
	if rect.Empty() {
		return nil, fmt.Errorf("region %v is outside the page", box.Array())
	}
	out := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(out, out.Bounds(), img, rect.Min, draw.Src)
	return out, nil
}

// EncodeToBase64 converts binary data to base64 string
func EncodeToBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
