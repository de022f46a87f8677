package enrich

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/local/questionextractor/internal/imagerender"
	"github.com/local/questionextractor/internal/model"
)

// ImageDescriber is what RegionDescriber needs from a Describer.
type ImageDescriber interface {
	Describe(ctx context.Context, imageB64, mime string) (string, error)
}

// RegionDescriber crops regions out of a PDF and describes them one by one.
type RegionDescriber struct {
	Images ImageDescriber
	// Crop renders a region as PNG. Defaults to a go-fitz cropper.
	Crop func(pdfPath string) (CropFunc, func(), error)
}

// CropFunc returns PNG bytes for one region.
type CropFunc func(model.AssetRegion) ([]byte, error)

func NewRegionDescriber(images ImageDescriber) *RegionDescriber {
	return &RegionDescriber{Images: images, Crop: fitzCrop}
}

func fitzCrop(pdfPath string) (CropFunc, func(), error) {
	c, err := imagerender.OpenCropper(pdfPath)
	if err != nil {
		return nil, nil, err
	}
	return c.CropPNG, func() { _ = c.Close() }, nil
}

// DescribeRegions describes regions[i] for each i in only. Every index ends
// up in exactly one of the two returned maps.
func (r *RegionDescriber) DescribeRegions(ctx context.Context, pdfPath string, regions []model.AssetRegion, only []int) (map[int]string, map[int]error) {
	texts := map[int]string{}
	errs := map[int]error{}
	if len(only) == 0 {
		return texts, errs
	}
	crop, done, err := r.Crop(pdfPath)
	if err != nil {
		for _, i := range only {
			errs[i] = fmt.Errorf("open for crop: %w", err)
		}
		return texts, errs
	}
	defer done()

	for _, i := range only {
		if i < 0 || i >= len(regions) {
			errs[i] = fmt.Errorf("region index %d out of range", i)
			continue
		}
		png, err := crop(regions[i])
		if err != nil {
			errs[i] = err
			continue
		}
		text, err := r.Images.Describe(ctx, imagerender.EncodeToBase64(png), "image/png")
		if err != nil {
			log.Warn().Err(err).Str("asset_id", regions[i].ID).Msg("asset description failed")
			errs[i] = err
			continue
		}
		texts[i] = text
	}
	return texts, errs
}
