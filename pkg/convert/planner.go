package convert

import (
	"fmt"

	"github.com/IDR/mrxs2ometiff/pkg/ometiff"
	"github.com/IDR/mrxs2ometiff/pkg/slide"
)

// PyramidScale is the shrink factor between adjacent resolutions.
const PyramidScale = 2

// DimensionOrder used for every Pixels description the converter emits.
const DimensionOrder = "XYCZT"

// PlanResolutions computes the dimensions of every synthetic pyramid
// level from the base description and registers them in the metadata
// store. Level i is the base truncated-divided by 2^i.
//
// The legacy convention registers each level as its own series with a
// full Pixels description; the modern convention registers only the
// level dimensions on series 0, which must already be populated.
//
// A resolution count that would shrink a level to zero pixels in
// either dimension is rejected rather than planned.
func PlanResolutions(meta *ometiff.Metadata, base slide.Pixels, resolutions int, legacy bool) error {
	for i := 1; i <= resolutions; i++ {
		scale := scaleFactor(i)
		w := base.SizeX / scale
		h := base.SizeY / scale
		if w == 0 || h == 0 {
			return fmt.Errorf("resolution %d of a %dx%d image would be %dx%d; at most %d resolutions fit",
				i, base.SizeX, base.SizeY, w, h, maxResolutions(base.SizeX, base.SizeY))
		}
		if legacy {
			level := base
			level.SizeX = w
			level.SizeY = h
			if err := meta.PopulateSeries(i, "", DimensionOrder, level); err != nil {
				return err
			}
		} else {
			if err := meta.SetResolution(0, i, w, h); err != nil {
				return err
			}
		}
	}
	return nil
}

// scaleFactor returns the shrink factor of resolution index i.
func scaleFactor(i int) int {
	scale := 1
	for ; i > 0; i-- {
		scale *= PyramidScale
	}
	return scale
}

// maxResolutions returns the deepest resolution count that keeps every
// level at least one pixel in both dimensions.
func maxResolutions(sizeX, sizeY int) int {
	n := 0
	for sizeX/scaleFactor(n+1) > 0 && sizeY/scaleFactor(n+1) > 0 {
		n++
	}
	return n
}
