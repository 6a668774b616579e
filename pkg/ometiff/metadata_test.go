package ometiff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IDR/mrxs2ometiff/pkg/slide"
)

func rgbPixels(w, h int) slide.Pixels {
	return slide.Pixels{
		SizeX: w, SizeY: h, SizeZ: 1, SizeC: 3, SizeT: 1,
		Type: slide.Uint8, LittleEndian: true, Interleaved: true,
		Channels: 3, Planes: 1,
	}
}

func TestMetadataPopulationOrder(t *testing.T) {
	meta := NewMetadata()
	require.Error(t, meta.PopulateSeries(1, "", "XYCZT", rgbPixels(8, 8)), "series 0 must come first")

	require.NoError(t, meta.PopulateSeries(0, "macro", "XYCZT", rgbPixels(8, 8)))
	require.Error(t, meta.PopulateSeries(2, "", "XYCZT", rgbPixels(8, 8)))

	require.Error(t, meta.SetResolution(0, 2, 4, 4), "resolution 1 must come first")
	require.NoError(t, meta.SetResolution(0, 1, 4, 4))
	require.NoError(t, meta.SetResolution(0, 2, 2, 2))
	require.Error(t, meta.SetResolution(1, 1, 4, 4), "unknown series")
}

func TestMetadataResolutionSize(t *testing.T) {
	meta := NewMetadata()
	require.NoError(t, meta.PopulateSeries(0, "", "XYCZT", rgbPixels(100, 60)))
	require.NoError(t, meta.SetResolution(0, 1, 50, 30))

	w, h, err := meta.ResolutionSize(0, 0)
	require.NoError(t, err)
	assert.Equal(t, 100, w)
	assert.Equal(t, 60, h)

	w, h, err = meta.ResolutionSize(0, 1)
	require.NoError(t, err)
	assert.Equal(t, 50, w)
	assert.Equal(t, 30, h)

	_, _, err = meta.ResolutionSize(0, 2)
	require.Error(t, err)

	sm, err := meta.Series(0)
	require.NoError(t, err)
	assert.Equal(t, 2, sm.ResolutionCount())
}

func TestMetadataRejectsEmptyDimensions(t *testing.T) {
	meta := NewMetadata()
	err := meta.PopulateSeries(0, "", "XYCZT", slide.Pixels{SizeX: 0, SizeY: 64})
	require.Error(t, err)
}

func TestOMEXML(t *testing.T) {
	meta := NewMetadata()
	require.NoError(t, meta.PopulateSeries(0, "slide", "XYCZT", rgbPixels(64, 48)))
	require.NoError(t, meta.PopulateSeries(1, "", "XYCZT", slide.Pixels{
		SizeX: 16, SizeY: 16, SizeZ: 1, SizeC: 1, SizeT: 1,
		Type: slide.Uint16, LittleEndian: false, Interleaved: false,
		Channels: 1, Planes: 1,
	}))

	xml, err := meta.OMEXML()
	require.NoError(t, err)
	assert.Contains(t, xml, `xmlns="http://www.openmicroscopy.org/Schemas/OME/2016-06"`)
	assert.Contains(t, xml, `UUID="urn:uuid:`)
	assert.Contains(t, xml, `ID="Image:0"`)
	assert.Contains(t, xml, `Name="slide"`)
	assert.Contains(t, xml, `SizeX="64"`)
	assert.Contains(t, xml, `SamplesPerPixel="3"`)
	assert.Contains(t, xml, `ID="Image:1"`)
	assert.Contains(t, xml, `Type="uint16"`)
	assert.Contains(t, xml, `BigEndian="true"`)
}
