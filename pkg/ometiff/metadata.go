package ometiff

import (
	"encoding/xml"
	"fmt"

	"github.com/google/uuid"

	"github.com/IDR/mrxs2ometiff/pkg/slide"
)

// Metadata is the schema store bound to a Writer. It holds one entry
// per output series: the base Pixels description plus the dimensions of
// any synthetic resolutions registered for it.
//
// The two population styles match the two container conventions. The
// legacy convention registers every pyramid level as its own series
// with a full Pixels description (PopulateSeries per level); the modern
// convention registers only width/height per extra resolution on series
// 0 (SetResolution), the container models the rest.
type Metadata struct {
	series []*SeriesMeta
}

// SeriesMeta describes one output series.
type SeriesMeta struct {
	Name           string
	DimensionOrder string
	Pixels         slide.Pixels

	resolutions []resolutionSize // resolutions 1..N, index 0 is resolution 1
}

type resolutionSize struct {
	sizeX, sizeY int
}

func NewMetadata() *Metadata {
	return &Metadata{}
}

// PopulateSeries registers the full Pixels description for a series,
// creating it if needed. Series indexes must be populated in order.
func (m *Metadata) PopulateSeries(series int, name, dimensionOrder string, px slide.Pixels) error {
	if series != len(m.series) {
		return fmt.Errorf("series %d populated out of order (have %d)", series, len(m.series))
	}
	if px.SizeX <= 0 || px.SizeY <= 0 {
		return fmt.Errorf("series %d has no pixel dimensions (%dx%d)", series, px.SizeX, px.SizeY)
	}
	m.series = append(m.series, &SeriesMeta{
		Name:           name,
		DimensionOrder: dimensionOrder,
		Pixels:         px,
	})
	return nil
}

// SetResolution registers the dimensions of synthetic resolution index
// res (>= 1) for a series. Resolutions must be added in order.
func (m *Metadata) SetResolution(series, res, sizeX, sizeY int) error {
	sm, err := m.Series(series)
	if err != nil {
		return err
	}
	if res != len(sm.resolutions)+1 {
		return fmt.Errorf("resolution %d of series %d registered out of order", res, series)
	}
	sm.resolutions = append(sm.resolutions, resolutionSize{sizeX, sizeY})
	return nil
}

func (m *Metadata) SeriesCount() int { return len(m.series) }

func (m *Metadata) Series(series int) (*SeriesMeta, error) {
	if series < 0 || series >= len(m.series) {
		return nil, fmt.Errorf("series %d not in metadata (have %d)", series, len(m.series))
	}
	return m.series[series], nil
}

// ResolutionCount returns the number of resolutions of a series,
// including the base.
func (sm *SeriesMeta) ResolutionCount() int { return 1 + len(sm.resolutions) }

// ResolutionSize returns the pixel dimensions of a resolution of a
// series. Resolution 0 is the base.
func (m *Metadata) ResolutionSize(series, res int) (int, int, error) {
	sm, err := m.Series(series)
	if err != nil {
		return 0, 0, err
	}
	if res == 0 {
		return sm.Pixels.SizeX, sm.Pixels.SizeY, nil
	}
	if res < 0 || res > len(sm.resolutions) {
		return 0, 0, fmt.Errorf("series %d has no resolution %d", series, res)
	}
	r := sm.resolutions[res-1]
	return r.sizeX, r.sizeY, nil
}

// OME-XML document model, trimmed to what the container needs.

type omeRoot struct {
	XMLName xml.Name   `xml:"OME"`
	XMLNS   string     `xml:"xmlns,attr"`
	UUID    string     `xml:"UUID,attr"`
	Creator string     `xml:"Creator,attr"`
	Images  []omeImage `xml:"Image"`
}

type omeImage struct {
	ID     string    `xml:"ID,attr"`
	Name   string    `xml:"Name,attr,omitempty"`
	Pixels omePixels `xml:"Pixels"`
}

type omePixels struct {
	ID             string       `xml:"ID,attr"`
	DimensionOrder string       `xml:"DimensionOrder,attr"`
	Type           string       `xml:"Type,attr"`
	SizeX          int          `xml:"SizeX,attr"`
	SizeY          int          `xml:"SizeY,attr"`
	SizeZ          int          `xml:"SizeZ,attr"`
	SizeC          int          `xml:"SizeC,attr"`
	SizeT          int          `xml:"SizeT,attr"`
	BigEndian      bool         `xml:"BigEndian,attr"`
	Interleaved    bool         `xml:"Interleaved,attr"`
	Channels       []omeChannel `xml:"Channel"`
	TiffData       []struct{}   `xml:"TiffData"`
}

type omeChannel struct {
	ID              string `xml:"ID,attr"`
	SamplesPerPixel int    `xml:"SamplesPerPixel,attr"`
}

const omeNamespace = "http://www.openmicroscopy.org/Schemas/OME/2016-06"

// OMEXML renders the store as an OME-XML document for the container's
// ImageDescription.
func (m *Metadata) OMEXML() (string, error) {
	root := omeRoot{
		XMLNS:   omeNamespace,
		UUID:    "urn:uuid:" + uuid.NewString(),
		Creator: "mrxs2ometiff",
	}
	for i, sm := range m.series {
		px := sm.Pixels
		channelCount := px.SizeC
		if px.Channels > 1 {
			channelCount = px.SizeC / px.Channels
			if channelCount < 1 {
				channelCount = 1
			}
		}
		img := omeImage{
			ID:   fmt.Sprintf("Image:%d", i),
			Name: sm.Name,
			Pixels: omePixels{
				ID:             fmt.Sprintf("Pixels:%d", i),
				DimensionOrder: sm.DimensionOrder,
				Type:           px.Type.String(),
				SizeX:          px.SizeX,
				SizeY:          px.SizeY,
				SizeZ:          px.SizeZ,
				SizeC:          px.SizeC,
				SizeT:          px.SizeT,
				BigEndian:      !px.LittleEndian,
				Interleaved:    px.Interleaved,
				TiffData:       []struct{}{{}},
			},
		}
		for c := 0; c < channelCount; c++ {
			img.Pixels.Channels = append(img.Pixels.Channels, omeChannel{
				ID:              fmt.Sprintf("Channel:%d:%d", i, c),
				SamplesPerPixel: px.Channels,
			})
		}
		root.Images = append(root.Images, img)
	}
	out, err := xml.Marshal(root)
	if err != nil {
		return "", fmt.Errorf("render OME-XML: %w", err)
	}
	return xml.Header + string(out), nil
}
