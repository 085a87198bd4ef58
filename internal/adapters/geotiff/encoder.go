// Package geotiff encodes single-band rasters as georeferenced TIFFs.
package geotiff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/hhrutter/lzw"

	"github.com/jobrunner/terrapatch/internal/domain"
)

const (
	dataTypeByte   = 1
	dataTypeASCII  = 2
	dataTypeShort  = 3
	dataTypeLong   = 4
	dataTypeDouble = 12

	tagImageWidth                = 256
	tagImageLength               = 257
	tagBitsPerSample             = 258
	tagCompression               = 259
	tagPhotometricInterpretation = 262
	tagStripOffsets              = 273
	tagSamplesPerPixel           = 277
	tagRowsPerStrip              = 278
	tagStripByteCounts           = 279
	tagPredictor                 = 317
	tagSampleFormat              = 339

	// GeoTIFF tags
	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagGeoKeyDirectory = 34735

	compressionLZW = 5

	sampleFormatUint  = 1
	sampleFormatFloat = 3

	predictorNone       = 1
	predictorHorizontal = 2
)

var enc = binary.LittleEndian

// SampleType selects the on-disk pixel representation.
type SampleType string

const (
	Uint8   SampleType = "uint8"
	Uint16  SampleType = "uint16"
	Float32 SampleType = "float32"
)

// ParseSampleType validates a dtype string.
func ParseSampleType(s string) (SampleType, error) {
	switch SampleType(s) {
	case Uint8, Uint16, Float32:
		return SampleType(s), nil
	default:
		return "", fmt.Errorf("unknown sample type: %s", s)
	}
}

// Encoder implements the raster encoder port. Output is a single-band,
// single-strip, LZW-compressed GeoTIFF in geographic WGS 84 coordinates.
// Integer sample types get the horizontal-differencing predictor; float
// samples are compressed without one, where differencing rarely helps.
type Encoder struct {
	sampleType SampleType
}

// NewEncoder creates an encoder producing the given sample type.
func NewEncoder(sampleType SampleType) *Encoder {
	return &Encoder{sampleType: sampleType}
}

// Ext returns the file extension for encoded patches.
func (e *Encoder) Ext() string { return ".tif" }

// Encode implements output.RasterEncoder.
func (e *Encoder) Encode(r domain.Raster, bounds domain.BoundingBox) ([]byte, error) {
	height, width := r.Size()
	if height == 0 || width == 0 {
		return nil, fmt.Errorf("cannot encode empty raster")
	}

	samples, bits, format, predictor := e.packSamples(r, height, width)

	compressed, err := compressLZW(samples)
	if err != nil {
		return nil, fmt.Errorf("compressing strip: %w", err)
	}

	xres, yres := bounds.Resolution(height, width)

	entries := []ifdEntry{
		shortEntry(tagImageWidth, uint16(width)),
		shortEntry(tagImageLength, uint16(height)),
		shortEntry(tagBitsPerSample, bits),
		shortEntry(tagCompression, compressionLZW),
		shortEntry(tagPhotometricInterpretation, 1), // BlackIsZero
		shortEntry(tagSamplesPerPixel, 1),
		shortEntry(tagRowsPerStrip, uint16(height)),
		shortEntry(tagPredictor, predictor),
		shortEntry(tagSampleFormat, format),
		doubleEntry(tagModelPixelScale, []float64{xres, yres, 0}),
		doubleEntry(tagModelTiepoint, []float64{0, 0, 0, bounds.TopLeft.Lon, bounds.TopLeft.Lat, 0}),
		// GTModelType geographic, GTRasterType pixel-is-area,
		// GeographicType EPSG:4326.
		shortsEntry(tagGeoKeyDirectory, []uint16{
			1, 1, 0, 3,
			1024, 0, 1, 2,
			1025, 0, 1, 1,
			2048, 0, 1, 4326,
		}),
		// Patched below once the data offset is known.
		longEntry(tagStripOffsets, 0),
		longEntry(tagStripByteCounts, uint32(len(compressed))),
	}

	return assemble(entries, compressed)
}

// packSamples converts the float64 working raster into the target sample
// layout, applying the predictor where one is used.
func (e *Encoder) packSamples(r domain.Raster, height, width int) (data []byte, bits, format, predictor uint16) {
	switch e.sampleType {
	case Uint8:
		data = make([]byte, height*width)
		for y := 0; y < height; y++ {
			row := data[y*width : (y+1)*width]
			var prev uint8
			for x := 0; x < width; x++ {
				v := clampUint(r[y][x], math.MaxUint8)
				row[x] = uint8(v) - prev
				prev = uint8(v)
			}
		}
		return data, 8, sampleFormatUint, predictorHorizontal

	case Float32:
		data = make([]byte, height*width*4)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				enc.PutUint32(data[(y*width+x)*4:], math.Float32bits(float32(r[y][x])))
			}
		}
		return data, 32, sampleFormatFloat, predictorNone

	default: // Uint16
		data = make([]byte, height*width*2)
		for y := 0; y < height; y++ {
			var prev uint16
			for x := 0; x < width; x++ {
				v := uint16(clampUint(r[y][x], math.MaxUint16))
				enc.PutUint16(data[(y*width+x)*2:], v-prev)
				prev = v
			}
		}
		return data, 16, sampleFormatUint, predictorHorizontal
	}
}

func clampUint(v float64, max float64) uint32 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > max {
		return uint32(max)
	}
	return uint32(math.Round(v))
}

// compressLZW runs a single strip through TIFF-flavor LZW (early code
// size change on).
func compressLZW(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lzw.NewWriter(&buf, true)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type ifdEntry struct {
	tag      uint16
	datatype uint16
	count    uint32
	data     []byte
}

func shortEntry(tag, v uint16) ifdEntry {
	return shortsEntry(tag, []uint16{v})
}

func shortsEntry(tag uint16, vs []uint16) ifdEntry {
	b := make([]byte, 2*len(vs))
	for i, v := range vs {
		enc.PutUint16(b[i*2:], v)
	}
	return ifdEntry{tag: tag, datatype: dataTypeShort, count: uint32(len(vs)), data: b}
}

func longEntry(tag uint16, v uint32) ifdEntry {
	b := make([]byte, 4)
	enc.PutUint32(b, v)
	return ifdEntry{tag: tag, datatype: dataTypeLong, count: 1, data: b}
}

func doubleEntry(tag uint16, vs []float64) ifdEntry {
	b := make([]byte, 8*len(vs))
	for i, v := range vs {
		enc.PutUint64(b[i*8:], math.Float64bits(v))
	}
	return ifdEntry{tag: tag, datatype: dataTypeDouble, count: uint32(len(vs)), data: b}
}

// assemble lays the file out as header, IFD, out-of-line values, then the
// compressed strip, patching the strip offset once it is known.
func assemble(entries []ifdEntry, strip []byte) ([]byte, error) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	ifdSize := 2 + 12*len(entries) + 4
	valueOffset := 8 + ifdSize

	var overflow bytes.Buffer
	for i := range entries {
		e := &entries[i]
		if len(e.data) <= 4 {
			continue
		}
		off := uint32(valueOffset + overflow.Len())
		overflow.Write(e.data)
		b := make([]byte, 4)
		enc.PutUint32(b, off)
		e.data = b
	}

	stripOffset := uint32(valueOffset + overflow.Len())
	for i := range entries {
		if entries[i].tag == tagStripOffsets {
			enc.PutUint32(entries[i].data, stripOffset)
		}
	}

	out := bytes.NewBuffer(make([]byte, 0, int(stripOffset)+len(strip)))
	out.Write([]byte{'I', 'I', 0x2A, 0x00, 0x08, 0x00, 0x00, 0x00})

	if err := binary.Write(out, enc, uint16(len(entries))); err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := binary.Write(out, enc, e.tag); err != nil {
			return nil, err
		}
		if err := binary.Write(out, enc, e.datatype); err != nil {
			return nil, err
		}
		if err := binary.Write(out, enc, e.count); err != nil {
			return nil, err
		}
		var val [4]byte
		copy(val[:], e.data)
		out.Write(val[:])
	}
	if err := binary.Write(out, enc, uint32(0)); err != nil {
		return nil, err
	}

	out.Write(overflow.Bytes())
	out.Write(strip)
	return out.Bytes(), nil
}
