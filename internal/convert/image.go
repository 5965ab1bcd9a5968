package convert

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"

	"github.com/banshee-data/soccer-diffusion/internal/resample"
	"github.com/banshee-data/soccer-diffusion/internal/schema"
)

// ImageConverter rate-limits camera frames and stores them as raw RGB at a
// fixed resolution.
type ImageConverter struct {
	resampler resample.Resampler[InputData]
	width     int
	height    int

	sourceWidth  int
	sourceHeight int
}

// NewImageConverter returns a converter that stores frames at width x height.
func NewImageConverter(r resample.Resampler[InputData], width, height int) (*ImageConverter, error) {
	if r == nil {
		return nil, fmt.Errorf("image converter needs a resampler")
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("image size must be positive, got %dx%d", width, height)
	}
	return &ImageConverter{resampler: r, width: width, height: height}, nil
}

// Populate resamples one event. Events without an image are ignored.
// Frames dropped by the resampler are never decoded.
func (c *ImageConverter) Populate(recordingID int64, data InputData, stamp float64) ([]schema.Image, error) {
	if data.Image == nil {
		return nil, nil
	}
	var rows []schema.Image
	for _, s := range c.resampler.Resample(data, stamp) {
		img, err := DecodeImage(s.Data.Image)
		if err != nil {
			return nil, fmt.Errorf("image at %.3fs: %w", s.Timestamp, err)
		}
		b := img.Bounds()
		if c.sourceWidth == 0 {
			c.sourceWidth, c.sourceHeight = b.Dx(), b.Dy()
		}
		rows = append(rows, schema.Image{
			RecordingID: recordingID,
			Stamp:       s.Timestamp,
			Data:        ToRGB(img, c.width, c.height),
		})
	}
	return rows, nil
}

// Scaling returns stored size / source size of the first converted frame.
// ok is false until a frame has been converted.
func (c *ImageConverter) Scaling() (width, height float64, ok bool) {
	if c.sourceWidth == 0 || c.sourceHeight == 0 {
		return 0, 0, false
	}
	return float64(c.width) / float64(c.sourceWidth), float64(c.height) / float64(c.sourceHeight), true
}

// DecodeImage decodes a camera frame.
func DecodeImage(msg *ImageMessage) (image.Image, error) {
	if msg == nil {
		return nil, fmt.Errorf("nil image message")
	}
	switch msg.Encoding {
	case EncodingRGB8:
		if msg.Width <= 0 || msg.Height <= 0 {
			return nil, fmt.Errorf("rgb8 image needs positive size, got %dx%d", msg.Width, msg.Height)
		}
		if len(msg.Data) != msg.Width*msg.Height*3 {
			return nil, fmt.Errorf("rgb8 image %dx%d needs %d bytes, got %d",
				msg.Width, msg.Height, msg.Width*msg.Height*3, len(msg.Data))
		}
		img := image.NewNRGBA(image.Rect(0, 0, msg.Width, msg.Height))
		for i, j := 0, 0; i < len(msg.Data); i, j = i+3, j+4 {
			img.Pix[j] = msg.Data[i]
			img.Pix[j+1] = msg.Data[i+1]
			img.Pix[j+2] = msg.Data[i+2]
			img.Pix[j+3] = 0xff
		}
		return img, nil
	case EncodingPNG:
		return png.Decode(bytes.NewReader(msg.Data))
	case EncodingJPEG:
		return jpeg.Decode(bytes.NewReader(msg.Data))
	default:
		return nil, fmt.Errorf("unsupported image encoding %q", msg.Encoding)
	}
}

// ToRGB scales img to width x height and returns it as packed RGB bytes.
func ToRGB(img image.Image, width, height int) []byte {
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	if img.Bounds().Dx() == width && img.Bounds().Dy() == height {
		draw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, draw.Src)
	} else {
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	}
	out := make([]byte, width*height*3)
	for i, j := 0, 0; j < len(out); i, j = i+4, j+3 {
		out[j] = dst.Pix[i]
		out[j+1] = dst.Pix[i+1]
		out[j+2] = dst.Pix[i+2]
	}
	return out
}
