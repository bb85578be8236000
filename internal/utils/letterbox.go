package utils

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/MeKo-Tech/pagefuse/internal/mempool"
	"github.com/disintegration/imaging"
)

// PadValue is the gray level used for letterbox padding.
const PadValue = 114

// ImageProcessingError represents errors that can occur during image processing.
type ImageProcessingError struct {
	Operation string
	Err       error
}

func (e *ImageProcessingError) Error() string {
	return fmt.Sprintf("image processing error in %s: %v", e.Operation, e.Err)
}

func (e *ImageProcessingError) Unwrap() error { return e.Err }

// LetterboxRatio returns the resize factor applied to an image of the given
// height and width. The target width is paired with the image height and the
// target height with the image width; for square targets this is the usual
// fit-inside ratio.
func LetterboxRatio(height, width, targetWidth, targetHeight int) float64 {
	return math.Min(float64(targetWidth)/float64(height), float64(targetHeight)/float64(width))
}

// Letterbox resizes img by LetterboxRatio with linear interpolation and pads
// the bottom and right edges with PadValue up to the target size.
func Letterbox(img image.Image, targetWidth, targetHeight int) (*image.NRGBA, error) {
	if img == nil {
		return nil, &ImageProcessingError{Operation: "letterbox", Err: errors.New("input image is nil")}
	}
	if targetWidth <= 0 || targetHeight <= 0 {
		return nil, &ImageProcessingError{
			Operation: "letterbox",
			Err:       fmt.Errorf("invalid target dimensions: %dx%d", targetWidth, targetHeight),
		}
	}

	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	if width <= 0 || height <= 0 {
		return nil, &ImageProcessingError{Operation: "letterbox", Err: errors.New("invalid image dimensions")}
	}

	r := LetterboxRatio(height, width, targetWidth, targetHeight)
	newWidth := max(1, min(targetWidth, int(float64(width)*r)))
	newHeight := max(1, min(targetHeight, int(float64(height)*r)))

	resized := imaging.Resize(img, newWidth, newHeight, imaging.Linear)
	canvas := imaging.New(targetWidth, targetHeight, color.NRGBA{R: PadValue, G: PadValue, B: PadValue, A: 255})
	return imaging.Paste(canvas, resized, image.Pt(0, 0)), nil
}

// ImageToCHWPooled writes img into a pooled buffer in CHW order with raw
// 0-255 channel values. The caller returns the buffer via mempool.PutFloat32.
func ImageToCHWPooled(img image.Image) ([]float32, int, int, error) {
	if img == nil {
		return nil, 0, 0, &ImageProcessingError{Operation: "tensor", Err: errors.New("input image is nil")}
	}

	nrgba := imaging.Clone(img)
	bounds := nrgba.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width <= 0 || height <= 0 {
		return nil, 0, 0, &ImageProcessingError{Operation: "tensor", Err: errors.New("invalid image dimensions")}
	}

	plane := width * height
	data := mempool.GetFloat32(3 * plane)
	for y := range height {
		for x := range width {
			off := y*nrgba.Stride + x*4
			idx := y*width + x
			data[idx] = float32(nrgba.Pix[off])
			data[plane+idx] = float32(nrgba.Pix[off+1])
			data[2*plane+idx] = float32(nrgba.Pix[off+2])
		}
	}
	return data, width, height, nil
}
