package normalizer

import (
	"image"
	"image/color"
)

// Empirical thresholds for the cheap quality heuristics.
const (
	blurVarianceThreshold = 80.0
	darkMeanThreshold     = 60.0
	overexposeLevel       = 240
	overexposeFraction    = 0.40
)

// QualityFlags derives the {blur, dark, overexpose} flag set from an image.
// The three checks are independent and additive. Computation is best-effort:
// any internal panic degrades to an empty flag set rather than failing the
// image.
func QualityFlags(img image.Image) (flags []string) {
	defer func() {
		if recover() != nil {
			flags = nil
		}
	}()

	gray := grayscale(img)
	if len(gray.Pix) == 0 {
		return nil
	}

	if laplacianVariance(gray) < blurVarianceThreshold {
		flags = append(flags, "blur")
	}

	var sum, over int64
	for _, p := range gray.Pix {
		sum += int64(p)
		if p > overexposeLevel {
			over++
		}
	}
	total := int64(len(gray.Pix))
	if float64(sum)/float64(total) < darkMeanThreshold {
		flags = append(flags, "dark")
	}
	if float64(over)/float64(total) > overexposeFraction {
		flags = append(flags, "overexpose")
	}
	return flags
}

func grayscale(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			// ITU-R 601 luma, 16-bit channels down to 8-bit
			l := (299*r + 587*g + 114*bl) / 1000
			gray.SetGray(x-b.Min.X, y-b.Min.Y, color.Gray{Y: uint8(l >> 8)})
		}
	}
	return gray
}

// laplacianVariance is the variance of a 4-neighbour Laplacian response, the
// usual cheap focus measure: sharp images have strong edge responses, blurred
// ones do not.
func laplacianVariance(gray *image.Gray) float64 {
	w := gray.Bounds().Dx()
	h := gray.Bounds().Dy()
	if w < 3 || h < 3 {
		return 0
	}

	n := 0
	var sum, sumSq float64
	for y := 1; y < h-1; y++ {
		row := y * gray.Stride
		for x := 1; x < w-1; x++ {
			c := int(gray.Pix[row+x])
			lap := float64(int(gray.Pix[row+x-1]) + int(gray.Pix[row+x+1]) +
				int(gray.Pix[row-gray.Stride+x]) + int(gray.Pix[row+gray.Stride+x]) - 4*c)
			sum += lap
			sumSq += lap * lap
			n++
		}
	}
	if n == 0 {
		return 0
	}
	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}
