package matcher

import (
	"image"
	"math"
)

// grayPlane stores per-pixel grayscale values of a page image and their
// summed-area tables (integral images). The integrals allow O(1) window sum
// and variance queries while sliding a template over the page.
type grayPlane struct {
	gray       []float64
	integral   []float64
	integralSq []float64
	W, H       int
}

// templateStats caches grayscale pixels and summary statistics of a
// transformed template.
type templateStats struct {
	gray []float64
	W, H int
	mean float64
	std  float64
}

// luma converts 16-bit premultiplied RGBA components to a grayscale value.
func luma(r, g, b uint32) float64 {
	return 0.2126*float64(r) + 0.7152*float64(g) + 0.0722*float64(b)
}

// buildGrayPlane computes per-pixel grayscale values and their summed-area
// tables for a page image.
func buildGrayPlane(img image.Image) *grayPlane {
	if img == nil {
		return nil
	}
	b := img.Bounds()
	W, H := b.Dx(), b.Dy()
	if W == 0 || H == 0 {
		return nil
	}
	p := &grayPlane{
		gray:       make([]float64, W*H),
		integral:   make([]float64, W*H),
		integralSq: make([]float64, W*H),
		W:          W,
		H:          H,
	}
	for y := 0; y < H; y++ {
		var rowSum, rowSum2 float64
		for x := 0; x < W; x++ {
			r, g, bb, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			gray := luma(r, g, bb)
			off := y*W + x
			p.gray[off] = gray
			rowSum += gray
			rowSum2 += gray * gray
			if y == 0 {
				p.integral[off] = rowSum
				p.integralSq[off] = rowSum2
			} else {
				p.integral[off] = p.integral[(y-1)*W+x] + rowSum
				p.integralSq[off] = p.integralSq[(y-1)*W+x] + rowSum2
			}
		}
	}
	return p
}

// buildTemplateStats converts a transformed template into grayscale pixels
// with precomputed mean and standard deviation.
func buildTemplateStats(tmpl image.Image) *templateStats {
	if tmpl == nil {
		return nil
	}
	b := tmpl.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil
	}
	gray := make([]float64, w*h)
	var sum, sum2 float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bb, _ := tmpl.At(b.Min.X+x, b.Min.Y+y).RGBA()
			gval := luma(r, g, bb)
			gray[y*w+x] = gval
			sum += gval
			sum2 += gval * gval
		}
	}
	n := float64(w * h)
	mean := sum / n
	variance := (sum2 - sum*sum/n) / n
	std := 0.0
	if variance > 0 {
		std = math.Sqrt(variance)
	}
	return &templateStats{gray: gray, W: w, H: h, mean: mean, std: std}
}

// integralSum returns the inclusive sum over rectangle [x0..x1] x [y0..y1]
// from an integral image stored in row-major order with width W.
func integralSum(I []float64, W, x0, y0, x1, y1 int) float64 {
	if x0 > x1 || y0 > y1 {
		return 0
	}
	at := func(x, y int) float64 {
		if x < 0 || y < 0 {
			return 0
		}
		return I[y*W+x]
	}
	return at(x1, y1) - at(x0-1, y1) - at(x1, y0-1) + at(x0-1, y0-1)
}

// rawMatch is a single above-threshold correlation location in page
// coordinates of the transformed template's top-left corner.
type rawMatch struct {
	X, Y  int
	Score float64
}

// matchAll slides the template over the page and collects every location
// whose normalized cross-correlation score reaches the threshold. Scores are
// bounded to [-1,1]; only non-negative scores are considered against the
// user-supplied threshold.
func matchAll(plane *grayPlane, ts *templateStats, threshold float64) []rawMatch {
	if plane == nil || ts == nil {
		return nil
	}
	W, H := plane.W, plane.H
	w, h := ts.W, ts.H
	if w == 0 || h == 0 || W < w || H < h || ts.std <= 1e-9 {
		return nil
	}

	n := float64(w * h)
	var matches []rawMatch
	for y := 0; y <= H-h; y++ {
		for x := 0; x <= W-w; x++ {
			sumF := integralSum(plane.integral, W, x, y, x+w-1, y+h-1)
			sumF2 := integralSum(plane.integralSq, W, x, y, x+w-1, y+h-1)
			meanF := sumF / n
			varF := (sumF2 - sumF*sumF/n) / n
			if varF <= 1e-9 {
				continue
			}
			stdF := math.Sqrt(varF)

			var sumFT float64
			for ty := 0; ty < h; ty++ {
				pageRow := (y + ty) * W
				tmplRow := ty * w
				for tx := 0; tx < w; tx++ {
					sumFT += plane.gray[pageRow+x+tx] * ts.gray[tmplRow+tx]
				}
			}

			numer := sumFT - n*meanF*ts.mean
			denom := n * stdF * ts.std
			if denom <= 0 {
				continue
			}
			score := numer / denom
			if score > 1 {
				score = 1
			}
			if score >= threshold && score >= 0 {
				matches = append(matches, rawMatch{X: x, Y: y, Score: score})
			}
		}
	}
	return matches
}
