package onnx

import (
	"image"
	"image/color"
	"math"
	"sort"

	"golang.org/x/image/draw"

	"roadscan/internal/domain"
)

// DefaultInputSize is the YOLOv5 export resolution.
const DefaultInputSize = 640

var padColor = color.RGBA{114, 114, 114, 255}

// Letterboxed is an image scaled into a square model input, keeping aspect
// ratio, with the geometry needed to map boxes back.
type Letterboxed struct {
	Tensor []float32 // CHW, RGB, scaled to [0,1]
	Scale  float64
	PadX   float64
	PadY   float64
}

func Letterbox(src image.Image, size int) Letterboxed {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	scale := math.Min(float64(size)/float64(w), float64(size)/float64(h))
	nw := max(1, int(math.Round(float64(w)*scale)))
	nh := max(1, int(math.Round(float64(h)*scale)))
	padX := (size - nw) / 2
	padY := (size - nh) / 2

	canvas := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: padColor}, image.Point{}, draw.Src)
	draw.BiLinear.Scale(canvas, image.Rect(padX, padY, padX+nw, padY+nh), src, b, draw.Src, nil)

	plane := size * size
	tensor := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		row := canvas.Pix[y*canvas.Stride:]
		for x := 0; x < size; x++ {
			i := y*size + x
			p := row[x*4:]
			tensor[i] = float32(p[0]) / 255
			tensor[plane+i] = float32(p[1]) / 255
			tensor[2*plane+i] = float32(p[2]) / 255
		}
	}
	return Letterboxed{Tensor: tensor, Scale: scale, PadX: float64(padX), PadY: float64(padY)}
}

// Restore maps boxes from model input space to the original image, clamped
// to its bounds.
func (l Letterboxed) Restore(dets []domain.RawDetection, width, height int) []domain.RawDetection {
	out := make([]domain.RawDetection, 0, len(dets))
	for _, d := range dets {
		d.Box = domain.BBox{
			X1: clamp((d.Box.X1-l.PadX)/l.Scale, float64(width)),
			Y1: clamp((d.Box.Y1-l.PadY)/l.Scale, float64(height)),
			X2: clamp((d.Box.X2-l.PadX)/l.Scale, float64(width)),
			Y2: clamp((d.Box.Y2-l.PadY)/l.Scale, float64(height)),
		}
		if d.Box.Valid() {
			out = append(out, d)
		}
	}
	return out
}

func clamp(v, hi float64) float64 { return math.Max(0, math.Min(v, hi)) }

// Decode reads rows of [cx, cy, w, h, objectness, class scores...] and keeps
// the best class of every row whose objectness*class score reaches minConf.
func Decode(data []float32, rows, stride int, minConf float64) []domain.RawDetection {
	var out []domain.RawDetection
	for r := 0; r < rows; r++ {
		row := data[r*stride : (r+1)*stride]
		obj := float64(row[4])
		if obj < minConf {
			continue
		}
		best, bestScore := 0, float32(0)
		for c, s := range row[5:] {
			if s > bestScore {
				best, bestScore = c, s
			}
		}
		conf := obj * float64(bestScore)
		if conf < minConf {
			continue
		}
		cx, cy, w, h := float64(row[0]), float64(row[1]), float64(row[2]), float64(row[3])
		out = append(out, domain.RawDetection{
			ClassID:    best,
			Confidence: conf,
			Box:        domain.BBox{X1: cx - w/2, Y1: cy - h/2, X2: cx + w/2, Y2: cy + h/2},
		})
	}
	return out
}

// NMS suppresses overlapping boxes of the same class, highest confidence
// first, and keeps at most maxDet results (0 means unlimited).
func NMS(dets []domain.RawDetection, iouThreshold float64, maxDet int) []domain.RawDetection {
	sorted := make([]domain.RawDetection, len(dets))
	copy(sorted, dets)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Confidence > sorted[j].Confidence })

	var kept []domain.RawDetection
	for _, d := range sorted {
		suppressed := false
		for _, k := range kept {
			if k.ClassID == d.ClassID && IoU(k.Box, d.Box) > iouThreshold {
				suppressed = true
				break
			}
		}
		if suppressed {
			continue
		}
		kept = append(kept, d)
		if maxDet > 0 && len(kept) == maxDet {
			break
		}
	}
	return kept
}

func IoU(a, b domain.BBox) float64 {
	ix := math.Min(a.X2, b.X2) - math.Max(a.X1, b.X1)
	iy := math.Min(a.Y2, b.Y2) - math.Max(a.Y1, b.Y1)
	if ix <= 0 || iy <= 0 {
		return 0
	}
	inter := ix * iy
	union := (a.X2-a.X1)*(a.Y2-a.Y1) + (b.X2-b.X1)*(b.Y2-b.Y1) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
