package report

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"math/rand/v2"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	relativeScaling = 0.5
	minFontSize     = 8
	fontStep        = 2
	wordPadding     = 2
)

// viridis is a ten-stop sample of the viridis colormap.
var viridis = []color.RGBA{
	{68, 1, 84, 255},
	{72, 40, 120, 255},
	{62, 74, 137, 255},
	{49, 104, 142, 255},
	{38, 130, 142, 255},
	{31, 158, 137, 255},
	{53, 183, 121, 255},
	{109, 205, 89, 255},
	{180, 222, 44, 255},
	{253, 231, 37, 255},
}

// RenderOptions size the rendered images.
type RenderOptions struct {
	Width    int
	Height   int
	MaxWords int
	Seed     int64
}

func (o RenderOptions) withDefaults() RenderOptions {
	if o.Width <= 0 {
		o.Width = 800
	}
	if o.Height <= 0 {
		o.Height = 400
	}
	if o.MaxWords <= 0 {
		o.MaxWords = 100
	}
	return o
}

func (o RenderOptions) fingerprint() string {
	return fmt.Sprintf("%dx%d/%d/%d", o.Width, o.Height, o.MaxWords, o.Seed)
}

// WordCloudRasterizer turns ranked words into a PNG.
type WordCloudRasterizer interface {
	RenderWordCloud(words []WordCount, opts RenderOptions) ([]byte, error)
}

// WordCloud places words on an Archimedean spiral from seeded start points,
// largest first, shrinking each word until it fits.
type WordCloud struct {
	font *opentype.Font
}

var _ WordCloudRasterizer = (*WordCloud)(nil)

// NewWordCloud loads the embedded Go Regular font.
func NewWordCloud() (*WordCloud, error) {
	f, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	return &WordCloud{font: f}, nil
}

type faceCache struct {
	font  *opentype.Font
	faces map[int]font.Face
}

func (c *faceCache) face(size int) (font.Face, error) {
	if f, ok := c.faces[size]; ok {
		return f, nil
	}
	f, err := opentype.NewFace(c.font, &opentype.FaceOptions{
		Size:    float64(size),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("font face %d: %w", size, err)
	}
	c.faces[size] = f
	return f, nil
}

func (c *faceCache) close() {
	for _, f := range c.faces {
		_ = f.Close()
	}
}

// RenderWordCloud draws words (sorted by descending count) on a white
// canvas. The same input and options always yield the same image.
func (w *WordCloud) RenderWordCloud(words []WordCount, opts RenderOptions) ([]byte, error) {
	opts = opts.withDefaults()
	if len(words) > opts.MaxWords {
		words = words[:opts.MaxWords]
	}
	img := image.NewRGBA(image.Rect(0, 0, opts.Width, opts.Height))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	if len(words) == 0 {
		return encodePNG(img)
	}

	seed := uint64(opts.Seed)
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	faces := &faceCache{font: w.font, faces: map[int]font.Face{}}
	defer faces.close()

	var (
		placed   []image.Rectangle
		size     = int(float64(opts.Height) * 0.4)
		lastFreq = 1.0
		maxCount = float64(words[0].Count)
	)
	for i, wc := range words {
		freq := float64(wc.Count) / maxCount
		if i > 0 {
			size = int(math.Round((relativeScaling*freq/lastFreq + (1 - relativeScaling)) * float64(size)))
		}
		fitted := false
		for ; size >= minFontSize; size -= fontStep {
			face, err := faces.face(size)
			if err != nil {
				return nil, err
			}
			bounds, _ := font.BoundString(face, wc.Word)
			bw := (bounds.Max.X - bounds.Min.X).Ceil()
			bh := (bounds.Max.Y - bounds.Min.Y).Ceil()
			box, ok := place(rng, img.Bounds(), placed, bw, bh, i == 0)
			if !ok {
				continue
			}
			drawWord(img, face, wc.Word,
				box.Min.X-bounds.Min.X.Floor(), box.Min.Y-bounds.Min.Y.Floor(),
				viridis[rng.IntN(len(viridis))])
			placed = append(placed, box.Inset(-wordPadding))
			fitted = true
			break
		}
		if !fitted {
			break
		}
		lastFreq = freq
	}
	return encodePNG(img)
}

// place searches a spiral for a free w×h box inside canvas.
func place(rng *rand.Rand, canvas image.Rectangle, placed []image.Rectangle, w, h int, center bool) (image.Rectangle, bool) {
	if w <= 0 || h <= 0 || w > canvas.Dx() || h > canvas.Dy() {
		return image.Rectangle{}, false
	}
	cx := float64(canvas.Dx()-w) / 2
	cy := float64(canvas.Dy()-h) / 2
	if !center {
		cx = rng.Float64() * float64(canvas.Dx()-w)
		cy = rng.Float64() * float64(canvas.Dy()-h)
	}
	aspect := float64(canvas.Dy()) / float64(canvas.Dx())
	limit := float64(canvas.Dx() + canvas.Dy())
	for theta := 0.0; ; theta += 0.2 {
		r := 4 * theta
		if r > limit {
			return image.Rectangle{}, false
		}
		x := int(cx + r*math.Cos(theta))
		y := int(cy + r*math.Sin(theta)*aspect)
		box := image.Rect(x, y, x+w, y+h)
		if !box.In(canvas) {
			continue
		}
		if !overlaps(box, placed) {
			return box, true
		}
	}
}

func overlaps(box image.Rectangle, placed []image.Rectangle) bool {
	for _, p := range placed {
		if box.Overlaps(p) {
			return true
		}
	}
	return false
}

func drawWord(img draw.Image, face font.Face, word string, x, y int, c color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(word)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
