package captcha

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
	"github.com/iamwavecut/tool"
	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	imageTextLength = 4
	glyphWidth      = 7
	glyphHeight     = 13
	imagePadding    = 4
	imageScale      = 8
	noiseLines      = 6
	noiseDots       = 400
)

// no 0/o, 1/l/i and similar pairs
var imageAlphabet = []rune("abcdefhkmnprstuvwxyz2345678")

type Image struct {
	PNG  []byte
	Text string
}

func NewImage() (*Image, error) {
	text := randomText(imageTextLength)

	width := imagePadding*2 + glyphWidth*imageTextLength + imageTextLength
	height := imagePadding*2 + glyphHeight
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	drawer := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(color.RGBA{R: 30, G: 30, B: 90, A: 255}),
		Face: basicfont.Face7x13,
	}
	x := imagePadding
	for _, ch := range text {
		drawer.Dot = fixed.P(x, imagePadding+glyphHeight-2+tool.RandInt(0, 2)-1)
		drawer.DrawString(string(ch))
		x += glyphWidth + 1
	}

	scaled := imaging.Resize(canvas, width*imageScale, height*imageScale, imaging.NearestNeighbor)
	addNoise(scaled)
	blurred := imaging.Blur(scaled, 1.2)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, blurred, imaging.PNG); err != nil {
		return nil, errors.WithMessage(err, "cant encode captcha image")
	}
	return &Image{PNG: buf.Bytes(), Text: text}, nil
}

func randomText(n int) string {
	res := make([]rune, n)
	for i := range res {
		res[i] = imageAlphabet[tool.RandInt(0, len(imageAlphabet)-1)]
	}
	return string(res)
}

func addNoise(img *image.NRGBA) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	for i := 0; i < noiseLines; i++ {
		c := color.NRGBA{
			R: uint8(tool.RandInt(60, 200)),
			G: uint8(tool.RandInt(60, 200)),
			B: uint8(tool.RandInt(60, 200)),
			A: 255,
		}
		drawLine(img, tool.RandInt(0, w-1), tool.RandInt(0, h-1), tool.RandInt(0, w-1), tool.RandInt(0, h-1), c)
	}
	for i := 0; i < noiseDots; i++ {
		gray := uint8(tool.RandInt(0, 255))
		img.SetNRGBA(tool.RandInt(0, w-1), tool.RandInt(0, h-1), color.NRGBA{R: gray, G: gray, B: gray, A: 255})
	}
}

func drawLine(img *image.NRGBA, x0, y0, x1, y1 int, c color.NRGBA) {
	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		for t := 0; t < 3; t++ {
			img.SetNRGBA(x0, y0+t, c)
		}
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
