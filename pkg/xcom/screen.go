package xcom

import (
	"fmt"
	"image"
	"image/color"
)

// Geometry of the remote control display
const (
	ScreenWidth  = 128
	ScreenHeight = 64
	screenStride = ScreenWidth / 8
	screenBytes  = screenStride * ScreenHeight
)

// Screen is a decoded monochrome screen, rows top to bottom
type Screen struct {
	// Dark holds ScreenWidth*ScreenHeight pixels, true is a dark pixel
	Dark []bool
}

// DecodeScreen expands a 1 bit per pixel buffer, most significant bit first.
// The device sends the bottom row first. A set bit is a dark pixel on light
// background unless invert is set.
func DecodeScreen(b []byte, invert bool) (*Screen, error) {
	if len(b) < screenBytes {
		return nil, &FramingError{Err: fmt.Errorf("screen needs %d bytes, got %d: %w", screenBytes, len(b), ErrShortPackage), Raw: b}
	}
	s := &Screen{Dark: make([]bool, ScreenWidth*ScreenHeight)}
	for row := 0; row < ScreenHeight; row++ {
		src := b[row*screenStride : (row+1)*screenStride]
		y := ScreenHeight - 1 - row
		for x := 0; x < ScreenWidth; x++ {
			bit := src[x/8]&(0x80>>uint(x%8)) != 0
			s.Dark[y*ScreenWidth+x] = bit != invert
		}
	}
	return s, nil
}

// At reports whether the pixel at x, y (origin top left) is dark
func (s *Screen) At(x, y int) bool {
	if x < 0 || x >= ScreenWidth || y < 0 || y >= ScreenHeight {
		return false
	}
	return s.Dark[y*ScreenWidth+x]
}

// Image renders s as grayscale image, dark pixels black
func (s *Screen) Image() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, ScreenWidth, ScreenHeight))
	for y := 0; y < ScreenHeight; y++ {
		for x := 0; x < ScreenWidth; x++ {
			c := color.Gray{Y: 0xff}
			if s.Dark[y*ScreenWidth+x] {
				c.Y = 0
			}
			img.SetGray(x, y, c)
		}
	}
	return img
}

// String draws s with '#' for dark pixels, handy for logs and tests
func (s *Screen) String() string {
	b := make([]byte, 0, (ScreenWidth+1)*ScreenHeight)
	for y := 0; y < ScreenHeight; y++ {
		for x := 0; x < ScreenWidth; x++ {
			if s.Dark[y*ScreenWidth+x] {
				b = append(b, '#')
			} else {
				b = append(b, '.')
			}
		}
		b = append(b, '\n')
	}
	return string(b)
}
