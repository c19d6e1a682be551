package app

import (
	"fmt"
	"image/color"
	"strings"
	"unicode/utf8"

	"spindle/hal"
	"spindle/kernel"

	"tinygo.org/x/tinyfont"
	"tinygo.org/x/tinyfont/proggy"
)

var (
	colorBG      = color.RGBA{R: 0x10, G: 0x14, B: 0x1C, A: 0xFF}
	colorFG      = color.RGBA{R: 0xE0, G: 0xE0, B: 0xE0, A: 0xFF}
	colorFaultBG = color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}
	colorFaultFG = color.RGBA{R: 0x00, G: 0x00, B: 0x00, A: 0xFF}
)

// screen draws text pages onto the framebuffer.
type screen struct {
	d          *fbDisplay
	font       tinyfont.Fonter
	lineHeight int16
	baseline   int16
	charWidth  int16
}

func newScreen(fb hal.Framebuffer) *screen {
	if fb == nil {
		return nil
	}
	font := &proggy.TinySZ8pt7b
	lineHeight := int16(font.GetYAdvance())
	if lineHeight <= 0 {
		lineHeight = 10
	}
	_, outbox := tinyfont.LineWidth(font, "0")
	charWidth := int16(outbox)
	if charWidth <= 0 {
		charWidth = 6
	}
	return &screen{
		d:          newFBDisplay(fb),
		font:       font,
		lineHeight: lineHeight,
		baseline:   lineHeight * 3 / 4,
		charWidth:  charWidth,
	}
}

// cols returns how many characters fit on one row.
func (s *screen) cols() int16 {
	w, _ := s.d.Size()
	if n := w / s.charWidth; n > 0 {
		return n
	}
	return 1
}

// page clears the screen and draws lines top to bottom, wrapping long lines
// and dropping what does not fit.
func (s *screen) page(lines []string, fg, bg color.RGBA) error {
	w, h := s.d.Size()
	if err := s.d.FillRectangle(0, 0, w, h, bg); err != nil {
		return err
	}

	y := int16(0)
	cols := s.cols()
	for _, line := range lines {
		for {
			if y+s.lineHeight > h {
				return s.d.Display()
			}
			chunk, rest := takeRunes(line, cols)
			tinyfont.WriteLine(s.d, s.font, 0, y+s.baseline, chunk, fg)
			y += s.lineHeight
			line = strings.TrimLeft(rest, " ")
			if line == "" {
				break
			}
		}
	}
	return s.d.Display()
}

func (s *screen) renderStatus(lines []string) error {
	return s.page(lines, colorFG, colorBG)
}

func (s *screen) renderFault(v *kernel.Violation) error {
	lines := faultLines(v)
	return s.page(lines, colorFaultFG, colorFaultBG)
}

func faultLines(v *kernel.Violation) []string {
	lines := []string{
		"Spindle fault:",
		fmt.Sprintf("op: %s", v.Op),
		fmt.Sprintf("task: %d", v.Task),
		fmt.Sprintf("msg: %s", v.Msg),
	}
	if len(v.Stack) == 0 {
		return append(lines, "stack: unavailable")
	}
	lines = append(lines, "stack:")
	for _, line := range strings.Split(string(v.Stack), "\n") {
		if line == "" {
			continue
		}
		lines = append(lines, strings.ReplaceAll(line, "\t", "  "))
	}
	return lines
}

func takeRunes(s string, n int16) (prefix, rest string) {
	if n <= 0 || s == "" {
		return "", s
	}
	if int64(len(s)) <= int64(n) {
		return s, ""
	}
	var i int
	var count int16
	for i < len(s) && count < n {
		_, size := utf8.DecodeRuneInString(s[i:])
		if size <= 0 {
			break
		}
		i += size
		count++
	}
	if i >= len(s) {
		return s, ""
	}
	return s[:i], s[i:]
}
