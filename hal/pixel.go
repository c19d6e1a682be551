package hal

// RGB565 packs an 8-bit-per-channel color.
func RGB565(r, g, b uint8) uint16 {
	return uint16(r>>3)<<11 | uint16(g>>2)<<5 | uint16(b>>3)
}

// RGB888 unpacks an RGB565 pixel, scaling each channel back to 0..255.
func RGB888(p uint16) (r, g, b uint8) {
	r5, g6, b5 := p>>11&0x1F, p>>5&0x3F, p&0x1F
	return uint8(r5 * 255 / 31), uint8(g6 * 255 / 63), uint8(b5 * 255 / 31)
}
