package pipeline

// ToDisplay maps a box from source-image pixels to display-surface pixels by
// scaling each axis independently. A non-positive source dimension yields a
// scale of 1 on that axis. No aspect-ratio correction is applied: when the
// display aspect differs from the source, boxes stretch with the image.
func ToDisplay(b Box, sourceWidth, sourceHeight, displayWidth, displayHeight int) Box {
	sx := float32(1)
	if sourceWidth > 0 {
		sx = float32(displayWidth) / float32(sourceWidth)
	}
	sy := float32(1)
	if sourceHeight > 0 {
		sy = float32(displayHeight) / float32(sourceHeight)
	}
	return Box{
		Left:   b.Left * sx,
		Top:    b.Top * sy,
		Right:  b.Right * sx,
		Bottom: b.Bottom * sy,
	}
}
