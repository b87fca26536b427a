package models

// Frame is one detector frame read from disk
type Frame struct {
	// Image holds the pixel intensities
	Image *Image

	// Index is the position of this frame in the acquisition sequence
	Index int

	// Filename is the file the frame was read from
	Filename string
}

// FrameSet is an ordered series of frames recorded under the same conditions
type FrameSet []Frame

// Images returns the images of the set in acquisition order
func (fs FrameSet) Images() []*Image {
	out := make([]*Image, len(fs))
	for i, f := range fs {
		out[i] = f.Image
	}
	return out
}
