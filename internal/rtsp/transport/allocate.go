package transport

// PortsPerCamera is the size of the block reserved for one camera:
// two tracks, each an RTP port followed by its RTCP placeholder.
const PortsPerCamera = 4

// PortBlock holds the local UDP ports of one camera, indexed by track.
type PortBlock [2]PortPair

// Track returns the ports of the zero based track index.
func (b PortBlock) Track(i int) PortPair {
	return b[i]
}

// Allocate derives the port block of the camera at index in the configured
// camera list. Blocks of distinct indexes never overlap.
func Allocate(base, index int) PortBlock {
	start := base + index*PortsPerCamera
	return PortBlock{
		{start, start + 1},
		{start + 2, start + 3},
	}
}
