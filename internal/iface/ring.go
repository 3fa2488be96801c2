package iface

import "fmt"

const (
	tpacketAlignment = 16
	tpacketHdrLen    = 52
	maxBlockSize     = 4 << 20
)

// ring is the PACKET_MMAP geometry of one socket.
type ring struct {
	frameSize int
	blockSize int
	numBlocks int
}

// ringGeometry sizes a TPACKET_V3 ring for snapLen-byte frames within about
// bufferMB megabytes. Frames are TPACKET_ALIGNMENT aligned, blocks are a
// multiple of both the page size and the frame size.
func ringGeometry(bufferMB, snapLen, pageSize int) (ring, error) {
	if bufferMB <= 0 {
		return ring{}, fmt.Errorf("buffer size must be positive, got %d MB", bufferMB)
	}
	if snapLen <= 0 {
		return ring{}, fmt.Errorf("snap length must be positive, got %d", snapLen)
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return ring{}, fmt.Errorf("page size must be a positive multiple of %d, got %d", tpacketAlignment, pageSize)
	}

	frame := alignUp(tpacketHdrLen+snapLen, tpacketAlignment)
	block := lcm(frame, pageSize)
	if block > maxBlockSize {
		// Page-aligned frames keep one frame per block.
		frame = alignUp(frame, pageSize)
		block = frame
	}

	blocks := (bufferMB << 20) / block
	if blocks < 1 {
		blocks = 1
	}
	return ring{frameSize: frame, blockSize: block, numBlocks: blocks}, nil
}

func alignUp(n, align int) int {
	return (n + align - 1) / align * align
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return a / gcd(a, b) * b
}
