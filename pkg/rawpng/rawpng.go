// Package rawpng writes RGBA images as PNG using stored (uncompressed)
// deflate blocks. Tiles are encoded on every cache miss, so it trades file
// size for an encoder whose cost is a couple of memory copies.
package rawpng

import (
	"encoding/binary"
	"fmt"
)

const (
	// MaxStoredBlock is the largest payload of a stored deflate block.
	MaxStoredBlock = 65535

	colorTypeRGBA = 6
	bitDepth      = 8
)

var signature = [8]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// zlib CMF/FLG: deflate, 32K window, no dictionary, fastest level.
var zlibHeader = [2]byte{0x78, 0x01}

// Encode returns the PNG encoding of a width×height RGBA buffer.
func Encode(rgba []byte, width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid image size %dx%d", width, height)
	}
	if len(rgba) != width*height*4 {
		return nil, fmt.Errorf("pixel buffer has %d bytes, want %d", len(rgba), width*height*4)
	}

	stride := width * 4
	rawLen := height * (stride + 1)
	blocks := (rawLen + MaxStoredBlock - 1) / MaxStoredBlock
	idatLen := len(zlibHeader) + blocks*5 + rawLen + 4

	out := make([]byte, 0, len(signature)+(12+13)+(12+idatLen)+12)
	out = append(out, signature[:]...)

	var ihdr [13]byte
	binary.BigEndian.PutUint32(ihdr[0:], uint32(width))
	binary.BigEndian.PutUint32(ihdr[4:], uint32(height))
	ihdr[8] = bitDepth
	ihdr[9] = colorTypeRGBA
	// compression, filter and interlace methods stay 0
	out = appendChunk(out, "IHDR", ihdr[:])

	// IDAT is written in place: the length and type first, the payload
	// streamed after them, then the CRC over type and payload.
	start := len(out)
	out = binary.BigEndian.AppendUint32(out, uint32(idatLen))
	out = append(out, "IDAT"...)
	out = append(out, zlibHeader[:]...)

	var adler adler32
	remaining := rawLen
	blockLeft := 0
	filter := []byte{0} // None
	for y := 0; y < height; y++ {
		line := rgba[y*stride : (y+1)*stride]
		for _, part := range [][]byte{filter, line} {
			for len(part) > 0 {
				if blockLeft == 0 {
					blockLeft = min(remaining, MaxStoredBlock)
					out = appendBlockHeader(out, blockLeft, remaining == blockLeft)
				}
				n := min(len(part), blockLeft)
				out = append(out, part[:n]...)
				adler.update(part[:n])
				part = part[n:]
				blockLeft -= n
				remaining -= n
			}
		}
	}
	out = binary.BigEndian.AppendUint32(out, adler.sum())
	out = binary.BigEndian.AppendUint32(out, CRC32(out[start+4:]))

	out = appendChunk(out, "IEND", nil)
	return out, nil
}

func appendBlockHeader(out []byte, n int, final bool) []byte {
	var bfinal byte
	if final {
		bfinal = 1
	}
	out = append(out, bfinal)
	out = binary.LittleEndian.AppendUint16(out, uint16(n))
	return binary.LittleEndian.AppendUint16(out, ^uint16(n))
}

func appendChunk(out []byte, typ string, data []byte) []byte {
	out = binary.BigEndian.AppendUint32(out, uint32(len(data)))
	start := len(out)
	out = append(out, typ...)
	out = append(out, data...)
	return binary.BigEndian.AppendUint32(out, CRC32(out[start:]))
}
