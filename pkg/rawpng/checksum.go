package rawpng

// IEEE polynomial, reflected.
const crcPoly = 0xEDB88320

var crcTable [256]uint32

func init() {
	for n := range crcTable {
		c := uint32(n)
		for k := 0; k < 8; k++ {
			if c&1 != 0 {
				c = crcPoly ^ (c >> 1)
			} else {
				c >>= 1
			}
		}
		crcTable[n] = c
	}
}

// CRC32 returns the PNG chunk checksum of b.
func CRC32(b []byte) uint32 {
	c := ^uint32(0)
	for _, v := range b {
		c = crcTable[byte(c)^v] ^ (c >> 8)
	}
	return ^c
}

const adlerMod = 65521

type adler32 struct {
	a, b uint32
	init bool
}

func (d *adler32) update(p []byte) {
	if !d.init {
		d.a, d.b, d.init = 1, 0, true
	}
	for _, v := range p {
		d.a = (d.a + uint32(v)) % adlerMod
		d.b = (d.b + d.a) % adlerMod
	}
}

func (d *adler32) sum() uint32 {
	if !d.init {
		return 1
	}
	return d.b<<16 | d.a
}

// Adler32 returns the zlib checksum of b.
func Adler32(b []byte) uint32 {
	var d adler32
	d.update(b)
	return d.sum()
}
