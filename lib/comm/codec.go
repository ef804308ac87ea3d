package comm

/* codec.go turns float64 payloads into the byte images that cross the wire.
Payloads can optionally be zstd-compressed: particle payloads are large,
repetitive arrays, so even level-1 compression pays for itself on slow
interconnects. */

import (
	"reflect"
	"unsafe"

	"github.com/DataDog/zstd"
)

type codec struct {
	compress bool
	level    int
}

// encode copies data into a freshly allocated byte image, compressing it if
// the codec calls for that. Empty payloads encode to empty images either
// way: they're common (a block with nothing to send still posts a send) and
// not worth framing.
func (cd codec) encode(data []float64) message {
	if len(data) == 0 { return message{ nil, 0 } }

	raw := floatBytes(data)
	if !cd.compress {
		buf := make([]byte, len(raw))
		copy(buf, raw)
		return message{ buf, len(data) }
	}

	buf, err := zstd.CompressLevel(nil, raw, cd.level)
	if err != nil {
		panic("'Impossible' zstd compression failure: " + err.Error())
	}
	return message{ buf, len(data) }
}

// decode writes the message's payload into buf, which must have length
// msg.n.
func (cd codec) decode(msg message, buf []float64) {
	if msg.n == 0 { return }

	dst := floatBytes(buf)
	if !cd.compress {
		copy(dst, msg.data)
		return
	}

	out, err := zstd.Decompress(dst, msg.data)
	if err != nil {
		panic("'Impossible' zstd decompression failure: " + err.Error())
	}
	// Decompress only reuses dst if it was big enough, which it always is
	// here, but stay safe against a reallocation.
	if &out[0] != &dst[0] { copy(dst, out) }
}

// floatBytes returns the bytes backing x without copying them. Go uses the
// reflect package to write non-primitive data through encoding/binary, which
// is slow and makes tons of heap allocations, so you need to be sneaky and
// "cast" to a primitive array instead.
func floatBytes(x []float64) []byte {
	hd := *(*reflect.SliceHeader)(unsafe.Pointer(&x))
	hd.Len *= 8
	hd.Cap *= 8
	return *(*[]byte)(unsafe.Pointer(&hd))
}
