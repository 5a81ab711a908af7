// Package bits provides MSB-first bitstream reading and writing with the
// Exp-Golomb codes and start-code emulation handling used by the NAL-level
// parsers and the synthetic-stream builders.
package bits

import "errors"

// ErrOverflow is returned once a read runs past the end of the data. The
// reader latches the condition so callers can parse a whole header and check
// once at the end.
var ErrOverflow = errors.New("bits: read past end of data")

// Reader reads bits MSB-first from a byte slice.
type Reader struct {
	data     []byte
	bitPos   int
	overflow bool
}

// NewReader returns a Reader over data. The slice is not copied.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Err reports whether any read has overflowed the data.
func (r *Reader) Err() error {
	if r.overflow {
		return ErrOverflow
	}
	return nil
}

// BitsLeft returns the number of unread bits.
func (r *Reader) BitsLeft() int {
	total := len(r.data) * 8
	if r.bitPos > total {
		return 0
	}
	return total - r.bitPos
}

// ReadBit reads a single bit, returning false on overflow.
func (r *Reader) ReadBit() bool {
	if r.bitPos >= len(r.data)*8 {
		r.overflow = true
		return false
	}
	byteIdx := r.bitPos / 8
	bitIdx := 7 - (r.bitPos % 8)
	r.bitPos++
	return (r.data[byteIdx]>>uint(bitIdx))&1 == 1
}

// ReadBits reads n bits as an unsigned value, MSB first.
func (r *Reader) ReadBits(n int) uint {
	var val uint
	for i := 0; i < n; i++ {
		val <<= 1
		if r.ReadBit() {
			val |= 1
		}
	}
	return val
}

// ReadUE reads an unsigned Exp-Golomb code (ue(v) per ITU-T H.264 §9.1).
func (r *Reader) ReadUE() uint {
	zeros := 0
	for !r.ReadBit() {
		zeros++
		if zeros > 31 || r.overflow {
			r.overflow = true
			return 0
		}
	}
	if zeros == 0 {
		return 0
	}
	return (1 << zeros) - 1 + r.ReadBits(zeros)
}

// ReadSE reads a signed Exp-Golomb code (se(v)).
func (r *Reader) ReadSE() int {
	val := r.ReadUE()
	if val%2 == 0 {
		return -int(val / 2)
	}
	return int((val + 1) / 2)
}

// Skip advances past n bits.
func (r *Reader) Skip(n int) {
	r.bitPos += n
	if r.bitPos > len(r.data)*8 {
		r.overflow = true
	}
}

// Align advances to the next byte boundary.
func (r *Reader) Align() {
	if rem := r.bitPos % 8; rem != 0 {
		r.Skip(8 - rem)
	}
}

// Rest returns the unread bytes after aligning to a byte boundary. Used by
// the slice decoder to take the plane payload without per-bit reads.
func (r *Reader) Rest() []byte {
	r.Align()
	if r.overflow || r.bitPos/8 >= len(r.data) {
		return nil
	}
	return r.data[r.bitPos/8:]
}

// StripEmulationPrevention removes 0x03 emulation-prevention bytes from a
// NAL payload, returning the raw RBSP.
func StripEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 3 &&
			(i+3 >= len(data) || data[i+3] <= 3) {
			out = append(out, 0, 0)
			i += 2
		} else {
			out = append(out, data[i])
		}
	}
	return out
}

// InsertEmulationPrevention escapes byte patterns that would alias an Annex B
// start code, producing a payload safe to embed between start codes.
func InsertEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data)+len(data)/64)
	zeros := 0
	for _, b := range data {
		if zeros >= 2 && b <= 3 {
			out = append(out, 3)
			zeros = 0
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}

// Writer writes bits MSB-first into a growing byte slice.
type Writer struct {
	data []byte
	bit  int
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// WriteBit appends a single bit.
func (w *Writer) WriteBit(b bool) {
	if w.bit == 0 {
		w.data = append(w.data, 0)
	}
	if b {
		w.data[len(w.data)-1] |= 1 << uint(7-w.bit)
	}
	w.bit = (w.bit + 1) % 8
}

// WriteBits appends the low n bits of val, MSB first.
func (w *Writer) WriteBits(val uint, n int) {
	for i := n - 1; i >= 0; i-- {
		w.WriteBit((val>>uint(i))&1 == 1)
	}
}

// WriteUE appends an unsigned Exp-Golomb code.
func (w *Writer) WriteUE(val uint) {
	v := val + 1
	n := 0
	for t := v; t > 1; t >>= 1 {
		n++
	}
	w.WriteBits(0, n)
	w.WriteBits(v, n+1)
}

// WriteSE appends a signed Exp-Golomb code.
func (w *Writer) WriteSE(val int) {
	if val <= 0 {
		w.WriteUE(uint(-2 * val))
	} else {
		w.WriteUE(uint(2*val - 1))
	}
}

// Align pads with zero bits to the next byte boundary.
func (w *Writer) Align() {
	for w.bit != 0 {
		w.WriteBit(false)
	}
}

// WriteBytes appends raw bytes. The writer must be byte-aligned.
func (w *Writer) WriteBytes(p []byte) {
	if w.bit != 0 {
		panic("bits: WriteBytes on unaligned writer")
	}
	w.data = append(w.data, p...)
}

// Bytes returns the accumulated bytes, padded to a byte boundary.
func (w *Writer) Bytes() []byte {
	w.Align()
	return w.data
}
