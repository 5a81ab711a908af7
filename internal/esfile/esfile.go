// Package esfile reads and writes the simple length-prefixed access-unit
// dump format used between the gen-mvc tool and the stereoplay command:
// an 8-byte magic followed by records of {pts, dts int64, size uint32,
// payload}. It stands in for the external demux toolkit that hands the
// core timestamped access units.
package esfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/zsiec/stereo/media"
)

// Magic identifies an MVC elementary-stream dump.
var Magic = [8]byte{'M', 'V', 'E', 'S', '0', '0', '0', '1'}

// MaxRecordSize bounds a single access unit so a corrupt length field
// cannot trigger an enormous allocation.
const MaxRecordSize = 64 << 20

// ErrBadMagic is returned when the input is not an MVES dump.
var ErrBadMagic = errors.New("esfile: bad magic")

// Writer appends access-unit records to an underlying stream.
type Writer struct {
	w io.Writer
}

// NewWriter writes the magic header and returns a Writer.
func NewWriter(w io.Writer) (*Writer, error) {
	if _, err := w.Write(Magic[:]); err != nil {
		return nil, fmt.Errorf("esfile: write magic: %w", err)
	}
	return &Writer{w: w}, nil
}

// WriteAU appends one access unit.
func (w *Writer) WriteAU(au *media.AccessUnit) error {
	var hdr [20]byte
	binary.BigEndian.PutUint64(hdr[0:], uint64(au.PTS))
	binary.BigEndian.PutUint64(hdr[8:], uint64(au.DTS))
	binary.BigEndian.PutUint32(hdr[16:], uint32(len(au.Data)))
	if _, err := w.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("esfile: write record header: %w", err)
	}
	if _, err := w.w.Write(au.Data); err != nil {
		return fmt.Errorf("esfile: write record payload: %w", err)
	}
	return nil
}

// Reader iterates access-unit records from an underlying stream.
type Reader struct {
	r io.Reader
}

// NewReader validates the magic and returns a Reader.
func NewReader(r io.Reader) (*Reader, error) {
	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("esfile: read magic: %w", err)
	}
	if magic != Magic {
		return nil, ErrBadMagic
	}
	return &Reader{r: r}, nil
}

// ReadAU returns the next access unit, or io.EOF at the end of the dump.
func (r *Reader) ReadAU() (*media.AccessUnit, error) {
	var hdr [20]byte
	if _, err := io.ReadFull(r.r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("esfile: read record header: %w", err)
	}
	size := binary.BigEndian.Uint32(hdr[16:])
	if size > MaxRecordSize {
		return nil, fmt.Errorf("esfile: record size %d exceeds limit", size)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r.r, data); err != nil {
		return nil, fmt.Errorf("esfile: read record payload: %w", err)
	}
	return &media.AccessUnit{
		PTS:  int64(binary.BigEndian.Uint64(hdr[0:])),
		DTS:  int64(binary.BigEndian.Uint64(hdr[8:])),
		Data: data,
	}, nil
}
