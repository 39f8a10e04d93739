package decoder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

const (
	markerTEM  = 0x01
	markerSOI  = 0xD8
	markerEOI  = 0xD9
	markerSOS  = 0xDA
	markerRST0 = 0xD0
	markerRST7 = 0xD7
)

// MaxFrameBytes bounds a single image so a corrupt stream cannot grow a
// frame buffer without limit.
const MaxFrameBytes = 64 << 20

var (
	ErrBadMarker     = errors.New("jpeg: malformed marker")
	ErrFrameTooLarge = errors.New("jpeg: frame exceeds size limit")
)

// JPEGSplitter cuts a stream of back-to-back JPEG images (as written by
// ffmpeg's image2pipe muxer) into individual images. It follows segment
// lengths up to each scan, so EOI bytes inside APPn payloads such as EXIF
// thumbnails do not end a frame early.
type JPEGSplitter struct {
	r   *bufio.Reader
	buf []byte
}

func NewJPEGSplitter(r io.Reader) *JPEGSplitter {
	return &JPEGSplitter{r: bufio.NewReaderSize(r, 64<<10)}
}

// Next returns the next complete image. It returns io.EOF when the stream
// ends cleanly between images and io.ErrUnexpectedEOF when it ends inside one.
func (s *JPEGSplitter) Next() ([]byte, error) {
	if err := s.seekSOI(); err != nil {
		return nil, err
	}
	s.buf = append(s.buf[:0], 0xFF, markerSOI)

	marker, err := s.readMarker()
	for {
		if err != nil {
			return nil, unexpected(err)
		}
		if len(s.buf) > MaxFrameBytes {
			return nil, ErrFrameTooLarge
		}

		switch {
		case marker == markerEOI:
			s.buf = append(s.buf, 0xFF, markerEOI)
			out := make([]byte, len(s.buf))
			copy(out, s.buf)
			return out, nil
		case marker == markerSOI:
			return nil, fmt.Errorf("%w: SOI inside image", ErrBadMarker)
		case marker == markerTEM || (marker >= markerRST0 && marker <= markerRST7):
			s.buf = append(s.buf, 0xFF, marker)
			marker, err = s.readMarker()
		default:
			if err = s.readSegment(marker); err != nil {
				continue
			}
			if marker == markerSOS {
				marker, err = s.scanEntropy()
			} else {
				marker, err = s.readMarker()
			}
		}
	}
}

// seekSOI discards bytes up to and including the next FFD8.
func (s *JPEGSplitter) seekSOI() error {
	prev := byte(0)
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			return err
		}
		if prev == 0xFF && b == markerSOI {
			return nil
		}
		prev = b
	}
}

// readMarker reads an FF-prefixed marker, skipping fill bytes.
func (s *JPEGSplitter) readMarker() (byte, error) {
	b, err := s.r.ReadByte()
	if err != nil {
		return 0, err
	}
	if b != 0xFF {
		return 0, fmt.Errorf("%w: expected 0xFF, got 0x%02X", ErrBadMarker, b)
	}
	for b == 0xFF {
		if b, err = s.r.ReadByte(); err != nil {
			return 0, err
		}
	}
	if b == 0x00 {
		return 0, fmt.Errorf("%w: stuffed byte outside scan", ErrBadMarker)
	}
	return b, nil
}

func (s *JPEGSplitter) readSegment(marker byte) error {
	var lenBuf [2]byte
	if _, err := io.ReadFull(s.r, lenBuf[:]); err != nil {
		return err
	}
	n := int(lenBuf[0])<<8 | int(lenBuf[1])
	if n < 2 {
		return fmt.Errorf("%w: segment 0x%02X length %d", ErrBadMarker, marker, n)
	}

	start := len(s.buf)
	s.buf = append(s.buf, 0xFF, marker, lenBuf[0], lenBuf[1])
	s.buf = append(s.buf, make([]byte, n-2)...)
	_, err := io.ReadFull(s.r, s.buf[start+4:])
	return err
}

// scanEntropy copies entropy-coded data until a marker that is not a
// restart marker, and returns that marker.
func (s *JPEGSplitter) scanEntropy() (byte, error) {
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			return 0, err
		}
		if b != 0xFF {
			s.buf = append(s.buf, b)
			if len(s.buf) > MaxFrameBytes {
				return 0, ErrFrameTooLarge
			}
			continue
		}

		n, err := s.r.ReadByte()
		for err == nil && n == 0xFF {
			n, err = s.r.ReadByte()
		}
		if err != nil {
			return 0, err
		}
		if n == 0x00 || (n >= markerRST0 && n <= markerRST7) {
			s.buf = append(s.buf, 0xFF, n)
			continue
		}
		return n, nil
	}
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
