package decoder

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"testing"
)

func encodeJPEG(t *testing.T, w, h int, shade uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			// a gradient gives the encoder real entropy data, including 0xFF
			// bytes that must be stuffed
			img.Set(x, y, color.RGBA{R: shade, G: uint8(x * 7), B: uint8(y * 13), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func readAll(t *testing.T, s *JPEGSplitter) [][]byte {
	t.Helper()
	var frames [][]byte
	for {
		f, err := s.Next()
		if errors.Is(err, io.EOF) {
			return frames
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		frames = append(frames, f)
	}
}

func TestJPEGSplitter_Concatenated(t *testing.T) {
	want := [][]byte{
		encodeJPEG(t, 32, 24, 10),
		encodeJPEG(t, 32, 24, 120),
		encodeJPEG(t, 48, 16, 250),
	}
	stream := bytes.Join(want, nil)

	got := readAll(t, NewJPEGSplitter(bytes.NewReader(stream)))

	if len(got) != len(want) {
		t.Fatalf("expected %d frames, got %d", len(want), len(got))
	}
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Errorf("frame %d differs (len %d vs %d)", i, len(got[i]), len(want[i]))
		}
		if _, err := jpeg.Decode(bytes.NewReader(got[i])); err != nil {
			t.Errorf("frame %d does not decode: %v", i, err)
		}
	}
}

func TestJPEGSplitter_EmptyStream(t *testing.T) {
	s := NewJPEGSplitter(bytes.NewReader(nil))
	if _, err := s.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestJPEGSplitter_SkipsLeadingGarbage(t *testing.T) {
	frame := encodeJPEG(t, 16, 16, 50)
	stream := append([]byte("junk\xff\x00"), frame...)

	got := readAll(t, NewJPEGSplitter(bytes.NewReader(stream)))
	if len(got) != 1 || !bytes.Equal(got[0], frame) {
		t.Errorf("expected the single frame back, got %d frames", len(got))
	}
}

func TestJPEGSplitter_Truncated(t *testing.T) {
	frame := encodeJPEG(t, 16, 16, 50)
	s := NewJPEGSplitter(bytes.NewReader(frame[:len(frame)/2]))

	if _, err := s.Next(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestJPEGSplitter_EmbeddedThumbnail(t *testing.T) {
	main := encodeJPEG(t, 32, 32, 80)
	thumb := encodeJPEG(t, 8, 8, 200)

	payload := append([]byte("Exif\x00\x00"), thumb...)
	segLen := len(payload) + 2
	app1 := append([]byte{0xFF, 0xE1, byte(segLen >> 8), byte(segLen)}, payload...)

	var withExif []byte
	withExif = append(withExif, main[:2]...)
	withExif = append(withExif, app1...)
	withExif = append(withExif, main[2:]...)

	second := encodeJPEG(t, 32, 32, 90)
	stream := append(append([]byte{}, withExif...), second...)

	got := readAll(t, NewJPEGSplitter(bytes.NewReader(stream)))
	if len(got) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(got))
	}
	if !bytes.Equal(got[0], withExif) {
		t.Error("thumbnail EOI ended the first frame early")
	}
	if !bytes.Equal(got[1], second) {
		t.Error("second frame differs")
	}
}

func TestJPEGSplitter_BadSegmentLength(t *testing.T) {
	stream := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x01}
	_, err := NewJPEGSplitter(bytes.NewReader(stream)).Next()
	if !errors.Is(err, ErrBadMarker) {
		t.Errorf("expected ErrBadMarker, got %v", err)
	}
}
