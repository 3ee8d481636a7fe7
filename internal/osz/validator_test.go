package osz

import (
	"bytes"
	"testing"
)

// fakeArchive builds a buffer that passes every check: ZIP header,
// padding up to size, EOCD record at the end.
func fakeArchive(size int) []byte {
	buf := make([]byte, size)
	copy(buf, zipMagic)
	copy(buf[size-22:], zipEOCD)
	return buf
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{
			name: "valid archive",
			data: fakeArchive(MinArchiveSize),
			want: true,
		},
		{
			name: "large valid archive",
			data: fakeArchive(256 * 1024),
			want: true,
		},
		{
			name: "markup error body below minimum size",
			data: bytes.Repeat([]byte("<html>error</html>"), 512/18+1)[:512],
			want: false,
		},
		{
			name: "empty buffer",
			data: nil,
			want: false,
		},
		{
			name: "right size, wrong signature",
			data: append(bytes.Repeat([]byte{'x'}, MinArchiveSize-22), zipEOCD...),
			want: false,
		},
		{
			name: "valid header but truncated",
			data: func() []byte {
				buf := make([]byte, MinArchiveSize)
				copy(buf, zipMagic)
				return buf
			}(),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValid(tt.data); got != tt.want {
				t.Errorf("IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheckEndOfArchiveDeepTail(t *testing.T) {
	// EOCD buried just inside the search window is still found.
	buf := make([]byte, 1024*1024)
	copy(buf, zipMagic)
	copy(buf[len(buf)-eocdSearchWindow:], zipEOCD)
	if !CheckEndOfArchive(buf) {
		t.Error("CheckEndOfArchive() = false with marker inside tail window")
	}

	// EOCD before the window does not count.
	buf2 := make([]byte, 1024*1024)
	copy(buf2, zipMagic)
	copy(buf2[100:], zipEOCD)
	if CheckEndOfArchive(buf2) {
		t.Error("CheckEndOfArchive() = true with marker outside tail window")
	}
}
