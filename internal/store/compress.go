package store

import (
	"bytes"
	"compress/zlib"
	"io"
)

// compressText zlib-compresses UTF-8 text for storage in files.content_compressed.
func compressText(text string) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write([]byte(text)); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decompressBytes inflates a zlib stream back to text, used both by the
// Go-side readers (get_symbol_block, read_file) and by the decompress()
// SQL scalar function the FTS mirror relies on.
func decompressBytes(data []byte) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
