package archive

import (
	"bytes"
	"compress/gzip"
	"io"

	"github.com/npmcore/npmcore/internal/npmerr"
)

var gzipMagic = [2]byte{0x1F, 0x8B}

// IsGzip reports whether data begins with the gzip magic number.
func IsGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == gzipMagic[0] && data[1] == gzipMagic[1]
}

// Decompress verifies the gzip magic and inflates data.
func Decompress(data []byte) ([]byte, error) {
	if !IsGzip(data) {
		return nil, npmerr.New(npmerr.ETarball, "not a gzip stream: bad magic")
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, npmerr.Wrap(err, npmerr.ETarball).With("stage", "gzip-open")
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, npmerr.Wrap(err, npmerr.ETarball).With("stage", "gzip-inflate")
	}
	return out, nil
}

// Compress gzips data at the default compression level.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, npmerr.Wrap(err, npmerr.ETarball)
	}
	if err := zw.Close(); err != nil {
		return nil, npmerr.Wrap(err, npmerr.ETarball)
	}
	return buf.Bytes(), nil
}

// StreamDecompress pulls gzip-compressed chunks from r and writes the
// inflated bytes to w. However r delivers the stream in chunks, the output
// is identical to Decompress over the whole buffer, since gzip.Reader is a
// streaming pull parser over the underlying io.Reader. Each call expects r
// to start at a gzip header.
func StreamDecompress(r io.Reader, w io.Writer) error {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return npmerr.Wrap(err, npmerr.ETarball).With("stage", "gzip-open")
	}
	defer zr.Close()
	if _, err := io.Copy(w, zr); err != nil {
		return npmerr.Wrap(err, npmerr.ETarball).With("stage", "gzip-inflate")
	}
	return nil
}

// StreamCompress gzips r's bytes into w.
func StreamCompress(r io.Reader, w io.Writer) error {
	zw := gzip.NewWriter(w)
	if _, err := io.Copy(zw, r); err != nil {
		return npmerr.Wrap(err, npmerr.ETarball)
	}
	if err := zw.Close(); err != nil {
		return npmerr.Wrap(err, npmerr.ETarball)
	}
	return nil
}
