// Package checksum wraps the SHA-256 plumbing shared by the coordinator,
// the workers, and the client: hex digests over byte slices and streams, and
// a verifying reader that checks bytes against an expected digest at EOF.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
)

// HexLen is the length of a lowercase hex SHA-256 digest.
const HexLen = 64

// Sum returns the lowercase hex SHA-256 digest of data.
func Sum(data []byte) string {
	d := sha256.Sum256(data)
	return hex.EncodeToString(d[:])
}

// SumReader consumes r and returns its digest and the number of bytes read.
func SumReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Writer computes a digest over everything written through it while passing
// the bytes to the underlying writer.
type Writer struct {
	w io.Writer
	h hash.Hash
	n int64
}

// NewWriter returns a digesting pass-through writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, h: sha256.New()}
}

func (dw *Writer) Write(p []byte) (int, error) {
	n, err := dw.w.Write(p)
	if n > 0 {
		dw.h.Write(p[:n])
		dw.n += int64(n)
	}
	return n, err
}

// Sum returns the digest of the bytes written so far.
func (dw *Writer) Sum() string {
	return hex.EncodeToString(dw.h.Sum(nil))
}

// Size returns the number of bytes written so far.
func (dw *Writer) Size() int64 {
	return dw.n
}

// VerifyingReader wraps r and hashes everything read through it. When the
// underlying reader returns io.EOF, the computed digest is compared to the
// expected one; a mismatch is returned in place of io.EOF.
type VerifyingReader struct {
	r        io.Reader
	h        hash.Hash
	expected string
	done     bool
}

// NewVerifyingReader returns a reader that fails at EOF unless the stream's
// SHA-256 hex digest equals expected.
func NewVerifyingReader(r io.Reader, expected string) *VerifyingReader {
	return &VerifyingReader{r: r, h: sha256.New(), expected: expected}
}

func (vr *VerifyingReader) Read(p []byte) (int, error) {
	n, err := vr.r.Read(p)
	if n > 0 {
		vr.h.Write(p[:n])
	}
	if err == io.EOF && !vr.done {
		vr.done = true
		if got := hex.EncodeToString(vr.h.Sum(nil)); got != vr.expected {
			return n, &MismatchError{Expected: vr.expected, Actual: got}
		}
	}
	return n, err
}

// MismatchError reports a digest that did not match its expectation.
type MismatchError struct {
	Expected string
	Actual   string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected %s, got %s", e.Expected, e.Actual)
}
