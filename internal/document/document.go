// Package document reads the monitored document and computes its
// content hash.
//
// The monitor core only ever sees this package through the Reader
// interface: a pull function for word/char counts and an ordered-chunk
// byte source for the content hash. Both return errors instead of
// panicking; the caller is expected to reuse last-known values on
// failure.
package document

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"
)

// ErrUnreadable is returned when the document cannot be read.
var ErrUnreadable = errors.New("document: unreadable")

// Snapshot is a point-in-time observation of the document.
type Snapshot struct {
	WordCount int
	CharCount int
}

// Reader is the sampler contract between the host document and the
// monitor core.
type Reader interface {
	// Snapshot returns current word and character counts.
	Snapshot() (Snapshot, error)

	// Chunks returns the raw document payload as ordered byte chunks.
	Chunks() ([][]byte, error)
}

// chunkSize matches the slice size used when pulling document bytes
// from the host.
const chunkSize = 64 * 1024

// FileReader reads a document from the local filesystem.
type FileReader struct {
	path string
}

// NewFileReader creates a Reader over a file path.
func NewFileReader(path string) *FileReader {
	return &FileReader{path: path}
}

// Path returns the monitored file path.
func (r *FileReader) Path() string {
	return r.path
}

// Snapshot reads the file and derives word and character counts.
func (r *FileReader) Snapshot() (Snapshot, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return Count(string(data)), nil
}

// Chunks reads the file as ordered byte chunks.
func (r *FileReader) Chunks() ([][]byte, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer f.Close()

	var chunks [][]byte
	for {
		buf := make([]byte, chunkSize)
		n, err := f.Read(buf)
		if n > 0 {
			chunks = append(chunks, buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
		}
	}
	return chunks, nil
}

// Count derives word and character counts from document text.
func Count(text string) Snapshot {
	return Snapshot{
		WordCount: len(strings.Fields(text)),
		CharCount: utf8.RuneCountInString(text),
	}
}

// Hash computes the hex-encoded SHA-256 digest over the order-preserving
// concatenation of the given chunks. An empty payload yields an error so
// an unreadable document is never mistaken for an empty one.
func Hash(chunks [][]byte) (string, error) {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	if total == 0 {
		return "", fmt.Errorf("%w: empty payload", ErrUnreadable)
	}

	h := sha256.New()
	for _, c := range chunks {
		h.Write(c)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashReader computes the content hash of a Reader's current payload.
func HashReader(r Reader) (string, error) {
	chunks, err := r.Chunks()
	if err != nil {
		return "", err
	}
	return Hash(chunks)
}

// HashFile computes the SHA-256 hash of a file using streaming, for
// verification-time hashing of large documents.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}
