package codec

import (
	"fmt"
	"io"
	"os"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/c2h5oh/datasize"
	renameio "github.com/google/renameio/v2"

	"github.com/haukened/rr-adblock/internal/adblock/repos/index"
)

// DefaultMaxSize bounds how much data Read and ReadFile accept.
const DefaultMaxSize = 64 * datasize.MB

// ErrTooLarge is returned when a blob exceeds the size limit.
const ErrTooLarge errors.Error = "blob too large"

// WriteFile encodes idx and atomically replaces the file at path.
func WriteFile(path string, idx *index.Index) (err error) {
	defer func() { err = errors.Annotate(err, "writing blob: %w") }()

	return renameio.WriteFile(path, Encode(idx), 0o644)
}

// Read reads at most maxSize bytes from r and decodes them. A zero maxSize
// means DefaultMaxSize. Errors from r are returned as is so callers can tell
// I/O failures from bad data.
func Read(r io.Reader, maxSize datasize.ByteSize, opts index.BuildOptions) (*index.Index, error) {
	if maxSize == 0 {
		maxSize = DefaultMaxSize
	}
	data, err := io.ReadAll(io.LimitReader(r, int64(maxSize.Bytes())+1))
	if err != nil {
		return nil, err
	}
	if uint64(len(data)) > maxSize.Bytes() {
		return nil, fmt.Errorf("%w: over %s", ErrTooLarge, maxSize.HR())
	}
	return Decode(data, opts)
}

// ReadFile decodes the blob stored at path. A missing file yields an
// *fs.PathError.
func ReadFile(path string, maxSize datasize.ByteSize, opts index.BuildOptions) (idx *index.Index, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { err = errors.WithDeferred(err, f.Close()) }()

	return Read(f, maxSize, opts)
}
