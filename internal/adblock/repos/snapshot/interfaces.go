// Package snapshot defines persistent storage for compiled filter blobs, so
// a host can keep several named engines (e.g. per region) and reload them
// without recompiling filter lists.
package snapshot

import (
	"time"

	"github.com/AdguardTeam/golibs/errors"
)

// ErrNotFound is returned when no snapshot is stored under a name.
const ErrNotFound errors.Error = "snapshot not found"

// Info describes a stored snapshot.
type Info struct {
	Name    string
	Version uint64 // incremented on every save under the same name
	Updated time.Time
	Size    int
}

// Store persists compiled blobs by name.
type Store interface {
	Save(name string, blob []byte) (Info, error)
	Load(name string) ([]byte, Info, error)
	Delete(name string) error
	List() ([]Info, error)
	Close() error
}
