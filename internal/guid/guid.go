// Package guid implements the 128-bit daemon identifier and its persisted
// store: a single line of 32 lowercase hex digits at <dir>/PersistentGUID,
// written atomically by write-temp-then-rename with no cross-process
// locking.
package guid

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	bderrors "github.com/alljoyn-go/coredaemon/internal/errors"
)

// FileName is the name of the persisted GUID file within the system home
// directory.
const FileName = "PersistentGUID"

// GUID128 is a 128-bit daemon identifier, rendered as lowercase hex.
type GUID128 [16]byte

// String renders the GUID as 32 lowercase hex digits.
func (g GUID128) String() string {
	return hex.EncodeToString(g[:])
}

// IsZero reports whether the GUID has never been assigned.
func (g GUID128) IsZero() bool {
	return g == GUID128{}
}

// Parse decodes 32 lowercase hex digits into a GUID128.
func Parse(s string) (GUID128, error) {
	var g GUID128
	if len(s) != 32 {
		return g, &bderrors.ParseError{Path: "", Message: fmt.Sprintf("expected 32 hex digits, got %d bytes", len(s))}
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return g, &bderrors.ParseError{Path: "", Message: "not valid hex: " + err.Error()}
	}
	copy(g[:], b)
	return g, nil
}

// New generates a fresh random GUID128. The wire format only requires 16
// raw bytes, not a specific UUID version/variant, so a v4 UUID's bytes are
// used directly as the entropy source.
func New() GUID128 {
	var g GUID128
	u := uuid.New()
	copy(g[:], u[:])
	return g
}

// Get reads the persistent GUID from <dir>/PersistentGUID. It fails with
// NoSuchFileError if the file is absent and ParseError if its contents are
// malformed — it never silently invents one (callers that want
// get-or-create use GetOrCreate).
func Get(dir string) (GUID128, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return GUID128{}, &bderrors.NoSuchFileError{Path: path, Err: err}
		}
		return GUID128{}, &bderrors.NoSuchFileError{Path: path, Err: err}
	}
	line := trimOneLine(data)
	g, err := Parse(line)
	if err != nil {
		return GUID128{}, &bderrors.ParseError{Path: path, Message: err.Error()}
	}
	return g, nil
}

// Set writes the persistent GUID atomically: write to a temp file in the
// same directory, then rename over the destination. No locking is taken
// across processes; concurrent writers race with last-writer-wins, which
// is acceptable because the value is constant for a given daemon.
func Set(dir string, g GUID128) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, FileName)
	tmp, err := os.CreateTemp(dir, FileName+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(g.String() + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// GetOrCreate reads the persistent GUID, generating and persisting a new
// one on first run. Two daemons must never share a GUID: this is only
// safe to call once per state directory.
func GetOrCreate(dir string) (GUID128, error) {
	g, err := Get(dir)
	if err == nil {
		return g, nil
	}
	var nsf *bderrors.NoSuchFileError
	if !isNoSuchFile(err, &nsf) {
		return GUID128{}, err
	}
	g = New()
	if err := Set(dir, g); err != nil {
		return GUID128{}, err
	}
	return g, nil
}

func isNoSuchFile(err error, target **bderrors.NoSuchFileError) bool {
	nsf, ok := err.(*bderrors.NoSuchFileError)
	if ok {
		*target = nsf
	}
	return ok
}

func trimOneLine(data []byte) string {
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return string(data[:i])
		}
	}
	return string(data)
}
