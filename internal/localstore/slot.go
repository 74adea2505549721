package localstore

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// ErrSlotNotFound is returned by Slot.Read when nothing has been persisted.
var ErrSlotNotFound = errors.New("slot not found")

// Slot is a single key-value persistence slot holding one serialized record.
type Slot interface {
	Read() ([]byte, error)
	Write(data []byte) error
	// Delete removes the slot. Deleting an absent slot is not an error.
	Delete() error
}

// FileSlot persists to one file, replacing it atomically on every write.
type FileSlot struct {
	path string
	// beforeOpen runs between the symlink check and the open. Tests use it
	// to swap the file.
	beforeOpen func()
}

func NewFileSlot(path string) *FileSlot {
	return &FileSlot{path: path}
}

func (f *FileSlot) Path() string { return f.path }

// Read refuses symlinks: a link could point the record anywhere on disk. The
// opened handle must be the file that was checked.
func (f *FileSlot) Read() ([]byte, error) {
	checked, err := os.Lstat(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	if checked.Mode()&os.ModeSymlink != 0 {
		return nil, ErrSlotNotFound
	}
	if f.beforeOpen != nil {
		f.beforeOpen()
	}

	file, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	defer file.Close()

	opened, err := file.Stat()
	if err != nil {
		return nil, err
	}
	if !os.SameFile(checked, opened) {
		return nil, ErrSlotNotFound
	}
	return io.ReadAll(file)
}

func (f *FileSlot) Write(data []byte) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, f.path)
}

func (f *FileSlot) Delete() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// MemorySlot keeps the record in memory. Useful for embedding without disk
// access and in tests.
type MemorySlot struct {
	mu   sync.Mutex
	data []byte
	ok   bool
	// WriteErr, when set, fails every Write.
	WriteErr error
}

func NewMemorySlot() *MemorySlot { return &MemorySlot{} }

func (m *MemorySlot) Read() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ok {
		return nil, ErrSlotNotFound
	}
	return append([]byte(nil), m.data...), nil
}

func (m *MemorySlot) Write(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.data = append([]byte(nil), data...)
	m.ok = true
	return nil
}

func (m *MemorySlot) Delete() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = nil
	m.ok = false
	return nil
}

// Exists reports whether something is persisted.
func (m *MemorySlot) Exists() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ok
}
