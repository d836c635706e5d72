// Package filesys is the narrow file system surface txtchat uses for its
// configuration file, plus AtomicWrite for replacing that file safely. Code
// depends on the interfaces so tests can swap in a mock.
package filesys

import (
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
)

// ReadWriteFS is what the config loader needs.
type ReadWriteFS interface {
	Stat(string) (fs.FileInfo, error)
	MkdirAll(string, os.FileMode) error
	Open(string) (*os.File, error)
	WriteFile(string, []byte, os.FileMode) error
}

// FileOps is what AtomicWrite needs.
type FileOps interface {
	Open(string) (*os.File, error)
	ReadFile(string) ([]byte, error)
	MkdirAll(string, os.FileMode) error
	CreateTemp(string, string) (*os.File, error)
	Rename(string, string) error
	Remove(string) error
	Chmod(string, os.FileMode) error
}

// ConfigFS is the union used by config providers that can also save.
type ConfigFS interface {
	ReadWriteFS
	FileOps
}

// OS returns the implementation backed by the local disk.
func OS() OsFS {
	return OsFS{}
}

// OsFS delegates every method to package os.
type OsFS struct{}

func (OsFS) Stat(p string) (fs.FileInfo, error)                { return os.Stat(p) }
func (OsFS) MkdirAll(p string, m os.FileMode) error            { return os.MkdirAll(p, m) }
func (OsFS) Open(p string) (*os.File, error)                   { return os.Open(p) }
func (OsFS) ReadFile(p string) ([]byte, error)                 { return os.ReadFile(p) }
func (OsFS) WriteFile(p string, b []byte, m os.FileMode) error { return os.WriteFile(p, b, m) }
func (OsFS) CreateTemp(dir, pat string) (*os.File, error)      { return os.CreateTemp(dir, pat) }
func (OsFS) Rename(old, newName string) error                  { return os.Rename(old, newName) }
func (OsFS) Remove(p string) error                             { return os.Remove(p) }
func (OsFS) Chmod(p string, m os.FileMode) error               { return os.Chmod(p, m) }

var _ ConfigFS = OsFS{}

// AtomicWrite replaces dst with data so readers see either the old or the new
// content, never a partial file:
//
//  1. temp file in the same dir
//  2. fsync(temp) + close
//  3. chmod(temp, perm)
//  4. rename(temp, dst)
//  5. fsync(dir), best effort
func AtomicWrite(fsys FileOps, dst string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(dst)
	tmp, err := fsys.CreateTemp(dir, ".txtchat-*")
	if err != nil {
		return err
	}
	name := tmp.Name()

	if _, err = tmp.Write(data); err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = fsys.Chmod(name, perm)
	}
	if err == nil {
		err = fsys.Rename(name, dst)
	}
	if err != nil {
		return multierr.Append(err, fsys.Remove(name))
	}

	if d, derr := fsys.Open(dir); derr == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
