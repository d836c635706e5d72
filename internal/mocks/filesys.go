// Package mocks holds testify mocks shared by package tests.
package mocks

import (
	"io/fs"
	"os"

	"github.com/stretchr/testify/mock"

	"github.com/lc/txtchat/internal/filesys"
)

var _ filesys.ConfigFS = (*MockFS)(nil)

// MockFS is a testify mock of filesys.ConfigFS.
type MockFS struct {
	mock.Mock
}

func (m *MockFS) Stat(p string) (fs.FileInfo, error) {
	args := m.Called(p)
	info, _ := args.Get(0).(fs.FileInfo)
	return info, args.Error(1)
}

func (m *MockFS) MkdirAll(p string, mode os.FileMode) error {
	return m.Called(p, mode).Error(0)
}

func (m *MockFS) Open(p string) (*os.File, error) {
	args := m.Called(p)
	f, _ := args.Get(0).(*os.File)
	return f, args.Error(1)
}

func (m *MockFS) ReadFile(p string) ([]byte, error) {
	args := m.Called(p)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

func (m *MockFS) WriteFile(p string, b []byte, mode os.FileMode) error {
	return m.Called(p, b, mode).Error(0)
}

func (m *MockFS) CreateTemp(dir, pat string) (*os.File, error) {
	args := m.Called(dir, pat)
	f, _ := args.Get(0).(*os.File)
	return f, args.Error(1)
}

func (m *MockFS) Rename(old, newPath string) error {
	return m.Called(old, newPath).Error(0)
}

func (m *MockFS) Remove(p string) error {
	return m.Called(p).Error(0)
}

func (m *MockFS) Chmod(p string, mode os.FileMode) error {
	return m.Called(p, mode).Error(0)
}
