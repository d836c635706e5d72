package filesys_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/lc/txtchat/internal/filesys"
	"github.com/lc/txtchat/internal/mocks"
)

type AtomicWriteTestSuite struct {
	suite.Suite
	dir string
}

func (s *AtomicWriteTestSuite) SetupTest() {
	s.dir = s.T().TempDir()
}

func (s *AtomicWriteTestSuite) TestWritesAndReplaces() {
	dst := filepath.Join(s.dir, "config.yaml")
	s.Require().NoError(filesys.AtomicWrite(filesys.OS(), dst, []byte("first"), 0o600))
	s.Require().NoError(filesys.AtomicWrite(filesys.OS(), dst, []byte("second"), 0o644))

	b, err := os.ReadFile(dst)
	s.Require().NoError(err)
	s.Equal("second", string(b))

	info, err := os.Stat(dst)
	s.Require().NoError(err)
	s.Equal(os.FileMode(0o644), info.Mode().Perm())

	entries, err := os.ReadDir(s.dir)
	s.Require().NoError(err)
	s.Len(entries, 1)
}

func (s *AtomicWriteTestSuite) TestFailedRenameRemovesTemp() {
	tmp, err := os.CreateTemp(s.dir, ".txtchat-*")
	s.Require().NoError(err)
	dst := filepath.Join(s.dir, "config.yaml")
	renameErr := errors.New("rename failed")

	m := &mocks.MockFS{}
	m.On("CreateTemp", s.dir, ".txtchat-*").Return(tmp, nil)
	m.On("Chmod", tmp.Name(), os.FileMode(0o600)).Return(nil)
	m.On("Rename", tmp.Name(), dst).Return(renameErr)
	m.On("Remove", tmp.Name()).Return(nil)

	err = filesys.AtomicWrite(m, dst, []byte("data"), 0o600)
	s.ErrorIs(err, renameErr)
	m.AssertExpectations(s.T())
	m.AssertNotCalled(s.T(), "Open", mock.Anything)
}

func (s *AtomicWriteTestSuite) TestCreateTempFailure() {
	m := &mocks.MockFS{}
	m.On("CreateTemp", mock.Anything, mock.Anything).Return(nil, os.ErrPermission)

	err := filesys.AtomicWrite(m, filepath.Join(s.dir, "x"), nil, 0o600)
	s.ErrorIs(err, os.ErrPermission)
}

func TestAtomicWriteSuite(t *testing.T) {
	suite.Run(t, new(AtomicWriteTestSuite))
}
