package shaledb

import (
	"io"
	"log"
	"os"
	"time"

	"shaledb/util"
)

// DefaultEnv returns an Env backed by the local file system.
func DefaultEnv() Env { return diskEnv{} }

type diskEnv struct{}

func wrapOSError(name string, err error) error {
	if err == nil {
		return nil
	}
	if os.IsNotExist(err) {
		return util.NotFoundError(name, err.Error())
	}
	return util.IOErrorf(name, err.Error())
}

func (diskEnv) NewSequentialFile(name string) (SequentialFile, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, wrapOSError(name, err)
	}
	return &diskSequentialFile{name: name, f: f}, nil
}

func (diskEnv) NewRandomAccessFile(name string) (RandomAccessFile, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, wrapOSError(name, err)
	}
	return &diskRandomAccessFile{name: name, f: f}, nil
}

func (diskEnv) NewWritableFile(name string) (WritableFile, error) {
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, wrapOSError(name, err)
	}
	return &diskWritableFile{name: name, f: f}, nil
}

func (diskEnv) NewAppendableFile(name string) (WritableFile, error) {
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, wrapOSError(name, err)
	}
	return &diskWritableFile{name: name, f: f}, nil
}

func (diskEnv) FileExists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

func (diskEnv) GetChildren(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, wrapOSError(dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

func (diskEnv) DeleteFile(name string) error {
	return wrapOSError(name, os.Remove(name))
}

func (diskEnv) CreateDir(name string) error {
	return wrapOSError(name, os.Mkdir(name, 0755))
}

func (diskEnv) DeleteDir(name string) error {
	return wrapOSError(name, os.Remove(name))
}

func (diskEnv) GetFileSize(name string) (uint64, error) {
	fi, err := os.Stat(name)
	if err != nil {
		return 0, wrapOSError(name, err)
	}
	return uint64(fi.Size()), nil
}

func (diskEnv) RenameFile(from, to string) error {
	return wrapOSError(from, os.Rename(from, to))
}

func (diskEnv) NewLogger(name string) (*log.Logger, error) {
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, wrapOSError(name, err)
	}
	return log.New(f, "", log.LstdFlags|log.Lmicroseconds), nil
}

func (diskEnv) NowMicros() uint64 {
	return uint64(time.Now().UnixMicro())
}

type diskSequentialFile struct {
	name string
	f    *os.File
}

func (s *diskSequentialFile) Read(p []byte) (int, error) {
	n, err := s.f.Read(p)
	if err == io.EOF {
		return n, nil
	}
	return n, wrapOSError(s.name, err)
}

func (s *diskSequentialFile) Skip(n uint64) error {
	_, err := s.f.Seek(int64(n), io.SeekCurrent)
	return wrapOSError(s.name, err)
}

func (s *diskSequentialFile) Close() error {
	return wrapOSError(s.name, s.f.Close())
}

type diskRandomAccessFile struct {
	name string
	f    *os.File
}

func (r *diskRandomAccessFile) ReadAt(p []byte, offset int64) (int, error) {
	n, err := r.f.ReadAt(p, offset)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, wrapOSError(r.name, err)
}

func (r *diskRandomAccessFile) Close() error {
	return wrapOSError(r.name, r.f.Close())
}

type diskWritableFile struct {
	name string
	f    *os.File
}

func (w *diskWritableFile) Append(data []byte) error {
	_, err := w.f.Write(data)
	return wrapOSError(w.name, err)
}

func (w *diskWritableFile) Flush() error { return nil }

func (w *diskWritableFile) Sync() error {
	return wrapOSError(w.name, w.f.Sync())
}

func (w *diskWritableFile) Close() error {
	return wrapOSError(w.name, w.f.Close())
}
