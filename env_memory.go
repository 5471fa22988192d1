package shaledb

import (
	"log"
	"sort"
	"strings"
	"sync"

	"shaledb/util"
)

// NewMemEnv returns an Env that stores files in memory. Intended for tests
// and for replaying MANIFEST streams without touching disk.
func NewMemEnv() Env {
	return &memEnv{files: make(map[string]*memFile)}
}

type memEnv struct {
	mu    sync.Mutex
	files map[string]*memFile
}

type memFile struct {
	mu   sync.Mutex
	data []byte
}

func (f *memFile) size() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.data))
}

func (e *memEnv) find(name string) *memFile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.files[name]
}

func (e *memEnv) NewSequentialFile(name string) (SequentialFile, error) {
	f := e.find(name)
	if f == nil {
		return nil, util.NotFoundError(name, "file not found")
	}
	return &memSequentialFile{file: f}, nil
}

func (e *memEnv) NewRandomAccessFile(name string) (RandomAccessFile, error) {
	f := e.find(name)
	if f == nil {
		return nil, util.NotFoundError(name, "file not found")
	}
	return &memRandomAccessFile{file: f}, nil
}

func (e *memEnv) NewWritableFile(name string) (WritableFile, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f := &memFile{}
	e.files[name] = f
	return &memWritableFile{file: f}, nil
}

func (e *memEnv) NewAppendableFile(name string) (WritableFile, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f := e.files[name]
	if f == nil {
		f = &memFile{}
		e.files[name] = f
	}
	return &memWritableFile{file: f}, nil
}

func (e *memEnv) FileExists(name string) bool {
	return e.find(name) != nil
}

func (e *memEnv) GetChildren(dir string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	prefix := dir + "/"
	var names []string
	for name := range e.files {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name[len(prefix):])
		}
	}
	sort.Strings(names)
	return names, nil
}

func (e *memEnv) DeleteFile(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.files[name]; !ok {
		return util.NotFoundError(name, "file not found")
	}
	delete(e.files, name)
	return nil
}

func (e *memEnv) CreateDir(string) error { return nil }
func (e *memEnv) DeleteDir(string) error { return nil }

func (e *memEnv) GetFileSize(name string) (uint64, error) {
	f := e.find(name)
	if f == nil {
		return 0, util.NotFoundError(name, "file not found")
	}
	return f.size(), nil
}

func (e *memEnv) RenameFile(from, to string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	f, ok := e.files[from]
	if !ok {
		return util.NotFoundError(from, "file not found")
	}
	delete(e.files, from)
	e.files[to] = f
	return nil
}

func (e *memEnv) NewLogger(string) (*log.Logger, error) {
	return nil, nil
}

func (e *memEnv) NowMicros() uint64 {
	return 0
}

type memSequentialFile struct {
	file *memFile
	pos  uint64
}

func (s *memSequentialFile) Read(p []byte) (int, error) {
	s.file.mu.Lock()
	defer s.file.mu.Unlock()
	if s.pos >= uint64(len(s.file.data)) {
		return 0, nil
	}
	n := copy(p, s.file.data[s.pos:])
	s.pos += uint64(n)
	return n, nil
}

func (s *memSequentialFile) Skip(n uint64) error {
	s.pos += n
	return nil
}

func (s *memSequentialFile) Close() error { return nil }

type memRandomAccessFile struct {
	file *memFile
}

func (r *memRandomAccessFile) ReadAt(p []byte, offset int64) (int, error) {
	r.file.mu.Lock()
	defer r.file.mu.Unlock()
	if offset >= int64(len(r.file.data)) {
		return 0, util.IOErrorf("read past end of file")
	}
	n := copy(p, r.file.data[offset:])
	if n < len(p) {
		return n, util.IOErrorf("short read")
	}
	return n, nil
}

func (r *memRandomAccessFile) Close() error { return nil }

type memWritableFile struct {
	file *memFile
}

func (w *memWritableFile) Append(data []byte) error {
	w.file.mu.Lock()
	defer w.file.mu.Unlock()
	w.file.data = append(w.file.data, data...)
	return nil
}

func (w *memWritableFile) Flush() error { return nil }
func (w *memWritableFile) Sync() error  { return nil }
func (w *memWritableFile) Close() error { return nil }
