package shaledb

import (
	"log"
	"strings"

	"shaledb/util"
)

// Env abstracts the file system and a few process services so the engine
// can run against a real disk, a test double, or an in-memory store.
type Env interface {
	NewSequentialFile(name string) (SequentialFile, error)
	NewRandomAccessFile(name string) (RandomAccessFile, error)
	NewWritableFile(name string) (WritableFile, error)
	NewAppendableFile(name string) (WritableFile, error)
	FileExists(name string) bool
	GetChildren(dir string) ([]string, error)
	DeleteFile(name string) error
	CreateDir(name string) error
	DeleteDir(name string) error
	GetFileSize(name string) (uint64, error)
	RenameFile(from, to string) error
	NewLogger(name string) (*log.Logger, error)
	NowMicros() uint64
}

// SequentialFile reads a file front to back.
type SequentialFile interface {
	// Read fills p with up to len(p) bytes, returning the count read.
	// A short read with a nil error indicates end of file.
	Read(p []byte) (int, error)
	Skip(n uint64) error
	Close() error
}

// RandomAccessFile reads at arbitrary offsets and is safe for concurrent
// use by multiple goroutines.
type RandomAccessFile interface {
	ReadAt(p []byte, offset int64) (int, error)
	Close() error
}

// WritableFile buffers appends; data reaches stable storage only after
// Sync returns.
type WritableFile interface {
	Append(data []byte) error
	Flush() error
	Sync() error
	Close() error
}

// WriteStringToFileSync writes data to a fresh file and syncs it, deleting
// the file on any failure.
func WriteStringToFileSync(env Env, data []byte, name string) error {
	file, err := env.NewWritableFile(name)
	if err != nil {
		return err
	}
	err = file.Append(data)
	if err == nil {
		err = file.Sync()
	}
	if err == nil {
		err = file.Close()
	} else {
		file.Close()
	}
	if err != nil {
		_ = env.DeleteFile(name)
	}
	return err
}

// ReadFileToString slurps a whole file through the Env abstraction.
func ReadFileToString(env Env, name string) (string, error) {
	file, err := env.NewSequentialFile(name)
	if err != nil {
		return "", err
	}
	defer file.Close()
	var data strings.Builder
	space := make([]byte, 8192)
	for {
		n, err := file.Read(space)
		data.Write(space[:n])
		if err != nil {
			return data.String(), util.IOErrorf(name, err.Error())
		}
		if n == 0 {
			return data.String(), nil
		}
	}
}

// Log writes to the info logger when one is configured.
func Log(logger *log.Logger, format string, v ...interface{}) {
	if logger != nil {
		logger.Printf(format, v...)
	}
}
