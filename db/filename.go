package db

import (
	"fmt"
	"strings"

	"shaledb"
	"shaledb/util"
)

type fileType uint8

const (
	logFile fileType = iota
	dbLockFile
	tableFile
	descriptorFile
	currentFile
	tempFile
	infoLogFile
)

func makeFileName(dbname string, number uint64, suffix string) string {
	return fmt.Sprintf("%s/%06d.%s", dbname, number, suffix)
}

func logFileName(dbname string, number uint64) string {
	return makeFileName(dbname, number, "log")
}

func tableFileName(dbname string, number uint64) string {
	return makeFileName(dbname, number, "ldb")
}

func sstTableFileName(dbname string, number uint64) string {
	return makeFileName(dbname, number, "sst")
}

func descriptorFileName(dbname string, number uint64) string {
	return fmt.Sprintf("%s/MANIFEST-%06d", dbname, number)
}

func currentFileName(dbname string) string {
	return dbname + "/CURRENT"
}

func lockFileName(dbname string) string {
	return dbname + "/LOCK"
}

func tempFileName(dbname string, number uint64) string {
	return makeFileName(dbname, number, "dbtmp")
}

func infoLogFileName(dbname string) string {
	return dbname + "/LOG"
}

func parseFileName(filename string, number *uint64, ft *fileType) bool {
	switch {
	case filename == "CURRENT":
		*number = 0
		*ft = currentFile
	case filename == "LOCK":
		*number = 0
		*ft = dbLockFile
	case filename == "LOG" || filename == "LOG.old":
		*number = 0
		*ft = infoLogFile
	case strings.HasPrefix(filename, "MANIFEST-"):
		rest := filename[len("MANIFEST-"):]
		if !util.ConsumeDecimalNumber(&rest, number) || len(rest) != 0 {
			return false
		}
		*ft = descriptorFile
	default:
		rest := filename
		if !util.ConsumeDecimalNumber(&rest, number) {
			return false
		}
		switch rest {
		case ".log":
			*ft = logFile
		case ".ldb", ".sst":
			*ft = tableFile
		case ".dbtmp":
			*ft = tempFile
		default:
			return false
		}
	}
	return true
}

// setCurrentFile atomically points CURRENT at the named descriptor by
// writing a temp file and renaming it into place.
func setCurrentFile(env shaledb.Env, dbname string, descriptorNumber uint64) error {
	manifest := descriptorFileName(dbname, descriptorNumber)
	contents := manifest[len(dbname)+1:]
	tmp := tempFileName(dbname, descriptorNumber)
	err := shaledb.WriteStringToFileSync(env, []byte(contents+"\n"), tmp)
	if err == nil {
		err = env.RenameFile(tmp, currentFileName(dbname))
	}
	if err != nil {
		_ = env.DeleteFile(tmp)
	}
	return err
}
