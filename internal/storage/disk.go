package storage

import (
	"io/fs"
	"os"
	"path/filepath"
)

// DiskUsage is the on-disk footprint of the case library.
type DiskUsage struct {
	Database int64 `json:"database_bytes"`
	Keyword  int64 `json:"keyword_index_bytes"`
	Vectors  int64 `json:"vector_index_bytes"`
	Total    int64 `json:"total_bytes"`
}

// MeasureDisk sums the SQLite files (with WAL side files), the Bleve directory and the
// vector index files. Missing paths count as zero.
func MeasureDisk(dbPath, keywordPath, vectorPath string) (DiskUsage, error) {
	var u DiskUsage
	var err error
	if u.Database, err = sizeOf(dbPath, dbPath+"-wal", dbPath+"-shm"); err != nil {
		return u, err
	}
	if u.Keyword, err = sizeOf(keywordPath); err != nil {
		return u, err
	}
	if u.Vectors, err = sizeOf(vectorPath, vectorPath+".faiss", vectorPath+".meta"); err != nil {
		return u, err
	}
	u.Total = u.Database + u.Keyword + u.Vectors
	return u, nil
}

// sizeOf returns the total size of files and directories (recursively). Empty or
// missing paths are skipped.
func sizeOf(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if !info.IsDir() {
			total += info.Size()
			continue
		}
		err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			total += fi.Size()
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
