package observers

import (
	"errors"
	"os"
	"path/filepath"
	"time"
)

// PurgeTimelines deletes timeline files in dir last written before
// now-maxAge and returns how many went. A missing dir is not an error.
func PurgeTimelines(dir string, maxAge time.Duration) (int, error) {
	return purgeBefore(dir, maxAge, time.Now())
}

func purgeBefore(dir string, maxAge time.Duration, now time.Time) (int, error) {
	if dir == "" || maxAge <= 0 {
		return 0, nil
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*"+timelineExt))
	if err != nil {
		return 0, err
	}
	cutoff := now.Add(-maxAge)
	removed := 0
	var errs []error
	for _, p := range paths {
		info, err := os.Stat(p)
		switch {
		case errors.Is(err, os.ErrNotExist):
			continue
		case err != nil:
			errs = append(errs, err)
			continue
		case info.IsDir() || info.ModTime().After(cutoff):
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
