package sink

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hcikit/hcilog/internal/logspec"
)

// nextRollover returns the first time-rotation boundary after t.
func nextRollover(r logspec.Rotation, t time.Time) time.Time {
	if r.UTC {
		t = t.UTC()
	}
	interval := max(r.Interval, 1)
	when := strings.ToUpper(r.When)

	switch when {
	case "S":
		return t.Add(time.Duration(interval) * time.Second)
	case "M":
		return t.Add(time.Duration(interval) * time.Minute)
	case "H":
		return t.Add(time.Duration(interval) * time.Hour)
	case "D":
		return t.Add(time.Duration(interval) * 24 * time.Hour)
	case "MIDNIGHT":
		return midnight(t).AddDate(0, 0, interval)
	}

	if day, ok := strings.CutPrefix(when, "W"); ok {
		// W0 is Monday
		n, err := strconv.Atoi(day)
		if err == nil && n >= 0 && n <= 6 {
			target := time.Weekday((n + 1) % 7)
			ahead := (int(target) - int(t.Weekday()) + 7) % 7
			if ahead == 0 {
				ahead = 7
			}
			return midnight(t).AddDate(0, 0, ahead)
		}
	}
	return midnight(t).AddDate(0, 0, 1)
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// backupName is the path of the n-th rotated file.
func backupName(path string, n int) string {
	return path + "." + strconv.Itoa(n)
}

// shiftBackups removes the oldest backup, renames path.i to path.i+1 and
// finally path to path.1. With keep at zero nothing is renamed.
func shiftBackups(path string, keep int) error {
	if keep <= 0 {
		return nil
	}
	if err := os.Remove(backupName(path, keep)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove oldest backup: %w", err)
	}
	for i := keep - 1; i >= 1; i-- {
		src := backupName(path, i)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := os.Rename(src, backupName(path, i+1)); err != nil {
			return fmt.Errorf("shift backup %d: %w", i, err)
		}
	}
	if err := os.Rename(path, backupName(path, 1)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rename active file: %w", err)
	}
	return nil
}
