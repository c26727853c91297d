// Package retention archives deleted sessions and purges old archives.
package retention

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ErrSingleDeleteDisabled is returned by DeleteNewest unless explicitly allowed.
var ErrSingleDeleteDisabled = errors.New("DEBUG_SINGLE_DELETE not enabled; refusing single delete")

const stampLayout = "20060102T150405Z"

// Archiver moves session files into Dir and removes archives older than
// Retention.
type Archiver struct {
	Dir       string
	Retention time.Duration

	log *zap.Logger
	now func() time.Time
}

// New creates the archive directory. days <= 0 means 30.
func New(dir string, days int, log *zap.Logger) (*Archiver, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive dir: %w", err)
	}
	if days <= 0 {
		days = 30
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Archiver{
		Dir:       dir,
		Retention: time.Duration(days) * 24 * time.Hour,
		log:       log,
		now:       time.Now,
	}, nil
}

// Archive moves path to <Dir>/<id>_<UTC stamp><ext> and returns the new path.
// A second archive of the same id within one second gets a "-N" suffix on the
// stamp instead of replacing the first.
func (a *Archiver) Archive(path, sessionID string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("archive %s: %w", sessionID, err)
	}
	stamp := a.now().UTC().Format(stampLayout)
	ext := filepath.Ext(path)
	target := filepath.Join(a.Dir, fmt.Sprintf("%s_%s%s", sessionID, stamp, ext))
	for n := 1; ; n++ {
		if _, err := os.Lstat(target); os.IsNotExist(err) {
			break
		}
		target = filepath.Join(a.Dir, fmt.Sprintf("%s_%s-%d%s", sessionID, stamp, n, ext))
	}
	if err := os.Rename(path, target); err != nil {
		return "", fmt.Errorf("archive %s: %w", sessionID, err)
	}
	return target, nil
}

// PurgeExpired deletes archives whose modification time is older than the
// retention window and returns how many were removed. Files that cannot be
// inspected or removed are skipped.
func (a *Archiver) PurgeExpired() (int, error) {
	files, err := filepath.Glob(filepath.Join(a.Dir, "*.json"))
	if err != nil {
		return 0, err
	}
	cutoff := a.now().Add(-a.Retention)
	removed := 0
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(f); err != nil {
			a.log.Warn("purge failed", zap.String("file", f), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		a.log.Info("purged archived sessions", zap.Int("count", removed))
	}
	return removed, nil
}

// DeleteNewest removes the most recent archive of a session. It is a debug
// helper and refuses to run unless allow is set. It reports whether a file
// was removed.
func (a *Archiver) DeleteNewest(sessionID string, allow bool) (bool, error) {
	if !allow {
		return false, ErrSingleDeleteDisabled
	}
	matches, err := filepath.Glob(filepath.Join(a.Dir, sessionID+"_*.json"))
	if err != nil {
		return false, err
	}
	type archived struct {
		path string
		mod  time.Time
	}
	var list []archived
	for _, m := range matches {
		// "abc_" must not pick up "abc_def_<stamp>.json"
		rest := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), sessionID+"_"), ".json")
		if strings.Contains(rest, "_") {
			continue
		}
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		list = append(list, archived{m, info.ModTime()})
	}
	if len(list) == 0 {
		return false, nil
	}
	sort.Slice(list, func(i, j int) bool { return list[i].mod.After(list[j].mod) })
	if err := os.Remove(list[0].path); err != nil {
		return false, fmt.Errorf("single delete failed for %s: %w", sessionID, err)
	}
	a.log.Info("archived session deleted", zap.String("session", sessionID))
	return true, nil
}

// Schedule runs PurgeExpired on a cron spec ("@daily", "0 3 * * *", ...).
// The caller stops the returned scheduler.
func (a *Archiver) Schedule(spec string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if _, err := a.PurgeExpired(); err != nil {
			a.log.Error("scheduled purge failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid purge schedule %q: %w", spec, err)
	}
	c.Start()
	return c, nil
}
