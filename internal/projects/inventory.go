// Package projects maintains a cached inventory of typesetting
// projects found on disk.
package projects

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"typeset/internal/logging"
)

// Project describes one project directory holding USX sources.
type Project struct {
	Name        string    `json:"name"`
	SourceFiles int       `json:"source_files"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Inventory scans the projects directory and caches the result for a
// TTL. A project is any subdirectory containing at least one .usx file.
type Inventory struct {
	mu        sync.Mutex
	dir       string
	ttl       time.Duration
	cached    []Project
	scannedAt time.Time
	logger    *slog.Logger
	now       func() time.Time
}

// NewInventory builds an inventory over dir with the given cache TTL.
func NewInventory(dir string, ttl time.Duration, logger *slog.Logger) *Inventory {
	return &Inventory{
		dir:    dir,
		ttl:    ttl,
		logger: logging.NewComponentLogger(logger, "projects"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Details returns the project list, rescanning when the cache is stale.
func (inv *Inventory) Details() ([]Project, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if inv.cached != nil && inv.now().Sub(inv.scannedAt) < inv.ttl {
		return append([]Project(nil), inv.cached...), nil
	}

	scanned, err := inv.scan()
	if err != nil {
		return nil, err
	}
	inv.cached = scanned
	inv.scannedAt = inv.now()
	return append([]Project(nil), scanned...), nil
}

// Exists reports whether a project with the name is present.
func (inv *Inventory) Exists(name string) (bool, error) {
	details, err := inv.Details()
	if err != nil {
		return false, err
	}
	for _, project := range details {
		if project.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// Invalidate drops the cache so the next Details call rescans.
func (inv *Inventory) Invalidate() {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.cached = nil
	inv.scannedAt = time.Time{}
}

func (inv *Inventory) scan() ([]Project, error) {
	entries, err := os.ReadDir(inv.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Project{}, nil
		}
		return nil, err
	}

	projects := make([]Project, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		count, newest, err := inv.scanProject(filepath.Join(inv.dir, entry.Name()))
		if err != nil {
			inv.logger.Warn("project scan failed",
				logging.String("project", entry.Name()), logging.Error(err))
			continue
		}
		if count == 0 {
			continue
		}
		projects = append(projects, Project{
			Name:        entry.Name(),
			SourceFiles: count,
			UpdatedAt:   newest,
		})
	}

	sort.Slice(projects, func(a, b int) bool {
		return projects[a].Name < projects[b].Name
	})
	return projects, nil
}

func (inv *Inventory) scanProject(dir string) (count int, newest time.Time, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, time.Time{}, err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".usx") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		count++
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}
	return count, newest, nil
}
