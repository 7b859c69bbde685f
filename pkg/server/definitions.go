package server

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillbox/pkg/logger"
	"github.com/jingkaihe/skillbox/pkg/sop"
)

// reloadDebounce coalesces bursts of editor writes into one reload.
const reloadDebounce = 250 * time.Millisecond

// Definitions is the set of SOP definitions loaded from a directory.
// Reload swaps the whole set at once.
type Definitions struct {
	dir string

	mu     sync.RWMutex
	byName map[string]*sop.Definition
	loaded time.Time

	onReload func(n int)
}

// NewDefinitions creates an empty set for dir. Call Reload to populate it.
func NewDefinitions(dir string) *Definitions {
	return &Definitions{dir: dir, byName: map[string]*sop.Definition{}}
}

// Reload reads every definition file in the directory. Files that fail to
// parse are reported in the error but do not prevent the others loading.
func (d *Definitions) Reload(ctx context.Context) error {
	defs, err := sop.LoadDefinitions(d.dir)

	byName := make(map[string]*sop.Definition, len(defs))
	for _, def := range defs {
		byName[def.Name] = def
	}

	d.mu.Lock()
	d.byName = byName
	d.loaded = time.Now()
	onReload := d.onReload
	d.mu.Unlock()

	if onReload != nil {
		onReload(len(byName))
	}
	logger.G(ctx).WithField("dir", d.dir).WithField("count", len(byName)).Info("loaded SOP definitions")
	if err != nil {
		return errors.Wrap(err, "some SOP definitions failed to load")
	}
	return nil
}

// Get returns the named definition.
func (d *Definitions) Get(name string) (*sop.Definition, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	def, ok := d.byName[name]
	return def, ok
}

// List returns every definition ordered by name.
func (d *Definitions) List() []*sop.Definition {
	d.mu.RLock()
	defer d.mu.RUnlock()
	defs := make([]*sop.Definition, 0, len(d.byName))
	for _, def := range d.byName {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Watch reloads the set whenever a YAML file in the directory changes. It
// blocks until ctx is done.
func (d *Definitions) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create SOP watcher")
	}
	defer watcher.Close()

	if err := watcher.Add(d.dir); err != nil {
		return errors.Wrapf(err, "failed to watch %s", d.dir)
	}

	log := logger.G(ctx).WithField("dir", d.dir)
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isDefinitionFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			log.WithField("file", event.Name).WithField("op", event.Op.String()).Debug("SOP definition changed")
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			if err := d.Reload(ctx); err != nil {
				log.WithError(err).Warn("SOP reload had errors")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("SOP watcher error")
		}
	}
}

func isDefinitionFile(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".yaml" || ext == ".yml"
}
