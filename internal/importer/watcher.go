package importer

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/knowting/knowting/internal/quiz"
)

// Watcher rescans a directory on a cron schedule and imports every test
// document it finds. Imported files are renamed with an .imported suffix so
// restarts do not ingest them twice; files that fail to parse are left in
// place and skipped until they change.
type Watcher struct {
	imp *Importer
	dir string

	cron *cron.Cron

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewWatcher(imp *Importer, dir string) *Watcher {
	return &Watcher{imp: imp, dir: dir, seen: make(map[string]time.Time)}
}

// Start runs one scan immediately and schedules rescans. schedule takes the
// cron syntax, including descriptors like "@every 5m".
func (w *Watcher) Start(schedule string) error {
	w.Scan(context.Background())
	w.cron = cron.New()
	if _, err := w.cron.AddFunc(schedule, func() { w.Scan(context.Background()) }); err != nil {
		return err
	}
	w.cron.Start()
	return nil
}

func (w *Watcher) Stop() {
	if w.cron != nil {
		w.cron.Stop()
	}
}

// Scan imports every new or changed test document in the watched directory.
func (w *Watcher) Scan(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		log.Printf("importer: read %s: %v", w.dir, err)
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".json" && ext != ".yaml" && ext != ".yml" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(w.dir, e.Name())
		if !w.changed(path, info.ModTime()) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("importer: read %s: %v", path, err)
			continue
		}
		t, err := w.importByExt(ctx, ext, data)
		if err != nil {
			log.Printf("importer: %s: %v", e.Name(), err)
			continue
		}
		if err := os.Rename(path, path+".imported"); err != nil {
			log.Printf("importer: mark %s: %v", e.Name(), err)
		}
		log.Printf("importer: %s -> test %s (%q, %d questions)", e.Name(), t.ID, t.Title, t.QuestionCount)
	}
}

func (w *Watcher) importByExt(ctx context.Context, ext string, data []byte) (quiz.Test, error) {
	if ext == ".json" {
		return w.imp.ImportJSON(ctx, data, "")
	}
	return w.imp.ImportYAML(ctx, data, "")
}

// changed remembers the mod time of every path it has judged, so each file
// version is attempted once.
func (w *Watcher) changed(path string, mod time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if prev, ok := w.seen[path]; ok && prev.Equal(mod) {
		return false
	}
	w.seen[path] = mod
	return true
}
