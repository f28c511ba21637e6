package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/intake/internal/domain"
)

const defaultReloadDebounce = 250 * time.Millisecond

// VariantSink принимает новый снимок вариантов каталога.
type VariantSink interface {
	ReplaceVariants(variants []domain.Variant)
}

// Watcher перечитывает файл снимка при его изменении и обновляет каталог.
// Остатки из файла при перезагрузке игнорируются: ими владеет складской реестр.
type Watcher struct {
	path     string
	sink     VariantSink
	logger   *log.Entry
	debounce time.Duration
}

// NewWatcher создаёт наблюдателя за файлом снимка.
func NewWatcher(path string, sink VariantSink, logger *log.Entry) *Watcher {
	if logger == nil {
		logger = log.WithField("component", "catalog-watcher")
	}
	return &Watcher{
		path:     path,
		sink:     sink,
		logger:   logger,
		debounce: defaultReloadDebounce,
	}
}

// Run следит за каталогом файла до отмены ctx.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create catalog watcher: %w", err)
	}
	defer fsw.Close()

	// Редакторы часто заменяют файл целиком, поэтому следим за директорией.
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.WithField("path", w.path).Info("catalog watcher started")

	target := filepath.Clean(w.path)
	var reload <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			reload = time.After(w.debounce)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("catalog watcher error")
		case <-reload:
			reload = nil
			w.Reload()
		}
	}
}

// Reload перечитывает снимок; при ошибке прежний каталог сохраняется.
func (w *Watcher) Reload() {
	snapshot, err := LoadSnapshot(w.path)
	if err != nil {
		w.logger.WithError(err).Warn("catalog reload failed, keeping previous snapshot")
		return
	}
	w.sink.ReplaceVariants(snapshot.Variants)
	w.logger.WithField("variants", len(snapshot.Variants)).Info("catalog reloaded")
}
