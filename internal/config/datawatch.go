package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"
)

// CrawlerData holds the crawl targets and opt-out tokens that are safe to
// change without a process restart. Unlike Config, this struct is not
// frozen: DataWatcher reloads it in place whenever crawler.data_file
// changes on disk. Hot-reload is limited to this data, not the Config
// struct itself.
type CrawlerData struct {
	Hashtags     []string `toml:"hashtags"`
	OptOutTokens []string `toml:"opt_out_tokens"`
}

// OnDataReload is invoked after a successful data-file reload.
type OnDataReload func(old, new *CrawlerData)

// DataWatcher monitors the crawler data file for changes and reloads it
// automatically, watching mutable crawl targets instead of the frozen
// Config struct.
type DataWatcher struct {
	fsWatcher *fsnotify.Watcher
	filePath  string
	current   *CrawlerData
	mu        sync.Mutex
	callbacks []OnDataReload
	done      chan struct{}
}

// WatchData starts watching filePath for changes, reloading its contents
// into a CrawlerData on every write/create/rename. If the file does not yet
// exist, WatchData starts with an empty CrawlerData and picks up the file
// once it is created.
func WatchData(filePath string) (*DataWatcher, error) {
	if filePath == "" {
		return nil, fmt.Errorf("data watcher: file path must not be empty")
	}

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("data watcher: resolving path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("data watcher: creating fsnotify watcher: %w", err)
	}

	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("data watcher: creating directory %s: %w", dir, err)
	}

	// Watch the directory rather than the file itself. Editors and
	// config-management tools commonly perform atomic saves (write tmp +
	// rename), which changes the inode; watching the directory catches
	// the rename.
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("data watcher: watching directory %s: %w", dir, err)
	}

	w := &DataWatcher{
		fsWatcher: fsw,
		filePath:  absPath,
		current:   &CrawlerData{},
		done:      make(chan struct{}),
	}

	if data, err := loadCrawlerData(absPath); err == nil {
		w.current = data
	}

	go w.loop()

	return w, nil
}

// Current returns the most recently loaded CrawlerData. Safe for concurrent use.
func (w *DataWatcher) Current() *CrawlerData {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// OnChange registers a callback invoked after each successful reload.
func (w *DataWatcher) OnChange(fn OnDataReload) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Close stops the watcher and releases resources.
func (w *DataWatcher) Close() error {
	close(w.done)
	return w.fsWatcher.Close()
}

func (w *DataWatcher) loop() {
	const debounce = 200 * time.Millisecond
	var timer *time.Timer

	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.filePath {
				continue
			}

			isWrite := event.Op&fsnotify.Write != 0
			isCreate := event.Op&fsnotify.Create != 0
			isRename := event.Op&fsnotify.Rename != 0
			if !isWrite && !isCreate && !isRename {
				continue
			}

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, w.reload)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Printf("[data watcher] error: %v", err)
		}
	}
}

func (w *DataWatcher) reload() {
	newData, err := loadCrawlerData(w.filePath)
	if err != nil {
		log.Printf("[data watcher] reload failed: %v (keeping previous data)", err)
		return
	}

	w.mu.Lock()
	old := w.current
	w.current = newData
	cbs := make([]OnDataReload, len(w.callbacks))
	copy(cbs, w.callbacks)
	w.mu.Unlock()

	log.Printf("[data watcher] crawler data reloaded from %s (%d hashtags, %d opt-out tokens)",
		w.filePath, len(newData.Hashtags), len(newData.OptOutTokens))

	for _, cb := range cbs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[data watcher] callback panicked: %v", r)
				}
			}()
			cb(old, newData)
		}()
	}
}

func loadCrawlerData(path string) (*CrawlerData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var data CrawlerData
	if err := toml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parsing crawler data file: %w", err)
	}
	return &data, nil
}
