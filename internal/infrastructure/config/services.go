package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ServicesFilePath resolves the services.json location: SERVICES_FILE env,
// ./services.json, or ./config/services.json, first found wins.
func ServicesFilePath() string {
	if p := os.Getenv("SERVICES_FILE"); p != "" {
		return p
	}
	for _, p := range []string{"services.json", filepath.Join("config", "services.json")} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return "services.json"
}

// loadServicesFile merges the services.json name→URL map into viper under
// the "services" key.
func loadServicesFile(v *viper.Viper, path string) error {
	urls, err := readServicesFile(path)
	if err != nil {
		return err
	}
	for name, url := range urls {
		v.Set("services."+name, url)
	}
	return nil
}

func readServicesFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	urls := make(map[string]string, len(raw))
	for name, val := range raw {
		if url, ok := val.(string); ok && url != "" {
			urls[strings.ToLower(name)] = url
		}
	}
	return urls, nil
}

// ServicesWatcher hot-reloads the services.json service-URL map so backends
// can be repointed without a gateway restart. Safe for concurrent reads.
type ServicesWatcher struct {
	path    string
	mu      sync.RWMutex
	urls    map[string]string
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	logger  *zap.Logger
}

// NewServicesWatcher creates a watcher seeded from the config's current map.
// A missing or unparsable file leaves the seed untouched.
func NewServicesWatcher(path string, seed map[string]string, logger *zap.Logger) *ServicesWatcher {
	urls := make(map[string]string, len(seed))
	for k, v := range seed {
		urls[strings.ToLower(k)] = v
	}

	w := &ServicesWatcher{
		path:   path,
		urls:   urls,
		stopCh: make(chan struct{}),
		logger: logger.With(zap.String("component", "services-watcher")),
	}

	if fresh, err := readServicesFile(path); err == nil {
		w.urls = fresh
	}

	return w
}

// URL returns the base URL for a logical service name, or "" when the
// in-process engine should be used.
func (w *ServicesWatcher) URL(name string) string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return strings.TrimRight(w.urls[strings.ToLower(name)], "/")
}

// Start begins watching the file for writes. Blocks until Stop is called.
func (w *ServicesWatcher) Start() {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("Services watcher disabled", zap.Error(err))
		<-w.stopCh
		return
	}
	w.watcher = fw
	defer fw.Close()

	// Watch the directory: editors replace the file, which drops a watch
	// registered on the file itself.
	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		w.logger.Warn("Services watcher disabled", zap.String("dir", dir), zap.Error(err))
		<-w.stopCh
		return
	}

	w.logger.Info("Services watcher started", zap.String("path", w.path))

	for {
		select {
		case <-w.stopCh:
			w.logger.Info("Services watcher stopped")
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Services watcher error", zap.Error(err))
		}
	}
}

// Stop signals the watcher to stop.
func (w *ServicesWatcher) Stop() {
	close(w.stopCh)
}

func (w *ServicesWatcher) reload() {
	urls, err := readServicesFile(w.path)
	if err != nil {
		w.logger.Warn("Services reload failed", zap.Error(err))
		return
	}

	w.mu.Lock()
	w.urls = urls
	w.mu.Unlock()

	w.logger.Info("Services reloaded",
		zap.String("path", w.path),
		zap.Int("entries", len(urls)),
	)
}
