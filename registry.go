package main

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/radovskyb/watcher"
	"go.uber.org/zap"
)

// HandlerModule is the unit the registry loads and classifies. A module is
// one of three shapes: an event subscription (Trigger plus Actions, optionally
// Once), a command (Name plus Execute), or opaque support content keyed by
// its filename.
type HandlerModule struct {
	Name    string
	Trigger string
	Once    bool

	Actions handlerFunc
	Execute func(payload M, args ...string)

	Filename string
	Content  M
}

// Registry binds handler modules to the dispatcher and keeps the project's
// data directory synced: JSON files under it become support content, and
// edits on disk are picked up while the process runs.
type Registry struct {
	dir        string
	dispatcher *Dispatcher
	log        *zap.SugaredLogger

	fileCount int
}

func NewRegistry(dir string, dispatcher *Dispatcher, log *zap.SugaredLogger) *Registry {
	return &Registry{dir: dir, dispatcher: dispatcher, log: log}
}

// RegisterModule classifies a module and wires it in. Event shape wins over
// command shape when a module carries both.
func (r *Registry) RegisterModule(mod *HandlerModule) {
	switch {
	case mod.Trigger != "" && mod.Once:
		r.dispatcher.Once(mod.Trigger, mod.Actions)
	case mod.Trigger != "":
		r.dispatcher.On(mod.Trigger, mod.Actions)
		r.log.Infow("event registered", "trigger", mod.Trigger)
	case mod.Name != "" && mod.Execute != nil:
		r.dispatcher.RegisterCommand(mod)
	default:
		r.dispatcher.RegisterSupport(mod)
	}
}

var registrySkipList = []string{
	"config.json", "node_modules", ".env", ".profile", ".npm",
}

// LoadData walks the data directory and registers every JSON file as support
// content. Returns an error only when the directory itself is unreadable;
// individual bad files are logged and skipped.
func (r *Registry) LoadData() error {
	r.log.Info("preparing project data")

	files, err := r.fileList(r.dir)
	if err != nil {
		return err
	}
	r.fileCount = len(files)

	for _, path := range files {
		if err := r.loadFile(path); err != nil {
			r.log.Errorw("file load failed", "path", path, "error", err)
		}
	}

	r.log.Infow("project data loaded",
		"files", r.fileCount,
		"commands", r.dispatcher.CommandCount(),
		"support", r.dispatcher.SupportCount(),
		"events", r.dispatcher.Triggers(),
	)
	return nil
}

func (r *Registry) fileList(dir string) ([]string, error) {
	var found []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		for _, skip := range registrySkipList {
			if strings.Contains(path, skip) {
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		if !info.IsDir() {
			found = append(found, path)
		}
		return nil
	})
	return found, err
}

func (r *Registry) loadFile(path string) error {
	if filepath.Ext(path) != ".json" {
		return nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var json = jsoniter.ConfigCompatibleWithStandardLibrary
	var content M
	if err := json.Unmarshal(raw, &content); err != nil {
		return err
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	r.RegisterModule(&HandlerModule{Filename: name, Content: content})
	return nil
}

// Watch re-syncs support content when files under the data directory change.
func (r *Registry) Watch() {
	w := watcher.New()

	go func() {
		for {
			select {
			case event := <-w.Event:
				if event.IsDir() {
					continue
				}
				if err := r.loadFile(event.Path); err != nil {
					r.log.Errorw("reload failed", "path", event.Path, "error", err)
				}
			case err := <-w.Error:
				r.log.Errorw("registry watcher error", "error", err)
			case <-w.Closed:
				return
			}
		}
	}()

	if err := w.AddRecursive(r.dir); err != nil {
		return
	}
	go func() { w.Wait() }()
	if err := w.Start(time.Millisecond * 1000); err != nil {
		return
	}
}
