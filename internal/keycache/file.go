package keycache

import (
	"context"
	"crypto"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/fsnotify/fsnotify"
)

// File serves a pinned JWKS document read from disk. The document is
// reloaded whenever the file is written or replaced; a reload that fails to
// parse keeps the previous key set.
type File struct {
	path string
	log  *slog.Logger

	mu sync.RWMutex
	kf keyfunc.Keyfunc

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewFile loads path and starts watching it for changes. Call Close to stop
// the watcher.
func NewFile(path string, logger *slog.Logger) (*File, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("keycache: resolve path: %w", err)
	}
	f := &File{path: abs, log: logger, done: make(chan struct{})}
	if err := f.load(); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("keycache: watch: %w", err)
	}
	// Watch the directory: editors and config-map mounts replace the file
	// via rename, which drops a watch placed on the file itself.
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("keycache: watch %s: %w", filepath.Dir(abs), err)
	}
	f.watcher = w
	f.wg.Add(1)
	go f.watch()
	return f, nil
}

// Resolve implements Resolver.
func (f *File) Resolve(ctx context.Context, kid string) (Key, error) {
	f.mu.RLock()
	kf := f.kf
	f.mu.RUnlock()

	jwk, err := kf.Storage().KeyRead(ctx, kid)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %q: %v", ErrKeyNotFound, kid, err)
	}
	m := jwk.Marshal()
	if string(m.USE) == "enc" {
		return Key{}, fmt.Errorf("%w: %q is an encryption key", ErrKeyNotFound, kid)
	}
	pub := jwk.Key()
	if priv, ok := pub.(interface{ Public() crypto.PublicKey }); ok {
		pub = priv.Public()
	}
	if _, symmetric := pub.([]byte); symmetric {
		return Key{}, fmt.Errorf("%w: %q is not an asymmetric key", ErrKeyNotFound, kid)
	}
	return Key{KID: kid, Algorithm: string(m.ALG), Use: string(m.USE), Public: pub}, nil
}

// Close stops watching the file.
func (f *File) Close() error {
	select {
	case <-f.done:
		return nil
	default:
	}
	close(f.done)
	err := f.watcher.Close()
	f.wg.Wait()
	return err
}

func (f *File) load() error {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("keycache: read %s: %w", f.path, err)
	}
	kf, err := keyfunc.NewJWKSetJSON(json.RawMessage(raw))
	if err != nil {
		return fmt.Errorf("keycache: parse %s: %w", f.path, err)
	}
	f.mu.Lock()
	f.kf = kf
	f.mu.Unlock()
	return nil
}

func (f *File) watch() {
	defer f.wg.Done()
	for {
		select {
		case <-f.done:
			return
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != f.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := f.load(); err != nil {
				f.log.Warn("keycache.file.reload.fail", slog.String("path", f.path), slog.String("err", err.Error()))
				continue
			}
			f.log.Info("keycache.file.reload.ok", slog.String("path", f.path))
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.log.Warn("keycache.file.watch.err", slog.String("err", err.Error()))
		}
	}
}

var _ Resolver = (*File)(nil)
