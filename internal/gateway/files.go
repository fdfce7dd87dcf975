package gateway

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/superbrain/internal/bus"
)

// FileService hands out expiring download links for files produced by CLI
// executions. Tokens are unguessable UUIDs; the underlying path is never
// exposed to clients.
type FileService struct {
	baseURL string
	log     *slog.Logger

	mu      sync.Mutex
	entries map[string]fileEntry
}

type fileEntry struct {
	path    string
	expires time.Time
}

func NewFileService(baseURL string, log *slog.Logger) *FileService {
	if log == nil {
		log = slog.Default()
	}
	return &FileService{
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     log,
		entries: make(map[string]fileEntry),
	}
}

// Register maps a local file to a download URL valid for ttl.
func (f *FileService) Register(path string, ttl time.Duration) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}

	token := bus.GenID().String()
	f.mu.Lock()
	f.entries[token] = fileEntry{path: path, expires: time.Now().Add(ttl)}
	f.mu.Unlock()

	return f.baseURL + "/files/" + token, nil
}

// StartSweep removes expired entries periodically until ctx ends.
func (f *FileService) StartSweep(done <-chan struct{}, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				f.sweep()
			case <-done:
				return
			}
		}
	}()
}

func (f *FileService) sweep() {
	now := time.Now()
	f.mu.Lock()
	for token, e := range f.entries {
		if now.After(e.expires) {
			delete(f.entries, token)
		}
	}
	f.mu.Unlock()
}

func (f *FileService) handleDownload(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")

	f.mu.Lock()
	e, ok := f.entries[token]
	if ok && time.Now().After(e.expires) {
		delete(f.entries, token)
		ok = false
	}
	f.mu.Unlock()

	if !ok {
		http.Error(w, "file not found or link expired", http.StatusNotFound)
		return
	}
	http.ServeFile(w, r, e.path)
}
