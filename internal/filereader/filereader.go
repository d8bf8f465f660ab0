// Package filereader loads traces from disk: OTLP JSONL written by the
// OpenTelemetry Collector's file exporter, single OTLP JSON documents, Jaeger
// query API responses and plain span lists. A FileSource keeps a directory
// in sync with the trace store.
package filereader

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"

	"github.com/tobert/otlp-timeline/internal/timeline"
)

// TraceSink is what the trace store exposes to file loading.
type TraceSink interface {
	ReceiveSpans(ctx context.Context, resourceSpans []*tracepb.ResourceSpans) error
	Put(raw timeline.RawTrace, source string)
}

// FileSource reads traces from a directory and watches it for changes.
// JSONL files are tailed from their last offset; JSON documents are
// reloaded whole on every write.
type FileSource struct {
	directory  string
	sink       TraceSink
	verbose    bool
	activeOnly bool
	opts       Options

	watcher *fsnotify.Watcher

	// Track file read positions to only read new data
	mu          sync.Mutex
	fileOffsets map[string]int64
	loaded      map[string]int // json document -> traces loaded

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config holds configuration for a FileSource.
type Config struct {
	Directory string // e.g. /tank/otel or ./traces
	Verbose   bool

	// ActiveOnly skips rotated collector archives like
	// traces-2025-12-09T13-10-56.jsonl and loads only traces.jsonl.
	ActiveOnly bool

	Decode Options
}

// New creates a FileSource for cfg.Directory.
func New(cfg Config, sink TraceSink) (*FileSource, error) {
	if cfg.Directory == "" {
		return nil, fmt.Errorf("directory is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("trace sink cannot be nil")
	}

	info, err := os.Stat(cfg.Directory)
	if err != nil {
		return nil, fmt.Errorf("cannot access directory %s: %w", cfg.Directory, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", cfg.Directory)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &FileSource{
		directory:   cfg.Directory,
		sink:        sink,
		verbose:     cfg.Verbose,
		activeOnly:  cfg.ActiveOnly,
		opts:        cfg.Decode,
		watcher:     watcher,
		fileOffsets: make(map[string]int64),
		loaded:      make(map[string]int),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start loads existing files and begins watching. It returns after the
// initial load; watching continues in the background until Stop.
func (fs *FileSource) Start(ctx context.Context) error {
	if fs.verbose {
		log.Printf("📁 FileSource: starting with directory %s\n", fs.directory)
	}

	for _, dir := range fs.dirs() {
		if err := fs.watcher.Add(dir); err != nil {
			log.Printf("⚠️  FileSource: could not watch %s: %v\n", dir, err)
		} else if fs.verbose {
			log.Printf("📁 FileSource: watching %s\n", dir)
		}
	}

	for _, dir := range fs.dirs() {
		files, err := fs.findTraceFiles(dir)
		if err != nil {
			return fmt.Errorf("initial data load failed: %w", err)
		}
		for _, file := range files {
			if err := ctx.Err(); err != nil {
				return err
			}
			fs.loadFile(ctx, file)
		}
	}

	fs.wg.Add(1)
	go fs.watchLoop()

	return nil
}

// Stop stops the file watcher and waits for goroutines to finish.
func (fs *FileSource) Stop() {
	fs.cancel()
	fs.watcher.Close()
	fs.wg.Wait()
}

// Directory returns the base directory being watched.
func (fs *FileSource) Directory() string {
	return fs.directory
}

// dirs returns the base directory plus a collector-style traces/ subdir.
func (fs *FileSource) dirs() []string {
	dirs := []string{fs.directory}
	sub := filepath.Join(fs.directory, "traces")
	if info, err := os.Stat(sub); err == nil && info.IsDir() {
		dirs = append(dirs, sub)
	}
	return dirs
}

// findTraceFiles returns loadable files in dir, oldest first.
func (fs *FileSource) findTraceFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	type fileInfo struct {
		path    string
		modTime time.Time
	}
	var files []fileInfo

	for _, entry := range entries {
		if entry.IsDir() || !fs.wants(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{path: filepath.Join(dir, entry.Name()), modTime: info.ModTime()})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	result := make([]string, len(files))
	for i, f := range files {
		result[i] = f.path
	}
	return result, nil
}

// wants reports whether a file name is a trace file this source loads.
func (fs *FileSource) wants(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	if isJSONL(name) {
		// Active files: traces.jsonl. Archives: traces-2025-12-09T13-10-56.jsonl
		return !fs.activeOnly || name == "traces.jsonl"
	}
	return strings.HasSuffix(name, ".json")
}

func (fs *FileSource) loadFile(ctx context.Context, path string) {
	var (
		count int
		err   error
		what  = "traces"
	)
	if isJSONL(path) {
		count, err = fs.tailJSONL(ctx, path)
		what = "lines"
	} else {
		count, err = fs.loadDocument(path)
	}

	if err != nil {
		log.Printf("⚠️  FileSource: error loading %s: %v\n", path, err)
	} else if fs.verbose && count > 0 {
		log.Printf("📁 FileSource: loaded %d %s from %s\n", count, what, filepath.Base(path))
	}
}

// loadDocument replaces every trace in a JSON document.
func (fs *FileSource) loadDocument(path string) (int, error) {
	traces, format, err := LoadFile(path, fs.opts)
	if err != nil {
		return 0, err
	}
	for _, rt := range traces {
		fs.sink.Put(rt, path)
	}
	if fs.verbose {
		log.Printf("📁 FileSource: %s is %s\n", filepath.Base(path), format)
	}

	fs.mu.Lock()
	fs.loaded[path] = len(traces)
	fs.mu.Unlock()
	return len(traces), nil
}

// tailJSONL reads a collector export file from the last known offset and
// feeds each line to the sink as OTLP spans.
func (fs *FileSource) tailJSONL(ctx context.Context, path string) (int, error) {
	fs.mu.Lock()
	offset := fs.fileOffsets[path]
	fs.mu.Unlock()

	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	if info, err := file.Stat(); err == nil && info.Size() < offset {
		// truncated or rotated in place
		offset = 0
	}
	if offset > 0 {
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			offset = 0
		}
	}

	count, err := scanJSONL(file, func(line []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := unmarshalTracesData(line)
		if err != nil {
			return err
		}
		if len(data.ResourceSpans) == 0 {
			return nil
		}
		return fs.sink.ReceiveSpans(ctx, data.ResourceSpans)
	}, func(err error) {
		if fs.verbose {
			log.Printf("⚠️  FileSource: error processing line in %s: %v\n", filepath.Base(path), err)
		}
	})
	if err != nil {
		return count, fmt.Errorf("reading %s: %w", path, err)
	}

	newOffset, _ := file.Seek(0, io.SeekCurrent)
	fs.mu.Lock()
	fs.fileOffsets[path] = newOffset
	fs.mu.Unlock()

	return count, nil
}

func (fs *FileSource) watchLoop() {
	defer fs.wg.Done()

	for {
		select {
		case <-fs.ctx.Done():
			return

		case event, ok := <-fs.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !fs.wants(filepath.Base(event.Name)) {
				continue
			}
			fs.loadFile(fs.ctx, event.Name)

		case err, ok := <-fs.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️  FileSource: watcher error: %v\n", err)
		}
	}
}

// Stats describes what the file source has loaded.
type Stats struct {
	Directory     string   `json:"directory"`
	WatchedDirs   []string `json:"watched_dirs"`
	FilesTailed   int      `json:"files_tailed"`
	DocumentsRead int      `json:"documents_read"`
}

// Stats returns current statistics.
func (fs *FileSource) Stats() Stats {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return Stats{
		Directory:     fs.directory,
		WatchedDirs:   fs.watcher.WatchList(),
		FilesTailed:   len(fs.fileOffsets),
		DocumentsRead: len(fs.loaded),
	}
}
