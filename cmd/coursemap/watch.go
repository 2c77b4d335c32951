package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	watchExtensions string
	watchSettle     time.Duration
)

// watchCmd ingests catalog documents dropped into a directory
var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Watch a directory and extract catalog documents as they arrive",
	Long: `Watches a directory for new or updated documents and runs the
extraction pipeline on each. Writes are debounced so a file is only
processed once its content settles, and settled files are processed one
at a time so concurrent drops cannot stack requests against the
service's rate quota.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchExtensions, "ext", ".txt,.md", "Comma-separated file extensions to ingest")
	watchCmd.Flags().DurationVar(&watchSettle, "settle", 2*time.Second, "Quiet period before a changed file is processed")
}

// ingester debounces file events and hands settled paths to a single
// worker. One process call at a time, and none after Stop returns.
type ingester struct {
	settle  time.Duration
	process func(path string)

	mu     sync.Mutex
	timers map[string]*time.Timer

	paths chan string
	done  chan struct{}
	wg    sync.WaitGroup
}

func newIngester(settle time.Duration, process func(string)) *ingester {
	in := &ingester{
		settle:  settle,
		process: process,
		timers:  make(map[string]*time.Timer),
		paths:   make(chan string, 64),
		done:    make(chan struct{}),
	}
	in.wg.Add(1)
	go in.run()
	return in
}

func (in *ingester) run() {
	defer in.wg.Done()
	for {
		select {
		case <-in.done:
			return
		case path := <-in.paths:
			in.process(path)
		}
	}
}

// Touch records activity on a path, starting or extending its settle
// timer.
func (in *ingester) Touch(path string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if timer, ok := in.timers[path]; ok {
		timer.Reset(in.settle)
		return
	}
	in.timers[path] = time.AfterFunc(in.settle, func() {
		in.mu.Lock()
		delete(in.timers, path)
		in.mu.Unlock()
		select {
		case in.paths <- path:
		case <-in.done:
		}
	})
}

// Stop cancels pending timers and waits for the worker to finish its
// current file.
func (in *ingester) Stop() {
	in.mu.Lock()
	for path, timer := range in.timers {
		timer.Stop()
		delete(in.timers, path)
	}
	in.mu.Unlock()
	close(in.done)
	in.wg.Wait()
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()
	defer maybeDumpRequests()

	dir := args[0]
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("checking watch directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	exts := make(map[string]bool)
	for _, e := range strings.Split(watchExtensions, ",") {
		e = strings.TrimSpace(strings.ToLower(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = true
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	process := func(path string) {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("failed to read dropped file", zap.String("path", path), zap.Error(err))
			return
		}
		records, extractErr := extractDocument(ctx, string(data), filepath.Base(path))
		if len(records) == 0 {
			if extractErr != nil {
				logger.Warn("extraction failed", zap.String("path", path), zap.Error(extractErr))
			} else {
				logger.Info("no course records found", zap.String("path", path))
			}
			return
		}
		extractionID := uuid.NewString()
		if err := s.SaveExtraction(ctx, extractionID, filepath.Base(path), records); err != nil {
			logger.Error("failed to save extraction", zap.String("path", path), zap.Error(err))
			return
		}
		fmt.Printf("Extraction %s: %d records from %s\n", extractionID, len(records), path)
	}

	// Stop must run before the deferred store/watcher closes so an
	// in-flight extraction never touches a closed handle.
	in := newIngester(watchSettle, process)
	defer in.Stop()

	fmt.Printf("Watching %s for %s files. Ctrl-C to stop.\n", dir, watchExtensions)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !exts[strings.ToLower(filepath.Ext(event.Name))] {
				continue
			}
			in.Touch(event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", zap.Error(err))
		}
	}
}
