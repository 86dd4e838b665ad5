package watcher

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/atomicdeploy/dbf-export/pkg/filecopy"
)

// Group is a table and the memo file that belongs to it. Both change together,
// so they are watched and hashed as one unit.
type Group struct {
	Table string
	Memo  string // optional
}

// Paths returns the group's member files.
func (g Group) Paths() []string {
	if g.Memo == "" {
		return []string{g.Table}
	}
	return []string{g.Table, g.Memo}
}

type groupState struct {
	group    Group
	hash     string
	callback func(Group)
	debounce time.Duration
	timer    *time.Timer
	run      sync.Mutex // serializes hash checks and callbacks
}

// TableWatcher watches tables and their memo files for changes
type TableWatcher struct {
	watcher *fsnotify.Watcher
	mu      sync.Mutex
	groups  map[string]*groupState // by table path
	members map[string]string      // member path -> table path
	dirs    map[string]int         // watched directory -> member count
}

// NewTableWatcher creates a new table watcher
func NewTableWatcher() (*TableWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &TableWatcher{
		watcher: watcher,
		groups:  make(map[string]*groupState),
		members: make(map[string]string),
		dirs:    make(map[string]int),
	}, nil
}

// Watch starts watching a group. callback runs once the group has been quiet
// for the debounce duration and its combined content hash differs from the
// last one seen. The member directories are watched rather than the files, so
// a memo file created later or a table replaced by rename is still noticed.
func (tw *TableWatcher) Watch(group Group, callback func(Group), debounceDuration time.Duration) error {
	group, err := absGroup(group)
	if err != nil {
		return err
	}

	if _, err := os.Stat(group.Table); err != nil {
		return fmt.Errorf("failed to stat table: %w", err)
	}
	hash, err := filecopy.CalculateGroupHash(group.Table, group.Memo)
	if err != nil {
		return fmt.Errorf("failed to get initial hash: %w", err)
	}

	tw.mu.Lock()
	defer tw.mu.Unlock()

	if _, exists := tw.groups[group.Table]; exists {
		return fmt.Errorf("already watching %s", group.Table)
	}

	for _, p := range group.Paths() {
		dir := filepath.Dir(p)
		if tw.dirs[dir] == 0 {
			if err := tw.watcher.Add(dir); err != nil {
				return fmt.Errorf("failed to watch directory: %w", err)
			}
		}
		tw.dirs[dir]++
		tw.members[p] = group.Table
	}

	tw.groups[group.Table] = &groupState{
		group:    group,
		hash:     hash,
		callback: callback,
		debounce: debounceDuration,
	}
	return nil
}

func absGroup(g Group) (Group, error) {
	table, err := filepath.Abs(g.Table)
	if err != nil {
		return g, fmt.Errorf("failed to resolve table path: %w", err)
	}
	g.Table = table
	if g.Memo != "" {
		memo, err := filepath.Abs(g.Memo)
		if err != nil {
			return g, fmt.Errorf("failed to resolve memo path: %w", err)
		}
		g.Memo = memo
	}
	return g, nil
}

// Start begins watching for file changes
func (tw *TableWatcher) Start() {
	go tw.watchLoop()
}

func (tw *TableWatcher) watchLoop() {
	for {
		select {
		case event, ok := <-tw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			tw.schedule(filepath.Clean(event.Name))

		case err, ok := <-tw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️  Watcher error: %v", err)
		}
	}
}

// schedule (re)arms the debounce timer of the group owning path.
func (tw *TableWatcher) schedule(path string) {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	table, ok := tw.members[path]
	if !ok {
		return
	}
	state := tw.groups[table]

	if state.debounce == 0 {
		go tw.handleChange(table)
		return
	}
	if state.timer != nil {
		state.timer.Stop()
	}
	state.timer = time.AfterFunc(state.debounce, func() {
		tw.handleChange(table)
	})
}

// handleChange calls the group's callback when its content hash changed.
// Checks for one group run one at a time, so a change fires the callback once.
func (tw *TableWatcher) handleChange(table string) {
	tw.mu.Lock()
	state, ok := tw.groups[table]
	tw.mu.Unlock()
	if !ok {
		return
	}

	state.run.Lock()
	defer state.run.Unlock()

	tw.mu.Lock()
	group, oldHash, callback := state.group, state.hash, state.callback
	tw.mu.Unlock()

	newHash, err := filecopy.CalculateGroupHash(group.Table, group.Memo)
	if err != nil {
		log.Printf("⚠️  Failed to get hash for %s: %v", filepath.Base(group.Table), err)
		return
	}
	if newHash == oldHash {
		return
	}

	tw.mu.Lock()
	state.hash = newHash
	tw.mu.Unlock()

	callback(group)
}

// Unwatch stops watching the group of the given table
func (tw *TableWatcher) Unwatch(table string) error {
	abs, err := filepath.Abs(table)
	if err != nil {
		return fmt.Errorf("failed to resolve table path: %w", err)
	}

	tw.mu.Lock()
	defer tw.mu.Unlock()

	state, ok := tw.groups[abs]
	if !ok {
		return fmt.Errorf("not watching %s", table)
	}
	if state.timer != nil {
		state.timer.Stop()
	}
	delete(tw.groups, abs)

	for _, p := range state.group.Paths() {
		delete(tw.members, p)
		dir := filepath.Dir(p)
		tw.dirs[dir]--
		if tw.dirs[dir] == 0 {
			delete(tw.dirs, dir)
			if err := tw.watcher.Remove(dir); err != nil {
				return fmt.Errorf("failed to unwatch directory: %w", err)
			}
		}
	}
	return nil
}

// Close stops the watcher and any pending debounce timers
func (tw *TableWatcher) Close() error {
	tw.mu.Lock()
	for _, state := range tw.groups {
		if state.timer != nil {
			state.timer.Stop()
		}
	}
	tw.mu.Unlock()
	return tw.watcher.Close()
}
