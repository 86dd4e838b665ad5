package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"github.com/atomicdeploy/dbf-export/pkg/converter"
	"github.com/atomicdeploy/dbf-export/pkg/datasource"
	"github.com/atomicdeploy/dbf-export/pkg/watcher"
	"github.com/atomicdeploy/dbf-export/web"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Options configures a Server.
type Options struct {
	Source datasource.Options
	// Publish is a ZeroMQ endpoint change sets are also published on; empty disables it.
	Publish string
	// AllowedOrigins lists WebSocket origins accepted without a warning.
	AllowedOrigins []string
}

// Server represents the HTTP/WebSocket server
type Server struct {
	router        *mux.Router
	path          string
	opts          Options
	source        datasource.DataSource
	watcher       *watcher.TableWatcher
	publisher     *Publisher
	wsClients     map[*client]bool
	wsClientsMu   sync.RWMutex
	upgrader      websocket.Upgrader
	lastRecords   []converter.Row
	lastRecordsMu sync.Mutex
}

// client is one WebSocket connection. gorilla/websocket allows one writer
// at a time per connection.
type client struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// NewServer creates a new server instance for a table or an exported JSON file
func NewServer(path string, opts Options) (*Server, error) {
	source, err := datasource.NewDataSource(path, opts.Source)
	if err != nil {
		return nil, err
	}

	s := &Server{
		router:    mux.NewRouter(),
		path:      path,
		opts:      opts,
		source:    source,
		wsClients: make(map[*client]bool),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}

	if opts.Publish != "" {
		pub, err := NewPublisher(context.Background(), opts.Publish)
		if err != nil {
			return nil, err
		}
		s.publisher = pub
	}

	s.setupRoutes()
	return s, nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	// Direct connections and tests send no origin
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	if origin == "http://"+r.Host || origin == "https://"+r.Host {
		return true
	}
	log.Printf("⚠️  WebSocket connection from foreign origin: %s", origin)
	return true
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/", s.handleWelcome).Methods("GET")
	s.router.HandleFunc("/api/records", s.handleGetRecords).Methods("GET")
	s.router.HandleFunc("/api/info", s.handleGetInfo).Methods("GET")
	s.router.HandleFunc("/api/schema", s.handleGetSchema).Methods("GET")
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Handler returns the HTTP handler serving all routes.
func (s *Server) Handler() http.Handler { return s.router }

// Publisher returns the ZeroMQ publisher, or nil when publishing is disabled.
func (s *Server) Publisher() *Publisher { return s.publisher }

// handleWelcome serves the welcome page
func (s *Server) handleWelcome(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(web.WelcomeHTML)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

// handleGetRecords returns the table records as JSON. ?deleted=1 includes
// records flagged deleted and ?limit=n returns at most n records.
func (s *Server) handleGetRecords(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := -1
	if v := query.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, fmt.Sprintf("Invalid limit: %q", v), http.StatusBadRequest)
			return
		}
		limit = n
	}

	source := s.source
	if deleted, _ := strconv.ParseBool(query.Get("deleted")); deleted {
		opts := s.opts.Source
		opts.Export.IncludeDeleted = true
		var err error
		if source, err = datasource.NewDataSource(s.path, opts); err != nil {
			http.Error(w, fmt.Sprintf("Failed to open table: %v", err), http.StatusInternalServerError)
			return
		}
		defer source.Close()
	}

	records, err := source.GetRecords()
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to read records: %v", err), http.StatusInternalServerError)
		return
	}
	total := len(records)
	if limit >= 0 && limit < total {
		records = records[:limit]
	}
	if records == nil {
		records = []converter.Row{}
	}

	writeJSON(w, map[string]any{
		"success": true,
		"count":   len(records),
		"total":   total,
		"records": records,
	})
}

// describe returns table metadata; JSON sources only report their record count.
func (s *Server) describe() (*datasource.Info, error) {
	if d, ok := s.source.(datasource.Describer); ok {
		return d.Describe()
	}
	records, err := s.source.GetRecords()
	if err != nil {
		return nil, err
	}
	return &datasource.Info{
		File:       filepath.Base(s.path),
		Version:    "json",
		NumRecords: len(records),
		MemoType:   "none",
	}, nil
}

// handleGetInfo returns header information and counts
func (s *Server) handleGetInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.describe()
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to read table: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"success":       true,
		"file":          info.File,
		"version":       info.Version,
		"last_update":   info.LastUpdate,
		"num_records":   info.NumRecords,
		"num_fields":    info.NumFields,
		"record_length": info.RecordLen,
		"header_length": info.HeaderLen,
		"code_page":     info.CodePage,
		"memo_file":     info.MemoFile,
		"memo_type":     info.MemoType,
	})
}

// handleGetSchema returns the field descriptors
func (s *Server) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.source.(datasource.Describer); !ok {
		http.Error(w, "Schema is only available for dbf tables", http.StatusNotFound)
		return
	}
	info, err := s.describe()
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to read table: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"success": true,
		"file":    info.File,
		"fields":  info.Fields,
	})
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade to WebSocket: %v", err)
		return
	}

	c := &client{id: uuid.NewString(), conn: conn}
	s.wsClientsMu.Lock()
	s.wsClients[c] = true
	total := len(s.wsClients)
	s.wsClientsMu.Unlock()

	log.Printf("🔌 New WebSocket connection %s (total: %d)", c.id, total)

	// Send initial data
	s.sendRecordsToClient(c)

	// Handle disconnection
	go func() {
		defer func() {
			s.wsClientsMu.Lock()
			delete(s.wsClients, c)
			remaining := len(s.wsClients)
			s.wsClientsMu.Unlock()
			conn.Close()
			log.Printf("🔌 WebSocket %s disconnected (remaining: %d)", c.id, remaining)
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// sendRecordsToClient sends the current records to a WebSocket client as an initial change set
func (s *Server) sendRecordsToClient(c *client) {
	records, err := s.source.GetRecords()
	if err != nil {
		log.Printf("Failed to read records: %v", err)
		return
	}

	if err := c.send(InitialChangeSet(records)); err != nil {
		log.Printf("Failed to send to WebSocket: %v", err)
	}
}

// broadcastUpdate sends the changes since the last read to all WebSocket
// clients and the publisher. Reads that change nothing are not broadcast.
func (s *Server) broadcastUpdate() {
	records, err := s.source.GetRecords()
	if err != nil {
		log.Printf("Failed to read records: %v", err)
		return
	}

	s.lastRecordsMu.Lock()
	changes := ComputeChanges(s.opts.Source.Export.KeyField, s.lastRecords, records)
	s.lastRecords = records
	s.lastRecordsMu.Unlock()

	if changes.Empty() {
		return
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(changes); err != nil {
			log.Printf("⚠️  %v", err)
		}
	}

	s.wsClientsMu.RLock()
	clients := make([]*client, 0, len(s.wsClients))
	for c := range s.wsClients {
		clients = append(clients, c)
	}
	s.wsClientsMu.RUnlock()

	if len(clients) == 0 {
		return
	}
	log.Printf("📡 Broadcasting update to %d clients (+%d ~%d -%d)",
		len(clients), len(changes.Added), len(changes.Modified), len(changes.Deleted))

	for _, c := range clients {
		go func(c *client) {
			if err := c.send(changes); err != nil {
				log.Printf("Failed to send to WebSocket: %v", err)
			}
		}(c)
	}
}

// StartWatching starts watching the table and its memo file for changes with the specified debounce duration
func (s *Server) StartWatching(debounceDuration time.Duration) error {
	records, err := s.source.GetRecords()
	if err != nil {
		return fmt.Errorf("failed to read records: %w", err)
	}
	s.lastRecordsMu.Lock()
	s.lastRecords = records
	s.lastRecordsMu.Unlock()

	tw, err := watcher.NewTableWatcher()
	if err != nil {
		return err
	}

	paths := s.source.WatchPaths()
	group := watcher.Group{Table: paths[0]}
	if len(paths) > 1 {
		group.Memo = paths[1]
	}

	if err := tw.Watch(group, func(g watcher.Group) {
		log.Printf("🔄 Table changed: %s", filepath.Base(g.Table))
		s.broadcastUpdate()
	}, debounceDuration); err != nil {
		tw.Close()
		return fmt.Errorf("failed to watch table: %w", err)
	}

	s.watcher = tw
	tw.Start()
	if group.Memo != "" {
		log.Printf("👀 Watching table: %s (memo: %s)", filepath.Base(group.Table), filepath.Base(group.Memo))
	} else {
		log.Printf("👀 Watching table: %s", filepath.Base(group.Table))
	}

	return nil
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return fmt.Errorf("table file does not exist: %s", s.path)
	}

	log.Printf("🚀 Starting server on %s", addr)
	log.Printf("📊 Serving table: %s", filepath.Base(s.path))
	if s.publisher != nil {
		log.Printf("📣 Publishing changes on %s (topic %q)", s.publisher.Endpoint(), ChangeTopic)
	}

	return http.ListenAndServe(addr, s.router)
}

// Close cleans up server resources
func (s *Server) Close() error {
	var firstErr error
	if s.watcher != nil {
		firstErr = s.watcher.Close()
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.wsClientsMu.Lock()
	for c := range s.wsClients {
		c.conn.Close()
	}
	s.wsClientsMu.Unlock()
	if err := s.source.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
