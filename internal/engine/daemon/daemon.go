// Package daemon generalizes the teacher's internal/server UDS JSON
// daemon (UDSDaemon: semaphore-bounded connections, idle timeouts,
// newline-delimited JSON request/response) into a transport for spec
// §6's full operation set, for shells that embed the engine as a
// subprocess instead of a linked library. Unlike the teacher's daemon
// (one request, one response), streaming operations here write more
// than one JSON line per request: a chunk line per batch, then one
// completion line.
package daemon

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/elmissouri16/quickrows/internal/dialect"
	"github.com/elmissouri16/quickrows/internal/engine"
)

// Config mirrors the teacher's DaemonConfig shape.
type Config struct {
	SocketPath     string
	MaxConcurrency int
	IdleTimeout    time.Duration
}

// Daemon serves spec §6's operations over a Unix domain socket.
type Daemon struct {
	cfg      Config
	eng      *engine.Engine
	listener net.Listener
	sem      chan struct{}
	shutdown chan struct{}
	wg       sync.WaitGroup
}

func New(cfg Config, eng *engine.Engine) *Daemon {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 50
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Second
	}
	if cfg.SocketPath == "" {
		cfg.SocketPath = "/tmp/quickrows.sock"
	}
	return &Daemon{
		cfg:      cfg,
		eng:      eng,
		sem:      make(chan struct{}, cfg.MaxConcurrency),
		shutdown: make(chan struct{}),
	}
}

// Start binds the socket and serves connections until Shutdown is
// called. Matches the teacher's accept-with-deadline loop so Shutdown
// can interrupt Accept without relying on connection-level cancellation.
func (d *Daemon) Start() error {
	if _, err := os.Stat(d.cfg.SocketPath); err == nil {
		if err := os.Remove(d.cfg.SocketPath); err != nil {
			return fmt.Errorf("daemon: removing stale socket: %w", err)
		}
	}

	listener, err := net.Listen("unix", d.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("daemon: binding %s: %w", d.cfg.SocketPath, err)
	}
	d.listener = listener

	for {
		select {
		case <-d.shutdown:
			return nil
		default:
		}

		if ul, ok := listener.(*net.UnixListener); ok {
			_ = ul.SetDeadline(time.Now().Add(time.Second))
		}

		conn, err := listener.Accept()
		if err != nil {
			if opErr, ok := err.(*net.OpError); ok && opErr.Timeout() {
				continue
			}
			select {
			case <-d.shutdown:
				return nil
			default:
				continue
			}
		}

		d.wg.Add(1)
		go d.handleConnection(conn)
	}
}

func (d *Daemon) Shutdown() {
	close(d.shutdown)
	if d.listener != nil {
		_ = d.listener.Close()
	}
	d.wg.Wait()
	_ = os.Remove(d.cfg.SocketPath)
}

func (d *Daemon) handleConnection(conn net.Conn) {
	defer d.wg.Done()
	defer conn.Close()

	select {
	case d.sem <- struct{}{}:
		defer func() { <-d.sem }()
	case <-d.shutdown:
		return
	}

	reader := bufio.NewReader(conn)
	enc := json.NewEncoder(conn)

	for {
		select {
		case <-d.shutdown:
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(d.cfg.IdleTimeout))
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		d.processRequest(line, enc)
	}
}

// Request is the newline-delimited JSON envelope for one operation.
type Request struct {
	Op         string            `json:"op"`
	Path       string            `json:"path,omitempty"`
	Overrides  dialectOverrides  `json:"overrides,omitempty"`
	Start      int64             `json:"start,omitempty"`
	Count      int64             `json:"count,omitempty"`
	Column     int               `json:"column,omitempty"`
	HasColumn  bool              `json:"hasColumn,omitempty"`
	Query      string            `json:"query,omitempty"`
	MatchCase  bool              `json:"matchCase,omitempty"`
	WholeWord  bool              `json:"wholeWord,omitempty"`
	Ascending  bool              `json:"ascending,omitempty"`
	RequestID  string            `json:"requestId,omitempty"`
	ClearFlag  bool              `json:"clear,omitempty"`
	Enabled    bool              `json:"enabled,omitempty"`
}

type dialectOverrides struct {
	Delimiter  *string `json:"delimiter,omitempty"`
	Quote      *string `json:"quote,omitempty"`
	LineEnding *string `json:"lineEnding,omitempty"`
	Encoding   *string `json:"encoding,omitempty"`
	HasHeaders *bool   `json:"hasHeaders,omitempty"`
	Malformed  *string `json:"malformed,omitempty"`
}

func (o dialectOverrides) toDialect() dialect.Overrides {
	return dialect.Overrides{
		Delimiter:  o.Delimiter,
		Quote:      o.Quote,
		LineEnding: o.LineEnding,
		Encoding:   o.Encoding,
		HasHeaders: o.HasHeaders,
		Malformed:  o.Malformed,
	}
}

func column(req Request) int {
	if !req.HasColumn {
		return -1
	}
	return req.Column
}

func (d *Daemon) processRequest(data []byte, enc *json.Encoder) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		enc.Encode(errorResponse("invalid JSON: " + err.Error()))
		return
	}

	switch req.Op {
	case "open":
		res, err := d.eng.Open(req.Path, req.Overrides.toDialect())
		if err != nil {
			enc.Encode(errorResponse(err.Error()))
			return
		}
		enc.Encode(successResponse(map[string]any{
			"headers":          res.Headers,
			"detectedDialect":  res.DetectedDialect,
			"effectiveDialect": res.EffectiveDialect,
			"warnings":         res.Warnings,
			"estimatedRows":    res.EstimatedRows,
		}))

	case "read_chunk":
		rows, err := d.eng.ReadChunk(req.Start, req.Count)
		if err != nil {
			enc.Encode(errorResponse(err.Error()))
			return
		}
		enc.Encode(successResponse(map[string]any{"rows": rows}))

	case "search":
		ids, err := d.eng.Search(column(req), req.Query, req.MatchCase, req.WholeWord)
		if err != nil {
			enc.Encode(errorResponse(err.Error()))
			return
		}
		enc.Encode(successResponse(map[string]any{"matches": ids}))

	case "search_stream":
		if err := d.eng.SearchStream(column(req), req.Query, req.MatchCase, req.WholeWord, req.RequestID, connEvents{enc}); err != nil {
			enc.Encode(errorResponse(err.Error()))
		}

	case "find_duplicates":
		ids, err := d.eng.FindDuplicates(column(req))
		if err != nil {
			enc.Encode(errorResponse(err.Error()))
			return
		}
		enc.Encode(successResponse(map[string]any{"matches": ids}))

	case "find_duplicates_stream":
		if err := d.eng.FindDuplicatesStream(column(req), req.RequestID, connEvents{enc}); err != nil {
			enc.Encode(errorResponse(err.Error()))
		}

	case "sort":
		perm, err := d.eng.Sort(column(req), req.Ascending)
		if err != nil {
			enc.Encode(errorResponse(err.Error()))
			return
		}
		enc.Encode(successResponse(map[string]any{"permutation": perm}))

	case "get_sorted_chunk":
		ids, rows, err := d.eng.GetSortedChunk(req.Start, req.Count)
		if err != nil {
			enc.Encode(errorResponse(err.Error()))
			return
		}
		enc.Encode(successResponse(map[string]any{"rowIds": ids, "rows": rows}))

	case "get_sorted_indices":
		ids, err := d.eng.GetSortedIndices(req.Start, req.Count)
		if err != nil {
			enc.Encode(errorResponse(err.Error()))
			return
		}
		enc.Encode(successResponse(map[string]any{"rowIds": ids}))

	case "clear_sort":
		if err := d.eng.ClearSort(); err != nil {
			enc.Encode(errorResponse(err.Error()))
			return
		}
		enc.Encode(successResponse(map[string]any{}))

	case "row_count":
		n, err := d.eng.RowCount()
		if err != nil {
			enc.Encode(errorResponse(err.Error()))
			return
		}
		enc.Encode(successResponse(map[string]any{"rowCount": n}))

	case "get_warnings":
		ws, err := d.eng.GetWarnings(req.ClearFlag)
		if err != nil {
			enc.Encode(errorResponse(err.Error()))
			return
		}
		enc.Encode(successResponse(map[string]any{"warnings": ws}))

	case "set_indexing_enabled":
		if err := d.eng.SetIndexingEnabled(req.Enabled); err != nil {
			enc.Encode(errorResponse(err.Error()))
		} else {
			enc.Encode(successResponse(map[string]any{}))
		}

	default:
		enc.Encode(errorResponse("unknown op: " + req.Op))
	}
}

// connEvents implements engine.Events, tagging each streamed chunk/
// complete line with its request id and writing it straight to this
// connection's encoder — each streaming request gets its own sink
// instead of sharing the engine-global one set in engine.New, since
// more than one connection can stream concurrently against one Engine.
type connEvents struct {
	enc *json.Encoder
}

func (c connEvents) ParseProgress(rows int64) {}
func (c connEvents) RowCount(total int64)     {}
func (c connEvents) IndexReady(ready bool)    {}

func (c connEvents) SearchChunk(requestID string, matches []uint32) {
	c.enc.Encode(successResponse(map[string]any{
		"type":      "search_chunk",
		"requestId": requestID,
		"matches":   matches,
	}))
}

func (c connEvents) SearchComplete(requestID string, total int) {
	c.enc.Encode(successResponse(map[string]any{
		"type":      "search_complete",
		"requestId": requestID,
		"total":     total,
	}))
}

func (c connEvents) DuplicatesChunk(requestID string, matches []uint32) {
	c.enc.Encode(successResponse(map[string]any{
		"type":      "duplicates_chunk",
		"requestId": requestID,
		"matches":   matches,
	}))
}

func (c connEvents) DuplicatesComplete(requestID string, total int) {
	c.enc.Encode(successResponse(map[string]any{
		"type":      "duplicates_complete",
		"requestId": requestID,
		"total":     total,
	}))
}

func errorResponse(msg string) map[string]any {
	return map[string]any{"error": msg}
}

func successResponse(data map[string]any) map[string]any {
	data["error"] = nil
	return data
}
