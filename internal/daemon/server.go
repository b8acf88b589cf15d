package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/tagtools/autotagd/internal/config"
	"github.com/tagtools/autotagd/internal/coordinator"
	"github.com/tagtools/autotagd/internal/journal"
	"github.com/tagtools/autotagd/internal/logger"
	"github.com/tagtools/autotagd/pkg/protocol"
)

var log = logger.ForComponent("daemon")

const recentCycles = 20

// Server is the daemon's RPC surface: it accepts editor connections on the
// unix socket and routes save events into the coordinator.
type Server struct {
	cfg     *config.Config
	coord   *coordinator.Coordinator
	jr      *journal.Journal
	ln      net.Listener
	started time.Time

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

func NewServer(cfg *config.Config, coord *coordinator.Coordinator, jr *journal.Journal) *Server {
	return &Server{
		cfg:        cfg,
		coord:      coord,
		jr:         jr,
		started:    time.Now(),
		shutdownCh: make(chan struct{}),
	}
}

// Serve listens on the configured socket and handles connections until
// Shutdown is called.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := Listen(s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.SocketPath, err)
	}
	s.ln = ln
	log.Info("listening", "socket", s.cfg.SocketPath)

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdownCh:
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}

		stream := jsonrpc2.NewBufferedStream(conn, jsonrpc2.PlainObjectCodec{})
		jsonrpc2.NewConn(ctx, stream, jsonrpc2.AsyncHandler(jsonrpc2.HandlerWithError(s.handle)))
	}
}

// Shutdown stops accepting connections. Safe to call more than once.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		log.Info("shutting down")
		close(s.shutdownCh)
		if s.ln != nil {
			s.ln.Close()
		}
	})
}

// Done is closed once Shutdown has been requested.
func (s *Server) Done() <-chan struct{} {
	return s.shutdownCh
}

// FilesSaved routes watcher batches into the coordinator. It is the same
// path a `file/saved` notification takes, minus per-event overrides.
func (s *Server) FilesSaved(paths []string) {
	if s.cfg.Disabled {
		return
	}
	for _, p := range paths {
		s.coord.AddSource(nil, p)
	}
	s.coord.Flush()
}

// handle dispatches one RPC. A panic anywhere below is caught and logged
// with its stack; one bad update must never take the daemon down with it.
func (s *Server) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in handler", "method", req.Method, "panic", r,
				"stack", string(debug.Stack()))
			result, err = nil, nil
		}
	}()

	switch req.Method {
	case protocol.MethodPing:
		return protocol.PingResult{Status: "ok", PID: os.Getpid()}, nil

	case protocol.MethodFileSaved:
		var p protocol.SaveParams
		if err := unmarshalParams(req, &p); err != nil {
			return nil, err
		}
		if s.cfg.Disabled {
			log.Debug("disabled, ignoring save", "path", p.Path)
			return nil, nil
		}
		merged := s.cfg.Merged(p.Overrides)
		s.coord.AddSource(&merged, p.Path)
		s.coord.Flush()
		return nil, nil

	case protocol.MethodFlush:
		return protocol.FlushResult{Drained: s.coord.Flush()}, nil

	case protocol.MethodStatus:
		return s.status()

	case protocol.MethodShutdown:
		s.Shutdown()
		return nil, nil

	default:
		return nil, &jsonrpc2.Error{
			Code:    jsonrpc2.CodeMethodNotFound,
			Message: fmt.Sprintf("unknown method %q", req.Method),
		}
	}
}

func (s *Server) status() (protocol.StatusResult, error) {
	res := protocol.StatusResult{
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		TagsFilesSeen: s.coord.KeysSeen(),
	}
	if s.jr == nil {
		return res, nil
	}

	cycles, err := s.jr.Recent(recentCycles)
	if err != nil {
		log.Warn("cannot read journal", "error", err)
		return res, nil
	}
	for _, c := range cycles {
		res.RecentCycles = append(res.RecentCycles, protocol.CycleInfo{
			TagsFile:   c.TagsFile,
			Sources:    c.Sources,
			Outcome:    c.Outcome,
			Detail:     c.Detail,
			DurationMS: c.Duration.Milliseconds(),
			StartedAt:  c.StartedAt,
		})
	}
	return res, nil
}

func unmarshalParams(req *jsonrpc2.Request, v interface{}) error {
	if req.Params == nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "missing params"}
	}
	if err := json.Unmarshal(*req.Params, v); err != nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
	}
	return nil
}
