package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"github.com/google/uuid"

	"sdstore/internal/daemon"
	"sdstore/internal/logging"
	"sdstore/internal/scheduler"
)

// ServiceName is the JSON-RPC service the client calls methods on.
const ServiceName = "Sdstore"

// Server accepts client connections on a Unix domain socket.
type Server struct {
	path     string
	daemon   *daemon.Daemon
	logger   *slog.Logger
	listener net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:     path,
		daemon:   d,
		logger:   logger.With(logging.String("component", "ipc")),
		listener: listener,
		ctx:      serverCtx,
		cancel:   cancel,
	}, nil
}

// Serve starts accepting connections until the context is canceled. Each
// connection gets its own service instance so the daemon knows which jobs the
// connection owns when it goes away.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed", logging.Error(err))
				continue
			}
			s.wg.Add(1)
			go s.serveConn(conn)
		}
	}()
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()

	owner := uuid.NewString()
	svc := &service{daemon: s.daemon, logger: s.logger, ctx: s.ctx, owner: owner}
	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName(ServiceName, svc); err != nil {
		s.logger.Warn("register rpc service", logging.Error(err))
		_ = conn.Close()
		return
	}

	rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))

	// The connection is gone. Jobs it submitted and never saw finish are
	// implicitly cancelled.
	s.daemon.ReleaseClient(s.ctx, owner)
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
	owner  string
}

// Submit validates and enqueues a job. Rejections come back in the response
// body, not as RPC errors, so the client can tell them apart.
func (s *service) Submit(req SubmitRequest, resp *SubmitResponse) error {
	record, err := s.daemon.Submit(s.ctx, scheduler.SubmitRequest{
		Priority:   req.Priority,
		InputPath:  req.InputPath,
		OutputPath: req.OutputPath,
		Pipeline:   req.Pipeline,
		Owner:      s.owner,
	})
	if err != nil {
		reason := rejectReason(err)
		if reason == "" {
			return err
		}
		resp.Accepted = false
		resp.RejectReason = reason
		resp.RejectDetail = err.Error()
		s.logger.Info("submission rejected",
			logging.String("reason", reason),
			logging.String("input", req.InputPath))
		return nil
	}
	resp.Accepted = true
	resp.JobID = record.ID
	return nil
}

// Await blocks until the job reaches a terminal state. On a submit
// connection this runs after Submit, so the Accepted reply always precedes
// the terminal one.
func (s *service) Await(req AwaitRequest, resp *AwaitResponse) error {
	terminal, err := s.daemon.Await(s.ctx, req.JobID)
	if err != nil {
		return err
	}
	resp.State = string(terminal.State)
	resp.ErrorMessage = terminal.ErrorMessage
	resp.BytesIn = terminal.BytesIn
	resp.BytesOut = terminal.BytesOut
	return nil
}

// Status returns one snapshot of every active job plus ledger usage.
func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	snapshot := s.daemon.Status()
	resp.Jobs = make([]JobStatus, 0, len(snapshot.Jobs))
	for _, job := range snapshot.Jobs {
		resp.Jobs = append(resp.Jobs, JobStatus{
			ID:         job.ID,
			Priority:   job.Priority,
			InputPath:  job.InputPath,
			OutputPath: job.OutputPath,
			Pipeline:   job.Pipeline,
			State:      string(job.State),
		})
	}
	resp.Filters = make([]FilterUsage, 0, len(snapshot.Filters))
	for _, usage := range snapshot.Filters {
		resp.Filters = append(resp.Filters, FilterUsage{
			Kind:    string(usage.Kind),
			Running: usage.Running,
			Max:     usage.Max,
		})
	}
	return nil
}

// Cancel cancels a job by id.
func (s *service) Cancel(req CancelRequest, resp *CancelResponse) error {
	result, err := s.daemon.Cancel(s.ctx, req.JobID)
	if err != nil {
		return err
	}
	switch result {
	case scheduler.CancelledPending:
		resp.Result = CancelResultPending
	case scheduler.CancelSignalled:
		resp.Result = CancelResultSignalled
	default:
		resp.Result = CancelResultNotCancellable
	}
	return nil
}

// Shutdown begins an orderly daemon shutdown. The drain happens in the
// background so the acknowledgement reaches the client first.
func (s *service) Shutdown(_ ShutdownRequest, resp *ShutdownResponse) error {
	s.logger.Info("shutdown requested via IPC")
	go func() {
		if err := s.daemon.Shutdown(context.Background()); err != nil {
			s.logger.Error("shutdown failed", logging.Error(err))
		}
	}()
	resp.Stopping = true
	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, scheduler.ErrUnknownFilter):
		return RejectUnknownFilter
	case errors.Is(err, scheduler.ErrEmptyPipeline):
		return RejectEmptyPipeline
	case errors.Is(err, scheduler.ErrInfeasibleDemand):
		return RejectInfeasibleDemand
	case errors.Is(err, scheduler.ErrInvalidPriority):
		return RejectInvalidPriority
	case errors.Is(err, scheduler.ErrInputUnreadable):
		return RejectInputUnreadable
	case errors.Is(err, scheduler.ErrSamePaths):
		return RejectSamePaths
	case errors.Is(err, scheduler.ErrShuttingDown):
		return RejectShuttingDown
	default:
		return ""
	}
}
