// Package grpc serves workflow runs over gRPC.
//
// The service has a single unary method, answerflow.v1.WorkflowService/Execute.
// Request and response are google.protobuf.Struct messages, so no generated
// stubs are needed on either side:
//
//	request:  {"question": "...", "file_ref": "..."}
//	response: the run record as rendered by Envelope.ToResultDict
package grpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jeeves-cluster-organization/answerflow/coreengine/envelope"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/logging"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/runtime"
	"github.com/jeeves-cluster-organization/answerflow/coreengine/typeutil"
)

// Logger is the structured logger used by the server.
type Logger = logging.Logger

// Service and method names.
const (
	ServiceName   = "answerflow.v1.WorkflowService"
	ExecuteMethod = "/" + ServiceName + "/Execute"
)

// WorkflowServiceServer is the server API for WorkflowService.
type WorkflowServiceServer interface {
	Execute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// WorkflowServiceDesc describes WorkflowService for grpc.Server.RegisterService.
var WorkflowServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*WorkflowServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Execute", Handler: executeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "answerflow/v1/workflow.proto",
}

func executeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkflowServiceServer).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ExecuteMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WorkflowServiceServer).Execute(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterWorkflowServiceServer registers srv on s.
func RegisterWorkflowServiceServer(s grpc.ServiceRegistrar, srv WorkflowServiceServer) {
	s.RegisterService(&WorkflowServiceDesc, srv)
}

// =============================================================================
// SERVER
// =============================================================================

// WorkflowServer implements WorkflowServiceServer on top of a runtime.Runner.
// Thread-safe: the runner may be swapped while requests are in flight.
type WorkflowServer struct {
	logger   Logger
	runner   *runtime.Runner
	runnerMu sync.RWMutex
}

// NewWorkflowServer creates a server. A runner must be set before Execute
// can succeed.
func NewWorkflowServer(logger Logger) *WorkflowServer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &WorkflowServer{logger: logger}
}

// SetRunner sets the runner used for new requests.
func (s *WorkflowServer) SetRunner(r *runtime.Runner) {
	s.runnerMu.Lock()
	defer s.runnerMu.Unlock()
	s.runner = r
}

func (s *WorkflowServer) getRunner() *runtime.Runner {
	s.runnerMu.RLock()
	defer s.runnerMu.RUnlock()
	return s.runner
}

// Execute runs one question to completion. A run that fails inside a unit is
// still answered with its record (terminal_reason "failed", error and
// failing_component set); only input, configuration and cancellation
// problems surface as gRPC errors.
func (s *WorkflowServer) Execute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	question, fileRef, err := parseExecuteRequest(req)
	if err != nil {
		return nil, err
	}

	rn := s.getRunner()
	if rn == nil {
		return nil, FailedPrecondition("workflow service", "unconfigured", "execute")
	}

	result, err := rn.Execute(ctx, question, fileRef)
	if result == nil {
		return nil, toStatus(err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, toStatus(ctxErr)
	}
	if err != nil {
		s.logger.Warn("grpc_run_failed",
			"run_id", result.State.RunID,
			"error", err.Error(),
		)
	}

	resp, convErr := structpb.NewStruct(result.State.ToResultDict())
	if convErr != nil {
		return nil, Internal("encode result", convErr)
	}
	return resp, nil
}

func parseExecuteRequest(req *structpb.Struct) (string, string, error) {
	fields := req.GetFields()
	question := fields["question"].GetStringValue()
	if err := validateRequired(question, "question"); err != nil {
		return "", "", err
	}
	return question, fields["file_ref"].GetStringValue(), nil
}

// =============================================================================
// CLIENT
// =============================================================================

// WorkflowClient calls WorkflowService.
type WorkflowClient struct {
	cc grpc.ClientConnInterface
}

// NewWorkflowClient wraps a connection.
func NewWorkflowClient(cc grpc.ClientConnInterface) *WorkflowClient {
	return &WorkflowClient{cc: cc}
}

// Execute asks one question and returns the run record. Records written by
// an incompatible schema version are rejected with *envelope.VersionError.
func (c *WorkflowClient) Execute(ctx context.Context, question, fileRef string, opts ...grpc.CallOption) (map[string]any, error) {
	in, err := structpb.NewStruct(map[string]any{"question": question, "file_ref": fileRef})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ExecuteMethod, in, out, opts...); err != nil {
		return nil, err
	}
	record := out.AsMap()
	version, _ := typeutil.SafeString(record["schema_version"])
	if err := envelope.CheckSchemaVersion(version); err != nil {
		return nil, err
	}
	return record, nil
}

// =============================================================================
// GRACEFUL SERVER
// =============================================================================

// GracefulServer wraps a gRPC server with graceful shutdown support.
type GracefulServer struct {
	grpcServer *grpc.Server
	logger     Logger
	address    string
	shutdownMu sync.Mutex
	isShutdown bool
}

// NewGracefulServer creates a server with WorkflowService registered. With no
// options the standard interceptors and stats handler are installed.
func NewGracefulServer(workflow *WorkflowServer, address string, opts ...grpc.ServerOption) *GracefulServer {
	if len(opts) == 0 {
		opts = ServerOptions(workflow.logger)
	}
	grpcServer := grpc.NewServer(opts...)
	RegisterWorkflowServiceServer(grpcServer, workflow)

	return &GracefulServer{
		grpcServer: grpcServer,
		logger:     workflow.logger,
		address:    address,
	}
}

// Start listens on the configured address and serves until ctx is cancelled,
// then stops gracefully.
func (s *GracefulServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled or the server fails.
func (s *GracefulServer) Serve(ctx context.Context, lis net.Listener) error {
	s.logger.Info("grpc_server_started", "address", lis.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.grpcServer.Serve(lis)
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("grpc_graceful_shutdown_initiated", "reason", ctx.Err().Error())
		s.GracefulStop()
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}

// GracefulStop stops accepting connections and waits for in-flight runs.
func (s *GracefulServer) GracefulStop() {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()

	if s.isShutdown {
		return
	}
	s.isShutdown = true

	s.logger.Info("grpc_graceful_stop_started")
	s.grpcServer.GracefulStop()
	s.logger.Info("grpc_graceful_stop_completed")
}

// ShutdownWithTimeout stops gracefully, forcing an immediate stop once
// timeout elapses.
func (s *GracefulServer) ShutdownWithTimeout(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("grpc_graceful_shutdown_timeout", "timeout_ms", timeout.Milliseconds())
		s.grpcServer.Stop()
		<-done
	}
}

// Address returns the configured listen address.
func (s *GracefulServer) Address() string {
	return s.address
}
