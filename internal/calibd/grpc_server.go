package calibd

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/GoSim-25-26J-441/calibration-core/pkg/config"
	"github.com/GoSim-25-26J-441/calibration-core/pkg/logger"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "calibration.v1.CalibrationService"

// CalibrationServiceServer is the server API of the calibration service.
// Every message is a google.protobuf.Struct; the field names match the
// HTTP API.
type CalibrationServiceServer interface {
	CreateRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StartRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StopRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRuns(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRunResult(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(CalibrationServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(CalibrationServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(CalibrationServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// CalibrationServiceDesc describes the service for grpc.Server.RegisterService
var CalibrationServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CalibrationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("CreateRun", CalibrationServiceServer.CreateRun),
		unaryMethod("StartRun", CalibrationServiceServer.StartRun),
		unaryMethod("StopRun", CalibrationServiceServer.StopRun),
		unaryMethod("GetRun", CalibrationServiceServer.GetRun),
		unaryMethod("ListRuns", CalibrationServiceServer.ListRuns),
		unaryMethod("GetRunResult", CalibrationServiceServer.GetRunResult),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "calibration/v1/calibration.proto",
}

// RegisterCalibrationServiceServer registers srv on s
func RegisterCalibrationServiceServer(s grpc.ServiceRegistrar, srv CalibrationServiceServer) {
	s.RegisterService(&CalibrationServiceDesc, srv)
}

// CalibrationGRPCServer implements CalibrationServiceServer on a RunStore.
type CalibrationGRPCServer struct {
	store    *RunStore
	Executor *RunExecutor
}

func NewCalibrationGRPCServer(store *RunStore, executor *RunExecutor) *CalibrationGRPCServer {
	return &CalibrationGRPCServer{
		store:    store,
		Executor: executor,
	}
}

func stringField(req *structpb.Struct, name string) string {
	if req == nil {
		return ""
	}
	return req.GetFields()[name].GetStringValue()
}

func numberField(req *structpb.Struct, name string) int {
	if req == nil {
		return 0
	}
	return int(req.GetFields()[name].GetNumberValue())
}

func response(data map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(data)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func runResponse(rec *RunRecord) (*structpb.Struct, error) {
	return response(map[string]any{"run": convertRunToJSON(rec.Run)})
}

func (s *CalibrationGRPCServer) CreateRun(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	yamlText := stringField(req, "config_yaml")
	if yamlText == "" {
		return nil, status.Error(codes.InvalidArgument, "config_yaml is required")
	}
	cfg, err := config.ParseConfigYAMLString(yamlText)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	rec, err := s.store.Create(stringField(req, "run_id"), cfg)
	if err != nil {
		if errors.Is(err, ErrRunExists) {
			return nil, status.Error(codes.AlreadyExists, err.Error())
		}
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if url := stringField(req, "callback_url"); url != "" {
		cb := Callback{URL: url, Secret: stringField(req, "callback_secret")}
		if err := s.store.SetCallback(rec.Run.ID, cb); err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
	}

	logger.Info("run created", "run_id", rec.Run.ID)
	return runResponse(rec)
}

func (s *CalibrationGRPCServer) StartRun(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	runID := stringField(req, "run_id")
	if runID == "" {
		return nil, status.Error(codes.InvalidArgument, "run_id is required")
	}

	updated, err := s.Executor.Start(runID)
	if err != nil {
		if errors.Is(err, ErrRunNotFound) {
			return nil, status.Error(codes.NotFound, err.Error())
		}
		if errors.Is(err, ErrRunTerminal) {
			return nil, status.Error(codes.FailedPrecondition, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}

	logger.Info("run started", "run_id", runID)
	return runResponse(updated)
}

func (s *CalibrationGRPCServer) StopRun(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	runID := stringField(req, "run_id")
	if runID == "" {
		return nil, status.Error(codes.InvalidArgument, "run_id is required")
	}

	updated, err := s.Executor.Stop(runID)
	if err != nil {
		if errors.Is(err, ErrRunNotFound) {
			return nil, status.Error(codes.NotFound, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	logger.Info("run cancelled", "run_id", runID)
	return runResponse(updated)
}

func (s *CalibrationGRPCServer) GetRun(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	runID := stringField(req, "run_id")
	if runID == "" {
		return nil, status.Error(codes.InvalidArgument, "run_id is required")
	}
	rec, ok := s.store.Get(runID)
	if !ok {
		return nil, status.Error(codes.NotFound, "run not found")
	}
	return runResponse(rec)
}

func (s *CalibrationGRPCServer) ListRuns(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var filter Status
	if raw := stringField(req, "status"); raw != "" {
		st, ok := ParseStatus(raw)
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "unknown status: %s", raw)
		}
		filter = st
	}
	offset := numberField(req, "offset")
	if offset < 0 {
		offset = 0
	}
	runs := s.store.List(clampLimit(numberField(req, "limit")), offset, filter)
	return response(map[string]any{"runs": convertRunsToJSON(runs)})
}

func (s *CalibrationGRPCServer) GetRunResult(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	runID := stringField(req, "run_id")
	if runID == "" {
		return nil, status.Error(codes.InvalidArgument, "run_id is required")
	}
	rec, ok := s.store.Get(runID)
	if !ok {
		return nil, status.Error(codes.NotFound, "run not found")
	}
	if rec.Result == nil {
		return nil, status.Error(codes.FailedPrecondition, "result not available")
	}
	return response(map[string]any{
		"run":    convertRunToJSON(rec.Run),
		"result": convertResultToJSON(rec.Result),
	})
}

// clampLimit applies the list default of 50 and the cap of 1000
func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

// CalibrationServiceClient calls a remote calibration service
type CalibrationServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewCalibrationServiceClient(cc grpc.ClientConnInterface) *CalibrationServiceClient {
	return &CalibrationServiceClient{cc: cc}
}

// Call invokes method with a request built from fields
func (c *CalibrationServiceClient) Call(ctx context.Context, method string, fields map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
