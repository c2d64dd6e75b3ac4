// Package device exposes remote pump control and link status over gRPC.
//
// The service uses protobuf well-known types only, so it is registered with a
// hand-written service descriptor instead of generated stubs.
package device

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/LeonardoBeccarini/farmtech/internal/services/link"
	"github.com/LeonardoBeccarini/farmtech/pkg/telemetry"
)

const (
	ServiceName = "farmtech.DeviceService"

	methodSetPump    = "/" + ServiceName + "/SetPump"
	methodLinkStatus = "/" + ServiceName + "/LinkStatus"

	SourceGRPC = "grpc"
)

// PumpController applies an operator command (implemented by the controller).
type PumpController interface {
	ManualPump(ctx context.Context, on bool, source string) error
}

// LinkStatus reports the supervisor state.
type LinkStatus interface {
	Snapshot() link.Snapshot
}

type DeviceServiceServer interface {
	SetPump(ctx context.Context, req *wrapperspb.BoolValue) (*wrapperspb.StringValue, error)
	LinkStatus(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
}

func RegisterDeviceServiceServer(s grpc.ServiceRegistrar, srv DeviceServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DeviceServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SetPump", Handler: setPumpHandler},
		{MethodName: "LinkStatus", Handler: linkStatusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "farmtech/device.proto",
}

func setPumpHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BoolValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DeviceServiceServer).SetPump(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodSetPump}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DeviceServiceServer).SetPump(ctx, req.(*wrapperspb.BoolValue))
	}
	return interceptor(ctx, in, info, handler)
}

func linkStatusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DeviceServiceServer).LinkStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodLinkStatus}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DeviceServiceServer).LinkStatus(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// GrpcHandler implementa DeviceService sopra il controller e il supervisor.
type GrpcHandler struct {
	pump    PumpController
	link    LinkStatus
	timeout time.Duration
}

func NewGrpcHandler(pump PumpController, l LinkStatus) *GrpcHandler {
	return &GrpcHandler{pump: pump, link: l, timeout: 5 * time.Second}
}

func (h *GrpcHandler) SetPump(ctx context.Context, req *wrapperspb.BoolValue) (*wrapperspb.StringValue, error) {
	if h.pump == nil {
		return nil, status.Error(codes.Unimplemented, "pump control not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	on := req.GetValue()
	if err := h.pump.ManualPump(ctx, on, SourceGRPC); err != nil {
		log.Printf("device: SetPump(%v): %v", on, err)
		return nil, toStatus(err)
	}
	return wrapperspb.String(fmt.Sprintf("%s sent", telemetry.PumpCommand{TurnOn: on})), nil
}

func (h *GrpcHandler) LinkStatus(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if h.link == nil {
		return nil, status.Error(codes.Unimplemented, "link not configured")
	}
	snap := h.link.Snapshot()
	fields := map[string]interface{}{
		"state":              snap.StateName,
		"port":               snap.Port,
		"reconnect_attempts": snap.Attempts,
		"error_count":        snap.Errors,
		"silence_s":          snap.Silence.Seconds(),
	}
	if !snap.LastActivity.IsZero() {
		fields["last_activity"] = snap.LastActivity.UTC().Format(time.RFC3339Nano)
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return st, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, link.ErrNotConnected):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// Client is the caller side, used by the CLI.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

func (c *Client) SetPump(ctx context.Context, on bool, opts ...grpc.CallOption) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, methodSetPump, wrapperspb.Bool(on), out, opts...); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

func (c *Client) LinkStatus(ctx context.Context, opts ...grpc.CallOption) (map[string]interface{}, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodLinkStatus, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}
