package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cxdexx/codex-passport/internal/application"
	"github.com/cxdexx/codex-passport/internal/domain"
)

// PassportInternalService is the mesh-internal surface other services call.
// Neither method consumes quota or writes to the ledger.
type PassportInternalService interface {
	GetPassport(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VerifyCredential(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type PassportInternalServer struct {
	service *application.Service
}

func NewPassportInternalServer(service *application.Service) *PassportInternalServer {
	return &PassportInternalServer{service: service}
}

func Register(server grpc.ServiceRegistrar, svc PassportInternalService) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: "cdx.passport.v1.PassportInternalService",
		HandlerType: (*PassportInternalService)(nil),
		Methods: []grpc.MethodDesc{
			{
				MethodName: "GetPassport",
				Handler:    getPassportHandler(svc),
			},
			{
				MethodName: "VerifyCredential",
				Handler:    verifyCredentialHandler(svc),
			},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "contracts/proto/passport/v1/passport_internal.proto",
	}, svc)
}

func (s *PassportInternalServer) GetPassport(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	idVal := req.GetFields()["passport_id"]
	if idVal == nil || idVal.GetStringValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "missing passport_id")
	}

	snapshot, err := s.service.GetPassport(ctx, idVal.GetStringValue())
	if err != nil {
		return nil, mapStatusError(err)
	}

	resp, err := structpb.NewStruct(map[string]any{
		"passport_id":  snapshot.PassportID,
		"tier":         string(snapshot.Tier),
		"usage_count":  snapshot.UsageCount,
		"usage_limit":  snapshot.UsageLimit,
		"remaining":    snapshot.Remaining,
		"status":       string(snapshot.Status),
		"created_at":   snapshot.CreatedAt.Unix(),
		"last_used_at": snapshot.LastUsedAt.Unix(),
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

func (s *PassportInternalServer) VerifyCredential(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	publicKey := fields["public_key"].GetStringValue()
	signature := fields["signature"].GetStringValue()
	if publicKey == "" || signature == "" {
		return nil, status.Error(codes.InvalidArgument, "missing public_key or signature")
	}

	passportID, err := s.service.VerifyCredential(ctx, publicKey, signature)
	switch {
	case errors.Is(err, domain.ErrInvalidSignature):
		passportID = ""
	case err != nil:
		return nil, mapStatusError(err)
	}

	resp, buildErr := structpb.NewStruct(map[string]any{
		"valid":       err == nil,
		"passport_id": passportID,
	})
	if buildErr != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", buildErr)
	}
	return resp, nil
}

func mapStatusError(err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrMalformedCredential):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, "passport not found")
	case errors.Is(err, domain.ErrLedgerUnavailable):
		return status.Error(codes.Unavailable, "passport ledger unavailable")
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

func getPassportHandler(svc PassportInternalService) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := &structpb.Struct{}
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return svc.GetPassport(ctx, req)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/cdx.passport.v1.PassportInternalService/GetPassport",
		}
		handler := func(ctx context.Context, req any) (any, error) {
			typed, ok := req.(*structpb.Struct)
			if !ok {
				return nil, status.Error(codes.InvalidArgument, "invalid request type")
			}
			return svc.GetPassport(ctx, typed)
		}
		return interceptor(ctx, req, info, handler)
	}
}

func verifyCredentialHandler(svc PassportInternalService) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := &structpb.Struct{}
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return svc.VerifyCredential(ctx, req)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/cdx.passport.v1.PassportInternalService/VerifyCredential",
		}
		handler := func(ctx context.Context, req any) (any, error) {
			typed, ok := req.(*structpb.Struct)
			if !ok {
				return nil, status.Error(codes.InvalidArgument, "invalid request type")
			}
			return svc.VerifyCredential(ctx, typed)
		}
		return interceptor(ctx, req, info, handler)
	}
}
