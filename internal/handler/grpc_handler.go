package handler

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-office-bills/internal/platform/auth"
	"github.com/pesio-ai/be-office-bills/internal/platform/errors"
	"github.com/pesio-ai/be-office-bills/internal/repository"
	"github.com/pesio-ai/be-office-bills/internal/service"
)

// ApprovalServiceName is the fully-qualified gRPC service name.
const ApprovalServiceName = "expenses.v1.ApprovalService"

// ApprovalServiceServer is the server API for the approval workflow. Messages
// are google.protobuf.Struct so internal callers need no generated stubs.
type ApprovalServiceServer interface {
	SubmitBill(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RecordDecision(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetChain(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CanAct(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func unaryMethod(name string, call func(ApprovalServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(ApprovalServiceServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ApprovalServiceName + "/" + name,
			}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(s, ctx, req.(*structpb.Struct))
			})
		},
	}
}

// ApprovalServiceDesc describes ApprovalService for grpc.Server.RegisterService.
var ApprovalServiceDesc = grpc.ServiceDesc{
	ServiceName: ApprovalServiceName,
	HandlerType: (*ApprovalServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("SubmitBill", ApprovalServiceServer.SubmitBill),
		unaryMethod("RecordDecision", ApprovalServiceServer.RecordDecision),
		unaryMethod("GetChain", ApprovalServiceServer.GetChain),
		unaryMethod("CanAct", ApprovalServiceServer.CanAct),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "expenses/v1/approval.proto",
}

// GRPCHandler implements ApprovalServiceServer
type GRPCHandler struct {
	routing *service.ApprovalRoutingService
	logger  zerolog.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(routing *service.ApprovalRoutingService, logger zerolog.Logger) *GRPCHandler {
	return &GRPCHandler{
		routing: routing,
		logger:  logger.With().Str("handler", "grpc").Logger(),
	}
}

// Register attaches the handler to s.
func (h *GRPCHandler) Register(s *grpc.Server) {
	s.RegisterService(&ApprovalServiceDesc, h)
}

// SubmitBill submits a draft bill on behalf of the caller.
// Request: {bill_id}. Response: {bill, steps}.
func (h *GRPCHandler) SubmitBill(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	billID, err := requiredString(in, "bill_id")
	if err != nil {
		return nil, err
	}
	caller, err := h.routing.CurrentIdentity(ctx)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}

	h.logger.Info().Str("bill_id", billID).Str("actor_id", caller.UserID).Msg("gRPC SubmitBill called")

	res, err := h.routing.Submit(ctx, billID, caller.UserID)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(billResponse{Bill: res.Bill, Steps: res.Steps})
}

// RecordDecision approves or rejects the caller's pending step.
// Request: {bill_id, decision, comment?, idempotency_key?}.
func (h *GRPCHandler) RecordDecision(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	billID, err := requiredString(in, "bill_id")
	if err != nil {
		return nil, err
	}
	raw, err := requiredString(in, "decision")
	if err != nil {
		return nil, err
	}
	decision, err := repository.ParseDecision(strings.ToLower(raw))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "decision must be approve or reject")
	}
	caller, err := h.routing.CurrentIdentity(ctx)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}

	h.logger.Info().
		Str("bill_id", billID).
		Str("actor_id", caller.UserID).
		Str("decision", string(decision)).
		Msg("gRPC RecordDecision called")

	res, err := h.routing.RecordDecision(ctx, service.DecisionRequest{
		BillID:         billID,
		ActorID:        caller.UserID,
		Decision:       decision,
		Comment:        strings.TrimSpace(stringField(in, "comment")),
		IdempotencyKey: stringField(in, "idempotency_key"),
	})
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(res)
}

// GetChain returns a bill's approval steps ordered by level.
func (h *GRPCHandler) GetChain(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	billID, err := requiredString(in, "bill_id")
	if err != nil {
		return nil, err
	}
	steps, err := h.routing.GetChain(ctx, billID)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(map[string]interface{}{"steps": steps})
}

// CanAct reports whether user_id (default: the caller) holds the bill's
// pending step.
func (h *GRPCHandler) CanAct(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	billID, err := requiredString(in, "bill_id")
	if err != nil {
		return nil, err
	}
	userID := stringField(in, "user_id")
	if userID == "" {
		caller, err := h.routing.CurrentIdentity(ctx)
		if err != nil {
			return nil, mapErrorToGRPC(err)
		}
		userID = caller.UserID
	}
	ok, err := h.routing.CanAct(ctx, userID, billID)
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}
	return structpb.NewStruct(map[string]interface{}{"can_act": ok})
}

// AuthInterceptor validates the bearer token in the "authorization" metadata
// and stores the caller in the context. Health and reflection are public.
func AuthInterceptor(v *auth.Verifier) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !strings.HasPrefix(info.FullMethod, "/"+ApprovalServiceName+"/") {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		values := md.Get("authorization")
		if len(values) == 0 {
			return nil, status.Error(codes.Unauthenticated, "missing authorization metadata")
		}
		token, err := auth.BearerToken(values[0])
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		uc, err := v.ParseAndValidate(token)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		return handler(auth.WithUser(ctx, uc), req)
	}
}

// mapErrorToGRPC maps application error codes to gRPC status codes. The
// domain reason, when present, prefixes the message.
func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}

	var code codes.Code
	switch errors.CodeOf(err) {
	case errors.ErrCodeInvalidInput:
		code = codes.InvalidArgument
	case errors.ErrCodeNotFound:
		code = codes.NotFound
	case errors.ErrCodeConflict:
		code = codes.Aborted
	case errors.ErrCodeUnauthorized:
		code = codes.Unauthenticated
	case errors.ErrCodeForbidden:
		code = codes.PermissionDenied
	case errors.ErrCodeFailedPrecondition:
		code = codes.FailedPrecondition
	case errors.ErrCodeUnavailable:
		code = codes.Unavailable
	default:
		return status.Error(codes.Internal, "internal error")
	}

	msg := err.Error()
	if reason := errors.ReasonOf(err); reason != "" {
		msg = reason + ": " + msg
	}
	return status.Error(code, msg)
}

func stringField(in *structpb.Struct, name string) string {
	return strings.TrimSpace(in.GetFields()[name].GetStringValue())
}

func requiredString(in *structpb.Struct, name string) (string, error) {
	v := stringField(in, name)
	if v == "" {
		return "", status.Errorf(codes.InvalidArgument, "%s is required", name)
	}
	return v, nil
}

// toStruct converts v through its JSON form so gRPC and HTTP responses share
// field names.
func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	m := map[string]interface{}{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return out, nil
}
