package grpcapi

import (
	"context"

	"google.golang.org/grpc"

	"github.com/vladislavdragonenkov/intake/internal/transport"
)

const (
	chatServiceName  = "intake.v1.ChatService"
	orderServiceName = "intake.v1.OrderService"

	MethodConverse     = "/" + chatServiceName + "/Converse"
	MethodCancel       = "/" + chatServiceName + "/Cancel"
	MethodGetOrder     = "/" + orderServiceName + "/GetOrder"
	MethodCancelOrder  = "/" + orderServiceName + "/CancelOrder"
	MethodAdvanceOrder = "/" + orderServiceName + "/AdvanceOrder"
	MethodAcceptQuote  = "/" + orderServiceName + "/AcceptQuote"
	MethodRejectQuote  = "/" + orderServiceName + "/RejectQuote"
)

// ChatServer: серверная сторона intake.v1.ChatService.
type ChatServer interface {
	Converse(ctx context.Context, req *transport.ConverseRequest) (*transport.ChatReply, error)
	Cancel(ctx context.Context, req *transport.SessionRequest) (*transport.ChatReply, error)
}

// OrderServer: серверная сторона intake.v1.OrderService.
type OrderServer interface {
	GetOrder(ctx context.Context, req *transport.OrderRequest) (*transport.OrderView, error)
	CancelOrder(ctx context.Context, req *transport.OrderRequest) (*transport.Empty, error)
	AdvanceOrder(ctx context.Context, req *transport.OrderRequest) (*transport.Empty, error)
	AcceptQuote(ctx context.Context, req *transport.QuoteRequest) (*transport.OrderResultReply, error)
	RejectQuote(ctx context.Context, req *transport.QuoteRequest) (*transport.Empty, error)
}

// ChatServiceDesc описывает сервис без protoc: сообщения кодируются JSON-кодеком.
var ChatServiceDesc = grpc.ServiceDesc{
	ServiceName: chatServiceName,
	HandlerType: (*ChatServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Converse", Handler: unary(MethodConverse, ChatServer.Converse)},
		{MethodName: "Cancel", Handler: unary(MethodCancel, ChatServer.Cancel)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "intake/v1/chat",
}

var OrderServiceDesc = grpc.ServiceDesc{
	ServiceName: orderServiceName,
	HandlerType: (*OrderServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetOrder", Handler: unary(MethodGetOrder, OrderServer.GetOrder)},
		{MethodName: "CancelOrder", Handler: unary(MethodCancelOrder, OrderServer.CancelOrder)},
		{MethodName: "AdvanceOrder", Handler: unary(MethodAdvanceOrder, OrderServer.AdvanceOrder)},
		{MethodName: "AcceptQuote", Handler: unary(MethodAcceptQuote, OrderServer.AcceptQuote)},
		{MethodName: "RejectQuote", Handler: unary(MethodRejectQuote, OrderServer.RejectQuote)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "intake/v1/order",
}

// unary строит grpc.MethodHandler из метода интерфейса сервера,
// повторяя то, что генерирует protoc-gen-go-grpc.
func unary[S, Req, Resp any](fullMethod string, call func(S, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		server := srv.(S)
		if interceptor == nil {
			return call(server, ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, in any) (any, error) {
			return call(server, ctx, in.(*Req))
		}
		return interceptor(ctx, req, info, handler)
	}
}
