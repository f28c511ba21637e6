package grpcapi

import (
	"context"

	"google.golang.org/grpc"

	"github.com/vladislavdragonenkov/intake/internal/transport"
)

// Client: клиент ChatService и OrderService на JSON-кодеке.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient оборачивает готовое соединение.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (c *Client) Converse(ctx context.Context, req transport.ConverseRequest) (transport.ChatReply, error) {
	var out transport.ChatReply
	err := c.invoke(ctx, MethodConverse, &req, &out)
	return out, err
}

func (c *Client) Cancel(ctx context.Context, sessionID string) (transport.ChatReply, error) {
	var out transport.ChatReply
	err := c.invoke(ctx, MethodCancel, &transport.SessionRequest{SessionID: sessionID}, &out)
	return out, err
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (transport.OrderView, error) {
	var out transport.OrderView
	err := c.invoke(ctx, MethodGetOrder, &transport.OrderRequest{OrderID: orderID}, &out)
	return out, err
}

func (c *Client) CancelOrder(ctx context.Context, orderID, reason string) error {
	return c.invoke(ctx, MethodCancelOrder, &transport.OrderRequest{OrderID: orderID, Reason: reason}, &transport.Empty{})
}

func (c *Client) AdvanceOrder(ctx context.Context, orderID, status string) error {
	return c.invoke(ctx, MethodAdvanceOrder, &transport.OrderRequest{OrderID: orderID, Status: status}, &transport.Empty{})
}

func (c *Client) AcceptQuote(ctx context.Context, quoteID string) (transport.OrderResultReply, error) {
	var out transport.OrderResultReply
	err := c.invoke(ctx, MethodAcceptQuote, &transport.QuoteRequest{QuoteID: quoteID}, &out)
	return out, err
}

func (c *Client) RejectQuote(ctx context.Context, quoteID, reason string) error {
	return c.invoke(ctx, MethodRejectQuote, &transport.QuoteRequest{QuoteID: quoteID, Reason: reason}, &transport.Empty{})
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	return c.conn.Invoke(ctx, method, req, resp, grpc.CallContentSubtype(CodecName))
}
