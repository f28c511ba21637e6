package grpcapi

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/intake/internal/domain"
	"github.com/vladislavdragonenkov/intake/internal/service/conversation"
	"github.com/vladislavdragonenkov/intake/internal/transport"
)

// Server реализует ChatService и OrderService поверх движка и оркестратора.
type Server struct {
	chat   transport.Conversation
	orders transport.OrderManager
	reader transport.OrderReader
	logger *log.Entry
}

// Option настраивает Server.
type Option func(*Server)

// WithLogger задаёт логгер сервера.
func WithLogger(logger *log.Entry) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithOrders включает OrderService.
func WithOrders(orders transport.OrderManager, reader transport.OrderReader) Option {
	return func(s *Server) {
		s.orders = orders
		s.reader = reader
	}
}

// NewServer конструирует gRPC-обработчики.
func NewServer(chat transport.Conversation, opts ...Option) *Server {
	s := &Server{
		chat:   chat,
		logger: log.WithField("component", "grpc-api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register регистрирует сервисы на grpc-сервере. OrderService
// регистрируется, только если передан оркестратор.
func (s *Server) Register(registrar grpc.ServiceRegistrar) {
	registrar.RegisterService(&ChatServiceDesc, s)
	if s.orders != nil {
		registrar.RegisterService(&OrderServiceDesc, s)
	}
}

func (s *Server) Converse(ctx context.Context, req *transport.ConverseRequest) (*transport.ChatReply, error) {
	if strings.TrimSpace(req.Utterance) == "" {
		return nil, s.toStatus(MethodConverse, transport.ErrEmptyUtterance)
	}
	reply, err := s.chat.Converse(ctx, conversation.Turn{
		SessionID: req.SessionID,
		Utterance: req.Utterance,
		Model:     req.Model,
	})
	if err != nil {
		return nil, s.toStatus(MethodConverse, err)
	}
	out := transport.FromReply(reply)
	return &out, nil
}

func (s *Server) Cancel(ctx context.Context, req *transport.SessionRequest) (*transport.ChatReply, error) {
	reply, err := s.chat.Cancel(ctx, req.SessionID)
	if err != nil {
		return nil, s.toStatus(MethodCancel, err)
	}
	out := transport.FromReply(reply)
	return &out, nil
}

func (s *Server) GetOrder(ctx context.Context, req *transport.OrderRequest) (*transport.OrderView, error) {
	view, err := s.reader.Get(ctx, req.OrderID)
	if err != nil {
		return nil, s.toStatus(MethodGetOrder, err)
	}
	return &view, nil
}

func (s *Server) CancelOrder(ctx context.Context, req *transport.OrderRequest) (*transport.Empty, error) {
	if req.OrderID == "" {
		return nil, s.toStatus(MethodCancelOrder, transport.ErrOrderIDRequired)
	}
	if err := s.orders.CancelOrder(ctx, req.OrderID, req.Reason); err != nil {
		return nil, s.toStatus(MethodCancelOrder, err)
	}
	return &transport.Empty{}, nil
}

func (s *Server) AdvanceOrder(ctx context.Context, req *transport.OrderRequest) (*transport.Empty, error) {
	if req.OrderID == "" {
		return nil, s.toStatus(MethodAdvanceOrder, transport.ErrOrderIDRequired)
	}
	if err := s.orders.AdvanceOrder(ctx, req.OrderID, domain.OrderStatus(req.Status)); err != nil {
		return nil, s.toStatus(MethodAdvanceOrder, err)
	}
	return &transport.Empty{}, nil
}

func (s *Server) AcceptQuote(ctx context.Context, req *transport.QuoteRequest) (*transport.OrderResultReply, error) {
	if req.QuoteID == "" {
		return nil, s.toStatus(MethodAcceptQuote, transport.ErrQuoteIDRequired)
	}
	result, err := s.orders.AcceptQuote(ctx, req.QuoteID)
	if err != nil {
		return nil, s.toStatus(MethodAcceptQuote, err)
	}
	return &transport.OrderResultReply{Result: result}, nil
}

func (s *Server) RejectQuote(ctx context.Context, req *transport.QuoteRequest) (*transport.Empty, error) {
	if req.QuoteID == "" {
		return nil, s.toStatus(MethodRejectQuote, transport.ErrQuoteIDRequired)
	}
	if err := s.orders.RejectQuote(ctx, req.QuoteID, req.Reason); err != nil {
		return nil, s.toStatus(MethodRejectQuote, err)
	}
	return &transport.Empty{}, nil
}

// toStatus переводит доменную ошибку в gRPC-статус.
func (s *Server) toStatus(method string, err error) error {
	kind := transport.Classify(err)
	if kind == transport.KindInternal || kind == transport.KindUnavailable {
		s.logger.WithError(err).WithField("method", method).Error("grpc call failed")
	}
	return status.Error(grpcCode(kind), transport.PublicMessage(err))
}

func grpcCode(kind transport.ErrorKind) codes.Code {
	switch kind {
	case transport.KindInvalid:
		return codes.InvalidArgument
	case transport.KindNotFound:
		return codes.NotFound
	case transport.KindConflict:
		return codes.FailedPrecondition
	case transport.KindUnavailable:
		return codes.Unavailable
	case transport.KindCanceled:
		return codes.Canceled
	default:
		return codes.Internal
	}
}

var (
	_ ChatServer  = (*Server)(nil)
	_ OrderServer = (*Server)(nil)
)
