package handler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/billing/internal/core/domain"
	"github.com/rl1809/billing/internal/core/service"
	"github.com/rl1809/billing/internal/metrics"
)

const billingServiceName = "billing.v1.BillingService"

type AddItemRequest struct {
	BillID         int64  `json:"billId"`
	ProductID      string `json:"productId"`
	Quantity       int32  `json:"quantity"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

type UpdateItemQuantityRequest struct {
	ItemID   int64 `json:"itemId"`
	Quantity int32 `json:"quantity"`
}

type RemoveItemRequest struct {
	ItemID int64 `json:"itemId"`
}

type RemoveItemResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type GetFullBillRequest struct {
	BillID int64 `json:"billId"`
}

// BillingServer is the server API of billing.v1.BillingService.
type BillingServer interface {
	AddItem(context.Context, *AddItemRequest) (*domain.LineItem, error)
	UpdateItemQuantity(context.Context, *UpdateItemQuantityRequest) (*domain.LineItem, error)
	RemoveItem(context.Context, *RemoveItemRequest) (*RemoveItemResponse, error)
	GetFullBill(context.Context, *GetFullBillRequest) (*domain.FullBill, error)
}

type GRPCHandler struct {
	billing *service.BillingService
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewGRPCHandler(billing *service.BillingService, log *zap.Logger, m *metrics.Metrics) *GRPCHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &GRPCHandler{billing: billing, log: log, metrics: m}
}

func (h *GRPCHandler) AddItem(ctx context.Context, req *AddItemRequest) (*domain.LineItem, error) {
	item, err := h.billing.AddItem(ctx, service.AddItemRequest{
		BillID:         req.BillID,
		ProductID:      req.ProductID,
		Quantity:       int(req.Quantity),
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, h.statusError(err)
	}
	return item, nil
}

func (h *GRPCHandler) UpdateItemQuantity(ctx context.Context, req *UpdateItemQuantityRequest) (*domain.LineItem, error) {
	item, err := h.billing.UpdateItemQuantity(ctx, req.ItemID, int(req.Quantity))
	if err != nil {
		return nil, h.statusError(err)
	}
	return item, nil
}

func (h *GRPCHandler) RemoveItem(ctx context.Context, req *RemoveItemRequest) (*RemoveItemResponse, error) {
	if err := h.billing.RemoveItem(ctx, req.ItemID); err != nil {
		return nil, h.statusError(err)
	}
	return &RemoveItemResponse{Success: true, Message: "line item removed"}, nil
}

func (h *GRPCHandler) GetFullBill(ctx context.Context, req *GetFullBillRequest) (*domain.FullBill, error) {
	bill, err := h.billing.GetFullBill(ctx, req.BillID)
	if err != nil {
		return nil, h.statusError(err)
	}
	return bill, nil
}

// UnaryInterceptor records latency per method.
func (h *GRPCHandler) UnaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	h.metrics.ObserveRequest("grpc", info.FullMethod, time.Since(start).Seconds())
	return resp, err
}

func (h *GRPCHandler) statusError(err error) error {
	code := grpcCode(err)
	if code == codes.Internal {
		h.log.Error("grpc_request_failed", zap.Error(err))
		return status.Error(code, "internal error")
	}
	return status.Error(code, err.Error())
}

func grpcCode(err error) codes.Code {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return codes.InvalidArgument
	case errors.Is(err, domain.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, domain.ErrInsufficientStock):
		return codes.FailedPrecondition
	case errors.Is(err, domain.ErrDuplicateRequest):
		return codes.AlreadyExists
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

// RegisterBillingServer registers srv on s. The server must be created with
// grpc.ForceServerCodec(JSONCodec{}).
func RegisterBillingServer(s grpc.ServiceRegistrar, srv BillingServer) {
	s.RegisterService(&billingServiceDesc, srv)
}

var billingServiceDesc = grpc.ServiceDesc{
	ServiceName: billingServiceName,
	HandlerType: (*BillingServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "AddItem", Handler: addItemHandler},
		{MethodName: "UpdateItemQuantity", Handler: updateItemQuantityHandler},
		{MethodName: "RemoveItem", Handler: removeItemHandler},
		{MethodName: "GetFullBill", Handler: getFullBillHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "billing/v1/billing.json",
}

func addItemHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AddItemRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BillingServer).AddItem(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + billingServiceName + "/AddItem"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BillingServer).AddItem(ctx, req.(*AddItemRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func updateItemQuantityHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(UpdateItemQuantityRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BillingServer).UpdateItemQuantity(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + billingServiceName + "/UpdateItemQuantity"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BillingServer).UpdateItemQuantity(ctx, req.(*UpdateItemQuantityRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func removeItemHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RemoveItemRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BillingServer).RemoveItem(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + billingServiceName + "/RemoveItem"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BillingServer).RemoveItem(ctx, req.(*RemoveItemRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getFullBillHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetFullBillRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BillingServer).GetFullBill(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + billingServiceName + "/GetFullBill"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BillingServer).GetFullBill(ctx, req.(*GetFullBillRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// BillingClient calls billing.v1.BillingService over a connection that uses
// JSONCodec.
type BillingClient struct {
	cc grpc.ClientConnInterface
}

func NewBillingClient(cc grpc.ClientConnInterface) *BillingClient {
	return &BillingClient{cc: cc}
}

func (c *BillingClient) AddItem(ctx context.Context, in *AddItemRequest, opts ...grpc.CallOption) (*domain.LineItem, error) {
	out := new(domain.LineItem)
	if err := c.invoke(ctx, "AddItem", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BillingClient) UpdateItemQuantity(ctx context.Context, in *UpdateItemQuantityRequest, opts ...grpc.CallOption) (*domain.LineItem, error) {
	out := new(domain.LineItem)
	if err := c.invoke(ctx, "UpdateItemQuantity", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BillingClient) RemoveItem(ctx context.Context, in *RemoveItemRequest, opts ...grpc.CallOption) (*RemoveItemResponse, error) {
	out := new(RemoveItemResponse)
	if err := c.invoke(ctx, "RemoveItem", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BillingClient) GetFullBill(ctx context.Context, in *GetFullBillRequest, opts ...grpc.CallOption) (*domain.FullBill, error) {
	out := new(domain.FullBill)
	if err := c.invoke(ctx, "GetFullBill", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BillingClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.ForceCodec(JSONCodec{})}, opts...)
	return c.cc.Invoke(ctx, "/"+billingServiceName+"/"+method, in, out, opts...)
}
