package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// KDSItem is one kitchen line.
type KDSItem struct {
	ItemID      int64  `json:"item_id"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
}

// KDSRequest hands the paid order to the kitchen display system.
type KDSRequest struct {
	OrderID int64     `json:"order_id"`
	KioskID string    `json:"kiosk_id"`
	Items   []KDSItem `json:"items"`
}

// KDSResponse is the kitchen acknowledgement.
type KDSResponse struct {
	Status       string     `json:"status"`
	KDSTicketID  string     `json:"kds_ticket_id,omitempty"`
	ReceivedAt   *time.Time `json:"received_at,omitempty"`
	ErrorCode    string     `json:"error_code,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// OK reports whether the kitchen accepted the order.
func (r *KDSResponse) OK() bool { return r.Status == StatusOK }

// KDSHTTP talks to a real kitchen display system over HTTP.
type KDSHTTP struct {
	client *client
}

var _ KDS = (*KDSHTTP)(nil)

func NewKDSHTTP(baseURL string, timeout time.Duration, logger *slog.Logger) *KDSHTTP {
	return &KDSHTTP{client: newClient(baseURL, timeout, logger.WithGroup("kds"))}
}

func (g *KDSHTTP) Dispatch(ctx context.Context, req KDSRequest) (*KDSResponse, error) {
	var resp KDSResponse
	if err := g.client.post(ctx, "/kds/orders", req, &resp); err != nil {
		_, code, message := failure(err)
		return &KDSResponse{Status: StatusNotOK, ErrorCode: code, ErrorMessage: message}, nil
	}
	return &resp, nil
}

// KDSMockup simulates the kitchen display system.
type KDSMockup struct {
	mock   mock
	logger *slog.Logger
}

var _ KDS = (*KDSMockup)(nil)

func NewKDSMockup(successProbability float64, delay time.Duration, logger *slog.Logger) *KDSMockup {
	return &KDSMockup{
		mock:   mock{probability: successProbability, delay: delay},
		logger: logger.WithGroup("kds_mockup"),
	}
}

func (g *KDSMockup) Dispatch(ctx context.Context, req KDSRequest) (*KDSResponse, error) {
	ok, timedOut := g.mock.simulate(ctx)
	if timedOut {
		return &KDSResponse{Status: StatusNotOK, ErrorCode: "TIMEOUT", ErrorMessage: "kds mockup timed out"}, nil
	}
	if !ok {
		g.logger.Debug("simulated kds rejection", "order_id", req.OrderID)
		return &KDSResponse{
			Status:       StatusNotOK,
			ErrorCode:    "KDS_UNREACHABLE",
			ErrorMessage: "simulated kitchen display failure",
		}, nil
	}
	now := time.Now().UTC()
	return &KDSResponse{
		Status:      StatusOK,
		KDSTicketID: fmt.Sprintf("KDS-%d-%d", req.OrderID, now.Unix()),
		ReceivedAt:  &now,
	}, nil
}
