package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/frahmantamala/spotpay-billing/internal"
)

// Requester is the part of *nats.Conn the sender needs.
type Requester interface {
	RequestWithContext(ctx context.Context, subject string, data []byte) (*nats.Msg, error)
}

type natsReply struct {
	OK    bool   `json:"ok"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// NATSSender hands voucher messages to the SMS service over request/reply.
type NATSSender struct {
	conn    Requester
	subject string
	timeout time.Duration
}

func NewNATSSender(conn Requester, subject string, timeout time.Duration) *NATSSender {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &NATSSender{conn: conn, subject: subject, timeout: timeout}
}

func (s *NATSSender) SendVoucher(ctx context.Context, msg VoucherMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal voucher message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	reply, err := s.conn.RequestWithContext(ctx, s.subject, data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return fmt.Errorf("sms service unavailable: %w", err)
		}
		return fmt.Errorf("sms request: %w", err)
	}

	var out natsReply
	if err := json.Unmarshal(reply.Data, &out); err != nil {
		return fmt.Errorf("decode sms reply: %w", err)
	}
	if out.OK {
		return nil
	}
	if out.Code == string(internal.ErrCodeInsufficientUnits) {
		return internal.ErrInsufficientUnits
	}
	return fmt.Errorf("sms service rejected message: %s", out.Error)
}

// LogSender only logs. It stands in when no SMS service is configured.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) SendVoucher(ctx context.Context, msg VoucherMessage) error {
	s.logger.Info("voucher message (not sent, no sms service configured)",
		"payment_id", msg.PaymentID,
		"phone", msg.Phone,
		"package", msg.PackageName)
	return nil
}
