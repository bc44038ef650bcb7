package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventTypePaymentSucceeded     = "payment.succeeded"
	EventTypePaymentFailed        = "payment.failed"
	EventTypeFulfillmentCompleted = "fulfillment.completed"
	EventTypeFulfillmentFailed    = "fulfillment.unfulfillable"
	EventTypeSMSTopupPaid         = "sms.topup.paid"
)

// AllTypes lists every event type the billing core publishes.
var AllTypes = []string{
	EventTypePaymentSucceeded,
	EventTypePaymentFailed,
	EventTypeFulfillmentCompleted,
	EventTypeFulfillmentFailed,
	EventTypeSMSTopupPaid,
}

func newBase(eventType string, data map[string]interface{}) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

type PaymentSucceededEvent struct {
	BaseEvent
	PaymentID         string          `json:"payment_id"`
	ProviderReference string          `json:"provider_reference"`
	Purpose           string          `json:"purpose"`
	VendorID          string          `json:"vendor_id"`
	Amount            decimal.Decimal `json:"amount"`
}

func NewPaymentSucceededEvent(paymentID, reference, purpose, vendorID string, amount decimal.Decimal) *PaymentSucceededEvent {
	return &PaymentSucceededEvent{
		BaseEvent: newBase(EventTypePaymentSucceeded, map[string]interface{}{
			"payment_id":         paymentID,
			"provider_reference": reference,
			"purpose":            purpose,
			"vendor_id":          vendorID,
			"amount":             amount.StringFixed(2),
		}),
		PaymentID:         paymentID,
		ProviderReference: reference,
		Purpose:           purpose,
		VendorID:          vendorID,
		Amount:            amount,
	}
}

type PaymentFailedEvent struct {
	BaseEvent
	PaymentID         string `json:"payment_id"`
	ProviderReference string `json:"provider_reference"`
	Purpose           string `json:"purpose"`
	VendorID          string `json:"vendor_id"`
	FailureReason     string `json:"failure_reason"`
}

func NewPaymentFailedEvent(paymentID, reference, purpose, vendorID, reason string) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseEvent: newBase(EventTypePaymentFailed, map[string]interface{}{
			"payment_id":         paymentID,
			"provider_reference": reference,
			"purpose":            purpose,
			"vendor_id":          vendorID,
			"failure_reason":     reason,
		}),
		PaymentID:         paymentID,
		ProviderReference: reference,
		Purpose:           purpose,
		VendorID:          vendorID,
		FailureReason:     reason,
	}
}

type FulfillmentCompletedEvent struct {
	BaseEvent
	PaymentID      string          `json:"payment_id"`
	Purpose        string          `json:"purpose"`
	VendorID       string          `json:"vendor_id"`
	VoucherID      *int64          `json:"voucher_id,omitempty"`
	PlatformAmount decimal.Decimal `json:"platform_amount"`
	VendorAmount   decimal.Decimal `json:"vendor_amount"`
}

func NewFulfillmentCompletedEvent(paymentID, purpose, vendorID string, voucherID *int64, platform, vendor decimal.Decimal) *FulfillmentCompletedEvent {
	data := map[string]interface{}{
		"payment_id":      paymentID,
		"purpose":         purpose,
		"vendor_id":       vendorID,
		"platform_amount": platform.StringFixed(2),
		"vendor_amount":   vendor.StringFixed(2),
	}
	if voucherID != nil {
		data["voucher_id"] = *voucherID
	}
	return &FulfillmentCompletedEvent{
		BaseEvent:      newBase(EventTypeFulfillmentCompleted, data),
		PaymentID:      paymentID,
		Purpose:        purpose,
		VendorID:       vendorID,
		VoucherID:      voucherID,
		PlatformAmount: platform,
		VendorAmount:   vendor,
	}
}

// FulfillmentFailedEvent reports a paid payment that will never be fulfilled
// and needs a refund or a manual voucher.
type FulfillmentFailedEvent struct {
	BaseEvent
	PaymentID string          `json:"payment_id"`
	Purpose   string          `json:"purpose"`
	VendorID  string          `json:"vendor_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
}

func NewFulfillmentFailedEvent(paymentID, purpose, vendorID string, amount decimal.Decimal, reason string) *FulfillmentFailedEvent {
	return &FulfillmentFailedEvent{
		BaseEvent: newBase(EventTypeFulfillmentFailed, map[string]interface{}{
			"payment_id": paymentID,
			"purpose":    purpose,
			"vendor_id":  vendorID,
			"amount":     amount.StringFixed(2),
			"reason":     reason,
		}),
		PaymentID: paymentID,
		Purpose:   purpose,
		VendorID:  vendorID,
		Amount:    amount,
		Reason:    reason,
	}
}

// SMSTopupPaidEvent asks the SMS collaborator to credit message units.
type SMSTopupPaidEvent struct {
	BaseEvent
	PaymentID string          `json:"payment_id"`
	VendorID  string          `json:"vendor_id"`
	Amount    decimal.Decimal `json:"amount"`
}

func NewSMSTopupPaidEvent(paymentID, vendorID string, amount decimal.Decimal) *SMSTopupPaidEvent {
	return &SMSTopupPaidEvent{
		BaseEvent: newBase(EventTypeSMSTopupPaid, map[string]interface{}{
			"payment_id": paymentID,
			"vendor_id":  vendorID,
			"amount":     amount.StringFixed(2),
		}),
		PaymentID: paymentID,
		VendorID:  vendorID,
		Amount:    amount,
	}
}
