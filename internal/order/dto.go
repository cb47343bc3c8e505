package order

import (
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/storefront/internal/model"
)

// CreateRequest - тело запроса на оформление заказа.
type CreateRequest struct {
	Items        []ItemInput   `json:"items" validate:"required,min=1,max=100,dive"`
	Shipping     ShippingInput `json:"shipping" validate:"required"`
	Guest        *GuestInput   `json:"guest,omitempty"`
	Payment      *PaymentInput `json:"payment,omitempty"`
	UserCouponID *uuid.UUID    `json:"userCouponId,omitempty"`
	PointsToUse  int64         `json:"pointsToUse" validate:"gte=0,lte=1000000000"`
	ShippingFee  int64         `json:"shippingFee" validate:"gte=0,lte=1000000000"`
	Tax          int64         `json:"tax" validate:"gte=0,lte=1000000000"`
	Notes        string        `json:"notes" validate:"max=1000"`
}

// ItemInput - позиция заказа в запросе.
type ItemInput struct {
	ProductID uuid.UUID         `json:"productId" validate:"required"`
	Name      string            `json:"name" validate:"required"`
	SKU       string            `json:"sku"`
	Options   map[string]string `json:"options,omitempty"`
	Quantity  int               `json:"quantity" validate:"gt=0,lte=10000"`
	UnitPrice int64             `json:"unitPrice" validate:"gte=0,lte=1000000000"`
	Discount  int64             `json:"discount" validate:"gte=0,lte=1000000000"`
}

// ShippingInput - адрес доставки.
type ShippingInput struct {
	RecipientName string `json:"recipientName" validate:"required"`
	Phone         string `json:"phone" validate:"required"`
	Address1      string `json:"address1" validate:"required"`
	Address2      string `json:"address2"`
	PostalCode    string `json:"postalCode"`
	Memo          string `json:"memo" validate:"max=500"`
}

// GuestInput - контакты гостя.
type GuestInput struct {
	Name  string `json:"name"`
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone"`
}

// PaymentInput - ссылка на платёж в шлюзе.
type PaymentInput struct {
	Method         string `json:"method"`
	Provider       string `json:"provider"`
	TransactionID  string `json:"transactionId"`
	GatewayOrderID string `json:"gatewayOrderId"`
}

// CreateResult - созданный заказ. GuestToken возвращается один раз и только для гостевого заказа.
type CreateResult struct {
	Order      *model.Order `json:"order"`
	GuestToken string       `json:"guestToken,omitempty"`
}

// UpdateRequest - административное изменение заказа.
type UpdateRequest struct {
	Status   *model.OrderStatus `json:"status,omitempty"`
	Payment  *PaymentPatch      `json:"payment,omitempty"`
	Shipping *ShippingPatch     `json:"shipping,omitempty"`
	Summary  *SummaryPatch      `json:"summary,omitempty"`
	Notes    *string            `json:"notes,omitempty"`
	// Note попадает в журнал статусов.
	Note string `json:"note" validate:"max=500"`
}

// PaymentPatch - изменение данных оплаты.
type PaymentPatch struct {
	Status        *model.PaymentStatus `json:"status,omitempty"`
	Method        *string              `json:"method,omitempty"`
	TransactionID *string              `json:"transactionId,omitempty"`
	Amount        *int64               `json:"amount,omitempty" validate:"omitempty,gte=0,lte=1000000000"`
	PaidAt        *time.Time           `json:"paidAt,omitempty"`
	ReceiptURL    *string              `json:"receiptUrl,omitempty"`
}

// ShippingPatch - изменение данных доставки.
type ShippingPatch struct {
	RecipientName  *string    `json:"recipientName,omitempty"`
	Phone          *string    `json:"phone,omitempty"`
	Address1       *string    `json:"address1,omitempty"`
	Address2       *string    `json:"address2,omitempty"`
	PostalCode     *string    `json:"postalCode,omitempty"`
	Memo           *string    `json:"memo,omitempty"`
	Carrier        *string    `json:"carrier,omitempty"`
	TrackingNumber *string    `json:"trackingNumber,omitempty"`
	DispatchedAt   *time.Time `json:"dispatchedAt,omitempty"`
	DeliveredAt    *time.Time `json:"deliveredAt,omitempty"`
}

// SummaryPatch - изменение доставки и налога; итог пересчитывается.
type SummaryPatch struct {
	ShippingFee *int64 `json:"shippingFee,omitempty" validate:"omitempty,gte=0,lte=1000000000"`
	Tax         *int64 `json:"tax,omitempty" validate:"omitempty,gte=0,lte=1000000000"`
}

// GuestAccess - данные, которыми гость подтверждает доступ к заказу.
type GuestAccess struct {
	Token string
	Email string
	Phone string
}
