// Package model содержит доменные сущности сервиса предзаказов столовой.
package model

import "time"

// OrderKind описывает способ получения заказа.
type OrderKind string

const (
	OrderKindDining   OrderKind = "dining"
	OrderKindTakeaway OrderKind = "takeaway"
)

// Role описывает роль участника, выполняющего операцию.
type Role string

const (
	RoleDiner Role = "diner"
	RoleStaff Role = "staff"
)

// Actor описывает аутентифицированного участника запроса. Для сотрудника RestaurantID
// указывает ресторан, в котором он работает.
type Actor struct {
	ID           string
	Role         Role
	RestaurantID string
}

// IsStaffOf сообщает, является ли участник сотрудником указанного ресторана.
func (a Actor) IsStaffOf(restaurantID string) bool {
	return a.Role == RoleStaff && a.RestaurantID != "" && a.RestaurantID == restaurantID
}

// LineItem описывает позицию заказа. Цена фиксируется при создании черновика и
// больше никогда не перечитывается из каталога.
type LineItem struct {
	ItemID   string `json:"itemId"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
}

// Order описывает заказ на всём протяжении его жизненного цикла.
// Суммы хранятся в минимальных единицах валюты.
type Order struct {
	ID            string
	Number        int64
	DinerID       string
	RestaurantID  string
	Items         []LineItem
	Kind          OrderKind
	IsPreOrder    bool
	Slot          string
	Subtotal      int64
	ServiceCharge int64
	Total         int64
	Status        OrderStatus
	Version       int
	PaymentID     string
	IntentID      string
	OTP           string
	HasRated      bool
	CreatedAt     time.Time
	ConfirmedAt   *time.Time
	PreparingAt   *time.Time
	ReadyAt       *time.Time
	CompletedAt   *time.Time
	CancelledAt   *time.Time
}

// Slot описывает окно выдачи с ограниченным числом одновременных резервов.
type Slot struct {
	Label         string `json:"label"`
	MaxOrders     int    `json:"maxOrders"`
	CurrentOrders int    `json:"currentOrders"`
}

// HasCapacity сообщает, остались ли в слоте свободные резервы.
func (s Slot) HasCapacity() bool {
	return s.CurrentOrders < s.MaxOrders
}

// Restaurant описывает точку питания и её флаги доступности.
type Restaurant struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Availability    bool   `json:"availability"`
	PreOrderEnabled bool   `json:"preOrderEnabled"`
	Slots           []Slot `json:"slots"`
	TotalOrders     int64  `json:"totalOrders"`
	TotalRevenue    int64  `json:"totalRevenue"`
}

// FindSlot возвращает слот по метке.
func (r *Restaurant) FindSlot(label string) (Slot, bool) {
	for _, s := range r.Slots {
		if s.Label == label {
			return s, true
		}
	}
	return Slot{}, false
}

// MenuItem описывает позицию каталога в том виде, в каком её видит движок заказов.
type MenuItem struct {
	ID           string `json:"id"`
	RestaurantID string `json:"restaurantId"`
	Name         string `json:"name"`
	Price        int64  `json:"price"`
	Available    bool   `json:"available"`
	TotalOrders  int64  `json:"totalOrders"`
	TotalRevenue int64  `json:"totalRevenue"`
}

// PaymentIntent содержит дескриптор платежа, выданный платёжным шлюзом.
type PaymentIntent struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// PaymentAssertion содержит подтверждение оплаты, присланное клиентом после
// завершения платежа на стороне шлюза.
type PaymentAssertion struct {
	IntentID          string `json:"intentId"`
	ExternalOrderID   string `json:"externalOrderId"`
	ExternalPaymentID string `json:"externalPaymentId"`
	Signature         string `json:"signature"`
}

// Draft описывает оценённый и проверенный, но ещё не сохранённый заказ, ожидающий оплаты.
type Draft struct {
	ID            string        `json:"id"`
	DinerID       string        `json:"dinerId"`
	RestaurantID  string        `json:"restaurantId"`
	Items         []LineItem    `json:"items"`
	Kind          OrderKind     `json:"orderKind"`
	IsPreOrder    bool          `json:"isPreOrder"`
	Slot          string        `json:"slot"`
	Subtotal      int64         `json:"subtotal"`
	ServiceCharge int64         `json:"serviceCharge"`
	Total         int64         `json:"total"`
	Intent        PaymentIntent `json:"paymentIntent"`
	CreatedAt     time.Time     `json:"createdAt"`
	ExpiresAt     time.Time     `json:"expiresAt"`
}

// CartLine описывает строку корзины, присланную клиентом.
type CartLine struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

// OrderFilter задаёт выборку заказов для списков.
type OrderFilter struct {
	DinerID      string
	RestaurantID string
	Statuses     []OrderStatus
	Limit        int
}

// Reconciliation хранит запись о подтверждённом платеже, по которому не удалось
// создать заказ. Требует ручного возврата средств. Kind хранит вид ошибки,
// из-за которой заказ не был создан; повторное подтверждение платежа получает её же.
type Reconciliation struct {
	PaymentID    string    `json:"paymentId"`
	IntentID     string    `json:"intentId"`
	DinerID      string    `json:"dinerId"`
	RestaurantID string    `json:"restaurantId"`
	Amount       int64     `json:"amount"`
	Kind         string    `json:"kind"`
	Reason       string    `json:"reason"`
	CreatedAt    time.Time `json:"createdAt"`
}

// OrderSummary содержит краткое описание нового заказа для уведомления ресторана.
type OrderSummary struct {
	OrderID    string    `json:"orderId"`
	Number     int64     `json:"number"`
	Kind       OrderKind `json:"orderKind"`
	IsPreOrder bool      `json:"isPreOrder"`
	Slot       string    `json:"slot,omitempty"`
	Items      int       `json:"items"`
	Total      int64     `json:"total"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Summary строит краткое описание заказа.
func (o *Order) Summary() OrderSummary {
	count := 0
	for _, it := range o.Items {
		count += it.Quantity
	}
	return OrderSummary{
		OrderID:    o.ID,
		Number:     o.Number,
		Kind:       o.Kind,
		IsPreOrder: o.IsPreOrder,
		Slot:       o.Slot,
		Items:      count,
		Total:      o.Total,
		CreatedAt:  o.CreatedAt,
	}
}
