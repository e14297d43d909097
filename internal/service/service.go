// Package service реализует движок жизненного цикла заказов: черновики,
// подтверждение оплаты с резервом слота, смену статусов, отмену и выдачу по коду.
package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/campus-preorder/internal/draftstore"
	"github.com/mmeshcher/campus-preorder/internal/model"
	"github.com/mmeshcher/campus-preorder/internal/repository"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	GetRestaurant(ctx context.Context, id string) (*model.Restaurant, error)
	GetMenuItem(ctx context.Context, id string) (*model.MenuItem, error)
	SetSlotCapacity(ctx context.Context, restaurantID, label string, maxOrders int) (*model.Slot, error)
	BeginPlacement(ctx context.Context) (repository.Placement, error)
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	GetOrderByPaymentID(ctx context.Context, paymentID string) (*model.Order, error)
	ListOrders(ctx context.Context, f model.OrderFilter) ([]model.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, from, to model.OrderStatus, version int) (*model.Order, error)
	CancelOrder(ctx context.Context, id string, version int) (*model.Order, error)
	CompleteOrder(ctx context.Context, id string, version int) (*model.Order, error)
	IncrementItemStats(ctx context.Context, sales []repository.ItemSale) ([]string, error)
	FlagForRefund(ctx context.Context, rec model.Reconciliation) error
	GetReconciliation(ctx context.Context, paymentID string) (*model.Reconciliation, error)
	ListReconciliations(ctx context.Context, restaurantID string) ([]model.Reconciliation, error)
}

// PaymentGate выдаёт платёжные намерения и проверяет подтверждения оплаты.
type PaymentGate interface {
	CreateIntent(ctx context.Context, amount int64, currency, receipt string) (*model.PaymentIntent, error)
	VerifyAssertion(a model.PaymentAssertion) error
}

// Notifier сообщает ресторану о новом заказе.
type Notifier interface {
	Notify(ctx context.Context, restaurantID string, summary model.OrderSummary) error
}

// Service содержит бизнес-логику движка заказов.
type Service struct {
	repo     Repository
	gate     PaymentGate
	drafts   draftstore.Store
	notifier Notifier
	logger   *zap.Logger

	now           func() time.Time
	newOTP        func() (string, error)
	chargePercent decimal.Decimal
	currency      string
	draftTTL      time.Duration
}

// Option настраивает сервис.
type Option func(*Service)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithOTPGenerator подменяет генератор кодов выдачи.
func WithOTPGenerator(gen func() (string, error)) Option {
	return func(s *Service) { s.newOTP = gen }
}

// WithServiceCharge задаёт сервисный сбор в процентах от суммы позиций.
func WithServiceCharge(percent float64) Option {
	return func(s *Service) { s.chargePercent = decimal.NewFromFloat(percent) }
}

// WithCurrency задаёт валюту платёжных намерений.
func WithCurrency(currency string) Option {
	return func(s *Service) { s.currency = currency }
}

// WithDraftTTL задаёт время жизни черновика.
func WithDraftTTL(ttl time.Duration) Option {
	return func(s *Service) { s.draftTTL = ttl }
}

// NewService создаёт сервис с указанными зависимостями.
func NewService(repo Repository, gate PaymentGate, drafts draftstore.Store, notifier Notifier, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		repo:          repo,
		gate:          gate,
		drafts:        drafts,
		notifier:      notifier,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
		newOTP:        generateOTP,
		chargePercent: decimal.NewFromInt(10),
		currency:      "INR",
		draftTTL:      30 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%04d", n.Int64()), nil
}

// serviceCharge считает сбор от суммы позиций с округлением до минимальной единицы.
func (s *Service) serviceCharge(subtotal int64) int64 {
	return decimal.NewFromInt(subtotal).
		Mul(s.chargePercent).
		Div(decimal.NewFromInt(100)).
		Round(0).
		IntPart()
}

// GetOrder возвращает заказ владельцу или сотруднику ресторана.
// Сотрудник не видит код выдачи.
func (s *Service) GetOrder(ctx context.Context, actor model.Actor, id string) (*model.Order, error) {
	o, err := s.loadOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case actor.Role == model.RoleDiner && actor.ID == o.DinerID:
		return o, nil
	case actor.IsStaffOf(o.RestaurantID):
		o.OTP = ""
		return o, nil
	}
	return nil, fmt.Errorf("%w: order %s", ErrForbidden, id)
}

// ListDinerOrders возвращает заказы посетителя, новые первыми.
func (s *Service) ListDinerOrders(ctx context.Context, actor model.Actor, statuses []model.OrderStatus, limit int) ([]model.Order, error) {
	if actor.Role != model.RoleDiner {
		return nil, fmt.Errorf("%w: diner only", ErrForbidden)
	}
	orders, err := s.repo.ListOrders(ctx, model.OrderFilter{DinerID: actor.ID, Statuses: statuses, Limit: limit})
	if err != nil {
		return nil, storageErr("list orders", err)
	}
	return orders, nil
}

// ListRestaurantOrders возвращает заказы ресторана сотрудника.
func (s *Service) ListRestaurantOrders(ctx context.Context, actor model.Actor, statuses []model.OrderStatus, limit int) ([]model.Order, error) {
	if !actor.IsStaffOf(actor.RestaurantID) {
		return nil, fmt.Errorf("%w: staff only", ErrForbidden)
	}
	orders, err := s.repo.ListOrders(ctx, model.OrderFilter{RestaurantID: actor.RestaurantID, Statuses: statuses, Limit: limit})
	if err != nil {
		return nil, storageErr("list orders", err)
	}
	for i := range orders {
		orders[i].OTP = ""
	}
	return orders, nil
}

// SetSlotCapacity меняет вместимость слота ресторана сотрудника.
func (s *Service) SetSlotCapacity(ctx context.Context, actor model.Actor, label string, maxOrders int) (*model.Slot, error) {
	if !actor.IsStaffOf(actor.RestaurantID) {
		return nil, fmt.Errorf("%w: staff only", ErrForbidden)
	}
	if maxOrders < 0 {
		return nil, fmt.Errorf("%w: maxOrders must not be negative", ErrValidation)
	}

	slot, err := s.repo.SetSlotCapacity(ctx, actor.RestaurantID, label, maxOrders)
	switch {
	case err == nil:
		return slot, nil
	case errors.Is(err, repository.ErrCapacityBelowReserved):
		return nil, fmt.Errorf("%w: %s", ErrValidation, err.Error())
	case errors.Is(err, repository.ErrSlotNotFound), errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("%w: slot %s", ErrNotFound, label)
	}
	return nil, storageErr("set slot capacity", err)
}

// ListReconciliations возвращает платежи ресторана, ожидающие ручного возврата.
func (s *Service) ListReconciliations(ctx context.Context, actor model.Actor) ([]model.Reconciliation, error) {
	if !actor.IsStaffOf(actor.RestaurantID) {
		return nil, fmt.Errorf("%w: staff only", ErrForbidden)
	}
	recs, err := s.repo.ListReconciliations(ctx, actor.RestaurantID)
	if err != nil {
		return nil, storageErr("list reconciliations", err)
	}
	return recs, nil
}

func (s *Service) loadOrder(ctx context.Context, id string) (*model.Order, error) {
	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: order %s", ErrNotFound, id)
		}
		return nil, storageErr("get order", err)
	}
	return o, nil
}
