package service

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/campus-preorder/internal/draftstore"
	"github.com/mmeshcher/campus-preorder/internal/model"
	"github.com/mmeshcher/campus-preorder/internal/repository"
	"github.com/mmeshcher/campus-preorder/internal/validation"
)

// ConfirmPayment проверяет подтверждение оплаты и превращает черновик в заказ.
// Перепроверка ресторана, резерв слота и сохранение заказа выполняются одной
// единицей работы. Повторное подтверждение того же платежа возвращает уже
// созданный заказ и created=false. Платёж, переданный на ручной возврат,
// заказа уже не создаёт: повтор получает исходную ошибку.
func (s *Service) ConfirmPayment(ctx context.Context, actor model.Actor, a model.PaymentAssertion, d model.Draft) (order *model.Order, created bool, err error) {
	if actor.Role != model.RoleDiner || actor.ID == "" {
		return nil, false, fmt.Errorf("%w: only diners confirm payments", ErrForbidden)
	}
	if a.IntentID == "" || a.ExternalOrderID == "" || a.ExternalPaymentID == "" || a.Signature == "" {
		return nil, false, fmt.Errorf("%w: payment assertion is incomplete", ErrValidation)
	}
	if d.Intent.ID != "" && d.Intent.ID != a.IntentID {
		return nil, false, fmt.Errorf("%w: draft belongs to another payment intent", ErrValidation)
	}

	if err := s.gate.VerifyAssertion(a); err != nil {
		s.logger.Warn("payment verification failed",
			zap.String("intent_id", a.IntentID),
			zap.String("payment_id", a.ExternalPaymentID),
			zap.Error(err),
		)
		if errors.Is(err, ErrPaymentVerification) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("%w: %w", ErrPaymentGateway, err)
	}

	if existing, err := s.existingOrder(ctx, actor, a.ExternalPaymentID); err != nil || existing != nil {
		return existing, false, err
	}
	if err := s.flaggedPayment(ctx, actor, a.ExternalPaymentID); err != nil {
		return nil, false, err
	}

	stored, err := s.drafts.Get(ctx, a.IntentID)
	if err != nil && !errors.Is(err, draftstore.ErrNotFound) {
		return nil, false, storageErr("get draft", err)
	}
	if stored != nil && stored.DinerID != actor.ID {
		return nil, false, fmt.Errorf("%w: draft belongs to another diner", ErrForbidden)
	}

	order, err = s.confirmDraft(ctx, actor, a, stored, &d)
	if err == nil {
		s.afterPlacement(ctx, order)
		return order, true, nil
	}

	if errors.Is(err, repository.ErrDuplicatePayment) {
		existing, lookupErr := s.existingOrder(ctx, actor, a.ExternalPaymentID)
		if lookupErr != nil {
			return nil, false, lookupErr
		}
		if existing != nil {
			return existing, false, nil
		}
		return nil, false, storageErr("persist order", err)
	}

	if errors.Is(err, repository.ErrPaymentFlagged) {
		if ferr := s.flaggedPayment(ctx, actor, a.ExternalPaymentID); ferr != nil {
			return nil, false, ferr
		}
		return nil, false, storageErr("persist order", err)
	}

	if isBusinessFailure(err) {
		// Параллельное подтверждение того же платежа могло занять последнее место.
		if existing, lookupErr := s.existingOrder(ctx, actor, a.ExternalPaymentID); lookupErr == nil && existing != nil {
			return existing, false, nil
		}
		s.flagForRefund(ctx, actor, a, stored, &d, err)
	}
	return nil, false, err
}

// existingOrder ищет заказ, уже созданный по этому платежу.
func (s *Service) existingOrder(ctx context.Context, actor model.Actor, paymentID string) (*model.Order, error) {
	o, err := s.repo.GetOrderByPaymentID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, storageErr("get order by payment", err)
	}
	if o.DinerID != actor.ID {
		return nil, fmt.Errorf("%w: payment belongs to another diner", ErrForbidden)
	}
	return o, nil
}

// flaggedPayment возвращает ошибку исходного вида, если платёж уже передан
// на ручной возврат.
func (s *Service) flaggedPayment(ctx context.Context, actor model.Actor, paymentID string) error {
	rec, err := s.repo.GetReconciliation(ctx, paymentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return storageErr("get reconciliation", err)
	}
	if rec.DinerID != actor.ID {
		return fmt.Errorf("%w: payment belongs to another diner", ErrForbidden)
	}
	return fmt.Errorf("%w: payment %s is flagged for manual refund (%s)", errForKind(rec.Kind), paymentID, rec.Reason)
}

func (s *Service) confirmDraft(ctx context.Context, actor model.Actor, a model.PaymentAssertion, stored, d *model.Draft) (*model.Order, error) {
	if err := checkDraftTotals(d); err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("%w: draft for intent %s expired or unknown", ErrValidation, a.IntentID)
	}
	if !draftsMatch(stored, d) {
		return nil, fmt.Errorf("%w: draft does not match the priced draft", ErrValidation)
	}
	if stored.Intent.Amount != stored.Total {
		return nil, fmt.Errorf("%w: paid amount %d differs from total %d", ErrValidation, stored.Intent.Amount, stored.Total)
	}

	otp, err := s.newOTP()
	if err != nil {
		return nil, fmt.Errorf("generate otp: %w", err)
	}
	if !validation.IsValidOTP(otp) {
		return nil, fmt.Errorf("generate otp: malformed code %q", otp)
	}

	o := &model.Order{
		ID:            uuid.NewString(),
		DinerID:       actor.ID,
		RestaurantID:  stored.RestaurantID,
		Items:         slices.Clone(stored.Items),
		Kind:          stored.Kind,
		IsPreOrder:    stored.IsPreOrder,
		Slot:          stored.Slot,
		Subtotal:      stored.Subtotal,
		ServiceCharge: stored.ServiceCharge,
		Total:         stored.Total,
		Status:        model.OrderStatusPending,
		PaymentID:     a.ExternalPaymentID,
		IntentID:      a.IntentID,
		OTP:           otp,
		CreatedAt:     s.now(),
	}
	if err := s.place(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// place выполняет перепроверку, резерв и сохранение одной единицей работы.
// При любой ошибке выполненные шаги компенсируются.
func (s *Service) place(ctx context.Context, o *model.Order) (err error) {
	p, err := s.repo.BeginPlacement(ctx)
	if err != nil {
		return storageErr("begin placement", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if cerr := p.Compensate(context.WithoutCancel(ctx)); cerr != nil {
			s.logger.Error("placement compensation failed",
				zap.String("order_id", o.ID),
				zap.String("payment_id", o.PaymentID),
				zap.Error(cerr),
			)
		}
	}()

	rest, err := p.LockRestaurant(ctx, o.RestaurantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: restaurant %s no longer exists", ErrRestaurantClosed, o.RestaurantID)
		}
		return storageErr("lock restaurant", err)
	}

	if o.IsPreOrder {
		if !rest.PreOrderEnabled {
			return fmt.Errorf("%w: %s stopped taking pre-orders", ErrRestaurantClosed, rest.ID)
		}
		if err := p.Reserve(ctx, o.RestaurantID, o.Slot); err != nil {
			switch {
			case errors.Is(err, repository.ErrSlotFull):
				return fmt.Errorf("%w: slot %s filled up before payment was confirmed", ErrSlotFull, o.Slot)
			case errors.Is(err, repository.ErrSlotNotFound):
				return fmt.Errorf("%w: slot %s no longer exists", ErrSlotUnavailable, o.Slot)
			}
			return storageErr("reserve slot", err)
		}
	} else if !rest.Availability {
		return fmt.Errorf("%w: %s stopped taking instant orders", ErrRestaurantClosed, rest.ID)
	}

	if err := p.PersistOrder(ctx, o); err != nil {
		if errors.Is(err, repository.ErrDuplicatePayment) || errors.Is(err, repository.ErrPaymentFlagged) {
			return err
		}
		return storageErr("persist order", err)
	}
	if err := p.Commit(ctx); err != nil {
		return storageErr("commit placement", err)
	}
	return nil
}

func (s *Service) afterPlacement(ctx context.Context, o *model.Order) {
	s.logger.Info("order placed",
		zap.String("order_id", o.ID),
		zap.Int64("number", o.Number),
		zap.String("restaurant_id", o.RestaurantID),
		zap.Bool("pre_order", o.IsPreOrder),
		zap.String("slot", o.Slot),
	)

	if err := s.drafts.Delete(ctx, o.IntentID); err != nil {
		s.logger.Warn("draft cleanup failed", zap.String("intent_id", o.IntentID), zap.Error(err))
	}
	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, o.RestaurantID, o.Summary()); err != nil {
			s.logger.Warn("new order notification failed", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
}

// flagForRefund записывает оплаченный, но не размещённый платёж для ручного
// возврата. Без сохранённого черновика ресторан и сумма известны только со
// слов клиента, это отмечается в причине.
func (s *Service) flagForRefund(ctx context.Context, actor model.Actor, a model.PaymentAssertion, stored, d *model.Draft, cause error) {
	rec := model.Reconciliation{
		PaymentID:    a.ExternalPaymentID,
		IntentID:     a.IntentID,
		DinerID:      actor.ID,
		RestaurantID: d.RestaurantID,
		Amount:       d.Total,
		Kind:         Kind(cause),
		Reason:       cause.Error() + unverifiedSuffix,
		CreatedAt:    s.now(),
	}
	if stored != nil {
		rec.RestaurantID = stored.RestaurantID
		rec.Amount = stored.Intent.Amount
		rec.Reason = cause.Error()
	}

	s.logger.Warn("verified payment requires manual refund",
		zap.String("payment_id", rec.PaymentID),
		zap.String("restaurant_id", rec.RestaurantID),
		zap.Int64("amount", rec.Amount),
		zap.String("reason", rec.Reason),
	)
	ctx = context.WithoutCancel(ctx)
	if err := s.repo.FlagForRefund(ctx, rec); err != nil {
		s.logger.Error("failed to record refund flag", zap.String("payment_id", rec.PaymentID), zap.Error(err))
		return
	}
	if stored != nil {
		if err := s.drafts.Delete(ctx, a.IntentID); err != nil {
			s.logger.Warn("draft cleanup failed", zap.String("intent_id", a.IntentID), zap.Error(err))
		}
	}
}

const unverifiedSuffix = "; restaurant and amount unverified, taken from the client draft"

// checkDraftTotals проверяет арифметику черновика: сумма позиций и итог.
func checkDraftTotals(d *model.Draft) error {
	var subtotal int64
	for _, it := range d.Items {
		subtotal += it.Price * int64(it.Quantity)
	}
	if subtotal != d.Subtotal {
		return fmt.Errorf("%w: subtotal %d does not match items sum %d", ErrValidation, d.Subtotal, subtotal)
	}
	if d.Total != d.Subtotal+d.ServiceCharge {
		return fmt.Errorf("%w: total %d must equal subtotal %d + service charge %d",
			ErrValidation, d.Total, d.Subtotal, d.ServiceCharge)
	}
	return nil
}

func draftsMatch(stored, d *model.Draft) bool {
	return stored.RestaurantID == d.RestaurantID &&
		stored.Kind == d.Kind &&
		stored.IsPreOrder == d.IsPreOrder &&
		stored.Slot == d.Slot &&
		stored.Subtotal == d.Subtotal &&
		stored.ServiceCharge == d.ServiceCharge &&
		stored.Total == d.Total &&
		slices.Equal(stored.Items, d.Items)
}
