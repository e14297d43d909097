package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/campus-preorder/internal/model"
	"github.com/mmeshcher/campus-preorder/internal/repository"
)

// AdvanceStatus переводит заказ на следующий шаг по запросу сотрудника
// ресторана. Завершение возможно только через Complete с кодом выдачи,
// отмена делегируется в Cancel.
func (s *Service) AdvanceStatus(ctx context.Context, actor model.Actor, id string, to model.OrderStatus) (*model.Order, error) {
	if to == model.OrderStatusCancelled {
		return s.Cancel(ctx, actor, id)
	}

	o, err := s.loadOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsStaffOf(o.RestaurantID) {
		return nil, fmt.Errorf("%w: only restaurant staff can advance order %s", ErrForbidden, id)
	}
	if o.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: order %s is already %s", ErrInvalidTransition, id, o.Status)
	}
	if to == model.OrderStatusCompleted {
		return nil, fmt.Errorf("%w: completion requires the pickup code", ErrInvalidTransition)
	}
	if !model.CanTransition(o.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}

	updated, err := s.repo.UpdateOrderStatus(ctx, id, o.Status, to, o.Version)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: order %s changed concurrently", ErrInvalidTransition, id)
		}
		return nil, storageErr("update order status", err)
	}

	s.logger.Info("order status advanced",
		zap.String("order_id", id),
		zap.String("from", string(o.Status)),
		zap.String("to", string(to)),
	)
	updated.OTP = ""
	return updated, nil
}

// Cancel отменяет ожидающий заказ по запросу владельца или сотрудника
// ресторана и освобождает резерв слота.
func (s *Service) Cancel(ctx context.Context, actor model.Actor, id string) (*model.Order, error) {
	o, err := s.loadOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	owner := actor.Role == model.RoleDiner && actor.ID == o.DinerID
	if !owner && !actor.IsStaffOf(o.RestaurantID) {
		return nil, fmt.Errorf("%w: cannot cancel order %s", ErrForbidden, id)
	}
	if o.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: order %s is already %s", ErrNotCancellable, id, o.Status)
	}
	if o.Status != model.OrderStatusPending {
		return nil, fmt.Errorf("%w: order %s is %s, kitchen work has started", ErrNotCancellable, id, o.Status)
	}

	cancelled, err := s.repo.CancelOrder(ctx, id, o.Version)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: order %s changed concurrently", ErrNotCancellable, id)
		}
		return nil, storageErr("cancel order", err)
	}

	s.logger.Info("order cancelled",
		zap.String("order_id", id),
		zap.String("by", string(actor.Role)),
		zap.Bool("slot_released", cancelled.IsPreOrder),
	)
	if !owner {
		cancelled.OTP = ""
	}
	return cancelled, nil
}

// Complete закрывает готовый заказ, если код выдачи совпал, и начисляет
// счётчики ресторана и позиций каталога.
func (s *Service) Complete(ctx context.Context, actor model.Actor, id, otp string) (*model.Order, error) {
	o, err := s.loadOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsStaffOf(o.RestaurantID) {
		return nil, fmt.Errorf("%w: only restaurant staff can complete order %s", ErrForbidden, id)
	}
	if o.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: order %s is already %s", ErrInvalidTransition, id, o.Status)
	}
	if o.Status != model.OrderStatusReady {
		return nil, fmt.Errorf("%w: order %s is %s, not ready", ErrInvalidTransition, id, o.Status)
	}
	if subtle.ConstantTimeCompare([]byte(otp), []byte(o.OTP)) != 1 {
		s.logger.Info("pickup code rejected", zap.String("order_id", id))
		return nil, fmt.Errorf("%w: order %s", ErrInvalidOTP, id)
	}

	completed, err := s.repo.CompleteOrder(ctx, id, o.Version)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: order %s changed concurrently", ErrInvalidTransition, id)
		}
		return nil, storageErr("complete order", err)
	}

	missing, err := s.repo.IncrementItemStats(ctx, repository.Lines(completed.Items))
	if err != nil {
		s.logger.Warn("item counters not updated", zap.String("order_id", id), zap.Error(err))
	}
	for _, itemID := range missing {
		s.logger.Warn("completed order references missing catalog item",
			zap.String("order_id", id),
			zap.String("item_id", itemID),
		)
	}

	s.logger.Info("order completed",
		zap.String("order_id", id),
		zap.String("restaurant_id", completed.RestaurantID),
		zap.Int64("total", completed.Total),
	)
	completed.OTP = ""
	return completed, nil
}
