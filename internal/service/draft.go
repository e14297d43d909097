package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/campus-preorder/internal/model"
	"github.com/mmeshcher/campus-preorder/internal/repository"
	"github.com/mmeshcher/campus-preorder/internal/validation"
)

// DraftRequest содержит корзину посетителя для оценки.
type DraftRequest struct {
	RestaurantID string
	Items        []model.CartLine
	Kind         model.OrderKind
	IsPreOrder   bool
	Slot         string
}

// CreateDraft проверяет корзину, ресторан и слот, считает суммы и получает
// платёжное намерение. Заказ при этом не создаётся.
func (s *Service) CreateDraft(ctx context.Context, actor model.Actor, req DraftRequest) (*model.Draft, error) {
	if actor.Role != model.RoleDiner || actor.ID == "" {
		return nil, fmt.Errorf("%w: only diners place orders", ErrForbidden)
	}

	lines, err := normalizeDraftRequest(req)
	if err != nil {
		return nil, err
	}

	rest, err := s.repo.GetRestaurant(ctx, req.RestaurantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: restaurant %s", ErrNotFound, req.RestaurantID)
		}
		return nil, storageErr("get restaurant", err)
	}
	if err := checkAcceptance(rest, req.IsPreOrder, req.Slot); err != nil {
		return nil, err
	}

	items := make([]model.LineItem, 0, len(lines))
	var subtotal int64
	for _, l := range lines {
		it, err := s.repo.GetMenuItem(ctx, l.ItemID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, storageErr("get menu item", err)
		}
		if it == nil || !it.Available || it.RestaurantID != rest.ID {
			return nil, fmt.Errorf("%w: item %s", ErrItemUnavailable, l.ItemID)
		}
		items = append(items, model.LineItem{
			ItemID:   it.ID,
			Name:     it.Name,
			Price:    it.Price,
			Quantity: l.Quantity,
		})
		subtotal += it.Price * int64(l.Quantity)
	}

	charge := s.serviceCharge(subtotal)
	now := s.now()
	d := &model.Draft{
		ID:            uuid.NewString(),
		DinerID:       actor.ID,
		RestaurantID:  rest.ID,
		Items:         items,
		Kind:          req.Kind,
		IsPreOrder:    req.IsPreOrder,
		Slot:          req.Slot,
		Subtotal:      subtotal,
		ServiceCharge: charge,
		Total:         subtotal + charge,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.draftTTL),
	}

	intent, err := s.gate.CreateIntent(ctx, d.Total, s.currency, d.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPaymentGateway, err)
	}
	d.Intent = *intent

	if err := s.drafts.Save(ctx, d, s.draftTTL); err != nil {
		return nil, storageErr("save draft", err)
	}

	s.logger.Debug("draft created",
		zap.String("draft_id", d.ID),
		zap.String("intent_id", d.Intent.ID),
		zap.String("restaurant_id", d.RestaurantID),
		zap.Int64("total", d.Total),
	)
	return d, nil
}

// normalizeDraftRequest проверяет поля запроса и объединяет повторяющиеся позиции.
func normalizeDraftRequest(req DraftRequest) ([]model.CartLine, error) {
	if req.RestaurantID == "" {
		return nil, fmt.Errorf("%w: restaurantId is required", ErrValidation)
	}
	if !validation.IsValidOrderKind(req.Kind) {
		return nil, fmt.Errorf("%w: unknown order kind %q", ErrValidation, req.Kind)
	}
	if req.IsPreOrder && !validation.IsValidSlotLabel(req.Slot) {
		return nil, fmt.Errorf("%w: pre-order requires a valid slot, got %q", ErrValidation, req.Slot)
	}
	if !req.IsPreOrder && req.Slot != "" {
		return nil, fmt.Errorf("%w: slot is only allowed for pre-orders", ErrValidation)
	}
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", ErrValidation)
	}

	var lines []model.CartLine
	index := make(map[string]int, len(req.Items))
	for _, l := range req.Items {
		if !validation.IsValidCartLine(l) {
			return nil, fmt.Errorf("%w: invalid cart line %q x%d", ErrValidation, l.ItemID, l.Quantity)
		}
		if i, ok := index[l.ItemID]; ok {
			lines[i].Quantity += l.Quantity
			if !validation.IsValidCartLine(lines[i]) {
				return nil, fmt.Errorf("%w: too many of item %q", ErrValidation, l.ItemID)
			}
			continue
		}
		index[l.ItemID] = len(lines)
		lines = append(lines, l)
	}
	return lines, nil
}

// checkAcceptance проверяет флаги ресторана и свободное место в слоте.
func checkAcceptance(rest *model.Restaurant, isPreOrder bool, label string) error {
	if !isPreOrder {
		if !rest.Availability {
			return fmt.Errorf("%w: %s is not taking instant orders", ErrRestaurantClosed, rest.ID)
		}
		return nil
	}
	if !rest.PreOrderEnabled {
		return fmt.Errorf("%w: %s is not taking pre-orders", ErrRestaurantClosed, rest.ID)
	}
	slot, ok := rest.FindSlot(label)
	if !ok {
		return fmt.Errorf("%w: slot %s does not exist", ErrSlotUnavailable, label)
	}
	if !slot.HasCapacity() {
		return fmt.Errorf("%w: slot %s is fully booked", ErrSlotUnavailable, label)
	}
	return nil
}
