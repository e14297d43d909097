// Package repository содержит хранилище заказов, журнал вместимости слотов
// и чтение каталога и справочника ресторанов.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/mmeshcher/campus-preorder/internal/model"
)

var (
	// ErrNotFound возвращается, если запрошенная сущность не найдена.
	ErrNotFound = errors.New("not found")
	// ErrSlotNotFound возвращается, если у ресторана нет слота с такой меткой.
	ErrSlotNotFound = errors.New("slot not found")
	// ErrSlotFull возвращается, если в слоте не осталось свободных резервов.
	ErrSlotFull = errors.New("slot is full")
	// ErrCapacityBelowReserved возвращается при попытке уменьшить вместимость слота ниже числа текущих резервов.
	ErrCapacityBelowReserved = errors.New("capacity below current reservations")
	// ErrConflict возвращается, если заказ был изменён параллельно (не совпали статус или версия).
	ErrConflict = errors.New("order state conflict")
	// ErrDuplicatePayment возвращается, если по этому платежу заказ уже создан.
	ErrDuplicatePayment = errors.New("order for payment already exists")
	// ErrPaymentFlagged возвращается, если платёж уже передан на ручной возврат
	// и заказ по нему создавать нельзя.
	ErrPaymentFlagged = errors.New("payment flagged for refund")
)

// Placement описывает единицу работы размещения заказа: перепроверка ресторана,
// резерв слота и сохранение заказа. После ошибки на любом шаге вызывающий
// обязан вызвать Compensate; после успеха вызывается Commit.
type Placement interface {
	// LockRestaurant перечитывает ресторан так, чтобы его флаги не менялись до конца размещения.
	LockRestaurant(ctx context.Context, restaurantID string) (*model.Restaurant, error)
	// Reserve занимает один резерв в слоте или возвращает ErrSlotFull.
	Reserve(ctx context.Context, restaurantID, label string) error
	// PersistOrder сохраняет заказ и заполняет его номер.
	PersistOrder(ctx context.Context, o *model.Order) error
	Commit(ctx context.Context) error
	// Compensate отменяет все уже выполненные шаги. Повторный вызов безопасен.
	Compensate(ctx context.Context) error
}

// ItemSale описывает вклад одной позиции завершённого заказа в счётчики каталога.
type ItemSale struct {
	ItemID   string
	Quantity int
	Revenue  int64
}

// Lines превращает позиции заказа в продажи для счётчиков каталога.
func Lines(items []model.LineItem) []ItemSale {
	sales := make([]ItemSale, 0, len(items))
	for _, it := range items {
		sales = append(sales, ItemSale{
			ItemID:   it.ItemID,
			Quantity: it.Quantity,
			Revenue:  it.Price * int64(it.Quantity),
		})
	}
	return sales
}

// Seed содержит начальный каталог: рестораны со слотами и позиции меню.
type Seed struct {
	Restaurants []model.Restaurant `json:"restaurants"`
	MenuItems   []model.MenuItem   `json:"menuItems"`
}

// DecodeSeed читает начальный каталог из JSON.
func DecodeSeed(r io.Reader) (*Seed, error) {
	var seed Seed
	if err := json.NewDecoder(r).Decode(&seed); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	for _, it := range seed.MenuItems {
		if it.ID == "" || it.RestaurantID == "" {
			return nil, fmt.Errorf("decode seed: menu item %q has no id or restaurant", it.Name)
		}
	}
	return &seed, nil
}

func effectiveLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
