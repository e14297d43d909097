package service

import (
	"errors"
	"fmt"

	"github.com/mmeshcher/campus-preorder/internal/payment"
	"github.com/mmeshcher/campus-preorder/internal/repository"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrRestaurantClosed    = errors.New("restaurant is not accepting orders")
	ErrSlotUnavailable     = errors.New("slot unavailable")
	ErrSlotFull            = repository.ErrSlotFull
	ErrItemUnavailable     = errors.New("item unavailable")
	ErrPaymentVerification = payment.ErrVerification
	ErrPaymentGateway      = errors.New("payment gateway failure")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrNotCancellable      = errors.New("order cannot be cancelled")
	ErrInvalidOTP          = errors.New("invalid otp")
	ErrForbidden           = errors.New("forbidden")
	ErrNotFound            = errors.New("not found")
	ErrStorage             = errors.New("storage failure")
)

// Стабильные имена видов ошибок, которые видит клиент.
const (
	KindValidation          = "ValidationError"
	KindRestaurantClosed    = "RestaurantClosedError"
	KindSlotUnavailable     = "SlotUnavailableError"
	KindSlotFull            = "SlotFullError"
	KindItemUnavailable     = "ItemUnavailableError"
	KindPaymentVerification = "PaymentVerificationError"
	KindPaymentGateway      = "PaymentGatewayError"
	KindInvalidTransition   = "InvalidTransitionError"
	KindNotCancellable      = "NotCancellableError"
	KindInvalidOTP          = "InvalidOtpError"
	KindForbidden           = "ForbiddenError"
	KindNotFound            = "NotFoundError"
	KindStorage             = "StorageError"
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrStorage, KindStorage},
	{ErrValidation, KindValidation},
	{ErrRestaurantClosed, KindRestaurantClosed},
	{ErrSlotUnavailable, KindSlotUnavailable},
	{ErrSlotFull, KindSlotFull},
	{ErrItemUnavailable, KindItemUnavailable},
	{ErrPaymentVerification, KindPaymentVerification},
	{ErrPaymentGateway, KindPaymentGateway},
	{ErrInvalidTransition, KindInvalidTransition},
	{ErrNotCancellable, KindNotCancellable},
	{ErrInvalidOTP, KindInvalidOTP},
	{ErrForbidden, KindForbidden},
	{ErrNotFound, KindNotFound},
}

// Kind возвращает стабильное имя вида ошибки. Неизвестные ошибки считаются
// инфраструктурными.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindStorage
}

// errForKind возвращает сентинел по имени вида ошибки. Неизвестное имя
// считается ошибкой валидации.
func errForKind(kind string) error {
	for _, k := range kinds {
		if k.kind == kind {
			return k.err
		}
	}
	return ErrValidation
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// isBusinessFailure сообщает, что ошибка вызвана состоянием предметной
// области, а не инфраструктурой.
func isBusinessFailure(err error) bool {
	if err == nil || errors.Is(err, ErrStorage) {
		return false
	}
	switch Kind(err) {
	case KindValidation, KindRestaurantClosed, KindSlotUnavailable, KindSlotFull, KindItemUnavailable:
		return true
	}
	return false
}
