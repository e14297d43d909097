// Package validation содержит функции валидации входных данных.
package validation

import (
	"unicode"

	"github.com/mmeshcher/campus-preorder/internal/model"
)

// MaxLineQuantity ограничивает количество одной позиции в корзине.
const MaxLineQuantity = 50

// IsValidOTP проверяет, что код выдачи состоит ровно из четырёх цифр.
func IsValidOTP(code string) bool {
	if len(code) != 4 {
		return false
	}
	for _, ch := range code {
		if !unicode.IsDigit(ch) || ch > '9' {
			return false
		}
	}
	return true
}

// IsValidSlotLabel проверяет метку слота вида "HH:MM-HH:MM", где начало
// строго раньше конца.
func IsValidSlotLabel(label string) bool {
	if len(label) != 11 || label[5] != '-' {
		return false
	}
	start, ok := parseClock(label[:5])
	if !ok {
		return false
	}
	end, ok := parseClock(label[6:])
	if !ok {
		return false
	}
	return start < end
}

func parseClock(v string) (int, bool) {
	if len(v) != 5 || v[2] != ':' {
		return 0, false
	}
	digits := []byte{v[0], v[1], v[3], v[4]}
	for _, d := range digits {
		if d < '0' || d > '9' {
			return 0, false
		}
	}
	h := int(v[0]-'0')*10 + int(v[1]-'0')
	m := int(v[3]-'0')*10 + int(v[4]-'0')
	if h > 23 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// IsValidOrderKind проверяет способ получения заказа.
func IsValidOrderKind(kind model.OrderKind) bool {
	return kind == model.OrderKindDining || kind == model.OrderKindTakeaway
}

// IsValidCartLine проверяет одну строку корзины.
func IsValidCartLine(line model.CartLine) bool {
	return line.ItemID != "" && line.Quantity > 0 && line.Quantity <= MaxLineQuantity
}
