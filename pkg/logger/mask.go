package logger

import (
	"strings"

	"go.uber.org/zap"
)

// MaskPhoneNumber keeps the country code and last two digits visible,
// e.g. +15550001111 -> +1********11.
func MaskPhoneNumber(phone string) string {
	digits := strings.TrimPrefix(phone, "+")
	if len(digits) <= 4 {
		return phone
	}
	masked := digits[:2] + strings.Repeat("*", len(digits)-4) + digits[len(digits)-2:]
	if strings.HasPrefix(phone, "+") {
		return "+" + masked
	}
	return masked
}

// MaskPhone creates a zap field with the phone number masked.
func MaskPhone(key, phone string) zap.Field {
	return zap.String(key, MaskPhoneNumber(phone))
}

// MaskPhoneIfPresent masks phone if not empty.
func MaskPhoneIfPresent(key, phone string) zap.Field {
	if phone == "" {
		return zap.String(key, "")
	}
	return MaskPhone(key, phone)
}
