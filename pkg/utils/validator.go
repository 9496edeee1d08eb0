package utils

import "strings"

// validator.go - валидация входных данных API

// IsHexAddress проверяет формат публичного адреса: 0x + 40 hex символов
func IsHexAddress(s string) bool {
	if len(s) != 42 {
		return false
	}
	if s[0] != '0' || (s[1] != 'x' && s[1] != 'X') {
		return false
	}
	for _, c := range s[2:] {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// NormalizeSymbol приводит тикер к каноническому виду (upper, без пробелов)
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// InRange проверяет что значение лежит в [min, max]
func InRange(v, min, max int) bool {
	return v >= min && v <= max
}
