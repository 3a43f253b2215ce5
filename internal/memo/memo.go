// Package memo генерирует коды-комментарии, связывающие внешний перевод с платежом.
package memo

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Size задаёт количество случайных байт в коде.
const Size = 8

// New возвращает новый код из криптографически стойкого источника.
func New() (string, error) {
	b := make([]byte, Size)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Valid проверяет, что строка похожа на код, выданный New.
func Valid(code string) bool {
	if len(code) != Size*2 {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
