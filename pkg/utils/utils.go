package utils

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

func NewUUID() uuid.UUID {
	return uuid.New()
}

func IsValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// FormatBytes печатает буфер в шестнадцатеричном виде для отладочных
// логов обмена по шине
func FormatBytes(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	var b strings.Builder
	for i, v := range data {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02X", v)
	}
	return b.String()
}
