package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// TicketCodeCharset omits 0, O, 1 and I so codes survive being read aloud at the gate.
const TicketCodeCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const TicketCodeLength = 10

func GenerateCode(n int) (string, error) {
	byt := make([]byte, n)
	if _, err := rand.Read(byt); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(byt)), nil
}

// GenerateTicketCode returns a random code of length characters drawn from
// TicketCodeCharset. The charset size divides 256, so there is no modulo bias.
func GenerateTicketCode(length int) (string, error) {
	code := make([]byte, length)
	if _, err := rand.Read(code); err != nil {
		return "", err
	}
	for i := range code {
		code[i] = TicketCodeCharset[int(code[i])%len(TicketCodeCharset)]
	}
	return string(code), nil
}
