package xid

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func New(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return fmt.Sprintf("%s-%s", prefix, id)
}

// Code returns n random characters from an unambiguous uppercase alphabet.
func Code(n int) string {
	if n < 1 {
		n = 6
	}
	max := big.NewInt(int64(len(codeAlphabet)))
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// uuid bytes are still random enough for a short display code
			u := uuid.New()
			b.WriteByte(codeAlphabet[int(u[i%len(u)])%len(codeAlphabet)])
			continue
		}
		b.WriteByte(codeAlphabet[idx.Int64()])
	}
	return b.String()
}
