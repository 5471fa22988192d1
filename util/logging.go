package util

import (
	"fmt"
	"math"
	"strings"
)

func AppendNumberTo(b *strings.Builder, num uint64) {
	fmt.Fprintf(b, "%d", num)
}

func EscapeString(value []byte) string {
	var b strings.Builder
	for _, c := range value {
		if c >= ' ' && c <= '~' {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "\\x%02x", c)
		}
	}
	return b.String()
}

// ConsumeDecimalNumber parses a uint64 off the front of *in, guarding
// against overflow, and advances past the digits it consumed.
func ConsumeDecimalNumber(in *string, val *uint64) bool {
	const lastDigit = '0' + byte(math.MaxUint64%10)
	value := uint64(0)
	consumed := 0
	for i := 0; i < len(*in); i++ {
		b := (*in)[i]
		if b < '0' || b > '9' {
			break
		}
		if value > math.MaxUint64/10 || (value == math.MaxUint64/10 && b > lastDigit) {
			return false
		}
		value = value*10 + uint64(b-'0')
		consumed++
	}
	*val = value
	*in = (*in)[consumed:]
	return consumed != 0
}
