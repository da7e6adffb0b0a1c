package billing

import (
	"fmt"
	"strconv"
	"strings"
)

// Document number prefixes.
const (
	InvoicePrefix = "INV-"
	ReturnPrefix  = "RET-"
)

const numberWidth = 5

// NextNumber increments the numeric suffix of last, zero-padded to five
// digits. An empty or unparsable last number starts the series at 00001.
//
//	NextNumber("INV-", "INV-00041") == "INV-00042"
//	NextNumber("RET-", "")          == "RET-00001"
func NextNumber(prefix, last string) string {
	n := 0
	if suffix, ok := strings.CutPrefix(last, prefix); ok {
		if parsed, err := strconv.Atoi(suffix); err == nil && parsed > 0 {
			n = parsed
		}
	}
	return fmt.Sprintf("%s%0*d", prefix, numberWidth, n+1)
}
