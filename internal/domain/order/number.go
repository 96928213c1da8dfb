package order

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// NumberPrefix starts every order number.
const NumberPrefix = "GB-"

// NewNumber returns a human-readable order number of the form
// GB-YYYYMMDD-XXXXXX, where X is a Crockford base32 digit.
func NewNumber(t time.Time) string {
	id := uuid.New()

	var b strings.Builder
	b.Grow(len(NumberPrefix) + 8 + 1 + 6)
	b.WriteString(NumberPrefix)
	b.WriteString(t.UTC().Format("20060102"))
	b.WriteByte('-')

	// 30 bits from the random part of the UUID.
	v := uint32(id[10])<<22 | uint32(id[11])<<14 | uint32(id[12])<<6 | uint32(id[13])>>2
	for i := 5; i >= 0; i-- {
		b.WriteByte(crockford[(v>>(5*i))&0x1f])
	}
	return b.String()
}
