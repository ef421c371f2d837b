package clientcache

import (
	"strconv"
	"strings"

	"github.com/systmms/cosrepo/internal/logging"
)

// nullSentinel renders an unset field. It is never quoted, so it cannot
// collide with a value spelled "null".
const nullSentinel = "null"

// Key identifies one client handle. Two keys are equal exactly when all four
// fields are equal, so it can be used directly as a map key.
type Key struct {
	AccessKeyID     string
	AccessKeySecret string
	Region          string
	Endpoint        string
}

// String renders every field, including the secret, in a fixed order. It is
// used for single-flight grouping and must not be logged; use Redacted.
func (k Key) String() string {
	return k.render(k.AccessKeySecret)
}

// Redacted renders the key with the secret masked.
func (k Key) Redacted() string {
	secret := ""
	if k.AccessKeySecret != "" {
		secret = logging.Secret(k.AccessKeySecret).String()
	}
	return k.render(secret)
}

func (k Key) render(secret string) string {
	var b strings.Builder
	field := func(name, value string, raw bool) {
		if b.Len() > 0 {
			b.WriteByte(';')
		}
		b.WriteString(name)
		b.WriteByte('=')
		switch {
		case value == "":
			b.WriteString(nullSentinel)
		case raw:
			b.WriteString(value)
		default:
			b.WriteString(strconv.Quote(value))
		}
	}
	field("access_key_id", k.AccessKeyID, false)
	field("access_key_secret", secret, secret != k.AccessKeySecret)
	field("region", k.Region, false)
	field("end_point", k.Endpoint, false)
	return b.String()
}
