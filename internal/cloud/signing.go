package cloud

import (
	"crypto/hmac"
	"crypto/md5" //nolint:gosec // vendor protocol requires HMAC-MD5
	"encoding/hex"
	"sort"
	"strings"
)

// signRequest computes the vendor's request signature: HMAC-MD5 over the
// "key=value" pairs of the request fields, keys sorted ascending, empty
// values dropped, pairs joined by "&", keyed with the client secret. The
// hex digest goes into the x-serverless-sign header.
func signRequest(fields map[string]string, secret string) string {
	keys := make([]string, 0, len(fields))
	for k, v := range fields {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+fields[k])
	}

	mac := hmac.New(md5.New, []byte(secret))
	mac.Write([]byte(strings.Join(pairs, "&")))
	return hex.EncodeToString(mac.Sum(nil))
}
