package portal

import (
	"encoding/base64"
	"strings"
)

var hex64Replacer = strings.NewReplacer("+", "-", "/", "_", "=", ".")

// Hex64Encode encodes a query value the way the Portal expects names, SSIDs
// and keys: standard base64 with '+', '/' and '=' replaced by '-', '_' and '.'.
func Hex64Encode(value string) string {
	return hex64Replacer.Replace(base64.StdEncoding.EncodeToString([]byte(value)))
}
