package partition

import (
	"fmt"
	"strings"
)

// ParseGroupSpec parses a group restriction string of the form
// "key1=value1,key2=value2" into a key/value map. Malformed entries -
// a token without exactly one "=" - are a configuration error reported
// before any run begins.
func ParseGroupSpec(spec string) (map[string]string, error) {
	groups := make(map[string]string)
	for _, token := range strings.Split(spec, ",") {
		kv := strings.Split(token, "=")
		if len(kv) != 2 {
			return nil, fmt.Errorf("malformed group specification %q: entry %q is not key=value", spec, token)
		}
		groups[kv[0]] = kv[1]
	}
	return groups, nil
}
