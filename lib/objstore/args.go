package objstore

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/schema"
)

// ParseQueryArgs decodes the query arguments of a store URL into args, which
// must be a pointer to a struct. Unknown arguments are an error.
func ParseQueryArgs(ep *url.URL, args interface{}) error {
	var decoder = schema.NewDecoder()
	decoder.IgnoreUnknownKeys(false)

	if q, err := url.ParseQuery(ep.RawQuery); err != nil {
		return err
	} else if err = decoder.Decode(args, q); err != nil {
		return fmt.Errorf("parsing store URL arguments: %w", err)
	}
	return nil
}

// KeyPrefix derives the key prefix of a bucket backed store from a URL path:
// the leading slash is dropped and a non-empty prefix always ends in a slash.
func KeyPrefix(urlPath string) string {
	p := strings.TrimPrefix(urlPath, "/")
	if p != "" && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}
