package scraper

import (
	"fmt"
	"net/url"
)

// ValidateURL checks that raw parses as an absolute HTTP(S) URL with a
// host. Returns ErrInvalidURL otherwise.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return nil
}

// ResolveURL joins href against base and returns the absolute form.
// The second return is false when the result is not a well-formed
// absolute URL.
func ResolveURL(base *url.URL, href string) (string, bool) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme == "" || abs.Host == "" {
		return "", false
	}
	return abs.String(), true
}
