package qrcodes

import (
	"errors"
	"net/url"
	"strings"

	"scanly/internal/apperrors"
)

var errNotAbsolute = errors.New("url must be absolute with a host")

// ComposeDestination merges the non-empty UTM params into destination.
// Existing query parameters, including utm_* keys the params leave unset,
// are preserved verbatim and in order; a utm_* key that is set replaces every
// earlier occurrence. With nothing to set the destination is returned verbatim.
func ComposeDestination(destination string, utm *UTMParams) (string, error) {
	u, err := url.Parse(destination)
	if err != nil {
		return "", &apperrors.MalformedDestinationError{URL: destination, Err: err}
	}
	if !u.IsAbs() || u.Host == "" {
		return "", &apperrors.MalformedDestinationError{URL: destination, Err: errNotAbsolute}
	}

	if utm == nil {
		return destination, nil
	}

	set := make(map[string]bool, 5)
	var added []string
	for _, p := range utm.pairs() {
		if p.value == nil || *p.value == "" {
			continue
		}
		set[p.key] = true
		added = append(added, url.QueryEscape(p.key)+"="+url.QueryEscape(*p.value))
	}

	if len(added) == 0 {
		return destination, nil
	}

	u.RawQuery = mergeRawQuery(u.RawQuery, set, added)
	return u.String(), nil
}

// mergeRawQuery drops the pairs of raw whose key is in replaced and appends
// added. Every other pair is kept byte for byte and in order, including pairs
// url.ParseQuery would reject.
func mergeRawQuery(raw string, replaced map[string]bool, added []string) string {
	var kept []string
	if raw != "" {
		for _, pair := range strings.Split(raw, "&") {
			key, _, _ := strings.Cut(pair, "=")
			if unescaped, err := url.QueryUnescape(key); err == nil {
				key = unescaped
			}
			if replaced[key] {
				continue
			}
			kept = append(kept, pair)
		}
	}
	return strings.Join(append(kept, added...), "&")
}
