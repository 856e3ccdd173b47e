package config

import (
	"encoding/base64"
	"strings"

	log "github.com/sirupsen/logrus"
)

// ParseEmbeddedConfig decodes a remote URL of the form
// "0<base64 config>:<real url>" into its config overlay and the real
// URL it wraps. A URL that does not start with a bare "0" token
// before the first colon is not an embedded blob at all, and url is
// returned unchanged with embedded nil.
//
// The base64 payload is a newline-separated list of
// "<short-code>=<value>" pairs, one per configured key, so a whole
// remote stanza can travel inside a URL without a pre-existing
// .git/config entry -- handy for sharing a fully self-configuring
// remote over a single line of text.
func ParseEmbeddedConfig(url string) (realURL string, embedded map[Key]string, ok bool) {
	tok := strings.SplitN(url, ":", 2)
	if len(tok) != 2 || !strings.HasPrefix(tok[0], "0") {
		return url, nil, false
	}
	payload := tok[0][1:]
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		log.Warnf("config: embedded blob in URL %q does not decode, treating whole URL as literal: %v", url, err)
		return url, nil, false
	}
	overlay := make(map[Key]string)
	for _, line := range strings.Split(string(raw), "\n") {
		if line == "" {
			continue
		}
		kv := strings.SplitN(line, "=", 2)
		if len(kv) != 2 {
			log.Warnf("config: embedded blob line %q is malformed, skipping", line)
			continue
		}
		k, found := KeyFromShortCode(kv[0])
		if !found {
			log.Warnf("config: embedded blob names unknown short code %q, skipping", kv[0])
			continue
		}
		overlay[k] = kv[1]
	}
	return tok[1], overlay, true
}

// EncodeEmbeddedConfig is the inverse of ParseEmbeddedConfig: given a
// real URL and a set of key overrides, it produces the single-line
// "0<blob>:<url>" form.
func EncodeEmbeddedConfig(realURL string, overlay map[Key]string) string {
	var b strings.Builder
	for _, k := range allKeys {
		v, ok := overlay[k]
		if !ok {
			continue
		}
		b.WriteString(k.ShortCode())
		b.WriteByte('=')
		b.WriteString(v)
		b.WriteByte('\n')
	}
	encoded := base64.RawURLEncoding.EncodeToString([]byte(b.String()))
	return "0" + encoded + ":" + realURL
}
