package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// payload is one decoded webhook object.
type payload map[string]any

var errEmptyBody = errors.New("empty webhook body")

// parsePayloads decodes a JSON object, a JSON array of objects or a
// form-encoded body. Form values keep their first occurrence.
func parsePayloads(contentType string, raw []byte) ([]payload, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, errEmptyBody
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "application/x-www-form-urlencoded" || (trimmed[0] != '{' && trimmed[0] != '[') {
		values, err := url.ParseQuery(string(trimmed))
		if err != nil {
			return nil, fmt.Errorf("decode form body: %w", err)
		}
		p := payload{}
		for key, vals := range values {
			if len(vals) > 0 {
				p[key] = vals[0]
			}
		}
		return []payload{p}, nil
	}

	if trimmed[0] == '[' {
		var items []map[string]any
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode json array: %w", err)
		}
		out := make([]payload, 0, len(items))
		for _, item := range items {
			out = append(out, payload(item))
		}
		return out, nil
	}

	var obj map[string]any
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, fmt.Errorf("decode json object: %w", err)
	}
	return []payload{payload(obj)}, nil
}

// has reports whether any of the keys is present with a non-empty value.
func (p payload) has(keys ...string) bool {
	return p.str(keys...) != "" || p.obj(keys...) != nil || p.list(keys...) != nil
}

// str returns the first non-empty string value among keys. Key matching
// ignores case, dashes and underscores, so "message-id", "MessageId" and
// "message_id" resolve alike.
func (p payload) str(keys ...string) string {
	for _, key := range keys {
		v, ok := p.lookup(key)
		if !ok {
			continue
		}
		switch typed := v.(type) {
		case string:
			if s := strings.TrimSpace(typed); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(typed, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(typed)
		}
	}
	return ""
}

func (p payload) obj(keys ...string) payload {
	for _, key := range keys {
		if v, ok := p.lookup(key); ok {
			if m, ok := v.(map[string]any); ok {
				return payload(m)
			}
		}
	}
	return nil
}

func (p payload) list(keys ...string) []any {
	for _, key := range keys {
		if v, ok := p.lookup(key); ok {
			if l, ok := v.([]any); ok {
				return l
			}
		}
	}
	return nil
}

// strList flattens a string or list of strings.
func (p payload) strList(keys ...string) []string {
	if s := p.str(keys...); s != "" {
		return []string{s}
	}
	var out []string
	for _, item := range p.list(keys...) {
		switch typed := item.(type) {
		case string:
			out = append(out, typed)
		case map[string]any:
			if addr := payload(typed).str("address", "email"); addr != "" {
				out = append(out, addr)
			}
		}
	}
	return out
}

func (p payload) lookup(key string) (any, bool) {
	if v, ok := p[key]; ok {
		return v, true
	}
	want := normalizeKey(key)
	for k, v := range p {
		if normalizeKey(k) == want {
			return v, true
		}
	}
	return nil, false
}

var keyReplacer = strings.NewReplacer("-", "", "_", "", " ", "")

func normalizeKey(key string) string {
	return strings.ToLower(keyReplacer.Replace(key))
}

// timestamp reads unix seconds or an RFC 3339 string, falling back to now.
func (p payload) timestamp(keys ...string) time.Time {
	for _, key := range keys {
		v, ok := p.lookup(key)
		if !ok {
			continue
		}
		switch typed := v.(type) {
		case float64:
			return time.Unix(int64(typed), 0).UTC()
		case string:
			if t, err := time.Parse(time.RFC3339, typed); err == nil {
				return t
			}
			if t, err := time.Parse(time.RFC1123Z, typed); err == nil {
				return t
			}
			if secs, err := strconv.ParseFloat(typed, 64); err == nil {
				return time.Unix(int64(secs), 0).UTC()
			}
		}
	}
	return time.Now().UTC()
}

// emailAddress extracts the address from "Name <addr>" forms.
func emailAddress(value string) string {
	value = strings.TrimSpace(value)
	if start := strings.LastIndex(value, "<"); start >= 0 {
		if end := strings.LastIndex(value, ">"); end > start {
			return strings.ToLower(strings.TrimSpace(value[start+1 : end]))
		}
	}
	return strings.ToLower(value)
}
