package helpers

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html"
	"net/url"
	"time"

	"github.com/google/uuid"
	strip "github.com/grokify/html-strip-tags-go"
	"github.com/lucsky/cuid"
	"github.com/microcosm-cc/bluemonday"
)

var ugcPolicy = bluemonday.UGCPolicy()

// Standard returns the built-in helper sets
func Standard() []Provider {
	return []Provider{HTML(), JSON(), ID(), Time(), Codec()}
}

// HTML exposes html.escape, html.sanitize and html.strip
func HTML() *Set {
	return NewSet("html",
		stringFunc("html_escape", html.EscapeString),
		stringFunc("html_unescape", html.UnescapeString),
		stringFunc("html_sanitize", ugcPolicy.Sanitize),
		stringFunc("html_strip", strip.StripTags),
	).InNamespaces("html")
}

// JSON exposes json.encode and json.decode
func JSON() *Set {
	return NewSet("json",
		Fixed("json_encode", 1, func(args []any) (any, error) {
			b, err := json.Marshal(args[0])
			if err != nil {
				return nil, err
			}
			return string(b), nil
		}),
		Fixed("json_decode", 1, func(args []any) (any, error) {
			s, err := stringArg(args[0])
			if err != nil {
				return nil, err
			}
			var v any
			if err := json.Unmarshal([]byte(s), &v); err != nil {
				return nil, fmt.Errorf("invalid JSON: %w", err)
			}
			return v, nil
		}),
	).InNamespaces("json")
}

// ID exposes id.uuid and id.cuid
func ID() *Set {
	return NewSet("id",
		Fixed("id_uuid", 0, func([]any) (any, error) { return uuid.New().String(), nil }),
		Fixed("id_cuid", 0, func([]any) (any, error) { return cuid.New(), nil }),
	).InNamespaces("id")
}

// Time exposes time.now (Unix seconds) and time.format(seconds, layout).
// The layout defaults to RFC 3339.
func Time() *Set {
	return NewSet("time",
		Fixed("time_now", 0, func([]any) (any, error) { return time.Now(), nil }),
		Fixed("time_format", 2, func(args []any) (any, error) {
			secs, ok := args[0].(float64)
			if !ok {
				return nil, fmt.Errorf("time.format expects Unix seconds, got %T", args[0])
			}
			layout := time.RFC3339
			if args[1] != nil {
				s, err := stringArg(args[1])
				if err != nil {
					return nil, err
				}
				layout = s
			}
			return time.Unix(int64(secs), 0).UTC().Format(layout), nil
		}),
	).InNamespaces("time")
}

// Codec exposes encoding and hashing helpers under codec
func Codec() *Set {
	return NewSet("codec",
		stringFunc("codec_base64_encode", func(s string) string {
			return base64.StdEncoding.EncodeToString([]byte(s))
		}),
		Fixed("codec_base64_decode", 1, func(args []any) (any, error) {
			s, err := stringArg(args[0])
			if err != nil {
				return nil, err
			}
			b, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return nil, err
			}
			return string(b), nil
		}),
		stringFunc("codec_url_encode", url.QueryEscape),
		stringFunc("codec_md5", func(s string) string {
			sum := md5.Sum([]byte(s))
			return hex.EncodeToString(sum[:])
		}),
		stringFunc("codec_sha256", func(s string) string {
			sum := sha256.Sum256([]byte(s))
			return hex.EncodeToString(sum[:])
		}),
	).InNamespaces("codec")
}

func stringFunc(name string, fn func(string) string) Func {
	return Fixed(name, 1, func(args []any) (any, error) {
		s, err := stringArg(args[0])
		if err != nil {
			return nil, err
		}
		return fn(s), nil
	})
}

// stringArg accepts strings and numbers, the two Lua types that coerce to
// a string. nil becomes "".
func stringArg(v any) (string, error) {
	switch s := v.(type) {
	case nil:
		return "", nil
	case string:
		return s, nil
	case float64:
		return fmt.Sprint(s), nil
	}
	return "", fmt.Errorf("expected a string, got %T", v)
}
