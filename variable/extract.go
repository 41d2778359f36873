// Package variable implements the variable engine: extracting named values
// from HTTP responses and substituting [[name]] placeholders into request
// templates.  Both halves are pure functions of their inputs; persistence of
// extracted values is the workflow executor's job.
package variable

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/GabriWar/vigilant/model"
)

// ResponseContext carries the parts of an HTTP response that variables can
// extract from.  Any field may be zero when the corresponding source is not
// available.
type ResponseContext struct {
	Body    []byte
	Headers map[string][]string
	Cookies map[string]string
}

// Extract produces the value of v from the response context, or ("", false)
// when nothing could be extracted.  Extraction failures (missing JSON keys,
// unmatched regexes, invalid patterns) are reported as a non-nil error
// wrapping model.ErrExtraction so the caller can log a warning; they never
// panic and never invent a value.
func Extract(v *model.Variable, rc ResponseContext) (string, bool, error) {
	switch v.Source {
	case model.SourceStatic:
		return v.StaticValue, true, nil

	case model.SourceRandom:
		switch v.ExtractMethod {
		case model.ExtractRandomString:
			return RandomString(v.RandomLength, v.RandomFormat), true, nil
		case model.ExtractRandomNumber:
			return RandomNumber(v.RandomLength, v.RandomFormat), true, nil
		case model.ExtractRandomUUID:
			return uuid.NewString(), true, nil
		}

	case model.SourceResponseBody:
		if rc.Body == nil {
			return "", false, fmt.Errorf("variable %q: no response body: %w", v.Name, model.ErrExtraction)
		}
		switch v.ExtractMethod {
		case model.ExtractFullBody:
			return string(rc.Body), true, nil
		case model.ExtractJSONPath:
			return extractJSONPath(v, rc.Body)
		case model.ExtractRegex:
			return extractRegex(v, rc.Body)
		}

	case model.SourceResponseHeader:
		if v.ExtractPattern == "" {
			return "", false, fmt.Errorf("variable %q: empty header name: %w", v.Name, model.ErrExtraction)
		}
		// Header lookup is case-insensitive.
		for name, vals := range rc.Headers {
			if strings.EqualFold(name, v.ExtractPattern) && len(vals) > 0 {
				return vals[0], true, nil
			}
		}
		return "", false, fmt.Errorf("variable %q: header %q absent: %w", v.Name, v.ExtractPattern, model.ErrExtraction)

	case model.SourceCookie:
		// Cookie lookup is case-sensitive.
		if val, ok := rc.Cookies[v.ExtractPattern]; ok {
			return val, true, nil
		}
		return "", false, fmt.Errorf("variable %q: cookie %q absent: %w", v.Name, v.ExtractPattern, model.ErrExtraction)
	}

	return "", false, fmt.Errorf("variable %q: unsupported %s/%s: %w",
		v.Name, v.Source, v.ExtractMethod, model.ErrExtraction)
}

func extractJSONPath(v *model.Variable, body []byte) (string, bool, error) {
	if v.ExtractPattern == "" {
		return "", false, fmt.Errorf("variable %q: empty json path: %w", v.Name, model.ErrExtraction)
	}
	val, err := JSONPath(body, v.ExtractPattern)
	if err != nil {
		return "", false, fmt.Errorf("variable %q: %v: %w", v.Name, err, model.ErrExtraction)
	}
	return val, true, nil
}

func extractRegex(v *model.Variable, body []byte) (string, bool, error) {
	if v.ExtractPattern == "" {
		return "", false, fmt.Errorf("variable %q: empty regex: %w", v.Name, model.ErrExtraction)
	}
	re, err := regexp.Compile(v.ExtractPattern)
	if err != nil {
		return "", false, fmt.Errorf("variable %q: invalid regex %q: %w", v.Name, v.ExtractPattern, model.ErrExtraction)
	}
	m := re.FindSubmatch(body)
	if m == nil {
		return "", false, fmt.Errorf("variable %q: regex %q matched nothing: %w", v.Name, v.ExtractPattern, model.ErrExtraction)
	}
	// Capture group 1 when present, else the full match.
	if len(m) > 1 {
		return string(m[1]), true, nil
	}
	return string(m[0]), true, nil
}

// jsonSegmentRe parses one path segment of the form key or key[index].
var jsonSegmentRe = regexp.MustCompile(`^(\w+)\[(\d+)\]$`)

// JSONPath resolves a dot-separated path with optional [index] suffixes
// (e.g. "data.items[0].token") against a JSON document and returns the
// string form of the leaf.
func JSONPath(body []byte, path string) (string, error) {
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("body is not JSON")
	}
	cur := doc
	for _, seg := range strings.Split(path, ".") {
		key := seg
		index := -1
		if m := jsonSegmentRe.FindStringSubmatch(seg); m != nil {
			key = m[1]
			index, _ = strconv.Atoi(m[2])
		}

		obj, ok := cur.(map[string]interface{})
		if !ok {
			return "", fmt.Errorf("path %q: %q is not an object", path, key)
		}
		cur, ok = obj[key]
		if !ok {
			return "", fmt.Errorf("path %q: key %q missing", path, key)
		}

		if index >= 0 {
			arr, ok := cur.([]interface{})
			if !ok {
				return "", fmt.Errorf("path %q: %q is not an array", path, key)
			}
			if index >= len(arr) {
				return "", fmt.Errorf("path %q: index %d out of range", path, index)
			}
			cur = arr[index]
		}
	}
	return leafString(cur)
}

// leafString renders a JSON leaf the way a template consumer expects:
// strings verbatim, numbers without a trailing ".0" when integral, booleans
// as true/false.  Nulls are an extraction miss.
func leafString(v interface{}) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", fmt.Errorf("leaf is null")
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10), nil
		}
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	default:
		// Arrays and objects serialise back to JSON.
		b, err := json.Marshal(t)
		if err != nil {
			return "", fmt.Errorf("leaf not representable")
		}
		return string(b), nil
	}
}

const (
	lowerChars = "abcdefghijklmnopqrstuvwxyz"
	upperChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars = "0123456789"
	alnumChars = lowerChars + upperChars + digitChars
)

// RandomString generates a random string.  With a format pattern, each
// character is substituted: 'a' → lowercase letter, 'A' → uppercase letter,
// 'n' or '#' → digit, anything else copied literally.  Without a format, an
// alphanumeric string of the given length (default 16) is produced.
func RandomString(length int, format string) string {
	if format != "" {
		var b strings.Builder
		for _, ch := range format {
			switch ch {
			case 'a':
				b.WriteByte(lowerChars[rand.Intn(len(lowerChars))])
			case 'A':
				b.WriteByte(upperChars[rand.Intn(len(upperChars))])
			case 'n', '#':
				b.WriteByte(digitChars[rand.Intn(len(digitChars))])
			default:
				b.WriteRune(ch)
			}
		}
		return b.String()
	}
	if length <= 0 {
		length = 16
	}
	b := make([]byte, length)
	for i := range b {
		b[i] = alnumChars[rand.Intn(len(alnumChars))]
	}
	return string(b)
}

// RandomNumber generates a random digit string.  With a format pattern,
// '#' becomes a digit and anything else is copied literally.  Without a
// format, length digits (default 10) are produced.
func RandomNumber(length int, format string) string {
	if format != "" {
		var b strings.Builder
		for _, ch := range format {
			if ch == '#' {
				b.WriteByte(digitChars[rand.Intn(len(digitChars))])
			} else {
				b.WriteRune(ch)
			}
		}
		return b.String()
	}
	if length <= 0 {
		length = 10
	}
	b := make([]byte, length)
	for i := range b {
		b[i] = digitChars[rand.Intn(len(digitChars))]
	}
	return string(b)
}
