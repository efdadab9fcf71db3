package fhirpath

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

var stringBuiltins = []builtin{
	{"indexOf", 1, 1, fnIndexOf},
	{"lastIndexOf", 1, 1, fnLastIndexOf},
	{"substring", 1, 2, fnSubstring},
	{"startsWith", 1, 1, fnStartsWith},
	{"endsWith", 1, 1, fnEndsWith},
	{"contains", 1, 1, fnContainsString},
	{"upper", 0, 0, fnUpper},
	{"lower", 0, 0, fnLower},
	{"replace", 2, 2, fnReplace},
	{"matches", 1, 2, fnMatches},
	{"matchesFull", 1, 1, fnMatchesFull},
	{"replaceMatches", 2, 3, fnReplaceMatches},
	{"length", 0, 0, fnLength},
	{"toChars", 0, 0, fnToChars},
	{"trim", 0, 0, fnTrim},
	{"split", 1, 1, fnSplit},
	{"join", 0, 1, fnJoin},
	{"encode", 1, 1, fnEncode},
	{"decode", 1, 1, fnDecode},
	{"escape", 1, 1, fnEscape},
	{"unescape", 1, 1, fnUnescape},
}

// stringParameter evaluates an argument expected to yield a single
// string. An empty result propagates as ok=false without error.
func stringParameter(ctx context.Context, param Expression, evaluate EvaluateFunc) (String, bool, error) {
	c, _, err := evaluate(ctx, nil, param, nil)
	if err != nil {
		return "", false, err
	}
	return Singleton[String](c)
}

func fnIndexOf(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	s, ok, err := Singleton[String](target)
	if err != nil || !ok {
		return nil, true, err
	}
	substring, ok, err := stringParameter(ctx, parameters[0], evaluate)
	if err != nil || !ok {
		return nil, true, err
	}
	if substring == "" {
		return Collection{Integer(0)}, true, nil
	}
	return Collection{Integer(strings.Index(string(s), string(substring)))}, true, nil
}

func fnLastIndexOf(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	s, ok, err := Singleton[String](target)
	if err != nil || !ok {
		return nil, true, err
	}
	substring, ok, err := stringParameter(ctx, parameters[0], evaluate)
	if err != nil || !ok {
		return nil, true, err
	}
	if substring == "" {
		return Collection{Integer(len([]rune(string(s))))}, true, nil
	}
	return Collection{Integer(strings.LastIndex(string(s), string(substring)))}, true, nil
}

func fnSubstring(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	s, ok, err := Singleton[String](target)
	if err != nil || !ok {
		return nil, true, err
	}
	runes := []rune(string(s))

	startCollection, _, err := evaluate(ctx, nil, parameters[0], nil)
	if err != nil {
		return nil, false, err
	}
	if len(startCollection) == 0 {
		return nil, true, nil
	}
	start, ok, err := Singleton[Integer](startCollection)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, fnErrorf(ErrInvalidArgument, "substring", "expected integer start parameter")
	}
	startIdx := int(start)
	if startIdx < 0 || startIdx >= len(runes) {
		return nil, true, nil
	}

	if len(parameters) == 2 {
		lengthCollection, _, err := evaluate(ctx, nil, parameters[1], nil)
		if err != nil {
			return nil, false, err
		}
		// An empty length behaves as if it was omitted.
		if len(lengthCollection) > 0 {
			length, ok, err := Singleton[Integer](lengthCollection)
			if err != nil {
				return nil, false, err
			}
			if !ok {
				return nil, false, fnErrorf(ErrInvalidArgument, "substring", "expected integer length parameter")
			}
			if length <= 0 {
				return Collection{String("")}, true, nil
			}
			end := min(startIdx+int(length), len(runes))
			return Collection{String(runes[startIdx:end])}, true, nil
		}
	}

	return Collection{String(runes[startIdx:])}, true, nil
}

func fnStartsWith(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	s, ok, err := Singleton[String](target)
	if err != nil || !ok {
		return nil, true, err
	}
	prefix, ok, err := stringParameter(ctx, parameters[0], evaluate)
	if err != nil || !ok {
		return nil, true, err
	}
	return Collection{Boolean(strings.HasPrefix(string(s), string(prefix)))}, true, nil
}

func fnEndsWith(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	s, ok, err := Singleton[String](target)
	if err != nil || !ok {
		return nil, true, err
	}
	suffix, ok, err := stringParameter(ctx, parameters[0], evaluate)
	if err != nil || !ok {
		return nil, true, err
	}
	return Collection{Boolean(strings.HasSuffix(string(s), string(suffix)))}, true, nil
}

func fnContainsString(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	s, ok, err := Singleton[String](target)
	if err != nil || !ok {
		return nil, true, err
	}
	substring, ok, err := stringParameter(ctx, parameters[0], evaluate)
	if err != nil || !ok {
		return nil, true, err
	}
	return Collection{Boolean(strings.Contains(string(s), string(substring)))}, true, nil
}

func fnUpper(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	s, ok, err := Singleton[String](target)
	if err != nil || !ok {
		return nil, true, err
	}
	return Collection{String(strings.ToUpper(string(s)))}, true, nil
}

func fnLower(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	s, ok, err := Singleton[String](target)
	if err != nil || !ok {
		return nil, true, err
	}
	return Collection{String(strings.ToLower(string(s)))}, true, nil
}

func fnReplace(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	s, ok, err := Singleton[String](target)
	if err != nil || !ok {
		return nil, true, err
	}
	pattern, ok, err := stringParameter(ctx, parameters[0], evaluate)
	if err != nil || !ok {
		return nil, true, err
	}
	substitution, ok, err := stringParameter(ctx, parameters[1], evaluate)
	if err != nil || !ok {
		return nil, true, err
	}

	// An empty pattern surrounds every character with the substitution.
	if pattern == "" {
		var b strings.Builder
		b.WriteString(string(substitution))
		for _, r := range string(s) {
			b.WriteRune(r)
			b.WriteString(string(substitution))
		}
		return Collection{String(b.String())}, true, nil
	}
	return Collection{String(strings.ReplaceAll(string(s), string(pattern), string(substitution)))}, true, nil
}

// compileMatchPattern builds the regex for matches()/replaceMatches().
// Single-line mode is the default, so . matches newlines; the i and m
// flags map onto the corresponding Go regexp flags.
func compileMatchPattern(regexStr, flags, fn string) (*regexp.Regexp, error) {
	pattern := "(?s)" + regexStr
	for _, flag := range flags {
		switch flag {
		case 'i':
			pattern = "(?i)" + pattern
		case 'm':
			pattern = "(?m)" + pattern
		default:
			return nil, fnErrorf(ErrInvalidArgument, fn, "unsupported regex flag %q", flag)
		}
	}
	regex, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fnErrorf(ErrInvalidArgument, fn, "invalid regular expression: %s", err)
	}
	return regex, nil
}

func fnMatches(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	s, ok, err := Singleton[String](target)
	if err != nil || !ok {
		return nil, true, err
	}
	regexStr, ok, err := stringParameter(ctx, parameters[0], evaluate)
	if err != nil || !ok {
		return nil, true, err
	}

	var flags String
	if len(parameters) == 2 {
		flags, ok, err = stringParameter(ctx, parameters[1], evaluate)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, fnErrorf(ErrInvalidArgument, "matches", "expected string flags parameter")
		}
	}

	regex, err := compileMatchPattern(string(regexStr), string(flags), "matches")
	if err != nil {
		return nil, false, err
	}
	return Collection{Boolean(regex.MatchString(string(s)))}, true, nil
}

func fnMatchesFull(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	s, ok, err := Singleton[String](target)
	if err != nil || !ok {
		return nil, true, err
	}
	regexStr, ok, err := stringParameter(ctx, parameters[0], evaluate)
	if err != nil || !ok {
		return nil, true, err
	}

	regex, err := regexp.Compile("^" + string(regexStr) + "$")
	if err != nil {
		return nil, false, fnErrorf(ErrInvalidArgument, "matchesFull", "invalid regular expression: %s", err)
	}
	return Collection{Boolean(regex.MatchString(string(s)))}, true, nil
}

func fnReplaceMatches(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	s, ok, err := Singleton[String](target)
	if err != nil || !ok {
		return nil, true, err
	}
	regexStr, ok, err := stringParameter(ctx, parameters[0], evaluate)
	if err != nil || !ok {
		return nil, true, err
	}
	if regexStr == "" {
		return Collection{s}, true, nil
	}
	substitution, ok, err := stringParameter(ctx, parameters[1], evaluate)
	if err != nil || !ok {
		return nil, true, err
	}

	var flags String
	if len(parameters) == 3 {
		flags, ok, err = stringParameter(ctx, parameters[2], evaluate)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, fnErrorf(ErrInvalidArgument, "replaceMatches", "expected string flags parameter")
		}
	}

	regex, err := compileMatchPattern(string(regexStr), string(flags), "replaceMatches")
	if err != nil {
		return nil, false, err
	}
	return Collection{String(regex.ReplaceAllString(string(s), string(substitution)))}, true, nil
}

func fnLength(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	s, ok, err := Singleton[String](target)
	if err != nil || !ok {
		return nil, true, err
	}
	return Collection{Integer(len([]rune(string(s))))}, true, nil
}

func fnToChars(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	s, ok, err := Singleton[String](target)
	if err != nil || !ok {
		return nil, true, err
	}
	var chars Collection
	for _, r := range string(s) {
		chars = append(chars, String(r))
	}
	return chars, true, nil
}

func fnTrim(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	s, ok, err := Singleton[String](target)
	if err != nil || !ok {
		return nil, true, err
	}
	return Collection{String(strings.TrimSpace(string(s)))}, true, nil
}

func fnSplit(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	s, ok, err := Singleton[String](target)
	if err != nil || !ok {
		return nil, true, err
	}
	separator, ok, err := stringParameter(ctx, parameters[0], evaluate)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, fnErrorf(ErrInvalidArgument, "split", "expected string separator parameter")
	}

	parts := strings.Split(string(s), string(separator))
	result := make(Collection, len(parts))
	for i, part := range parts {
		result[i] = String(part)
	}
	return result, true, nil
}

func fnJoin(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	if len(target) == 0 {
		return nil, true, nil
	}

	separator := String("")
	if len(parameters) == 1 {
		sep, ok, err := stringParameter(ctx, parameters[0], evaluate)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, fnErrorf(ErrInvalidArgument, "join", "expected string separator parameter")
		}
		separator = sep
	}

	parts := make([]string, 0, len(target))
	for _, elem := range target {
		s, ok, err := elementTo[String](elem, true)
		if err != nil || !ok {
			continue
		}
		parts = append(parts, string(s))
	}
	if len(parts) == 0 {
		return nil, true, nil
	}
	return Collection{String(strings.Join(parts, string(separator)))}, true, nil
}

func fnEncode(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	s, ok, err := Singleton[String](target)
	if err != nil || !ok {
		return nil, true, err
	}
	format, ok, err := stringParameter(ctx, parameters[0], evaluate)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, fnErrorf(ErrInvalidArgument, "encode", "expected string format parameter")
	}

	switch string(format) {
	case "hex":
		return Collection{String(hex.EncodeToString([]byte(s)))}, true, nil
	case "base64":
		return Collection{String(base64.StdEncoding.EncodeToString([]byte(s)))}, true, nil
	case "urlbase64":
		return Collection{String(base64.URLEncoding.EncodeToString([]byte(s)))}, true, nil
	default:
		return nil, false, fnErrorf(ErrInvalidArgument, "encode", "unsupported encoding format %q", format)
	}
}

func fnDecode(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	s, ok, err := Singleton[String](target)
	if err != nil || !ok {
		return nil, true, err
	}
	format, ok, err := stringParameter(ctx, parameters[0], evaluate)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, fnErrorf(ErrInvalidArgument, "decode", "expected string format parameter")
	}

	var decoded []byte
	switch string(format) {
	case "hex":
		decoded, err = hex.DecodeString(string(s))
	case "base64":
		decoded, err = base64.StdEncoding.DecodeString(string(s))
	case "urlbase64":
		decoded, err = base64.URLEncoding.DecodeString(string(s))
	default:
		return nil, false, fnErrorf(ErrInvalidArgument, "decode", "unsupported encoding format %q", format)
	}
	if err != nil {
		return nil, false, fnErrorf(ErrInvalidArgument, "decode", "invalid %s string: %s", format, err)
	}
	return Collection{String(decoded)}, true, nil
}

func fnEscape(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	s, ok, err := Singleton[String](target)
	if err != nil || !ok {
		return nil, true, err
	}
	targetStr, ok, err := stringParameter(ctx, parameters[0], evaluate)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, fnErrorf(ErrInvalidArgument, "escape", "expected string target parameter")
	}

	switch string(targetStr) {
	case "html":
		return Collection{String(escapeHTML(string(s)))}, true, nil
	case "json":
		return Collection{String(escapeJSON(string(s)))}, true, nil
	default:
		return nil, false, fnErrorf(ErrInvalidArgument, "escape", "unsupported escape target %q", targetStr)
	}
}

func fnUnescape(ctx context.Context, root Element, target Collection, inputOrdered bool, parameters []Expression, evaluate EvaluateFunc) (Collection, bool, error) {
	s, ok, err := Singleton[String](target)
	if err != nil || !ok {
		return nil, true, err
	}
	targetStr, ok, err := stringParameter(ctx, parameters[0], evaluate)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, fnErrorf(ErrInvalidArgument, "unescape", "expected string target parameter")
	}

	switch string(targetStr) {
	case "html":
		return Collection{String(unescapeHTML(string(s)))}, true, nil
	case "json":
		unescaped, err := unescapeJSON(string(s))
		if err != nil {
			return nil, false, fnErrorf(ErrInvalidArgument, "unescape", "invalid json escape sequence: %s", err)
		}
		return Collection{String(unescaped)}, true, nil
	default:
		return nil, false, fnErrorf(ErrInvalidArgument, "unescape", "unsupported escape target %q", targetStr)
	}
}

// escapeHTML escapes the HTML special characters plus anything above
// the ASCII range as numeric character references.
func escapeHTML(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '&':
			b.WriteString("&amp;")
		case '"':
			b.WriteString("&quot;")
		case '\'':
			b.WriteString("&#39;")
		default:
			if r > 127 {
				fmt.Fprintf(&b, "&#%d;", r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

var htmlUnescaper = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&amp;", "&",
	"&quot;", `"`,
	"&#39;", "'",
)

func unescapeHTML(s string) string {
	return htmlUnescaper.Replace(s)
}

// escapeJSON escapes quotes, backslashes and control characters but
// leaves < > & alone, unlike encoding/json.
func escapeJSON(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func unescapeJSON(s string) (string, error) {
	var b strings.Builder
	b.Grow(len(s))
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '\\' {
			b.WriteRune(runes[i])
			continue
		}
		i++
		if i >= len(runes) {
			return "", fmt.Errorf("trailing backslash")
		}
		switch runes[i] {
		case '"':
			b.WriteRune('"')
		case '\\':
			b.WriteRune('\\')
		case '/':
			b.WriteRune('/')
		case 'n':
			b.WriteRune('\n')
		case 'r':
			b.WriteRune('\r')
		case 't':
			b.WriteRune('\t')
		case 'b':
			b.WriteRune('\b')
		case 'f':
			b.WriteRune('\f')
		case 'u':
			if i+4 >= len(runes) {
				return "", fmt.Errorf("truncated unicode escape")
			}
			var code rune
			for _, d := range runes[i+1 : i+5] {
				v := hexDigitValue(d)
				if v < 0 {
					return "", fmt.Errorf("invalid unicode escape \\u%s", string(runes[i+1:i+5]))
				}
				code = code<<4 | rune(v)
			}
			b.WriteRune(code)
			i += 4
		default:
			return "", fmt.Errorf("unknown escape \\%c", runes[i])
		}
	}
	return b.String(), nil
}

func hexDigitValue(r rune) int {
	switch {
	case r >= '0' && r <= '9':
		return int(r - '0')
	case r >= 'a' && r <= 'f':
		return int(r-'a') + 10
	case r >= 'A' && r <= 'F':
		return int(r-'A') + 10
	}
	return -1
}
