package vision

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// RawElement is one entry recovered from the element blob, with the bbox
// still in the service's coordinate space.
type RawElement struct {
	Kind         string
	Index        int
	Type         string
	Content      string
	BBox         [4]float64
	Interactable bool
	Confidence   float64
}

var (
	headerRe = regexp.MustCompile(`(?m)^[ \t]*([A-Za-z][A-Za-z _-]*?)[ \t]*(\d+)[ \t]*:[ \t]*`)

	typeRe         = regexp.MustCompile(`['"]type['"]\s*:\s*['"]([^'"]*)['"]`)
	contentSingle  = regexp.MustCompile(`['"]content['"]\s*:\s*'((?:[^'\\]|\\.)*)'`)
	contentDouble  = regexp.MustCompile(`['"]content['"]\s*:\s*"((?:[^"\\]|\\.)*)"`)
	bboxRe         = regexp.MustCompile(`['"]bbox['"]\s*:\s*[\[(]([^\])]*)[\])]`)
	interactableRe = regexp.MustCompile(`['"](?:interactivity|interactable)['"]\s*:\s*(True|False|true|false|1|0)`)
	confidenceRe   = regexp.MustCompile(`['"](?:confidence|score)['"]\s*:\s*([0-9.eE+-]+)`)
)

var quoteFixer = strings.NewReplacer("‘", "'", "’", "'", "“", `"`, "”", `"`)

// ParseBlob extracts elements from the vision service's line-oriented
// "<kind> <index>: {dict}" blob. Each entry is tried as a structured literal
// first and then by per-field pattern extraction. Entries that yield no
// usable bbox are counted in skipped.
func ParseBlob(blob string) (elements []RawElement, skipped int) {
	blob = quoteFixer.Replace(blob)
	locs := headerRe.FindAllStringSubmatchIndex(blob, -1)
	for i, loc := range locs {
		end := len(blob)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := strings.TrimSpace(blob[loc[1]:end])
		if !strings.HasPrefix(body, "{") {
			continue
		}
		kind := strings.ToLower(strings.TrimSpace(blob[loc[2]:loc[3]]))
		index, _ := strconv.Atoi(blob[loc[4]:loc[5]])

		el, ok := parseStructured(body)
		if !ok {
			el, ok = parseFields(body)
		}
		if !ok {
			skipped++
			continue
		}
		el.Kind = kind
		el.Index = index
		if el.Type == "" {
			el.Type = defaultType(kind)
		}
		elements = append(elements, el)
	}
	return elements, skipped
}

// defaultType maps a header such as "text box id" to "text".
func defaultType(kind string) string {
	if f := strings.Fields(kind); len(f) > 0 {
		return f[0]
	}
	return "unknown"
}

func parseStructured(body string) (RawElement, bool) {
	if i := strings.LastIndex(body, "}"); i >= 0 {
		body = body[:i+1]
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(pyToJSON(body)), &m); err != nil {
		return RawElement{}, false
	}

	var el RawElement
	box, ok := m["bbox"].([]any)
	if !ok || len(box) != 4 {
		return RawElement{}, false
	}
	for i, v := range box {
		f, ok := v.(float64)
		if !ok {
			return RawElement{}, false
		}
		el.BBox[i] = f
	}
	el.Type, _ = m["type"].(string)
	el.Content, _ = m["content"].(string)
	for _, k := range []string{"interactivity", "interactable"} {
		if b, ok := m[k].(bool); ok {
			el.Interactable = b
			break
		}
	}
	for _, k := range []string{"confidence", "score"} {
		if f, ok := m[k].(float64); ok {
			el.Confidence = f
			break
		}
	}
	return el, true
}

func parseFields(body string) (RawElement, bool) {
	var el RawElement
	mb := bboxRe.FindStringSubmatch(body)
	if mb == nil {
		return el, false
	}
	parts := strings.Split(mb[1], ",")
	if len(parts) != 4 {
		return el, false
	}
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return el, false
		}
		el.BBox[i] = f
	}
	if m := typeRe.FindStringSubmatch(body); m != nil {
		el.Type = m[1]
	}
	if m := contentSingle.FindStringSubmatch(body); m != nil {
		el.Content = unescape(m[1])
	} else if m := contentDouble.FindStringSubmatch(body); m != nil {
		el.Content = unescape(m[1])
	}
	if m := interactableRe.FindStringSubmatch(body); m != nil {
		el.Interactable = m[1] == "True" || m[1] == "true" || m[1] == "1"
	}
	if m := confidenceRe.FindStringSubmatch(body); m != nil {
		el.Confidence, _ = strconv.ParseFloat(m[1], 64)
	}
	return el, true
}

func unescape(s string) string {
	return strings.NewReplacer(`\'`, `'`, `\"`, `"`, `\\`, `\`, `\n`, "\n").Replace(s)
}

// pyToJSON rewrites a Python dict literal into JSON: quoted strings of
// either style become JSON strings and bare True/False/None outside of
// strings become true/false/null. Tuples become arrays.
func pyToJSON(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '\'' || c == '"':
			j := i + 1
			var lit strings.Builder
			for j < len(s) && s[j] != c {
				if s[j] == '\\' && j+1 < len(s) {
					j++
					switch s[j] {
					case 'n':
						lit.WriteByte('\n')
					case 't':
						lit.WriteByte('\t')
					default:
						lit.WriteByte(s[j])
					}
					j++
					continue
				}
				lit.WriteByte(s[j])
				j++
			}
			enc, _ := json.Marshal(lit.String())
			b.Write(enc)
			i = j + 1
		case c == '(':
			b.WriteByte('[')
			i++
		case c == ')':
			b.WriteByte(']')
			i++
		case strings.HasPrefix(s[i:], "True") && wordBoundary(s, i, 4):
			b.WriteString("true")
			i += 4
		case strings.HasPrefix(s[i:], "False") && wordBoundary(s, i, 5):
			b.WriteString("false")
			i += 5
		case strings.HasPrefix(s[i:], "None") && wordBoundary(s, i, 4):
			b.WriteString("null")
			i += 4
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

func wordBoundary(s string, i, n int) bool {
	isWord := func(c byte) bool {
		return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
	}
	if i > 0 && isWord(s[i-1]) {
		return false
	}
	return i+n >= len(s) || !isWord(s[i+n])
}
