package dispatch

import "strings"

var keySynonyms = map[string]string{
	"return":     "enter",
	"ret":        "enter",
	"cr":         "enter",
	"esc":        "escape",
	"del":        "delete",
	"bksp":       "backspace",
	"back":       "backspace",
	"pgup":       "pageup",
	"page_up":    "pageup",
	"page up":    "pageup",
	"pgdn":       "pagedown",
	"page_down":  "pagedown",
	"page down":  "pagedown",
	"arrowup":    "up",
	"arrowdown":  "down",
	"arrowleft":  "left",
	"arrowright": "right",
	"up_arrow":   "up",
	"down_arrow": "down",
	"spacebar":   "space",
	"control":    "ctrl",
	"option":     "alt",
	"opt":        "alt",
	"win":        "cmd",
	"windows":    "cmd",
	"super":      "cmd",
	"meta":       "cmd",
	"command":    "cmd",
	"ins":        "insert",
}

// charFallback holds keys that have a character equivalent. They are typed
// as text when the key path rejects them or when forced.
var charFallback = map[string]string{
	"enter": "\n",
	"tab":   "\t",
	"space": " ",
}

// NormalizeKey maps a human key name onto the canonical name understood by
// the input layer.
func NormalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	if canon, ok := keySynonyms[k]; ok {
		return canon
	}
	return k
}

// NormalizeChord normalizes every key of a chord, dropping empty entries.
func NormalizeChord(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = NormalizeKey(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
