package parser

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// knownEncodings BC3文件常见编码的别名表
var knownEncodings = map[string]encoding.Encoding{
	"cp1252":       charmap.Windows1252,
	"windows-1252": charmap.Windows1252,
	"ansi":         charmap.Windows1252,
	"latin-1":      charmap.ISO8859_1,
	"latin1":       charmap.ISO8859_1,
	"iso-8859-1":   charmap.ISO8859_1,
	"iso-8859-15":  charmap.ISO8859_15,
	"cp850":        charmap.CodePage850,
	"ibm850":       charmap.CodePage850,
	"850":          charmap.CodePage850,
	"cp437":        charmap.CodePage437,
	"437":          charmap.CodePage437,
}

func isUTF8Name(name string) bool {
	return name == "utf-8" || name == "utf8"
}

// lookupEncoding 按名称查找编码，优先别名表，其次IANA注册表
func lookupEncoding(name string) (encoding.Encoding, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if enc, ok := knownEncodings[name]; ok {
		return enc, true
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, false
	}
	return enc, true
}

// decodeAttempt 用单个编码解码，失败返回false
func decodeAttempt(data []byte, name string) (string, bool) {
	if isUTF8Name(strings.ToLower(strings.TrimSpace(name))) {
		data = bytes.TrimPrefix(data, utf8BOM)
		if !utf8.Valid(data) {
			return "", false
		}
		return string(data), true
	}

	enc, ok := lookupEncoding(name)
	if !ok {
		return "", false
	}
	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", false
	}
	if bytes.ContainsRune(decoded, utf8.RuneError) {
		return "", false
	}
	return string(decoded), true
}

// candidateEncodings 主编码加回退列表，去重保序
func candidateEncodings(primary string, fallbacks []string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, name := range append([]string{primary}, fallbacks...) {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		names = append(names, key)
	}
	return names
}

// decodeContent 依次尝试候选编码，返回文本与成功的编码名
func decodeContent(data []byte, primary string, fallbacks []string) (string, string, []string) {
	attempted := candidateEncodings(primary, fallbacks)
	for _, name := range attempted {
		if text, ok := decodeAttempt(data, name); ok {
			return text, name, attempted
		}
	}
	return "", "", attempted
}
