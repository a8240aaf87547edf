package database

import (
	"strings"

	"github.com/lib/pq"
)

// describedKeys はログに出してよい接続パラメータ。
var describedKeys = []string{"host", "port", "dbname", "user", "sslmode"}

// DescribeTarget は接続文字列から接続先だけを取り出したログ用の文字列を返す。
// URL形式とキーワード/値形式のどちらでも、passwordを含む他のパラメータは出力しない。
// 解析できない場合も入力の一部を返すことはない。
func DescribeTarget(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return "(not configured)"
	}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		converted, err := pq.ParseURL(dsn)
		if err != nil {
			return "(unparseable database URL)"
		}
		dsn = converted
	}

	params, ok := parseKeywordValue(dsn)
	if !ok {
		return "(unparseable connection string)"
	}

	parts := make([]string, 0, len(describedKeys))
	for _, k := range describedKeys {
		if v, found := params[k]; found && v != "" {
			parts = append(parts, k+"="+v)
		}
	}
	if len(parts) == 0 {
		return "(libpq defaults)"
	}
	return strings.Join(parts, " ")
}

// parseKeywordValue はlibpqのキーワード/値形式を解析する。
// 値はシングルクォートで囲むことができ、バックスラッシュで次の1文字をエスケープする。
func parseKeywordValue(s string) (map[string]string, bool) {
	params := make(map[string]string)
	r := []rune(s)
	i := 0

	skipSpace := func() {
		for i < len(r) && isSpace(r[i]) {
			i++
		}
	}

	for {
		skipSpace()
		if i >= len(r) {
			return params, true
		}

		start := i
		for i < len(r) && r[i] != '=' && !isSpace(r[i]) {
			i++
		}
		key := string(r[start:i])
		skipSpace()
		if key == "" || i >= len(r) || r[i] != '=' {
			return nil, false
		}
		i++
		skipSpace()

		var val strings.Builder
		if i < len(r) && r[i] == '\'' {
			i++
			closed := false
			for i < len(r) {
				if r[i] == '\\' && i+1 < len(r) {
					val.WriteRune(r[i+1])
					i += 2
					continue
				}
				if r[i] == '\'' {
					i++
					closed = true
					break
				}
				val.WriteRune(r[i])
				i++
			}
			if !closed {
				return nil, false
			}
		} else {
			for i < len(r) && !isSpace(r[i]) {
				if r[i] == '\\' && i+1 < len(r) {
					val.WriteRune(r[i+1])
					i += 2
					continue
				}
				val.WriteRune(r[i])
				i++
			}
		}
		params[key] = val.String()
	}
}

func isSpace(c rune) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}
