package service

import "strings"

const (
	shortContentLimit = 200
	autoTitleLimit    = 50
)

// compressMessage 生成消息的单行短文本，超过上限时截断并追加 "..."。
func compressMessage(content string) string {
	content = strings.ReplaceAll(strings.TrimSpace(content), "\n", " ")
	runes := []rune(content)
	if len(runes) <= shortContentLimit {
		return content
	}
	return string(runes[:shortContentLimit-3]) + "..."
}

// autoTitle 取首条用户消息短文本的前 50 个字符作为会话标题。
func autoTitle(content string) string {
	runes := []rune(compressMessage(content))
	if len(runes) > autoTitleLimit {
		runes = runes[:autoTitleLimit]
	}
	return string(runes)
}
