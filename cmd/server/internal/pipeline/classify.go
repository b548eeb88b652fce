// Package pipeline turns a triggered utterance into a classified, delivered
// response: prompt construction, generation, leading-tag classification,
// speech synthesis and delivery back into the meeting.
package pipeline

import (
	"regexp"
	"strings"

	"github.com/houzhh15/meeting-proxy/cmd/server/internal/store"
)

// categoryPattern 回答先頭の分類タグ（大文字小文字不問）
var categoryPattern = regexp.MustCompile(`(?i)^\[(ANSWERED|TAKEN_BACK)\]\s*`)

// Classify 解析生成文本开头的分类标签，返回分类结果与去除标签后的正文
// 标签缺失或无法识别时按 taken_back 处理（宁可保守，不冒险直接作答）。
func Classify(text string) (store.Outcome, string) {
	text = strings.TrimSpace(text)
	m := categoryPattern.FindStringSubmatch(text)
	if m == nil {
		return store.OutcomeTakenBack, text
	}
	clean := strings.TrimSpace(text[len(m[0]):])
	switch strings.ToUpper(m[1]) {
	case "ANSWERED":
		return store.OutcomeAnswered, clean
	default:
		return store.OutcomeTakenBack, clean
	}
}
