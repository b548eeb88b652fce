package conversation

import (
	"strings"

	"golang.org/x/text/width"
)

// TriggerMatcher 判定发言是否在向机器人提问
// 规则：包含机器人显示名 / 以 ?・？ 结尾 / 以配置的疑问句结尾（日语「か」「か。」等）
// / 包含运维配置的触发关键词。匹配不区分大小写且做全半角归一化。
type TriggerMatcher struct {
	botName          string
	triggerKeywords  []string
	questionSuffixes []string
}

// NewTriggerMatcher creates a matcher from the operator-configured rule set.
func NewTriggerMatcher(botName string, triggerKeywords, questionSuffixes []string) *TriggerMatcher {
	m := &TriggerMatcher{
		botName:          normalize(botName),
		triggerKeywords:  make([]string, 0, len(triggerKeywords)),
		questionSuffixes: make([]string, 0, len(questionSuffixes)),
	}
	for _, kw := range triggerKeywords {
		if n := normalize(kw); n != "" {
			m.triggerKeywords = append(m.triggerKeywords, n)
		}
	}
	for _, sfx := range questionSuffixes {
		if n := normalize(sfx); n != "" {
			m.questionSuffixes = append(m.questionSuffixes, n)
		}
	}
	return m
}

// Matches 判定 text 是否触发回复
func (m *TriggerMatcher) Matches(text string) bool {
	t := normalize(strings.TrimSpace(text))
	if t == "" {
		return false
	}

	if m.botName != "" && strings.Contains(t, m.botName) {
		return true
	}
	// 半角 ? 归一化后全角 ？ 也命中
	if strings.HasSuffix(t, "?") {
		return true
	}
	for _, sfx := range m.questionSuffixes {
		if strings.HasSuffix(t, sfx) {
			return true
		}
	}
	for _, kw := range m.triggerKeywords {
		if strings.Contains(t, kw) {
			return true
		}
	}
	return false
}

// normalize 小写化并将全角字符折叠为半角（width.Fold）
func normalize(s string) string {
	return strings.ToLower(width.Fold.String(s))
}
