package pipeline

import (
	"fmt"
	"strings"

	"github.com/houzhh15/meeting-proxy/cmd/server/internal/knowledge"
	"github.com/houzhh15/meeting-proxy/cmd/server/internal/store"
)

// BuildPrompt 组装生成提示词：persona + 添付資料 + 会話履歴 + 行動ルール + 当前发言
func BuildPrompt(persona, botName string, snippets []knowledge.Snippet, history []store.ConversationTurn, speaker, text string) string {
	var b strings.Builder
	b.WriteString(persona)

	if len(snippets) > 0 {
		b.WriteString("\n\n--- 添付資料 ---\n")
		for i, sn := range snippets {
			if i > 0 {
				b.WriteString("\n\n")
			}
			fmt.Fprintf(&b, "[%s]\n%s", sn.Filename, sn.Text)
		}
	}

	if len(history) > 0 {
		b.WriteString("\n\n--- 会話履歴 ---\n")
		for _, turn := range history {
			fmt.Fprintf(&b, "%s: %s\n", turn.Speaker, turn.Text)
			if turn.ResponseText != "" {
				fmt.Fprintf(&b, "%s: %s\n", botName, turn.ResponseText)
			}
		}
	}

	b.WriteString("\n--- 行動ルール ---\n")
	b.WriteString("1. 資料について質問されたら、添付資料に基づいて説明\n")
	b.WriteString("2. 資料に答えがある → [ANSWERED] を回答の先頭に付けて直接回答\n")
	b.WriteString("3. 判断が必要な事項（予算承認、方針決定等）→ [TAKEN_BACK]「持ち帰って確認します」\n")
	b.WriteString("4. 資料にない情報 →「確認して後日回答します」\n")
	b.WriteString("5. 2〜3文の簡潔な回答（音声読み上げのため）\n")
	b.WriteString("6. [ANSWERED] または [TAKEN_BACK] タグは必ず回答の先頭に付けること\n")

	fmt.Fprintf(&b, "\n%s: %s\n", speaker, text)
	return b.String()
}
