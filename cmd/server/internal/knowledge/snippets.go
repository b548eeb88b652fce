// Package knowledge selects reference material snippets for a given
// utterance. Selection is deterministic: keyword scoring over the meeting's
// uploaded materials, ties broken by upload order, near-duplicate materials
// collapsed by simhash fingerprint.
package knowledge

import (
	"sort"
	"strings"
	"unicode"

	"github.com/houzhh15/meeting-proxy/cmd/server/internal/store"
)

const (
	// maxSnippetChars 单条资料片段最大字符数
	maxSnippetChars = 500
	// maxTotalChars 提示词中资料片段总字符数上限
	maxTotalChars = 2000
	// minKeywordLen 关键词最小长度（rune 计）
	minKeywordLen = 2
)

// Snippet 选中的资料片段
type Snippet struct {
	Filename string
	Text     string
	Score    int
}

// Selector 资料片段选择器
type Selector struct{}

// NewSelector creates a Selector.
func NewSelector() *Selector {
	return &Selector{}
}

// Select 根据发言内容从资料中选取相关片段
// 评分 = 关键词在资料文本中的出现次数之和；score==0 的资料不入选。
// 无资料或无匹配时返回空切片，不视为错误。
func (s *Selector) Select(utterance string, materials []store.Material) []Snippet {
	if utterance == "" || len(materials) == 0 {
		return nil
	}

	keywords := extractKeywords(utterance)
	if len(keywords) == 0 {
		return nil
	}

	materials = collapseDuplicates(materials)

	type scored struct {
		order int
		mat   store.Material
		score int
	}
	candidates := make([]scored, 0, len(materials))
	for i, m := range materials {
		text := strings.ToLower(m.Text)
		score := 0
		for _, kw := range keywords {
			score += strings.Count(text, kw)
		}
		if score > 0 {
			candidates = append(candidates, scored{order: i, mat: m, score: score})
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	// 分数降序，同分按上传顺序（入参顺序即 UploadedAt 顺序）
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].order < candidates[j].order
	})

	result := make([]Snippet, 0, len(candidates))
	total := 0
	for _, c := range candidates {
		text := truncateRunes(strings.TrimSpace(c.mat.Text), maxSnippetChars)
		if total+len([]rune(text)) > maxTotalChars {
			remaining := maxTotalChars - total
			if remaining < minKeywordLen {
				break
			}
			text = truncateRunes(text, remaining)
		}
		result = append(result, Snippet{Filename: c.mat.Filename, Text: text, Score: c.score})
		total += len([]rune(text))
		if total >= maxTotalChars {
			break
		}
	}
	return result
}

// extractKeywords 从发言文本提取关键词（小写化）
// 以空白与标点切分；对 CJK 连续段追加 bigram，使无空格的日文句子也能命中资料。
func extractKeywords(text string) []string {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]struct{})
	keywords := make([]string, 0, len(tokens))
	add := func(kw string) {
		if len([]rune(kw)) < minKeywordLen {
			return
		}
		if _, ok := seen[kw]; ok {
			return
		}
		seen[kw] = struct{}{}
		keywords = append(keywords, kw)
	}

	for _, tok := range tokens {
		runes := []rune(tok)
		if containsCJK(runes) && len(runes) > 3 {
			// 长 CJK 串整体命中概率低，按 bigram 匹配
			for i := 0; i < len(runes)-1; i++ {
				add(string(runes[i : i+2]))
			}
			continue
		}
		add(tok)
	}
	return keywords
}

func containsCJK(runes []rune) bool {
	for _, r := range runes {
		if unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana) {
			return true
		}
	}
	return false
}

// collapseDuplicates 按 simhash 指纹去除近重复资料，保留先上传的一份
func collapseDuplicates(materials []store.Material) []store.Material {
	if len(materials) < 2 {
		return materials
	}
	kept := make([]store.Material, 0, len(materials))
	fingerprints := make([]uint64, 0, len(materials))
	for _, m := range materials {
		fp := fingerprint(m.Text)
		dup := false
		for _, prev := range fingerprints {
			if hammingDistance(fp, prev) <= simhashThreshold {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, m)
			fingerprints = append(fingerprints, fp)
		}
	}
	return kept
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
