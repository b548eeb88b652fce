package knowledge

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/meeting-proxy/cmd/server/internal/store"
)

func mat(filename, text string, order int) store.Material {
	return store.Material{
		ID:         int64(order + 1),
		MeetingID:  "m1",
		Filename:   filename,
		Text:       text,
		UploadedAt: time.Unix(int64(1000+order), 0),
	}
}

func TestSelectScoresByKeywordOccurrences(t *testing.T) {
	sel := NewSelector()
	materials := []store.Material{
		mat("pricing.md", "料金プランの詳細。スタンダードプランは月額5万円です。", 0),
		mat("roadmap.md", "来期のロードマップ。新機能の開発予定について。", 1),
	}

	snippets := sel.Select("料金プランについて教えてください", materials)
	require.NotEmpty(t, snippets)
	assert.Equal(t, "pricing.md", snippets[0].Filename)
	assert.Greater(t, snippets[0].Score, 0)
}

func TestSelectReturnsEmptyWithoutMatch(t *testing.T) {
	sel := NewSelector()
	materials := []store.Material{
		mat("pricing.md", "standard plan pricing details", 0),
	}

	assert.Empty(t, sel.Select("weather forecast tomorrow", materials))
	assert.Empty(t, sel.Select("", materials))
	assert.Empty(t, sel.Select("pricing", nil))
}

func TestSelectTieBrokenByUploadOrder(t *testing.T) {
	sel := NewSelector()
	// 両方とも "delivery schedule" を一度だけ含む；内容は十分に異なるため dedup 非対象
	materials := []store.Material{
		mat("second.md", "delivery schedule remains unchanged for the northern region warehouses.", 0),
		mat("first.md", "delivery schedule: final confirmation pending approval from the client side.", 1),
	}

	snippets := sel.Select("delivery schedule", materials)
	require.Len(t, snippets, 2)
	assert.Equal(t, snippets[0].Score, snippets[1].Score)
	assert.Equal(t, "second.md", snippets[0].Filename, "earlier upload wins the tie")
}

func TestSelectRespectsCharCaps(t *testing.T) {
	sel := NewSelector()
	long := strings.Repeat("budget ", 400) // ~2800 chars
	materials := []store.Material{
		mat("a.md", long+" alpha", 0),
		mat("b.md", long+" beta section with different trailing content entirely", 1),
	}

	snippets := sel.Select("budget", materials)
	require.NotEmpty(t, snippets)
	total := 0
	for _, sn := range snippets {
		n := len([]rune(sn.Text))
		assert.LessOrEqual(t, n, maxSnippetChars)
		total += n
	}
	assert.LessOrEqual(t, total, maxTotalChars)
}

func TestShortKeywordsIgnored(t *testing.T) {
	kws := extractKeywords("a b is ok 予算")
	assert.NotContains(t, kws, "a")
	assert.NotContains(t, kws, "b")
	assert.Contains(t, kws, "is")
	assert.Contains(t, kws, "予算")
}

func TestCJKBigramExtraction(t *testing.T) {
	kws := extractKeywords("納期はいつですか")
	assert.Contains(t, kws, "納期")
}

func TestCollapseDuplicates(t *testing.T) {
	base := "プロジェクトの進捗報告。開発フェーズは予定通り進行しており、来月のリリースに向けて最終調整を行っています。"
	materials := []store.Material{
		mat("v1.md", base, 0),
		mat("v2.md", base+"。", 1), // ほぼ同一
		mat("other.md", "全く別の話題：営業部の四半期売上目標と達成状況について。", 2),
	}

	kept := collapseDuplicates(materials)
	require.Len(t, kept, 2)
	assert.Equal(t, "v1.md", kept[0].Filename)
	assert.Equal(t, "other.md", kept[1].Filename)
}

func isNearDuplicate(a, b string) bool {
	return hammingDistance(fingerprint(a), fingerprint(b)) <= simhashThreshold
}

func TestHammingDistance(t *testing.T) {
	assert.Equal(t, 0, hammingDistance(0xF0, 0xF0))
	assert.Equal(t, 8, hammingDistance(0xFF, 0x00))
	assert.True(t, isNearDuplicate("同じ内容のテキストです", "同じ内容のテキストです"))
}
