package knowledge

import (
	"strings"

	"github.com/go-dedup/simhash"
)

// simhashThreshold 定义相似度阈值：汉明距离<=12视为近重复资料
const simhashThreshold = 12

// materialFeatureSet 实现 simhash.FeatureSet 接口，用于资料文本的特征提取
type materialFeatureSet struct {
	text string
}

// GetFeatures 提取文本特征
// 使用字符级bigram特征，对日文/中文等 CJK 文本的近重复判定效果较好
func (m materialFeatureSet) GetFeatures() []simhash.Feature {
	text := strings.TrimSpace(m.text)
	if text == "" {
		return []simhash.Feature{}
	}

	features := make([]simhash.Feature, 0)
	runes := []rune(text)

	for i := 0; i < len(runes)-1; i++ {
		r1, r2 := runes[i], runes[i+1]
		if isPunctuation(r1) || isPunctuation(r2) {
			continue
		}
		bigram := string([]rune{r1, r2})
		features = append(features, simhash.NewFeature([]byte(bigram)))
	}

	// 极短文本补充单字符特征，增强区分度
	if len(runes) < 4 {
		for _, r := range runes {
			if !isPunctuation(r) {
				features = append(features, simhash.NewFeature([]byte(string(r))))
			}
		}
	}

	return features
}

func isPunctuation(r rune) bool {
	return r == ' ' || r == ',' || r == '.' || r == '!' || r == '?' ||
		r == '：' || r == '、' || r == '。' || r == '，' || r == '；' ||
		r == '！' || r == '？' || r == '-' || r == '_' || r == '/' ||
		r == '（' || r == '）' || r == '(' || r == ')' || r == '\t' || r == '\n'
}

// fingerprint 计算资料文本的 SimHash 指纹
func fingerprint(text string) uint64 {
	sh := simhash.NewSimhash()
	return sh.GetSimhash(materialFeatureSet{text: text})
}

// hammingDistance 计算两个指纹的汉明距离
func hammingDistance(hash1, hash2 uint64) int {
	x := hash1 ^ hash2
	count := 0
	for x != 0 {
		count++
		x &= x - 1
	}
	return count
}
