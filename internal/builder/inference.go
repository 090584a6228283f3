package builder

import (
	"sort"
	"strings"

	"github.com/freedkr/bc3tree/internal/model"
)

// codeInferrer 根据编码结构推断章节间的父子关系
type codeInferrer struct {
	separator string
	marker    string
}

// depth 层级分隔符数量，否则标记字符数量，两者都没有为0
func (ci codeInferrer) depth(code string) int {
	if strings.Contains(code, ci.separator) {
		return strings.Count(code, ci.separator)
	}
	if ci.marker != "" && strings.Contains(code, ci.marker) {
		return strings.Count(code, ci.marker)
	}
	return 0
}

// infer 返回推断出的 (父, 子) 关系，按深度升序、同深度按输入顺序
func (ci codeInferrer) infer(concepts []*model.Concept) [][2]string {
	byDepth := make(map[int][]string)
	for _, c := range concepts {
		if !c.IsChapter {
			continue
		}
		d := ci.depth(c.Code)
		byDepth[d] = append(byDepth[d], c.Code)
	}

	depths := make([]int, 0, len(byDepth))
	for d := range byDepth {
		depths = append(depths, d)
	}
	sort.Ints(depths)

	var relations [][2]string
	for _, d := range depths {
		if d == 0 {
			continue
		}
		upper := byDepth[d-1]
		if len(upper) == 0 {
			continue
		}
		for _, code := range byDepth[d] {
			if parent, ok := ci.findParent(code, upper); ok {
				relations = append(relations, [2]string{parent, code})
			}
		}
	}
	return relations
}

// findParent 优先去掉最后一段的精确匹配，其次取最长的"父编码+分隔符"前缀
func (ci codeInferrer) findParent(code string, upper []string) (string, bool) {
	if idx := strings.LastIndex(code, ci.separator); idx > 0 {
		expected := code[:idx]
		for _, candidate := range upper {
			if candidate == expected {
				return candidate, true
			}
		}
	}

	best := ""
	for _, candidate := range upper {
		if candidate == code {
			continue
		}
		if strings.HasPrefix(code, candidate+ci.separator) && len(candidate) > len(best) {
			best = candidate
		}
	}
	return best, best != ""
}
