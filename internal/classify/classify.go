// Package classify infers a project category and complexity tier from a
// free-text description using fixed keyword tables. Classification is a pure
// function of the description: no I/O, no state, and a missing signal always
// degrades to a default instead of failing.
package classify

import "strings"

// Category is the coarse project-type classification.
type Category string

const (
	CategoryWebApp     Category = "web_app"
	CategoryCLITool    Category = "cli_tool"
	CategoryAPIService Category = "api_service"
	CategoryMobileApp  Category = "mobile_app"
	CategoryAutomation Category = "automation"
	CategoryUnknown    Category = "unknown"
)

// Complexity is the scope tier of a project.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// categoryKeywords maps each category to its keyword set. Order matters:
// when two categories score the same, the first-declared one wins.
// Keywords cover both Chinese and English descriptions.
var categoryKeywords = []struct {
	category Category
	keywords []string
}{
	{CategoryWebApp, []string{"网站", "web", "前端", "页面", "界面", "ui", "网页", "website", "frontend"}},
	{CategoryCLITool, []string{"命令行", "cli", "工具", "脚本", "终端", "命令", "command line", "terminal"}},
	{CategoryAPIService, []string{"api", "接口", "服务", "后端", "服务器", "backend", "rest"}},
	{CategoryMobileApp, []string{"app", "应用", "移动", "手机", "android", "ios", "mobile"}},
	{CategoryAutomation, []string{"自动化", "批量", "定时", "流程", "工作流", "automation", "batch", "scheduled"}},
}

// complexityKeywords is scanned in declaration order; the first tier with a
// matching keyword wins, so "简单" beats "企业级" in the same description.
var complexityKeywords = []struct {
	complexity Complexity
	keywords   []string
}{
	{ComplexitySimple, []string{"简单", "基础", "单一", "小型", "原型", "simple", "basic", "minimal", "prototype"}},
	{ComplexityMedium, []string{"中等", "标准", "完整", "功能", "系统", "standard", "moderate"}},
	{ComplexityComplex, []string{"复杂", "高级", "企业级", "大规模", "综合", "complex", "advanced", "enterprise"}},
}

// defaultComplexity is the per-category fallback when the description carries
// no explicit complexity keyword.
var defaultComplexity = map[Category]Complexity{
	CategoryWebApp:     ComplexityMedium,
	CategoryCLITool:    ComplexitySimple,
	CategoryAPIService: ComplexityMedium,
	CategoryMobileApp:  ComplexityComplex,
	CategoryAutomation: ComplexityMedium,
	CategoryUnknown:    ComplexityMedium,
}

// Classify infers the category and complexity tier of a project description.
// Deterministic given the same keyword tables; never fails.
func Classify(description string) (Category, Complexity) {
	category := detectCategory(description)
	return category, estimateComplexity(description, category)
}

// detectCategory scores each category by the number of its keywords present
// in the lower-cased description. The highest non-zero score wins; all-zero
// scores mean the description carries no recognizable signal.
func detectCategory(description string) Category {
	lower := strings.ToLower(description)

	best := CategoryUnknown
	bestScore := 0
	for _, entry := range categoryKeywords {
		score := 0
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		if score > bestScore {
			best = entry.category
			bestScore = score
		}
	}
	return best
}

func estimateComplexity(description string, category Category) Complexity {
	lower := strings.ToLower(description)

	for _, entry := range complexityKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				return entry.complexity
			}
		}
	}

	if c, ok := defaultComplexity[category]; ok {
		return c
	}
	return ComplexityMedium
}

// Categories returns all known categories in declaration order, with
// CategoryUnknown last.
func Categories() []Category {
	out := make([]Category, 0, len(categoryKeywords)+1)
	for _, entry := range categoryKeywords {
		out = append(out, entry.category)
	}
	return append(out, CategoryUnknown)
}

// Valid reports whether c is a known category.
func Valid(c Category) bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}
