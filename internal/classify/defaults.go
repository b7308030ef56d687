package classify

// Static per-category defaults used when the developer profile has no history
// to draw on: recommended technology stacks, commonly seen risks, and base
// duration estimates.

var defaultStacks = map[Category][]string{
	CategoryWebApp:     {"React", "Node.js", "TypeScript"},
	CategoryCLITool:    {"Go", "Cobra", "SQLite"},
	CategoryAPIService: {"Python", "FastAPI", "PostgreSQL"},
	CategoryMobileApp:  {"React Native", "TypeScript", "Redux"},
	CategoryAutomation: {"Python", "Selenium", "Jinja2"},
}

var commonRisks = map[Category][]string{
	CategoryWebApp:     {"state management complexity", "late performance tuning", "browser compatibility"},
	CategoryCLITool:    {"incomplete error handling", "missing argument validation", "cross-platform quirks"},
	CategoryAPIService: {"concurrent access", "data consistency", "security gaps"},
	CategoryMobileApp:  {"memory leaks", "network efficiency", "user experience"},
	CategoryAutomation: {"unhandled exceptions", "failure recovery", "insufficient logging"},
}

// baseMinutes is the duration estimate per complexity tier before the
// category multiplier is applied.
var baseMinutes = map[Complexity]int{
	ComplexitySimple:  60,
	ComplexityMedium:  120,
	ComplexityComplex: 240,
}

var categoryMultiplier = map[Category]float64{
	CategoryWebApp:     1.2,
	CategoryCLITool:    0.8,
	CategoryAPIService: 1.0,
	CategoryMobileApp:  1.5,
	CategoryAutomation: 1.1,
}

// DefaultStack returns the default technology recommendation for a category.
// Unknown categories get a generic stack.
func DefaultStack(category Category) []string {
	if stack, ok := defaultStacks[category]; ok {
		return append([]string(nil), stack...)
	}
	return []string{"JavaScript", "Node.js"}
}

// CommonRisks returns the typical risk notes for a category.
func CommonRisks(category Category) []string {
	return append([]string(nil), commonRisks[category]...)
}

// EstimateDuration predicts a project duration in minutes. A positive
// historical average (from the developer profile) takes precedence; otherwise
// the estimate is complexity base time scaled by the category multiplier.
func EstimateDuration(category Category, complexity Complexity, historicalAvgMinutes float64) int {
	if historicalAvgMinutes > 0 {
		return int(historicalAvgMinutes)
	}

	base, ok := baseMinutes[complexity]
	if !ok {
		base = baseMinutes[ComplexityMedium]
	}
	mult, ok := categoryMultiplier[category]
	if !ok {
		mult = 1.0
	}
	return int(float64(base) * mult)
}
