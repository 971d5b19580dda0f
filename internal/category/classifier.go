package category

// Classifier evaluates an ordered rule list.
type Classifier struct {
	rules []Rule
	def   Category
}

// New returns a classifier over DefaultRules.
func New() *Classifier {
	return NewWithRules(DefaultRules(), Default)
}

// NewWithRules returns a classifier over rules in the given order. The slice
// is copied so later changes by the caller cannot reorder evaluation.
func NewWithRules(rules []Rule, def Category) *Classifier {
	cp := make([]Rule, len(rules))
	copy(cp, rules)
	return &Classifier{rules: cp, def: def}
}

// Classify returns the label of the first matching rule, or the default.
func (c *Classifier) Classify(name, description string) Category {
	label, _ := c.Explain(name, description)
	return label
}

// Explain is Classify plus the name of the rule that decided, "" for the
// default.
func (c *Classifier) Explain(name, description string) (Category, string) {
	text := NewText(name, description)
	if text.Empty() {
		return c.def, ""
	}
	for _, r := range c.rules {
		if r.Match != nil && r.Match(text) {
			return r.Label, r.Name
		}
	}
	return c.def, ""
}

// Rules returns a copy of the rule list in evaluation order.
func (c *Classifier) Rules() []Rule {
	cp := make([]Rule, len(c.rules))
	copy(cp, c.rules)
	return cp
}

// Repair returns current when it is a known label, otherwise the classified
// label.
func (c *Classifier) Repair(current, name, description string) Category {
	if current != "" && current != string(Other) && IsKnown(current) {
		return Category(current)
	}
	return c.Classify(name, description)
}

var defaultClassifier = New()

// Classify classifies with the built-in rules.
func Classify(name, description string) Category {
	return defaultClassifier.Classify(name, description)
}
