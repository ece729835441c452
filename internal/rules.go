package internal

import (
	"log"

	"github.com/Knetic/govaluate"
)

// Rule forwards matching events to a topic, optionally restricted to a
// subset of the configured sink drivers.
type Rule struct {
	When    string   `yaml:"when"`
	Emit    string   `yaml:"emit"`
	Drivers []string `yaml:"drivers"`
}

// RuleMatch is one matched rule: the topic to publish on and the drivers
// it is restricted to (empty means all configured drivers).
type RuleMatch struct {
	Topic   string
	Drivers []string
}

type compiledRule struct {
	emit    string
	drivers []string
	expr    *govaluate.EvaluableExpression
}

// RuleEngine evaluates forwarding rules against the flattened payload of
// an accepted delivery.
type RuleEngine struct {
	rules  []compiledRule
	strict bool
	logger *log.Logger
}

func NewRuleEngine(cfg RulesConfig) (*RuleEngine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	rules := make([]compiledRule, 0, len(cfg.Rules))
	for _, rule := range cfg.Rules {
		expr, err := govaluate.NewEvaluableExpression(rule.When)
		if err != nil {
			return nil, err
		}
		rules = append(rules, compiledRule{emit: rule.Emit, drivers: rule.Drivers, expr: expr})
	}

	return &RuleEngine{rules: rules, strict: cfg.Strict, logger: logger}, nil
}

// Evaluate returns the matches for the event. Expressions referencing
// fields absent from the payload simply do not match; in strict mode the
// evaluation failure is logged.
func (r *RuleEngine) Evaluate(event Event) []RuleMatch {
	if len(r.rules) == 0 {
		return nil
	}

	data := event.flattened()
	matches := make([]RuleMatch, 0, 1)
	for _, rule := range r.rules {
		result, err := rule.expr.Evaluate(data)
		if err != nil {
			if r.strict {
				r.logger.Printf("rule eval failed for %s: %v", event.Name, err)
			}
			continue
		}
		ok, _ := result.(bool)
		if ok {
			matches = append(matches, RuleMatch{Topic: rule.emit, Drivers: rule.drivers})
		}
	}
	return matches
}
