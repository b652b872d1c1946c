package promotion

import "sort"

// IsEligible reports whether the promotion's rules hold for the given facts.
//
// Rules are partitioned by RuleGroup. Within a group, required rules are
// ANDed and optional rules are ORed together as one unit; groups are then
// ANDed against each other. A promotion with no rules is always eligible.
//
// Evaluation is deterministic: rules are visited in SortOrder, and the first
// failing required rule short-circuits. An *InvalidRuleError from any rule
// aborts evaluation so misconfigured promotions surface instead of going
// silently inert.
func IsEligible(p *Promotion, facts Facts) (bool, error) {
	if len(p.Rules) == 0 {
		return true, nil
	}

	rules := make([]Rule, len(p.Rules))
	copy(rules, p.Rules)
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].SortOrder < rules[j].SortOrder
	})

	// Track OR groups in first-seen order; a group passes once any of its
	// optional rules holds.
	groupOrder := make([]string, 0, len(rules))
	groupPassed := make(map[string]bool)

	for _, rule := range rules {
		if rule.Required {
			ok, err := EvalCondition(rule, facts)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
			continue
		}

		group := rule.RuleGroup
		if _, seen := groupPassed[group]; !seen {
			groupOrder = append(groupOrder, group)
			groupPassed[group] = false
		}
		if groupPassed[group] {
			continue
		}
		ok, err := EvalCondition(rule, facts)
		if err != nil {
			return false, err
		}
		if ok {
			groupPassed[group] = true
		}
	}

	for _, group := range groupOrder {
		if !groupPassed[group] {
			return false, nil
		}
	}
	return true, nil
}
