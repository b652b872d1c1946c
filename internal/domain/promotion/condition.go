package promotion

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ConditionType enumerates the cart and customer facts a rule can test.
type ConditionType string

const (
	CondCartSubtotal       ConditionType = "cart_subtotal"
	CondCartQuantity       ConditionType = "cart_quantity"
	CondProductIDs         ConditionType = "product_ids"
	CondCategoryIDs        ConditionType = "category_ids"
	CondCustomerGroup      ConditionType = "customer_group"
	CondCustomerOrderCount ConditionType = "customer_order_count"
	CondShippingMethod     ConditionType = "shipping_method"
	CondPaymentMethod      ConditionType = "payment_method"
	CondShippingCountry    ConditionType = "shipping_country"
	CondDateRange          ConditionType = "date_range"
	CondDayOfWeek          ConditionType = "day_of_week"
	CondCouponCodePrefix   ConditionType = "coupon_code_prefix"
)

// Operator enumerates rule comparison operators.
type Operator string

const (
	OpEq          Operator = "eq"
	OpNeq         Operator = "neq"
	OpGt          Operator = "gt"
	OpLt          Operator = "lt"
	OpGte         Operator = "gte"
	OpLte         Operator = "lte"
	OpIn          Operator = "in"
	OpNin         Operator = "nin"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpStartsWith  Operator = "starts_with"
	OpEndsWith    Operator = "ends_with"
	OpBetween     Operator = "between"
	OpNotBetween  Operator = "not_between"
)

// Value is a rule's comparison operand. The populated field depends on the
// operator: scalar comparisons use Number or Text, set operators use Set or
// Numbers, and between/not_between use a two-element Numbers or Set (the
// latter holding RFC 3339 timestamps for date_range rules).
type Value struct {
	Number  *decimal.Decimal  `json:"number,omitempty"`
	Numbers []decimal.Decimal `json:"numbers,omitempty"`
	Text    string            `json:"text,omitempty"`
	Set     []string          `json:"set,omitempty"`
}

// Rule is a single condition attached to a promotion. Rules with Required
// unset belong to an OR group named by RuleGroup.
type Rule struct {
	ConditionType ConditionType
	Operator      Operator
	Value         Value
	Required      bool
	RuleGroup     string
	SortOrder     int
}

// InvalidRuleError reports a malformed rule: an unknown condition type, an
// operator the condition type does not support, or an operand of the wrong
// shape. It is a configuration error and is never swallowed as "not eligible".
type InvalidRuleError struct {
	ConditionType ConditionType
	Operator      Operator
	Reason        string
}

func (e *InvalidRuleError) Error() string {
	return fmt.Sprintf("invalid rule %s %s: %s", e.ConditionType, e.Operator, e.Reason)
}

// Facts is the snapshot of cart and customer data that conditions evaluate
/// against. Absent data is represented by zero values, which compare normally:
// a customer with no order history satisfies customer_order_count eq 0.
type Facts struct {
	Subtotal        decimal.Decimal
	TotalQuantity   int
	ProductIDs      []string
	CategoryIDs     []string
	CustomerGroups  []string
	OrderCount      int
	ShippingMethod  string
	PaymentMethod   string
	ShippingCountry string
	CouponCodes     []string
	Now             time.Time
}

// EvalCondition evaluates one rule against the given facts. It returns false
// (not an error) when the referenced data is simply absent, and an
// *InvalidRuleError when the rule itself is misconfigured.
func EvalCondition(rule Rule, facts Facts) (bool, error) {
	switch rule.ConditionType {
	case CondCartSubtotal:
		return compareNumber(rule, facts.Subtotal)
	case CondCartQuantity:
		return compareNumber(rule, decimal.NewFromInt(int64(facts.TotalQuantity)))
	case CondCustomerOrderCount:
		return compareNumber(rule, decimal.NewFromInt(int64(facts.OrderCount)))
	case CondDayOfWeek:
		return compareNumber(rule, decimal.NewFromInt(int64(facts.Now.Weekday())))
	case CondProductIDs:
		return compareSet(rule, facts.ProductIDs)
	case CondCategoryIDs:
		return compareSet(rule, facts.CategoryIDs)
	case CondCustomerGroup:
		return compareSet(rule, facts.CustomerGroups)
	case CondShippingMethod:
		return compareString(rule, facts.ShippingMethod)
	case CondPaymentMethod:
		return compareString(rule, facts.PaymentMethod)
	case CondShippingCountry:
		return compareString(rule, facts.ShippingCountry)
	case CondDateRange:
		return compareTime(rule, facts.Now)
	case CondCouponCodePrefix:
		return compareAnyString(rule, facts.CouponCodes)
	default:
		return false, &InvalidRuleError{
			ConditionType: rule.ConditionType,
			Operator:      rule.Operator,
			Reason:        "unknown condition type",
		}
	}
}

func compareNumber(rule Rule, fact decimal.Decimal) (bool, error) {
	switch rule.Operator {
	case OpEq, OpNeq, OpGt, OpLt, OpGte, OpLte:
		if rule.Value.Number == nil {
			return false, invalidValue(rule, "scalar operator requires a number operand")
		}
		want := *rule.Value.Number
		switch rule.Operator {
		case OpEq:
			return fact.Equal(want), nil
		case OpNeq:
			return !fact.Equal(want), nil
		case OpGt:
			return fact.GreaterThan(want), nil
		case OpLt:
			return fact.LessThan(want), nil
		case OpGte:
			return fact.GreaterThanOrEqual(want), nil
		default:
			return fact.LessThanOrEqual(want), nil
		}
	case OpIn, OpNin:
		if len(rule.Value.Numbers) == 0 {
			return false, invalidValue(rule, "set operator requires a numbers operand")
		}
		found := false
		for _, n := range rule.Value.Numbers {
			if fact.Equal(n) {
				found = true
				break
			}
		}
		return found == (rule.Operator == OpIn), nil
	case OpBetween, OpNotBetween:
		if len(rule.Value.Numbers) != 2 {
			return false, invalidValue(rule, "between operator requires a two-element ordered operand")
		}
		low, high := rule.Value.Numbers[0], rule.Value.Numbers[1]
		inside := fact.GreaterThanOrEqual(low) && fact.LessThanOrEqual(high)
		return inside == (rule.Operator == OpBetween), nil
	default:
		return false, invalidValue(rule, "operator not supported for numeric conditions")
	}
}

func compareString(rule Rule, fact string) (bool, error) {
	switch rule.Operator {
	case OpEq:
		return fact == rule.Value.Text, nil
	case OpNeq:
		return fact != rule.Value.Text, nil
	case OpContains:
		return strings.Contains(fact, rule.Value.Text), nil
	case OpNotContains:
		return !strings.Contains(fact, rule.Value.Text), nil
	case OpStartsWith:
		return strings.HasPrefix(fact, rule.Value.Text), nil
	case OpEndsWith:
		return strings.HasSuffix(fact, rule.Value.Text), nil
	case OpIn, OpNin:
		if len(rule.Value.Set) == 0 {
			return false, invalidValue(rule, "set operator requires a set operand")
		}
		found := false
		for _, s := range rule.Value.Set {
			if fact == s {
				found = true
				break
			}
		}
		return found == (rule.Operator == OpIn), nil
	default:
		return false, invalidValue(rule, "operator not supported for string conditions")
	}
}

// compareAnyString matches when at least one of the facts satisfies the
// string operator. No facts at all is false, not an error: a cart without
// coupon codes simply does not meet a coupon_code_prefix rule.
func compareAnyString(rule Rule, facts []string) (bool, error) {
	for _, f := range facts {
		ok, err := compareString(rule, f)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// compareSet evaluates set-valued facts such as the products in the cart.
// in/nin test for any overlap with the operand set; contains/not_contains
// test membership of a single operand value.
func compareSet(rule Rule, facts []string) (bool, error) {
	switch rule.Operator {
	case OpIn, OpNin:
		if len(rule.Value.Set) == 0 {
			return false, invalidValue(rule, "set operator requires a set operand")
		}
		overlap := false
	outer:
		for _, f := range facts {
			for _, s := range rule.Value.Set {
				if f == s {
					overlap = true
					break outer
				}
			}
		}
		return overlap == (rule.Operator == OpIn), nil
	case OpContains, OpNotContains:
		if rule.Value.Text == "" {
			return false, invalidValue(rule, "contains operator requires a text operand")
		}
		found := false
		for _, f := range facts {
			if f == rule.Value.Text {
				found = true
				break
			}
		}
		return found == (rule.Operator == OpContains), nil
	default:
		return false, invalidValue(rule, "operator not supported for set conditions")
	}
}

func compareTime(rule Rule, now time.Time) (bool, error) {
	switch rule.Operator {
	case OpBetween, OpNotBetween:
		if len(rule.Value.Set) != 2 {
			return false, invalidValue(rule, "date_range requires a two-element ordered operand")
		}
		start, err := time.Parse(time.RFC3339, rule.Value.Set[0])
		if err != nil {
			return false, invalidValue(rule, "invalid start timestamp: "+rule.Value.Set[0])
		}
		end, err := time.Parse(time.RFC3339, rule.Value.Set[1])
		if err != nil {
			return false, invalidValue(rule, "invalid end timestamp: "+rule.Value.Set[1])
		}
		inside := !now.Before(start) && !now.After(end)
		return inside == (rule.Operator == OpBetween), nil
	default:
		return false, invalidValue(rule, "operator not supported for date conditions")
	}
}

func invalidValue(rule Rule, reason string) *InvalidRuleError {
	return &InvalidRuleError{
		ConditionType: rule.ConditionType,
		Operator:      rule.Operator,
		Reason:        reason,
	}
}
