package appointments

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"appointly/backend/internal/domain"
)

type CancellationContext struct {
	Appointment domain.Appointment
	Role        domain.Role
	Now         time.Time
}

// Notice is how long before the start the cancellation happened. Negative
// once the appointment has started.
func (c CancellationContext) Notice() time.Duration {
	return c.Appointment.StartTime.Sub(c.Now)
}

type PolicyOutcome struct {
	Rule       string
	FeePercent decimal.Decimal
	Fee        decimal.Decimal
}

func (o PolicyOutcome) apply(p *domain.AppointmentEventPayload) {
	if !o.FeePercent.IsPositive() {
		return
	}
	pct, fee := o.FeePercent, o.Fee
	p.PenaltyPercent = &pct
	p.PenaltyAmount = &fee
}

type CancellationPolicy interface {
	Evaluate(c CancellationContext) PolicyOutcome
}

type NoPenalty struct{}

func (NoPenalty) Evaluate(CancellationContext) PolicyOutcome { return PolicyOutcome{} }

// CancellationRule charges FeePercent of the total price when the actor with
// Role cancels with less than WithinHours notice. An empty Role matches both.
type CancellationRule struct {
	Role        domain.Role     `json:"role"`
	WithinHours int             `json:"within_hours"`
	FeePercent  decimal.Decimal `json:"fee_percent"`
}

// RulePolicy applies the rule with the shortest window that still matches.
type RulePolicy struct {
	rules []CancellationRule
}

func NewRulePolicy(rules []CancellationRule) *RulePolicy {
	sorted := append([]CancellationRule(nil), rules...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].WithinHours < sorted[j].WithinHours })
	return &RulePolicy{rules: sorted}
}

func (p *RulePolicy) Evaluate(c CancellationContext) PolicyOutcome {
	notice := c.Notice()
	for _, r := range p.rules {
		if r.Role != "" && r.Role != c.Role {
			continue
		}
		if notice >= time.Duration(r.WithinHours)*time.Hour {
			continue
		}
		fee := c.Appointment.TotalPrice.Mul(r.FeePercent).Div(decimal.NewFromInt(100)).Round(2)
		return PolicyOutcome{
			Rule:       fmt.Sprintf("%s<%dh", roleLabel(r.Role), r.WithinHours),
			FeePercent: r.FeePercent,
			Fee:        fee,
		}
	}
	return PolicyOutcome{}
}

func roleLabel(r domain.Role) string {
	if r == "" {
		return "any"
	}
	return string(r)
}

// ParseCancellationRules reads the JSON rule table from configuration.
func ParseCancellationRules(raw string) ([]CancellationRule, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var rules []CancellationRule
	if err := json.Unmarshal([]byte(raw), &rules); err != nil {
		return nil, fmt.Errorf("parse cancellation rules: %w", err)
	}
	for i, r := range rules {
		if r.Role != "" {
			role, ok := domain.ParseRole(string(r.Role))
			if !ok {
				return nil, fmt.Errorf("cancellation rule %d: unknown role %q", i, r.Role)
			}
			rules[i].Role = role
		}
		if r.WithinHours <= 0 {
			return nil, fmt.Errorf("cancellation rule %d: within_hours must be positive", i)
		}
		if r.FeePercent.IsNegative() || r.FeePercent.GreaterThan(decimal.NewFromInt(100)) {
			return nil, fmt.Errorf("cancellation rule %d: fee_percent must be between 0 and 100", i)
		}
	}
	return rules, nil
}
