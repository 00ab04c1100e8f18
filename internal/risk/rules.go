package risk

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Rule is one weighted condition over a vendor feature vector.
type Rule struct {
	ID         string
	Expression string  // CEL, must return bool
	Severity   float64 // 0-100
	Weight     float64

	// Reason is the message when the rule fires. A %s verb is replaced by
	// the value of ReasonFeature, rendered as a percentage when Percent is set.
	Reason        string
	ReasonFeature string
	Percent       bool
}

// Contribution returns the points a fired rule adds.
func (r Rule) Contribution() float64 {
	return r.Severity * r.Weight
}

// DefaultRules returns the eleven standard vendor rules.
func DefaultRules() []Rule {
	return []Rule{
		{ID: "RS-01", Expression: "registration_cancelled", Severity: 100, Weight: 0.20,
			Reason: "GST registration is CANCELLED"},
		{ID: "RS-02", Expression: "mismatch_rate > 0.3", Severity: 80, Weight: 0.15,
			Reason: "Mismatch rate is high (%s)", ReasonFeature: "mismatch_rate", Percent: true},
		{ID: "RS-03", Expression: "mismatch_rate > 0.1 && mismatch_rate <= 0.3", Severity: 40, Weight: 0.15,
			Reason: "Mismatch rate is elevated (%s)", ReasonFeature: "mismatch_rate", Percent: true},
		{ID: "RS-04", Expression: "missing_in_statement_rate > 0.2", Severity: 70, Weight: 0.10,
			Reason: "High rate of invoices missing from buyer statements (%s)", ReasonFeature: "missing_in_statement_rate", Percent: true},
		{ID: "RS-05", Expression: "filing_regularity < 0.5", Severity: 90, Weight: 0.15,
			Reason: "Poor filing regularity (%s)", ReasonFeature: "filing_regularity", Percent: true},
		{ID: "RS-06", Expression: "filing_regularity >= 0.5 && filing_regularity < 0.8", Severity: 40, Weight: 0.10,
			Reason: "Irregular filing pattern (%s)", ReasonFeature: "filing_regularity", Percent: true},
		{ID: "RS-07", Expression: "payment_coverage < 0.5", Severity: 80, Weight: 0.10,
			Reason: "Severe tax underpayment (%s coverage)", ReasonFeature: "payment_coverage", Percent: true},
		{ID: "RS-08", Expression: "payment_coverage >= 0.5 && payment_coverage < 0.8", Severity: 30, Weight: 0.05,
			Reason: "Partial tax payment (%s coverage)", ReasonFeature: "payment_coverage", Percent: true},
		{ID: "RS-09", Expression: "circular_trade_flag", Severity: 100, Weight: 0.10,
			Reason: "Involved in circular trading pattern"},
		{ID: "RS-10", Expression: "late_filings > 2", Severity: 50, Weight: 0.05,
			Reason: "Frequent late filings (%s)", ReasonFeature: "late_filings"},
		{ID: "RS-11", Expression: "cancelled_einvoice_flag", Severity: 60, Weight: 0.05,
			Reason: "Has cancelled e-invoices"},
	}
}

// RuleResult is the scorer's output for one vendor.
type RuleResult struct {
	Score    float64
	Reasons  []string
	FiredIDs []string
}

type compiledRule struct {
	rule    Rule
	program cel.Program
}

// RuleScorer evaluates compiled rules against feature vectors.
// Safe for concurrent use after construction.
type RuleScorer struct {
	rules  []compiledRule
	logger *slog.Logger
}

// NewRuleScorer compiles rules. Any rule that fails to compile or does not
// return bool is rejected.
func NewRuleScorer(rules []Rule, logger *slog.Logger) (*RuleScorer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	env, err := featureEnv()
	if err != nil {
		return nil, err
	}

	s := &RuleScorer{logger: logger}
	for _, r := range rules {
		ast, issues := env.Compile(r.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("failed to compile rule %s: %w", r.ID, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("rule %s: expression must return bool, got %s", r.ID, ast.OutputType())
		}
		program, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("failed to create program for rule %s: %w", r.ID, err)
		}
		s.rules = append(s.rules, compiledRule{rule: r, program: program})
	}
	return s, nil
}

// RulesCount returns the number of compiled rules.
func (s *RuleScorer) RulesCount() int {
	return len(s.rules)
}

// Score evaluates every rule in order. A rule that errors at evaluation is
// logged and skipped.
func (s *RuleScorer) Score(v domain.VendorFeatureVector) RuleResult {
	activation := Activation(v)
	res := RuleResult{Reasons: []string{}, FiredIDs: []string{}}

	for _, cr := range s.rules {
		out, _, err := cr.program.Eval(activation)
		if err != nil {
			s.logger.Warn("rule evaluation failed", "ruleId", cr.rule.ID, "vendorId", v.VendorID, "error", err)
			continue
		}
		if fired, ok := out.(types.Bool); !ok || !bool(fired) {
			continue
		}
		res.Score += cr.rule.Contribution()
		res.Reasons = append(res.Reasons, reason(cr.rule, activation))
		res.FiredIDs = append(res.FiredIDs, cr.rule.ID)
	}

	res.Score = math.Max(0, math.Min(res.Score, 100))
	return res
}

func reason(r Rule, activation map[string]any) string {
	if r.ReasonFeature == "" || !strings.Contains(r.Reason, "%s") {
		return r.Reason
	}
	var rendered string
	switch val := activation[r.ReasonFeature].(type) {
	case float64:
		if r.Percent {
			rendered = fmt.Sprintf("%.1f%%", val*100)
		} else {
			rendered = fmt.Sprintf("%.2f", val)
		}
	case int64:
		rendered = fmt.Sprintf("%d", val)
	default:
		rendered = fmt.Sprint(val)
	}
	return fmt.Sprintf(r.Reason, rendered)
}

// featureEnv declares every feature as a CEL variable.
func featureEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("registration_cancelled", cel.BoolType),
		cel.Variable("invoice_count", cel.IntType),
		cel.Variable("total_taxable_value", cel.DoubleType),
		cel.Variable("unique_counterparties", cel.IntType),
		cel.Variable("returns_filed", cel.IntType),
		cel.Variable("late_filings", cel.IntType),
		cel.Variable("total_paid", cel.DoubleType),
		cel.Variable("payment_coverage", cel.DoubleType),
		cel.Variable("mismatch_count", cel.IntType),
		cel.Variable("mismatch_rate", cel.DoubleType),
		cel.Variable("missing_in_statement_count", cel.IntType),
		cel.Variable("missing_in_statement_rate", cel.DoubleType),
		cel.Variable("filing_regularity", cel.DoubleType),
		cel.Variable("circular_trade_flag", cel.BoolType),
		cel.Variable("cancelled_einvoice_flag", cel.BoolType),
		cel.Variable("avg_invoice_value", cel.DoubleType),
		cel.Variable("max_invoice_value", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// Activation maps a feature vector onto CEL variables.
func Activation(v domain.VendorFeatureVector) map[string]any {
	return map[string]any{
		"registration_cancelled":     v.RegistrationCancelled,
		"invoice_count":              int64(v.InvoiceCount),
		"total_taxable_value":        v.TotalTaxableValue,
		"unique_counterparties":      int64(v.UniqueCounterparties),
		"returns_filed":              int64(v.ReturnsFiled),
		"late_filings":               int64(v.LateFilings),
		"total_paid":                 v.TotalPaid,
		"payment_coverage":           v.PaymentCoverage,
		"mismatch_count":             int64(v.MismatchCount),
		"mismatch_rate":              v.MismatchRate,
		"missing_in_statement_count": int64(v.MissingInStatementCount),
		"missing_in_statement_rate":  v.MissingInStatementRate,
		"filing_regularity":          v.FilingRegularity,
		"circular_trade_flag":        v.CircularTradeFlag,
		"cancelled_einvoice_flag":    v.CancelledEInvoiceFlag,
		"avg_invoice_value":          v.AvgInvoiceValue,
		"max_invoice_value":          v.MaxInvoiceValue,
	}
}
