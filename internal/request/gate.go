package request

import "github.com/shopspring/decimal"

// GateConfig carries the thresholds gating workflow transitions. Zero values
// fall back to the platform defaults.
type GateConfig struct {
	// TaxRate is the expected tax fraction of the request amount.
	TaxRate decimal.Decimal
	// TaxTolerance is the absolute variance allowed before the tax check
	// flags the request for adjustment.
	TaxTolerance decimal.Decimal
	// QuotationThreshold is the amount above which three quotations are
	// required instead of one.
	QuotationThreshold decimal.Decimal
}

// DefaultGateConfig returns the platform defaults: 10% tax rate, one currency
// unit of tolerance, quotations escalate above 10,000.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		TaxRate:            decimal.NewFromFloat(0.10),
		TaxTolerance:       decimal.NewFromInt(1),
		QuotationThreshold: decimal.NewFromInt(10000),
	}
}

func (c GateConfig) withDefaults() GateConfig {
	d := DefaultGateConfig()
	if c.TaxRate.IsZero() {
		c.TaxRate = d.TaxRate
	}
	if c.TaxTolerance.IsZero() {
		c.TaxTolerance = d.TaxTolerance
	}
	if c.QuotationThreshold.IsZero() {
		c.QuotationThreshold = d.QuotationThreshold
	}
	return c
}

// Gate evaluates the tax-variance check and the minimum-quotation rule.
type Gate struct {
	cfg GateConfig
}

// NewGate constructs a Gate.
func NewGate(cfg GateConfig) *Gate {
	return &Gate{cfg: cfg.withDefaults()}
}

// QuotationsRequired returns the quotation count a request of the given
// amount must carry before it can be approved.
func (g *Gate) QuotationsRequired(amount decimal.Decimal) int {
	if amount.GreaterThan(g.cfg.QuotationThreshold) {
		return 3
	}
	return 1
}

// CheckQuotations verifies the attached quotation count against the rule.
func (g *Gate) CheckQuotations(amount decimal.Decimal, attached int) error {
	if attached < g.QuotationsRequired(amount) {
		return ErrInsufficientQuotations
	}
	return nil
}

// CheckTax compares the reported tax against the expected amount. A missing
// report counts as the expected value, so only an explicit deviating report
// flags the request.
func (g *Gate) CheckTax(amount decimal.Decimal, reported *decimal.Decimal) TaxCheckResult {
	expected := amount.Mul(g.cfg.TaxRate)
	calculated := expected
	if reported != nil {
		calculated = *reported
	}
	if calculated.Sub(expected).Abs().GreaterThan(g.cfg.TaxTolerance) {
		return TaxCheckPendingAdjustment
	}
	return TaxCheckApproved
}
