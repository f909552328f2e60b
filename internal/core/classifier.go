package core

import "cipherflow/pkg/domain"

// The classifier is pure and deterministic over revealed uint32 values. No
// state, no I/O; every rule set is total except where an arithmetic guard
// applies.

// FlowPattern classifies the inflow/outflow relationship. Ties fall through
// to NeutralFlow.
func FlowPattern(inflow, outflow uint32) domain.Label {
	switch {
	case uint64(inflow) > 2*uint64(outflow):
		return domain.FlowNetImmigrationHub
	case uint64(outflow) > 2*uint64(inflow):
		return domain.FlowNetEmigrationSource
	case inflow > outflow:
		return domain.FlowBalancedImmigration
	case outflow > inflow:
		return domain.FlowBalancedEmigration
	default:
		return domain.FlowNeutral
	}
}

// TrendPrediction classifies growth from net flow and the demographic word.
// The word packs a growth ratio as two unsigned 16-bit halves; a zero upper
// half makes the ratio undefined and fails the analysis with ArithmeticError
// rather than producing a sentinel label.
func TrendPrediction(inflow, outflow, demographics uint32) (domain.Label, error) {
	var netFlow uint32
	if inflow > outflow {
		netFlow = inflow - outflow
	} else {
		netFlow = outflow - inflow
	}
	low16 := demographics & 0xFFFF
	high16 := demographics >> 16
	if high16 == 0 {
		return "", domain.ArithmeticError{Op: "demographic growth ratio"}
	}
	ratio := (low16 * 100) / high16

	switch {
	case netFlow > 10000 && ratio > 70:
		return domain.TrendStrongGrowth, nil
	case netFlow > 5000 && ratio > 50:
		return domain.TrendModerateGrowth, nil
	case netFlow < 1000 && ratio < 30:
		return domain.TrendDeclining, nil
	default:
		return domain.TrendStablePattern, nil
	}
}

// NetworkAnalysis classifies total mobility volume. The sum is computed in
// uint64 so two uint32 inputs cannot wrap.
func NetworkAnalysis(inflow, outflow uint32) domain.Label {
	total := uint64(inflow) + uint64(outflow)
	switch {
	case total > 50000:
		return domain.NetworkGlobalHub
	case total > 20000:
		return domain.NetworkRegionalNode
	case total > 5000:
		return domain.NetworkLocalConnector
	default:
		return domain.NetworkLimitedMobility
	}
}

// Classify derives all three labels for a revealed record.
func Classify(inflow, outflow, demographics uint32) (flow, trend, network domain.Label, err error) {
	flow = FlowPattern(inflow, outflow)
	trend, err = TrendPrediction(inflow, outflow, demographics)
	if err != nil {
		return "", "", "", err
	}
	network = NetworkAnalysis(inflow, outflow)
	return flow, trend, network, nil
}
