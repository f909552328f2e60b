package core

import (
	"errors"
	"testing"

	"cipherflow/pkg/domain"
)

func TestFlowPattern(t *testing.T) {
	cases := []struct {
		name            string
		inflow, outflow uint32
		want            domain.Label
	}{
		{"strong inflow", 30000, 5000, domain.FlowNetImmigrationHub},
		{"strong outflow", 5000, 30000, domain.FlowNetEmigrationSource},
		{"mild inflow", 15000, 10000, domain.FlowBalancedImmigration},
		{"mild outflow", 10000, 15000, domain.FlowBalancedEmigration},
		{"exact tie", 7000, 7000, domain.FlowNeutral},
		{"zero both", 0, 0, domain.FlowNeutral},
		{"double exactly is not strong", 20000, 10000, domain.FlowBalancedImmigration},
		{"just over double", 20001, 10000, domain.FlowNetImmigrationHub},
		{"zero outflow", 1, 0, domain.FlowNetImmigrationHub},
		{"max inflow no wrap", 1<<32 - 1, 1 << 31, domain.FlowBalancedImmigration},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := FlowPattern(c.inflow, c.outflow); got != c.want {
				t.Fatalf("FlowPattern(%d, %d) = %q, want %q", c.inflow, c.outflow, got, c.want)
			}
		})
	}
}

func TestTrendPrediction(t *testing.T) {
	pack := func(growth, base uint32) uint32 { return base<<16 | growth }

	cases := []struct {
		name                          string
		inflow, outflow, demographics uint32
		want                          domain.Label
	}{
		{"strong growth", 30000, 5000, pack(80, 50), domain.TrendStrongGrowth},
		{"moderate growth", 16000, 10000, pack(60, 100), domain.TrendModerateGrowth},
		{"declining", 10500, 10000, pack(20, 100), domain.TrendDeclining},
		{"stable fallback", 3000, 2000, pack(40, 100), domain.TrendStablePattern},
		{"boundary net flow 10000 is not strong", 20000, 10000, pack(80, 50), domain.TrendModerateGrowth},
		{"boundary ratio 70 is not strong", 30000, 5000, pack(70, 100), domain.TrendModerateGrowth},
		{"net flow 1000 is not declining", 11000, 10000, pack(20, 100), domain.TrendStablePattern},
		{"outflow dominant still counts", 5000, 30000, pack(80, 50), domain.TrendStrongGrowth},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := TrendPrediction(c.inflow, c.outflow, c.demographics)
			if err != nil {
				t.Fatalf("TrendPrediction: %v", err)
			}
			if got != c.want {
				t.Fatalf("TrendPrediction(%d, %d, %#x) = %q, want %q", c.inflow, c.outflow, c.demographics, got, c.want)
			}
		})
	}
}

func TestTrendPredictionZeroBase(t *testing.T) {
	_, err := TrendPrediction(30000, 5000, 0x0000_0050)
	var arith domain.ArithmeticError
	if !errors.As(err, &arith) {
		t.Fatalf("TrendPrediction with zero upper half = %v, want ArithmeticError", err)
	}
}

func TestNetworkAnalysis(t *testing.T) {
	cases := []struct {
		name            string
		inflow, outflow uint32
		want            domain.Label
	}{
		{"global hub", 40000, 20000, domain.NetworkGlobalHub},
		{"regional node", 30000, 5000, domain.NetworkRegionalNode},
		{"local connector", 4000, 2000, domain.NetworkLocalConnector},
		{"limited mobility", 2000, 1000, domain.NetworkLimitedMobility},
		{"boundary 50000 is regional", 25000, 25000, domain.NetworkRegionalNode},
		{"boundary 20000 is local", 10000, 10000, domain.NetworkLocalConnector},
		{"boundary 5000 is limited", 2500, 2500, domain.NetworkLimitedMobility},
		{"max values no wrap", 1<<32 - 1, 1<<32 - 1, domain.NetworkGlobalHub},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := NetworkAnalysis(c.inflow, c.outflow); got != c.want {
				t.Fatalf("NetworkAnalysis(%d, %d) = %q, want %q", c.inflow, c.outflow, got, c.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	flow, trend, network, err := Classify(30000, 5000, 0x0032_0050)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if flow != domain.FlowNetImmigrationHub || trend != domain.TrendStrongGrowth || network != domain.NetworkRegionalNode {
		t.Fatalf("Classify = %q, %q, %q", flow, trend, network)
	}

	flow, trend, network, err = Classify(30000, 5000, 0x0000_0050)
	if err == nil {
		t.Fatalf("Classify with undefined ratio succeeded")
	}
	if flow != "" || trend != "" || network != "" {
		t.Fatalf("Classify returned partial labels on error: %q, %q, %q", flow, trend, network)
	}
}
