// Command cipherflow runs an end-to-end demonstration of the encrypted
// analytics pipeline: agencies submit encrypted mobility records, the engine
// resolves scheduled decryptions through callbacks, and pattern counters
// tally homomorphically until a reveal is requested.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"cipherflow/internal/blob"
	"cipherflow/internal/core"
	"cipherflow/internal/infra/engine/lattigo"
	"cipherflow/pkg/domain"
)

const deployer = domain.Principal("agency-root")

func main() {
	if err := run(context.Background()); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context) error {
	store, err := core.OpenPersistentStore(deployer)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	var archive blob.Store
	if os.Getenv("CIPHERFLOW_BLOB_DRIVER") != "" {
		archive, err = blob.Open(ctx)
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
	}

	engine, err := lattigo.New(lattigo.Config{Archive: archive})
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	logger := core.NewStdLogger(log.Default())
	svc := core.NewService(store, engine,
		core.WithLogger(logger),
		core.WithEventSink(core.NewLoggerEventSink(logger)),
	)
	engine.SetReceiver(svc)

	agency := domain.Principal("agency-alpha")
	if err := svc.Authorize(ctx, deployer, agency); err != nil {
		return fmt.Errorf("authorize: %w", err)
	}

	// Three regions: a strong immigration hub, an emigration source, and a
	// second hub so one pattern tallies twice.
	regions := []struct {
		name                          string
		inflow, outflow, demographics uint32
	}{
		{"metro-north", 30000, 5000, 50<<16 | 80},
		{"rural-east", 5000, 30000, 100<<16 | 20},
		{"metro-south", 28000, 4000, 60<<16 | 75},
	}

	var ids []domain.RecordID
	for _, r := range regions {
		inflow, err := engine.EncryptUint32(ctx, r.inflow)
		if err != nil {
			return err
		}
		outflow, err := engine.EncryptUint32(ctx, r.outflow)
		if err != nil {
			return err
		}
		demographics, err := engine.EncryptUint32(ctx, r.demographics)
		if err != nil {
			return err
		}
		id, err := svc.Submit(ctx, agency, inflow, outflow, demographics)
		if err != nil {
			return fmt.Errorf("submit %s: %w", r.name, err)
		}
		fmt.Printf("submitted %s as record %d\n", r.name, id)
		ids = append(ids, id)
	}

	for _, id := range ids {
		if _, err := svc.RequestAnalysis(ctx, agency, id); err != nil {
			return fmt.Errorf("request analysis %d: %w", id, err)
		}
	}
	if _, err := engine.Pump(ctx); err != nil {
		return fmt.Errorf("resolve analyses: %w", err)
	}

	for _, id := range ids {
		analysis, err := svc.GetAnalysis(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("record %d: flow=%s trend=%s network=%s\n",
			id, analysis.FlowPattern, analysis.Trend, analysis.Network)
	}

	labels, err := svc.ListLabels(ctx)
	if err != nil {
		return err
	}
	for _, label := range labels {
		if _, err := svc.RequestPatternCountReveal(ctx, agency, label); err != nil {
			return fmt.Errorf("request count reveal %s: %w", label, err)
		}
	}
	if _, err := engine.Pump(ctx); err != nil {
		return fmt.Errorf("resolve count reveals: %w", err)
	}
	for _, label := range labels {
		rc, err := svc.RevealedPatternCount(ctx, label)
		if err != nil {
			return err
		}
		fmt.Printf("pattern %s observed %d times\n", rc.Label, rc.Count)
	}
	return nil
}
