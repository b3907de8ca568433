package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/recoverly-io/recoverly/internal/accounts"
	"github.com/recoverly-io/recoverly/internal/admission"
	"github.com/recoverly-io/recoverly/internal/backend"
	"github.com/recoverly-io/recoverly/internal/capacity"
	"github.com/recoverly-io/recoverly/internal/config"
	"github.com/recoverly-io/recoverly/internal/controlplane"
	"github.com/recoverly-io/recoverly/internal/execution"
	"github.com/recoverly-io/recoverly/internal/store"
	"github.com/recoverly-io/recoverly/internal/syncer"
)

// newService builds the fully wired control-plane service. Every handle is
// constructed here and injected; nothing is process-global.
func newService(ctx context.Context) (*controlplane.Service, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	records := store.NewRecords(store.NewDynamo(dynamodb.NewFromConfig(awsCfg), cfg.Table))

	// Seed the account roster from the config file on first use.
	roster, err := records.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	if len(roster) == 0 && len(cfg.Accounts) > 0 {
		for _, a := range cfg.AccountContexts() {
			if err := records.PutAccount(ctx, a); err != nil {
				return nil, err
			}
			roster = append(roster, a)
		}
	}

	policy := backend.DefaultRetryPolicy()
	sessions := accounts.NewSTSProvider(awsCfg, roster)
	backends := accounts.NewBackendFactory(sessions, policy)

	adm := admission.NewEngine(records, backends)
	exec := execution.NewEngine(records, adm, backends)
	agg := capacity.NewAggregator(backends, cfg.Regions)
	syn := syncer.NewEngine(records, backends, policy)

	return controlplane.New(records, exec, adm, agg, syn), nil
}

// printJSON renders a result object for the caller.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
