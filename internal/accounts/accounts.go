// Package accounts provides cross-account sessions. Every account except
// the default is reached by assuming its configured role; an account whose
// role cannot be assumed is reported inaccessible, never fatal.
package accounts

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/recoverly-io/recoverly/internal/backend"
	"github.com/recoverly-io/recoverly/internal/errdefs"
	"github.com/recoverly-io/recoverly/internal/model"
)

// SessionProvider yields an AWS config scoped to one account.
type SessionProvider interface {
	AssumeRole(ctx context.Context, accountID string) (aws.Config, error)
}

// STSProvider implements SessionProvider with STS assume-role against each
// account's configured role.
type STSProvider struct {
	base   aws.Config
	roster map[string]*model.AccountContext
}

// NewSTSProvider builds a provider over the account roster. The account
// flagged IsDefault is served with the base credentials directly.
func NewSTSProvider(base aws.Config, roster []*model.AccountContext) *STSProvider {
	m := make(map[string]*model.AccountContext, len(roster))
	for _, a := range roster {
		m[a.AccountID] = a
	}
	return &STSProvider{base: base, roster: m}
}

func (p *STSProvider) AssumeRole(ctx context.Context, accountID string) (aws.Config, error) {
	acct, ok := p.roster[accountID]
	if !ok {
		return aws.Config{}, &errdefs.AccountInaccessible{
			AccountID: accountID,
			Cause:     fmt.Errorf("account is not configured"),
		}
	}
	if acct.IsDefault {
		return p.base, nil
	}

	provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(p.base), acct.RoleARN)
	cfg := p.base.Copy()
	cfg.Credentials = aws.NewCredentialsCache(provider)

	// Resolve once so a broken trust policy fails here, not on first use.
	if _, err := cfg.Credentials.Retrieve(ctx); err != nil {
		return aws.Config{}, &errdefs.AccountInaccessible{AccountID: accountID, Cause: err}
	}
	return cfg, nil
}

// BackendFactory builds account/region scoped recovery-backend clients.
type BackendFactory struct {
	sessions SessionProvider
	policy   *backend.RetryPolicy
}

// NewBackendFactory wires a session provider to the DRS backend constructor.
func NewBackendFactory(sessions SessionProvider, policy *backend.RetryPolicy) *BackendFactory {
	return &BackendFactory{sessions: sessions, policy: policy}
}

func (f *BackendFactory) Backend(ctx context.Context, accountID, region string) (backend.RecoveryBackend, error) {
	cfg, err := f.sessions.AssumeRole(ctx, accountID)
	if err != nil {
		return nil, err
	}
	cfg.Region = region
	return backend.NewDRS(cfg, f.policy), nil
}
