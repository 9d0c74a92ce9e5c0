package cmd

import (
	"context"

	"github.com/nithinmohantk/fhir-security/pkg/clierror"
	"github.com/nithinmohantk/fhir-security/pkg/dpop"
	"github.com/nithinmohantk/fhir-security/pkg/fhir"
	"github.com/nithinmohantk/fhir-security/pkg/fhirclient"
	"github.com/nithinmohantk/fhir-security/pkg/oauth"
)

// session bundles the per-invocation key material and signed clients.
// The key pair lives only for the lifetime of the process.
type session struct {
	cfg       *Config
	keys      *dpop.KeyPair
	signer    *dpop.Signer
	lifecycle *oauth.Lifecycle
	repo      *fhir.Repo
}

// newSession generates a fresh key pair and authenticates against the
// configured token endpoint.
func newSession(ctx context.Context) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	keys, err := dpop.GenerateKeyPair()
	if err != nil {
		return nil, clierror.KeyUnavailable(err)
	}

	signer := dpop.NewSigner(keys)
	nonces := dpop.NewNonceTracker()

	lifecycle, err := oauth.New(oauth.Config{
		TokenURL: cfg.TokenURL,
		ClientID: cfg.ClientID,
		Signer:   signer,
		Nonces:   nonces,
	})
	if err != nil {
		return nil, clierror.FromError(err, cfg.TokenURL)
	}

	if _, err := lifecycle.Authenticate(ctx, cfg.Scope); err != nil {
		return nil, clierror.FromError(err, cfg.TokenURL)
	}

	client, err := fhirclient.NewClient(cfg.ServerURL, signer, lifecycle,
		fhirclient.WithNonceTracker(nonces))
	if err != nil {
		return nil, clierror.FromError(err, cfg.ServerURL)
	}

	return &session{
		cfg:       cfg,
		keys:      keys,
		signer:    signer,
		lifecycle: lifecycle,
		repo:      fhir.NewRepo(client),
	}, nil
}

// Close wipes the session key.
func (s *session) Close() {
	s.keys.Wipe()
}
