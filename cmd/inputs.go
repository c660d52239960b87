package cmd

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/ai"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/apidef"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/authz/identity"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/authz/pathmatch"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/authz/permission"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/corpus"
	"github.com/CodeMonkeyCybersecurity/authzfuzz/pkg/types"
)

var errNoPolicySource = errors.New("either --policy or --objects is required")

// inputPaths names the files a command reads. Empty paths are not loaded.
type inputPaths struct {
	OpenAPI    string
	Corpus     string
	Policy     string
	Objects    string
	Principals string
}

type inputs struct {
	definition *apidef.Definition
	corpus     *corpus.Corpus
	model      *permission.Model
	inventory  permission.Inventory
	principals []types.Principal
}

// loadInputs reads every named file concurrently and returns the first error.
func loadInputs(paths inputPaths) (*inputs, error) {
	in := &inputs{}
	var g errgroup.Group

	if paths.OpenAPI != "" {
		g.Go(func() error {
			def, err := apidef.Load(paths.OpenAPI)
			if err != nil {
				return fmt.Errorf("failed to load API definition: %w", err)
			}
			in.definition = def
			return nil
		})
	}

	if paths.Corpus != "" {
		g.Go(func() error {
			c, err := corpus.Load(paths.Corpus)
			if err != nil {
				return fmt.Errorf("failed to load corpus: %w", err)
			}
			in.corpus = c
			return nil
		})
	}

	if paths.Policy != "" {
		g.Go(func() error {
			m, err := permission.LoadCSV(paths.Policy)
			if err != nil {
				return fmt.Errorf("failed to load policy: %w", err)
			}
			in.model = m
			return nil
		})
	}

	if paths.Objects != "" {
		g.Go(func() error {
			inv, err := corpus.LoadInventory(paths.Objects)
			if err != nil {
				return fmt.Errorf("failed to load object inventory: %w", err)
			}
			in.inventory = inv
			return nil
		})
	}

	if paths.Principals != "" {
		g.Go(func() error {
			p, err := corpus.LoadPrincipals(paths.Principals)
			if err != nil {
				return fmt.Errorf("failed to load principals: %w", err)
			}
			in.principals = p
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return in, nil
}

// knownPrincipals merges corpus discoveries with the explicit principals file.
func (in *inputs) knownPrincipals() []types.Principal {
	var discovered []types.Principal
	if in.corpus != nil {
		discovered = corpus.DiscoverPrincipals(in.corpus)
	}
	return corpus.MergePrincipals(discovered, in.principals)
}

func newExtractor() *identity.Extractor {
	var opts []identity.Option
	if len(cfg.Fuzzer.CookieNames) > 0 {
		opts = append(opts, identity.WithCookieNames(cfg.Fuzzer.CookieNames...))
	}
	if len(cfg.Fuzzer.BodyFields) > 0 {
		opts = append(opts, identity.WithBodyFields(cfg.Fuzzer.BodyFields...))
	}
	return identity.NewExtractor(opts...)
}

// newMatcher builds the template matcher. A configured base path wins over the
// one declared in the API definition.
func newMatcher(def *apidef.Definition) *pathmatch.Matcher {
	basePath := cfg.Target.BasePath
	if basePath == "" {
		basePath = def.BasePath
	}
	return pathmatch.New(def.Templates(), pathmatch.WithBasePath(basePath))
}

func classifierConfig() ai.Config {
	c := cfg.Classifier
	return ai.Config{
		Provider:        c.Provider,
		APIKey:          c.APIKey,
		Model:           c.Model,
		BaseURL:         c.BaseURL,
		AzureEndpoint:   c.AzureEndpoint,
		AzureAPIKey:     c.AzureAPIKey,
		AzureDeployment: c.AzureDeployment,
		AzureAPIVersion: c.AzureAPIVersion,
		MaxTokens:       c.MaxTokens,
		Temperature:     c.Temperature,
		Timeout:         c.Timeout,
		MaxCostPerCall:  c.MaxCostPerCall,
	}
}

// inferModel asks the configured chat model for the permission matrix.
func inferModel(ctx context.Context, in *inputs, extractor *identity.Extractor) (*permission.Model, error) {
	client, err := ai.NewClient(classifierConfig(), log.WithComponent("classifier"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", permission.ErrConfiguration, err)
	}
	defer client.Close()

	if !client.IsEnabled() {
		return nil, fmt.Errorf("%w: no classifier API key configured (set OPENAI_API_KEY)", permission.ErrConfiguration)
	}

	bundle := permission.NewBundle(in.definition, corpus.AccessPatterns(in.corpus, extractor), in.inventory)
	log.Infow("Inferring permission model",
		"model", client.Model(),
		"operations", len(bundle.Operations),
		"access_patterns", len(bundle.AccessPatterns),
		"object_types", len(bundle.Objects),
	)

	model, err := permission.Build(ctx, ai.NewPolicyClassifier(client), bundle)
	if err != nil {
		return nil, err
	}
	log.Infow("Permission model inferred", "entries", model.Len(), "principals", len(model.Principals()))
	return model, nil
}

// resolveModel prefers a policy file and falls back to inference.
func resolveModel(ctx context.Context, in *inputs, extractor *identity.Extractor) (*permission.Model, error) {
	if in.model != nil {
		return in.model, nil
	}
	if in.inventory == nil {
		return nil, errNoPolicySource
	}
	return inferModel(ctx, in, extractor)
}
