// Package inspect compares a deployed layer version with its manifest entry.
package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"github.com/theory-cloud/layertheory/pkg/layer"
	"github.com/theory-cloud/layertheory/pkg/logger"
	"github.com/theory-cloud/layertheory/pkg/manifest"
	"github.com/theory-cloud/layertheory/pkg/observability"
)

type lambdaAPI interface {
	GetLayerVersionByArn(
		ctx context.Context,
		params *lambda.GetLayerVersionByArnInput,
		optFns ...func(*lambda.Options),
	) (*lambda.GetLayerVersionByArnOutput, error)
	GetLayerVersionPolicy(
		ctx context.Context,
		params *lambda.GetLayerVersionPolicyInput,
		optFns ...func(*lambda.Options),
	) (*lambda.GetLayerVersionPolicyOutput, error)
}

// ErrLayerNotFound is returned when the layer version does not exist.
var ErrLayerNotFound = errors.New("inspect: layer version not found")

// Difference is one property whose deployed value differs from the manifest.
type Difference struct {
	Field string
	Want  string
	Got   string
}

// Report is the outcome of one inspection.
type Report struct {
	LayerVersionArn string

	Differences           []Difference
	MissingPermissions    []layer.Permission
	UnexpectedPermissions []layer.Permission
}

// HasDrift reports whether anything differs.
func (r Report) HasDrift() bool {
	return len(r.Differences) > 0 || len(r.MissingPermissions) > 0 || len(r.UnexpectedPermissions) > 0
}

type Inspector struct {
	api lambdaAPI
	log observability.StructuredLogger
}

type inspectorOptions struct {
	api    lambdaAPI
	awsCfg *aws.Config
	log    observability.StructuredLogger
}

type Option func(*inspectorOptions)

func WithAWSConfig(cfg aws.Config) Option {
	return func(opts *inspectorOptions) {
		cfgCopy := cfg
		opts.awsCfg = &cfgCopy
	}
}

func WithAPI(api lambdaAPI) Option {
	return func(opts *inspectorOptions) {
		opts.api = api
	}
}

func WithLogger(log observability.StructuredLogger) Option {
	return func(opts *inspectorOptions) {
		opts.log = log
	}
}

// NewInspector builds an inspector. Without WithAPI it loads the default AWS
// configuration and honours AWS_ENDPOINT_URL (LocalStack and friends).
func NewInspector(ctx context.Context, options ...Option) (*Inspector, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	opts := &inspectorOptions{}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(opts)
	}
	if opts.log == nil {
		opts.log = logger.Logger()
	}

	if opts.api != nil {
		return &Inspector{api: opts.api, log: opts.log}, nil
	}

	var cfg aws.Config
	if opts.awsCfg != nil {
		cfg = *opts.awsCfg
	} else {
		loaded, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("inspect: load aws config: %w", err)
		}
		cfg = loaded
	}

	var lambdaOpts []func(*lambda.Options)
	if endpoint := strings.TrimSpace(os.Getenv("AWS_ENDPOINT_URL")); endpoint != "" {
		lambdaOpts = append(lambdaOpts, func(o *lambda.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	return &Inspector{api: lambda.NewFromConfig(cfg, lambdaOpts...), log: opts.log}, nil
}

// Inspect fetches the layer version at arn and compares it with spec.
func (i *Inspector) Inspect(ctx context.Context, arn string, spec manifest.LayerSpec) (Report, error) {
	parsed, err := layer.ParseArn(arn)
	if err != nil {
		return Report{}, err
	}
	if parsed.Version == 0 {
		return Report{}, fmt.Errorf("inspect: %s is not a layer version arn", arn)
	}
	log := i.log.WithLayer(spec.Name).WithField("layer_version_arn", parsed.String())

	out, err := i.api.GetLayerVersionByArn(ctx, &lambda.GetLayerVersionByArnInput{
		Arn: aws.String(parsed.String()),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return Report{}, fmt.Errorf("%w: %s", ErrLayerNotFound, parsed.String())
		}
		return Report{}, fmt.Errorf("inspect: get layer version: %w", err)
	}

	deployed, err := i.policyPermissions(ctx, parsed)
	if err != nil {
		return Report{}, err
	}

	report := Report{LayerVersionArn: parsed.String()}
	report.Differences = compareProperties(spec, out)
	report.MissingPermissions, report.UnexpectedPermissions = comparePermissions(desiredPermissions(spec), deployed)

	log.Info("layer inspected", map[string]any{
		"differences": len(report.Differences),
		"missing":     len(report.MissingPermissions),
		"unexpected":  len(report.UnexpectedPermissions),
	})
	return report, nil
}

func (i *Inspector) policyPermissions(ctx context.Context, arn layer.Arn) ([]layer.Permission, error) {
	out, err := i.api.GetLayerVersionPolicy(ctx, &lambda.GetLayerVersionPolicyInput{
		LayerName:     aws.String(arn.Unversioned()),
		VersionNumber: aws.Int64(arn.Version),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("inspect: get layer version policy: %w", err)
	}
	if out == nil || out.Policy == nil {
		return nil, nil
	}
	return ParsePolicy(*out.Policy)
}

func compareProperties(spec manifest.LayerSpec, out *lambda.GetLayerVersionByArnOutput) []Difference {
	var diffs []Difference
	add := func(field, want, got string) {
		if want != got {
			diffs = append(diffs, Difference{Field: field, Want: want, Got: got})
		}
	}

	gotRuntimes := make([]string, 0, len(out.CompatibleRuntimes))
	for _, r := range out.CompatibleRuntimes {
		gotRuntimes = append(gotRuntimes, string(r))
	}
	add("runtimes", joinNormalized(spec.Runtimes), joinNormalized(gotRuntimes))

	gotArchs := make([]string, 0, len(out.CompatibleArchitectures))
	for _, a := range out.CompatibleArchitectures {
		gotArchs = append(gotArchs, string(a))
	}
	wantArchs := make([]string, 0, len(spec.Architectures))
	for _, a := range spec.Architectures {
		if arch, err := layer.ArchitectureFromName(a); err == nil {
			wantArchs = append(wantArchs, *arch.Name())
		}
	}
	add("architectures", joinNormalized(wantArchs), joinNormalized(gotArchs))

	add("description", spec.Description, aws.ToString(out.Description))
	add("license", spec.License, aws.ToString(out.LicenseInfo))
	return diffs
}

func joinNormalized(values []string) string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

func desiredPermissions(spec manifest.LayerSpec) []layer.Permission {
	out := make([]layer.Permission, 0, len(spec.Permissions))
	for _, p := range spec.Permissions {
		perm := p.Permission()
		perm.AccountID = normalizePrincipal(perm.AccountID)
		out = append(out, perm)
	}
	return out
}

func comparePermissions(want, got []layer.Permission) (missing, unexpected []layer.Permission) {
	gotSet := map[layer.Permission]bool{}
	for _, p := range got {
		gotSet[p] = true
	}
	wantSet := map[layer.Permission]bool{}
	for _, p := range want {
		wantSet[p] = true
		if !gotSet[p] {
			missing = append(missing, p)
		}
	}
	for _, p := range got {
		if !wantSet[p] {
			unexpected = append(unexpected, p)
		}
	}
	return missing, unexpected
}

type policyDocument struct {
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Effect    string                                `json:"Effect"`
	Principal json.RawMessage                       `json:"Principal"`
	Condition map[string]map[string]json.RawMessage `json:"Condition"`
}

// ParsePolicy extracts the granted permissions from a layer version resource
// policy. Deny statements are ignored.
func ParsePolicy(policy string) ([]layer.Permission, error) {
	var doc policyDocument
	if err := json.Unmarshal([]byte(policy), &doc); err != nil {
		return nil, fmt.Errorf("inspect: decode policy: %w", err)
	}

	var out []layer.Permission
	for _, st := range doc.Statement {
		if !strings.EqualFold(st.Effect, "Allow") {
			continue
		}
		principals, err := statementPrincipals(st.Principal)
		if err != nil {
			return nil, err
		}
		orgs, err := statementOrganizations(st.Condition)
		if err != nil {
			return nil, err
		}
		for _, p := range principals {
			for _, org := range orgs {
				out = append(out, layer.Permission{AccountID: normalizePrincipal(p), OrganizationID: org})
			}
		}
	}
	return out, nil
}

// statementOrganizations returns the aws:PrincipalOrgID values of a
// condition block, or a single empty id when the statement has none.
func statementOrganizations(condition map[string]map[string]json.RawMessage) ([]string, error) {
	var orgs []string
	for _, values := range condition {
		for key, raw := range values {
			if !strings.EqualFold(key, "aws:PrincipalOrgID") {
				continue
			}
			ids, err := stringOrList(raw)
			if err != nil {
				return nil, fmt.Errorf("inspect: decode condition %s: %w", key, err)
			}
			orgs = append(orgs, ids...)
		}
	}
	if len(orgs) == 0 {
		return []string{""}, nil
	}
	sort.Strings(orgs)
	return orgs, nil
}

// stringOrList decodes an IAM policy value written as "x" or ["x", "y"].
func stringOrList(raw json.RawMessage) ([]string, error) {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, errors.New("want a string or a list of strings")
	}
	return many, nil
}

func statementPrincipals(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}, nil
	}

	var mapped map[string]json.RawMessage
	if err := json.Unmarshal(raw, &mapped); err != nil {
		return nil, fmt.Errorf("inspect: decode principal: %w", err)
	}
	awsRaw, ok := mapped["AWS"]
	if !ok {
		return nil, nil
	}
	many, err := stringOrList(awsRaw)
	if err != nil {
		return nil, fmt.Errorf("inspect: decode principal: %w", err)
	}
	return many, nil
}

// normalizePrincipal maps arn:<partition>:iam::<account>:root to the bare account.
func normalizePrincipal(principal string) string {
	principal = strings.TrimSpace(principal)
	if strings.HasPrefix(principal, "arn:") && strings.HasSuffix(principal, ":root") {
		parts := strings.Split(principal, ":")
		if len(parts) == 6 && parts[2] == "iam" {
			return parts[4]
		}
	}
	return principal
}
