package inspect

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theory-cloud/layertheory/pkg/layer"
	"github.com/theory-cloud/layertheory/pkg/manifest"
	"github.com/theory-cloud/layertheory/pkg/observability"
)

const testArn = "arn:aws:lambda:us-east-1:123456789012:layer:payments-acme-utils-live:7"

type fakeAPI struct {
	version    *lambda.GetLayerVersionByArnOutput
	versionErr error
	policy     *string
	policyErr  error

	gets     []*lambda.GetLayerVersionByArnInput
	policies []*lambda.GetLayerVersionPolicyInput
}

func (f *fakeAPI) GetLayerVersionByArn(
	_ context.Context,
	params *lambda.GetLayerVersionByArnInput,
	_ ...func(*lambda.Options),
) (*lambda.GetLayerVersionByArnOutput, error) {
	f.gets = append(f.gets, params)
	if f.versionErr != nil {
		return nil, f.versionErr
	}
	return f.version, nil
}

func (f *fakeAPI) GetLayerVersionPolicy(
	_ context.Context,
	params *lambda.GetLayerVersionPolicyInput,
	_ ...func(*lambda.Options),
) (*lambda.GetLayerVersionPolicyOutput, error) {
	f.policies = append(f.policies, params)
	if f.policyErr != nil {
		return nil, f.policyErr
	}
	return &lambda.GetLayerVersionPolicyOutput{Policy: f.policy}, nil
}

const matchingPolicy = `{
  "Version": "2012-10-17",
  "Id": "default",
  "Statement": [
    {
      "Sid": "Org",
      "Effect": "Allow",
      "Principal": "*",
      "Action": "lambda:GetLayerVersion",
      "Resource": "arn:aws:lambda:us-east-1:123456789012:layer:payments-acme-utils-live:7",
      "Condition": {"StringEquals": {"aws:PrincipalOrgID": "o-abc123"}}
    },
    {
      "Sid": "Partner",
      "Effect": "Allow",
      "Principal": {"AWS": "arn:aws:iam::210987654321:root"},
      "Action": "lambda:GetLayerVersion",
      "Resource": "arn:aws:lambda:us-east-1:123456789012:layer:payments-acme-utils-live:7"
    }
  ]
}`

func utilsSpec(t *testing.T) manifest.LayerSpec {
	t.Helper()
	m, err := manifest.Load("../manifest/testdata/layers.yaml")
	require.NoError(t, err)
	spec, ok := m.Layer("utils")
	require.True(t, ok)
	return spec
}

func matchingVersion() *lambda.GetLayerVersionByArnOutput {
	return &lambda.GetLayerVersionByArnOutput{
		LayerVersionArn:         aws.String(testArn),
		Version:                 7,
		Description:             aws.String("shared helpers"),
		LicenseInfo:             aws.String("MIT"),
		CompatibleRuntimes:      []types.Runtime{types.RuntimePython313, types.RuntimePython312},
		CompatibleArchitectures: []types.Architecture{types.ArchitectureArm64},
	}
}

func newTestInspector(t *testing.T, api *fakeAPI) (*Inspector, *observability.TestLogger) {
	t.Helper()
	log := observability.NewTestLogger()
	in, err := NewInspector(context.Background(), WithAPI(api), WithLogger(log))
	require.NoError(t, err)
	return in, log
}

func TestInspect_NoDrift(t *testing.T) {
	api := &fakeAPI{version: matchingVersion(), policy: aws.String(matchingPolicy)}
	in, log := newTestInspector(t, api)

	report, err := in.Inspect(context.Background(), testArn, utilsSpec(t))
	require.NoError(t, err)
	assert.False(t, report.HasDrift(), "%+v", report)
	assert.Equal(t, testArn, report.LayerVersionArn)

	require.Len(t, api.gets, 1)
	assert.Equal(t, testArn, aws.ToString(api.gets[0].Arn))
	require.Len(t, api.policies, 1)
	assert.Equal(t, "arn:aws:lambda:us-east-1:123456789012:layer:payments-acme-utils-live", aws.ToString(api.policies[0].LayerName))
	assert.Equal(t, int64(7), aws.ToInt64(api.policies[0].VersionNumber))

	entries := log.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "layer inspected", entries[0].Message)
	assert.Equal(t, "utils", entries[0].Layer)
}

func TestInspect_ReportsPropertyDrift(t *testing.T) {
	version := matchingVersion()
	version.Description = aws.String("old helpers")
	version.CompatibleRuntimes = []types.Runtime{types.RuntimePython312}
	version.CompatibleArchitectures = []types.Architecture{types.ArchitectureX8664}
	version.LicenseInfo = nil

	in, _ := newTestInspector(t, &fakeAPI{version: version, policy: aws.String(matchingPolicy)})
	report, err := in.Inspect(context.Background(), testArn, utilsSpec(t))
	require.NoError(t, err)
	require.True(t, report.HasDrift())

	assert.Equal(t, []Difference{
		{Field: "runtimes", Want: "python3.12,python3.13", Got: "python3.12"},
		{Field: "architectures", Want: "arm64", Got: "x86_64"},
		{Field: "description", Want: "shared helpers", Got: "old helpers"},
		{Field: "license", Want: "MIT", Got: ""},
	}, report.Differences)
	assert.Empty(t, report.MissingPermissions)
	assert.Empty(t, report.UnexpectedPermissions)
}

func TestInspect_ReportsPermissionDrift(t *testing.T) {
	policy := `{"Statement":[
	  {"Effect":"Allow","Principal":"*","Condition":{"StringEquals":{"aws:PrincipalOrgID":"o-abc123"}}},
	  {"Effect":"Allow","Principal":{"AWS":"999999999999"}}
	]}`
	in, _ := newTestInspector(t, &fakeAPI{version: matchingVersion(), policy: aws.String(policy)})

	report, err := in.Inspect(context.Background(), testArn, utilsSpec(t))
	require.NoError(t, err)
	require.True(t, report.HasDrift())
	assert.Empty(t, report.Differences)
	assert.Equal(t, []layer.Permission{{AccountID: "210987654321"}}, report.MissingPermissions)
	assert.Equal(t, []layer.Permission{{AccountID: "999999999999"}}, report.UnexpectedPermissions)
}

func TestInspect_MissingPolicyMeansNoGrants(t *testing.T) {
	api := &fakeAPI{
		version:   matchingVersion(),
		policyErr: &types.ResourceNotFoundException{Message: aws.String("no policy")},
	}
	in, _ := newTestInspector(t, api)

	report, err := in.Inspect(context.Background(), testArn, utilsSpec(t))
	require.NoError(t, err)
	assert.Len(t, report.MissingPermissions, 2)
	assert.Empty(t, report.UnexpectedPermissions)
}

func TestInspect_Errors(t *testing.T) {
	t.Run("invalid arn", func(t *testing.T) {
		api := &fakeAPI{}
		in, _ := newTestInspector(t, api)
		_, err := in.Inspect(context.Background(), "not-an-arn", utilsSpec(t))
		require.Equal(t, layer.ErrorCodeInvalidArn, layer.ErrorCode(err))
		require.Empty(t, api.gets)
	})

	t.Run("unversioned arn", func(t *testing.T) {
		in, _ := newTestInspector(t, &fakeAPI{})
		_, err := in.Inspect(context.Background(), "arn:aws:lambda:us-east-1:123456789012:layer:utils", utilsSpec(t))
		require.ErrorContains(t, err, "not a layer version arn")
	})

	t.Run("layer not found", func(t *testing.T) {
		in, _ := newTestInspector(t, &fakeAPI{
			versionErr: &types.ResourceNotFoundException{Message: aws.String("gone")},
		})
		_, err := in.Inspect(context.Background(), testArn, utilsSpec(t))
		require.ErrorIs(t, err, ErrLayerNotFound)
	})

	t.Run("api failure", func(t *testing.T) {
		boom := errors.New("boom")
		in, _ := newTestInspector(t, &fakeAPI{version: matchingVersion(), policyErr: boom})
		_, err := in.Inspect(context.Background(), testArn, utilsSpec(t))
		require.ErrorIs(t, err, boom)
	})

	t.Run("malformed policy", func(t *testing.T) {
		in, _ := newTestInspector(t, &fakeAPI{version: matchingVersion(), policy: aws.String("{")})
		_, err := in.Inspect(context.Background(), testArn, utilsSpec(t))
		require.ErrorContains(t, err, "decode policy")
	})
}

func TestParsePolicy(t *testing.T) {
	perms, err := ParsePolicy(`{"Statement":[
	  {"Effect":"Allow","Principal":{"AWS":["arn:aws:iam::111111111111:root","222222222222"]}},
	  {"Effect":"Deny","Principal":"*"},
	  {"Effect":"Allow","Principal":{"Service":"lambda.amazonaws.com"}}
	]}`)
	require.NoError(t, err)
	assert.Equal(t, []layer.Permission{
		{AccountID: "111111111111"},
		{AccountID: "222222222222"},
	}, perms)

	_, err = ParsePolicy(`{"Statement":[{"Effect":"Allow","Principal":42}]}`)
	require.Error(t, err)
}

func TestParsePolicy_OrganizationConditionForms(t *testing.T) {
	perms, err := ParsePolicy(`{"Statement":[
	  {"Effect":"Allow","Principal":"*","Condition":{"StringEquals":{"aws:PrincipalOrgID":["o-abc123"]}}},
	  {"Effect":"Allow","Principal":"*","Condition":{"StringEquals":{"aws:PrincipalOrgID":["o-zzz999","o-def456"]}}},
	  {"Effect":"Allow","Principal":"*","Condition":{"StringEquals":{"aws:PrincipalOrgID":"o-ghi789"},"NumericLessThan":{"aws:MultiFactorAuthAge":3600}}}
	]}`)
	require.NoError(t, err)
	assert.Equal(t, []layer.Permission{
		{AccountID: "*", OrganizationID: "o-abc123"},
		{AccountID: "*", OrganizationID: "o-def456"},
		{AccountID: "*", OrganizationID: "o-zzz999"},
		{AccountID: "*", OrganizationID: "o-ghi789"},
	}, perms)

	_, err = ParsePolicy(`{"Statement":[{"Effect":"Allow","Principal":"*","Condition":{"StringEquals":{"aws:PrincipalOrgID":{"id":"o-abc123"}}}}]}`)
	require.ErrorContains(t, err, "aws:PrincipalOrgID")
}

func TestNormalizePrincipal(t *testing.T) {
	assert.Equal(t, "123456789012", normalizePrincipal("arn:aws:iam::123456789012:root"))
	assert.Equal(t, "123456789012", normalizePrincipal("arn:aws-us-gov:iam::123456789012:root"))
	assert.Equal(t, "*", normalizePrincipal(" * "))
	assert.Equal(t, "arn:aws:iam::123456789012:user/root", normalizePrincipal("arn:aws:iam::123456789012:user/root"))
}

func TestNewInspector_UsesEndpointOverride(t *testing.T) {
	t.Setenv("AWS_ENDPOINT_URL", "http://localhost:4566")
	in, err := NewInspector(context.Background(), WithAWSConfig(aws.Config{Region: "us-east-1"}))
	require.NoError(t, err)

	client, ok := in.api.(*lambda.Client)
	require.True(t, ok)
	assert.Equal(t, "http://localhost:4566", aws.ToString(client.Options().BaseEndpoint))
}
