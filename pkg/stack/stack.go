// Package stack turns a layer manifest into a CDK stack.
package stack

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awslambda"
	"github.com/aws/aws-cdk-go/awscdk/v2/awss3"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"

	"github.com/theory-cloud/layertheory/pkg/layer"
	"github.com/theory-cloud/layertheory/pkg/logger"
	"github.com/theory-cloud/layertheory/pkg/manifest"
	"github.com/theory-cloud/layertheory/pkg/naming"
	"github.com/theory-cloud/layertheory/pkg/observability"
)

// Options tune stack synthesis.
type Options struct {
	// Logger defaults to the global logger.
	Logger observability.StructuredLogger

	// ExportOutputs names the per-layer ARN outputs as stack exports.
	ExportOutputs bool
}

// LayerStack is the synthesized stack plus its layers keyed by manifest name.
type LayerStack struct {
	Stack  awscdk.Stack
	Layers map[string]*layer.LayerVersion
}

// LayerNames returns the manifest layer names in sorted order.
func (s *LayerStack) LayerNames() []string {
	out := make([]string, 0, len(s.Layers))
	for name := range s.Layers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Name returns the stack name used for m.
func Name(m *manifest.Manifest) string {
	if name := strings.TrimSpace(m.Stack.Name); name != "" {
		return name
	}
	return naming.BaseName(m.App, m.Stage, m.Tenant) + "-layers"
}

// NewLayerStack declares every manifest layer in a new stack under scope.
func NewLayerStack(scope constructs.Construct, m *manifest.Manifest, opts Options) (*LayerStack, error) {
	if m == nil {
		return nil, fmt.Errorf("stack: manifest is nil")
	}
	log := opts.Logger
	if log == nil {
		log = logger.Logger()
	}

	name := Name(m)
	log = log.WithStack(name)

	props := &awscdk.StackProps{
		StackName: jsii.String(name),
	}
	if m.Stack.Description != "" {
		props.Description = jsii.String(m.Stack.Description)
	}
	if m.Stack.Account != "" || m.Stack.Region != "" {
		env := &awscdk.Environment{}
		if m.Stack.Account != "" {
			env.Account = jsii.String(m.Stack.Account)
		}
		if m.Stack.Region != "" {
			env.Region = jsii.String(m.Stack.Region)
		}
		props.Env = env
	}
	if len(m.Stack.Tags) > 0 {
		tags := make(map[string]*string, len(m.Stack.Tags))
		for k, v := range m.Stack.Tags {
			tags[k] = jsii.String(v)
		}
		props.Tags = &tags
	}

	stack := awscdk.NewStack(scope, jsii.String(name), props)
	out := &LayerStack{
		Stack:  stack,
		Layers: make(map[string]*layer.LayerVersion, len(m.Layers)),
	}

	ids := map[string]string{}
	for _, spec := range m.Layers {
		id := constructID(spec.Name)
		if other, ok := ids[id]; ok {
			return nil, fmt.Errorf("stack: layers %q and %q map to the same construct id %s", other, spec.Name, id)
		}
		ids[id] = spec.Name
	}

	for _, spec := range m.Layers {
		layerLog := log.WithLayer(spec.Name)
		lv, err := declareLayer(stack, m, spec, layerLog)
		if err != nil {
			layerLog.Error("layer declaration failed", map[string]any{"error": err})
			return nil, fmt.Errorf("stack: layer %s: %w", spec.Name, err)
		}
		out.Layers[spec.Name] = lv

		outputProps := &awscdk.CfnOutputProps{
			Value:       lv.LayerVersionArn(),
			Description: jsii.String(fmt.Sprintf("ARN of the %s layer version", spec.Name)),
		}
		if opts.ExportOutputs {
			outputProps.ExportName = jsii.String(naming.ResourceName(m.App, spec.Name+"-layer-arn", m.Stage, m.Tenant))
		}
		awscdk.NewCfnOutput(stack, jsii.String(outputID(spec.Name)), outputProps)
	}

	log.Info("layer stack declared", map[string]any{"layers": len(out.Layers)})
	return out, nil
}

func declareLayer(scope constructs.Construct, m *manifest.Manifest, spec manifest.LayerSpec, log observability.StructuredLogger) (*layer.LayerVersion, error) {
	code, err := layerCode(scope, m, spec)
	if err != nil {
		return nil, err
	}

	props := &layer.LayerVersionProps{
		Code:             code,
		Description:      spec.Description,
		License:          spec.License,
		LayerVersionName: naming.LayerName(m.App, spec.Name, m.Stage, m.Tenant),
	}
	if len(spec.Runtimes) > 0 {
		for _, name := range spec.Runtimes {
			rt, err := layer.RuntimeFromName(name)
			if err != nil {
				return nil, err
			}
			props.CompatibleRuntimes = append(props.CompatibleRuntimes, rt)
		}
	}
	for _, name := range spec.Architectures {
		arch, err := layer.ArchitectureFromName(name)
		if err != nil {
			return nil, err
		}
		props.CompatibleArchitectures = append(props.CompatibleArchitectures, arch)
	}
	if spec.RemovalPolicy != "" {
		policy, err := layer.RemovalPolicyFromName(spec.RemovalPolicy)
		if err != nil {
			return nil, err
		}
		props.RemovalPolicy = &policy
	}

	lv, err := layer.NewLayerVersion(scope, constructID(spec.Name), props)
	if err != nil {
		return nil, err
	}
	for _, p := range spec.Permissions {
		if _, err := lv.AddPermission(p.ID, p.Permission()); err != nil {
			return nil, fmt.Errorf("permission %s: %w", p.ID, err)
		}
	}

	log.Debug("layer declared", map[string]any{
		"layer_name":  props.LayerVersionName,
		"runtimes":    spec.Runtimes,
		"permissions": len(spec.Permissions),
	})
	return lv, nil
}

func layerCode(scope constructs.Construct, m *manifest.Manifest, spec manifest.LayerSpec) (awslambda.Code, error) {
	if path := m.AssetPath(spec); path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("asset: %w", err)
		}
		return awslambda.Code_FromAsset(jsii.String(path), nil), nil
	}

	bucket := awss3.Bucket_FromBucketName(scope, jsii.String(constructID(spec.Name)+"Bucket"), jsii.String(spec.Code.Bucket))
	var version *string
	if spec.Code.ObjectVersion != "" {
		version = jsii.String(spec.Code.ObjectVersion)
	}
	return awslambda.Code_FromBucket(bucket, jsii.String(spec.Code.Key), version), nil
}

// constructID turns a manifest layer name into a PascalCase construct id.
func constructID(name string) string {
	var b strings.Builder
	upper := true
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
			if upper {
				r -= 'a' - 'A'
			}
			b.WriteRune(r)
			upper = false
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			upper = false
		default:
			upper = true
		}
	}
	if b.Len() == 0 {
		return "Layer"
	}
	return b.String() + "Layer"
}

func outputID(name string) string {
	return constructID(name) + "Arn"
}
