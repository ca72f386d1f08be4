// Package layer declares AWS Lambda layer versions and their usage
// permissions on top of the CDK CloudFormation resources.
package layer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awslambda"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"

	"github.com/theory-cloud/layertheory/pkg/logger"
)

const (
	maxDescriptionLength = 256
	maxLicenseLength     = 512

	contentProperty = "Content"

	// resourceID names the AWS::Lambda::LayerVersion child of a LayerVersion.
	resourceID = "Resource"
)

// LayerVersionProps configures a layer version.
type LayerVersionProps struct {
	// Code is the layer content. Only S3-backed code (assets, buckets) is valid.
	Code awslambda.Code

	// CompatibleRuntimes is rendered in order. nil omits the property; an
	// empty, non-nil slice is rejected.
	CompatibleRuntimes []awslambda.Runtime

	CompatibleArchitectures []awslambda.Architecture

	Description      string
	License          string
	LayerVersionName string

	// RemovalPolicy is applied to the layer version resource when set.
	RemovalPolicy *awscdk.RemovalPolicy

	Permissions []Permission
}

// ILayerVersion is a declared or imported layer version.
type ILayerVersion interface {
	Node() constructs.Node
	LayerVersionArn() *string
	CompatibleRuntimes() []awslambda.Runtime
	AddPermission(id string, permission Permission) (awslambda.CfnLayerVersionPermission, error)
	Permissions() []Permission
}

// LayerVersion is a layer version declared in this stack.
type LayerVersion struct {
	constructs.Construct
	layerVersionBase

	resource awslambda.CfnLayerVersion
}

var _ ILayerVersion = (*LayerVersion)(nil)

// NewLayerVersion validates props and declares an AWS::Lambda::LayerVersion
// under scope/id.
func NewLayerVersion(scope constructs.Construct, id string, props *LayerVersionProps) (*LayerVersion, error) {
	if scope == nil {
		return nil, fmt.Errorf("layer: scope is nil")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, newValidationError(ErrorCodeInvalidName, "id", "construct id is empty")
	}
	if props == nil || props.Code == nil {
		return nil, newValidationError(ErrorCodeInvalidCode, "code", "layer code is required")
	}

	cfnProps, err := renderProps(props)
	if err != nil {
		return nil, err
	}
	for i, p := range props.Permissions {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("permissions[%d]: %w", i, err)
		}
	}

	if err := checkFreeID(scope, id); err != nil {
		return nil, err
	}
	this := constructs.NewConstruct(scope, jsii.String(id))

	code, err := bindCode(this, props.Code)
	if err == nil {
		err = checkCodeConfig(code)
	}
	if err != nil {
		scope.Node().TryRemoveChild(jsii.String(id))
		return nil, err
	}

	cfnProps.Content = &awslambda.CfnLayerVersion_ContentProperty{
		S3Bucket:        code.S3Location.BucketName,
		S3Key:           code.S3Location.ObjectKey,
		S3ObjectVersion: code.S3Location.ObjectVersion,
	}

	resource := awslambda.NewCfnLayerVersion(this, jsii.String(resourceID), cfnProps)
	if props.RemovalPolicy != nil {
		resource.ApplyRemovalPolicy(*props.RemovalPolicy, nil)
	}
	props.Code.BindToResource(resource, &awslambda.ResourceBindOptions{
		ResourceProperty: jsii.String(contentProperty),
	})

	lv := &LayerVersion{
		Construct: this,
		layerVersionBase: layerVersionBase{
			scope:    this,
			arn:      resource.Ref(),
			runtimes: append([]awslambda.Runtime(nil), props.CompatibleRuntimes...),
		},
		resource: resource,
	}

	for i, p := range props.Permissions {
		if _, err := lv.AddPermission(fmt.Sprintf("Permission%d", i), p); err != nil {
			return nil, err
		}
	}

	logger.Logger().WithField("layer", id).Debug("layer version declared", map[string]any{
		"runtimes":    len(props.CompatibleRuntimes),
		"permissions": len(props.Permissions),
	})
	return lv, nil
}

// Resource exposes the underlying CloudFormation resource.
func (l *LayerVersion) Resource() awslambda.CfnLayerVersion {
	return l.resource
}

func renderProps(props *LayerVersionProps) (*awslambda.CfnLayerVersionProps, error) {
	runtimes, err := runtimeNames(props.CompatibleRuntimes)
	if err != nil {
		return nil, err
	}
	architectures, err := architectureNames(props.CompatibleArchitectures)
	if err != nil {
		return nil, err
	}
	if err := validateRemovalPolicy(props.RemovalPolicy); err != nil {
		return nil, err
	}

	out := &awslambda.CfnLayerVersionProps{
		CompatibleRuntimes:      runtimes,
		CompatibleArchitectures: architectures,
	}

	if props.Description != "" {
		if err := checkLength("description", props.Description, maxDescriptionLength); err != nil {
			return nil, err
		}
		out.Description = jsii.String(props.Description)
	}
	if props.License != "" {
		if err := checkLength("license", props.License, maxLicenseLength); err != nil {
			return nil, err
		}
		out.LicenseInfo = jsii.String(props.License)
	}
	if props.LayerVersionName != "" {
		if !isToken(props.LayerVersionName) {
			if err := validateLayerName(props.LayerVersionName); err != nil {
				return nil, err
			}
		}
		out.LayerName = jsii.String(props.LayerVersionName)
	}
	return out, nil
}

// checkLength counts characters, not bytes, matching the Lambda API limits.
func checkLength(field, value string, limit int) error {
	if isToken(value) {
		return nil
	}
	if n := utf8.RuneCountInString(value); n > limit {
		return newValidationError(ErrorCodeTooLong, field, "must be at most %d characters, got %d", limit, n)
	}
	return nil
}

// checkFreeID reports an id already taken under scope; constructs panics on
// duplicate children.
func checkFreeID(scope constructs.Construct, id string) error {
	if scope.Node().TryFindChild(jsii.String(id)) != nil {
		return newValidationError(ErrorCodeDuplicateID, "id", "construct %q already exists", id)
	}
	return nil
}

func bindCode(scope constructs.Construct, code awslambda.Code) (cfg *awslambda.CodeConfig, err error) {
	// jsii surfaces CDK exceptions (missing asset paths, non-zip files) as panics.
	defer func() {
		if r := recover(); r != nil {
			cfg = nil
			err = newValidationError(ErrorCodeInvalidCode, "code", "bind code: %v", r)
		}
	}()
	return code.Bind(scope), nil
}

func checkCodeConfig(cfg *awslambda.CodeConfig) error {
	if cfg == nil {
		return newValidationError(ErrorCodeInvalidCode, "code", "code produced no configuration")
	}
	if cfg.InlineCode != nil {
		return newValidationError(ErrorCodeInvalidCode, "code", "inline code is not supported for lambda layers")
	}
	if cfg.S3Location == nil || cfg.S3Location.BucketName == nil || cfg.S3Location.ObjectKey == nil {
		return newValidationError(ErrorCodeInvalidCode, "code", "code must define an s3 location")
	}
	return nil
}

func isToken(value string) bool {
	unresolved := awscdk.Token_IsUnresolved(jsii.String(value))
	return unresolved != nil && *unresolved
}
