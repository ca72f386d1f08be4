package layer

import (
	"strings"

	"github.com/aws/aws-cdk-go/awscdk/v2/awslambda"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"
)

// LayerVersionAttributes describes a layer version defined outside this app.
type LayerVersionAttributes struct {
	LayerVersionArn string
	// CompatibleRuntimes is optional; a non-nil empty slice is rejected.
	CompatibleRuntimes []awslambda.Runtime
}

type importedLayerVersion struct {
	constructs.Construct
	layerVersionBase
}

// FromLayerVersionArn references an existing layer version by ARN.
func FromLayerVersionArn(scope constructs.Construct, id string, layerVersionArn string) (ILayerVersion, error) {
	return FromLayerVersionAttributes(scope, id, LayerVersionAttributes{LayerVersionArn: layerVersionArn})
}

// FromLayerVersionAttributes references an existing layer version. Imported
// layers declare no layer resource but can still grant permissions.
func FromLayerVersionAttributes(scope constructs.Construct, id string, attrs LayerVersionAttributes) (ILayerVersion, error) {
	if scope == nil {
		return nil, newValidationError(ErrorCodeInvalidArn, "scope", "scope is nil")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, newValidationError(ErrorCodeInvalidName, "id", "construct id is empty")
	}

	arn := strings.TrimSpace(attrs.LayerVersionArn)
	if arn == "" {
		return nil, newValidationError(ErrorCodeInvalidArn, "layerVersionArn", "layer version arn is required")
	}
	if !isToken(arn) {
		if _, err := ParseArn(arn); err != nil {
			return nil, err
		}
	}
	if attrs.CompatibleRuntimes != nil {
		if _, err := runtimeNames(attrs.CompatibleRuntimes); err != nil {
			return nil, err
		}
	}

	if err := checkFreeID(scope, id); err != nil {
		return nil, err
	}
	this := constructs.NewConstruct(scope, jsii.String(id))
	return &importedLayerVersion{
		Construct: this,
		layerVersionBase: layerVersionBase{
			scope:    this,
			arn:      jsii.String(arn),
			runtimes: attrs.CompatibleRuntimes,
		},
	}, nil
}
