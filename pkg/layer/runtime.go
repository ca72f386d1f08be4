package layer

import (
	"strings"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awslambda"
	"github.com/aws/jsii-runtime-go"
)

const (
	maxCompatibleRuntimes      = 15
	maxCompatibleArchitectures = 2
)

var runtimeFamilies = []struct {
	prefix string
	family awslambda.RuntimeFamily
}{
	{"nodejs", awslambda.RuntimeFamily_NODEJS},
	{"python", awslambda.RuntimeFamily_PYTHON},
	{"java", awslambda.RuntimeFamily_JAVA},
	{"dotnet", awslambda.RuntimeFamily_DOTNET_CORE},
	{"ruby", awslambda.RuntimeFamily_RUBY},
	{"go", awslambda.RuntimeFamily_GO},
	{"provided", awslambda.RuntimeFamily_OTHER},
}

// RuntimeFromName builds a runtime from its Lambda identifier (python3.12,
// nodejs20.x, provided.al2023, ...). The family is inferred from the prefix.
func RuntimeFromName(name string) (awslambda.Runtime, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, newValidationError(ErrorCodeInvalidRuntime, "compatibleRuntimes", "runtime name is empty")
	}
	for _, rf := range runtimeFamilies {
		if strings.HasPrefix(name, rf.prefix) {
			return awslambda.NewRuntime(jsii.String(name), rf.family, nil), nil
		}
	}
	return nil, newValidationError(ErrorCodeInvalidRuntime, "compatibleRuntimes", "unknown runtime family for %q", name)
}

// ArchitectureFromName accepts the Lambda architecture identifiers x86_64 and arm64.
func ArchitectureFromName(name string) (awslambda.Architecture, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "x86_64", "x86-64", "amd64":
		return awslambda.Architecture_X86_64(), nil
	case "arm64", "aarch64":
		return awslambda.Architecture_ARM_64(), nil
	default:
		return nil, newValidationError(ErrorCodeInvalidArchitecture, "compatibleArchitectures", "unsupported architecture %q", name)
	}
}

// RemovalPolicyFromName maps retain, destroy and retain-on-update-or-delete to
// their CDK removal policies.
func RemovalPolicyFromName(name string) (awscdk.RemovalPolicy, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-")
	switch normalized {
	case "retain":
		return awscdk.RemovalPolicy_RETAIN, nil
	case "destroy", "delete":
		return awscdk.RemovalPolicy_DESTROY, nil
	case "retain-on-update-or-delete":
		return awscdk.RemovalPolicy_RETAIN_ON_UPDATE_OR_DELETE, nil
	default:
		return "", newValidationError(ErrorCodeInvalidRemoval, "removalPolicy", "unsupported removal policy %q", name)
	}
}

func runtimeNames(runtimes []awslambda.Runtime) (*[]*string, error) {
	if runtimes == nil {
		return nil, nil
	}
	if len(runtimes) == 0 {
		return nil, newValidationError(ErrorCodeNoRuntimes, "compatibleRuntimes", "attempted to define a lambda layer that supports no runtime")
	}
	if len(runtimes) > maxCompatibleRuntimes {
		return nil, newValidationError(ErrorCodeTooManyRuntimes, "compatibleRuntimes", "at most %d runtimes are allowed, got %d", maxCompatibleRuntimes, len(runtimes))
	}

	names := make([]*string, 0, len(runtimes))
	for _, rt := range runtimes {
		if rt == nil || rt.Name() == nil || *rt.Name() == "" {
			return nil, newValidationError(ErrorCodeInvalidRuntime, "compatibleRuntimes", "runtime without a name")
		}
		names = append(names, rt.Name())
	}
	return &names, nil
}

func architectureNames(architectures []awslambda.Architecture) (*[]*string, error) {
	if len(architectures) == 0 {
		return nil, nil
	}
	if len(architectures) > maxCompatibleArchitectures {
		return nil, newValidationError(ErrorCodeInvalidArchitecture, "compatibleArchitectures", "at most %d architectures are allowed, got %d", maxCompatibleArchitectures, len(architectures))
	}

	seen := map[string]bool{}
	names := make([]*string, 0, len(architectures))
	for _, arch := range architectures {
		if arch == nil || arch.Name() == nil {
			return nil, newValidationError(ErrorCodeInvalidArchitecture, "compatibleArchitectures", "architecture without a name")
		}
		name := *arch.Name()
		if seen[name] {
			return nil, newValidationError(ErrorCodeInvalidArchitecture, "compatibleArchitectures", "duplicate architecture %q", name)
		}
		seen[name] = true
		names = append(names, jsii.String(name))
	}
	return &names, nil
}

func validateRemovalPolicy(policy *awscdk.RemovalPolicy) error {
	if policy == nil {
		return nil
	}
	switch *policy {
	case awscdk.RemovalPolicy_RETAIN, awscdk.RemovalPolicy_DESTROY, awscdk.RemovalPolicy_RETAIN_ON_UPDATE_OR_DELETE:
		return nil
	default:
		return newValidationError(ErrorCodeInvalidRemoval, "removalPolicy", "layer versions do not support the %q removal policy", string(*policy))
	}
}
