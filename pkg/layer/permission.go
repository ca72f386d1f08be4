package layer

import (
	"regexp"
	"strings"

	"github.com/aws/aws-cdk-go/awscdk/v2/awslambda"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"
)

const (
	getLayerVersionAction = "lambda:GetLayerVersion"

	// AnyAccount grants usage to every account, or to every account of an
	// organization when OrganizationID is set.
	AnyAccount = "*"
)

var principalPattern = regexp.MustCompile(`^(\d{12}|\*|arn:[a-zA-Z0-9-]+:iam::\d{12}:root)$`)

// Permission grants lambda:GetLayerVersion on a layer version.
type Permission struct {
	// AccountID is a 12 digit account, an account root ARN or "*".
	AccountID string
	// OrganizationID restricts a "*" grant to the accounts of one organization.
	OrganizationID string
}

// Validate checks the principal and organization constraints.
func (p Permission) Validate() error {
	account := strings.TrimSpace(p.AccountID)
	if account == "" {
		return newValidationError(ErrorCodeInvalidPrincipal, "accountId", "account id is required")
	}
	if p.OrganizationID != "" && account != AnyAccount {
		return newValidationError(ErrorCodeOrganizationAccount, "organizationId",
			"OrganizationId can only be specified if AwsAccountId is '*', but it is %s", account)
	}
	if isToken(account) {
		return nil
	}
	if !principalPattern.MatchString(account) {
		return newValidationError(ErrorCodeInvalidPrincipal, "accountId", "%q is not an account id, account root arn or '*'", account)
	}
	return nil
}

// ValidatePermissionID rejects ids AddPermission can never accept: empty ids
// and the id of the layer version resource itself.
func ValidatePermissionID(id string) error {
	switch strings.TrimSpace(id) {
	case "":
		return newValidationError(ErrorCodeDuplicateID, "id", "permission id is empty")
	case resourceID:
		return newValidationError(ErrorCodeDuplicateID, "id", "permission id %q is reserved for the layer version resource", resourceID)
	}
	return nil
}

type layerVersionBase struct {
	scope    constructs.Construct
	arn      *string
	runtimes []awslambda.Runtime

	permissions   []Permission
	permissionIDs map[string]bool
}

// LayerVersionArn is the ARN of the layer version. For declared layers it is a
// reference token to the resource.
func (b *layerVersionBase) LayerVersionArn() *string {
	return b.arn
}

// CompatibleRuntimes returns the runtimes the layer was declared with, or nil
// when unspecified.
func (b *layerVersionBase) CompatibleRuntimes() []awslambda.Runtime {
	if b.runtimes == nil {
		return nil
	}
	return append([]awslambda.Runtime(nil), b.runtimes...)
}

// Permissions returns the permissions added so far, in declaration order.
func (b *layerVersionBase) Permissions() []Permission {
	return append([]Permission(nil), b.permissions...)
}

// AddPermission declares an AWS::Lambda::LayerVersionPermission granting
// lambda:GetLayerVersion to the given principal.
func (b *layerVersionBase) AddPermission(id string, permission Permission) (awslambda.CfnLayerVersionPermission, error) {
	id = strings.TrimSpace(id)
	if err := ValidatePermissionID(id); err != nil {
		return nil, err
	}
	if err := permission.Validate(); err != nil {
		return nil, err
	}
	if b.permissionIDs[id] || b.scope.Node().TryFindChild(jsii.String(id)) != nil {
		return nil, newValidationError(ErrorCodeDuplicateID, "id", "permission %q already exists", id)
	}

	props := &awslambda.CfnLayerVersionPermissionProps{
		Action:          jsii.String(getLayerVersionAction),
		LayerVersionArn: b.arn,
		Principal:       jsii.String(strings.TrimSpace(permission.AccountID)),
	}
	if permission.OrganizationID != "" {
		props.OrganizationId = jsii.String(permission.OrganizationID)
	}
	resource := awslambda.NewCfnLayerVersionPermission(b.scope, jsii.String(id), props)

	if b.permissionIDs == nil {
		b.permissionIDs = map[string]bool{}
	}
	b.permissionIDs[id] = true
	b.permissions = append(b.permissions, permission)
	return resource, nil
}
