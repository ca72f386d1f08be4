package layer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	layerNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	layerArnPattern  = regexp.MustCompile(`^arn:([a-zA-Z0-9-]+):lambda:([a-zA-Z0-9-]+):(\d{12}):layer:([a-zA-Z0-9_-]+)(?::(\d+))?$`)
)

const maxLayerNameLength = 140

// Arn is a parsed Lambda layer ARN. Version is 0 for an unversioned layer ARN.
type Arn struct {
	Partition string
	Region    string
	Account   string
	LayerName string
	Version   int64
}

// ParseArn parses a layer or layer version ARN such as
// arn:aws:lambda:us-east-1:123456789012:layer:utils:3.
func ParseArn(value string) (Arn, error) {
	value = strings.TrimSpace(value)
	m := layerArnPattern.FindStringSubmatch(value)
	if m == nil {
		return Arn{}, newValidationError(ErrorCodeInvalidArn, "layerVersionArn", "%q is not a lambda layer arn", value)
	}
	if len(m[4]) > maxLayerNameLength {
		return Arn{}, newValidationError(ErrorCodeInvalidArn, "layerVersionArn", "layer name exceeds %d characters", maxLayerNameLength)
	}

	out := Arn{
		Partition: m[1],
		Region:    m[2],
		Account:   m[3],
		LayerName: m[4],
	}
	if m[5] != "" {
		version, err := strconv.ParseInt(m[5], 10, 64)
		if err != nil || version < 1 {
			return Arn{}, newValidationError(ErrorCodeInvalidArn, "layerVersionArn", "invalid layer version %q", m[5])
		}
		out.Version = version
	}
	return out, nil
}

func (a Arn) String() string {
	base := a.Unversioned()
	if a.Version <= 0 {
		return base
	}
	return fmt.Sprintf("%s:%d", base, a.Version)
}

// Unversioned returns the layer ARN without the version suffix.
func (a Arn) Unversioned() string {
	return fmt.Sprintf("arn:%s:lambda:%s:%s:layer:%s", a.Partition, a.Region, a.Account, a.LayerName)
}

func validateLayerName(name string) error {
	if name == "" {
		return nil
	}
	if strings.HasPrefix(name, "arn:") {
		if _, err := ParseArn(name); err != nil {
			return newValidationError(ErrorCodeInvalidName, "layerVersionName", "%q is neither a layer name nor a layer arn", name)
		}
		return nil
	}
	if len(name) > maxLayerNameLength {
		return newValidationError(ErrorCodeInvalidName, "layerVersionName", "must be at most %d characters, got %d", maxLayerNameLength, len(name))
	}
	if !layerNamePattern.MatchString(name) {
		return newValidationError(ErrorCodeInvalidName, "layerVersionName", "%q may only contain letters, digits, hyphens and underscores", name)
	}
	return nil
}
