package naming

import (
	"regexp"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestNormalizeStage(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"prod", "live"},
		{"production", "live"},
		{"live", "live"},
		{"dev", "dev"},
		{"development", "dev"},
		{"stg", "stage"},
		{"staging", "stage"},
		{"stage", "stage"},
		{"test", "test"},
		{"testing", "test"},
		{"Local", "local"},
		{"My Env!", "my-env"},
	}
	for _, tt := range tests {
		if got := NormalizeStage(tt.in); got != tt.want {
			t.Fatalf("NormalizeStage(%q)=%q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBaseName(t *testing.T) {
	if got := BaseName("MyApp", "prod", ""); got != "myapp-live" {
		t.Fatalf("BaseName app-stage: %q", got)
	}
	if got := BaseName("MyApp", "prod", "Acme"); got != "myapp-acme-live" {
		t.Fatalf("BaseName app-tenant-stage: %q", got)
	}
}

func TestResourceName(t *testing.T) {
	if got := ResourceName("MyApp", "Table", "stg", ""); got != "myapp-table-stage" {
		t.Fatalf("ResourceName app-resource-stage: %q", got)
	}
	if got := ResourceName("MyApp", "Table", "stg", "Acme"); got != "myapp-acme-table-stage" {
		t.Fatalf("ResourceName app-tenant-resource-stage: %q", got)
	}
}

func TestLayerName(t *testing.T) {
	if got := LayerName("Payments", "Shared Utils", "production", ""); got != "payments-shared-utils-live" {
		t.Fatalf("LayerName app-layer-stage: %q", got)
	}
	if got := LayerName("Payments", "utils", "dev", "Acme Corp"); got != "payments-acme-corp-utils-dev" {
		t.Fatalf("LayerName app-tenant-layer-stage: %q", got)
	}
	long := LayerName(strings.Repeat("a", 100), strings.Repeat("b", 100), "dev", "")
	if len(long) != MaxLayerNameLength {
		t.Fatalf("expected truncation to %d, got %d", MaxLayerNameLength, len(long))
	}
}

func TestLayerName_AlwaysValid(t *testing.T) {
	valid := regexp.MustCompile(`^[a-z0-9-]*$`)
	rapid.Check(t, func(t *rapid.T) {
		app := rapid.String().Draw(t, "app")
		layer := rapid.String().Draw(t, "layer")
		stage := rapid.String().Draw(t, "stage")
		tenant := rapid.String().Draw(t, "tenant")

		got := LayerName(app, layer, stage, tenant)
		if len(got) > MaxLayerNameLength {
			t.Fatalf("LayerName too long: %d", len(got))
		}
		if !valid.MatchString(got) {
			t.Fatalf("LayerName(%q, %q, %q, %q) = %q contains invalid characters", app, layer, stage, tenant, got)
		}
		if strings.HasSuffix(got, "-") || strings.HasPrefix(got, "-") {
			t.Fatalf("LayerName has dangling hyphen: %q", got)
		}
	})
}
