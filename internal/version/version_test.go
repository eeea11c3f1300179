package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	str := String()
	if str == "" {
		t.Error("String() returned empty string")
	}
	if !strings.HasPrefix(str, "showads-connector") {
		t.Errorf("String() should start with the binary name, got %q", str)
	}
}

func TestInfo(t *testing.T) {
	info := Info()

	requiredFields := []string{"name", "version", "gitCommit", "buildTime", "goVersion"}
	for _, field := range requiredFields {
		if _, ok := info[field]; !ok {
			t.Errorf("Info() missing required field: %s", field)
		}
	}

	if info["name"] != "showads-connector" {
		t.Errorf("Expected name 'showads-connector', got '%s'", info["name"])
	}
	if info["version"] == "" {
		t.Error("Version should not be empty")
	}
	if info["goVersion"] == "" {
		t.Error("GoVersion should not be empty")
	}
}
