package provision

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseOutputs(t *testing.T) {
	data := []byte(`{
		"cluster_name": {"value": "stackpilot-prod", "sensitive": false},
		"database_url": {"value": "postgres://u:p@db:5432/app", "sensitive": true},
		"node_count": {"value": 3, "sensitive": false}
	}`)

	outputs, err := ParseOutputs(data)
	if err != nil {
		t.Fatalf("ParseOutputs: %v", err)
	}

	name, err := outputs.String("cluster_name")
	if err != nil || name != "stackpilot-prod" {
		t.Errorf("cluster_name = %q, %v", name, err)
	}

	// non-string values still stringify
	count, err := outputs.String("node_count")
	if err != nil || count != "3" {
		t.Errorf("node_count = %q, %v", count, err)
	}

	if got := outputs.SensitiveValues(); !reflect.DeepEqual(got, []string{"postgres://u:p@db:5432/app"}) {
		t.Errorf("SensitiveValues = %v", got)
	}
	if got := outputs.Names(); !reflect.DeepEqual(got, []string{"cluster_name", "database_url", "node_count"}) {
		t.Errorf("Names = %v", got)
	}
}

func TestOutputsRequire(t *testing.T) {
	outputs := Outputs{"cluster_name": {Value: "x"}}

	if err := outputs.Require("cluster_name"); err != nil {
		t.Fatalf("Require present: %v", err)
	}

	err := outputs.Require("cluster_name", "database_url")
	var missing *OutputNotFoundError
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want OutputNotFoundError", err)
	}
	if missing.Name != "database_url" {
		t.Errorf("Name = %q", missing.Name)
	}
}

func TestOutputsStringMissing(t *testing.T) {
	var missing *OutputNotFoundError
	if _, err := (Outputs{}).String("absent"); !errors.As(err, &missing) {
		t.Fatalf("err = %v, want OutputNotFoundError", err)
	}
}
