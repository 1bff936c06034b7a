package validation

import (
	"encoding/json"
	"testing"

	"github.com/avigil/guardlab/internal/domain"
)

func TestValidateHostname(t *testing.T) {
	tests := []struct {
		name     string
		hostname string
		wantErr  bool
	}{
		{"valid simple name", "master", false},
		{"valid with numbers", "worker1", false},
		{"valid with hyphen", "lab-master", false},
		{"valid mixed case", "LabMaster", false},
		{"empty name", "", true},
		{"starts with number", "1worker", true},
		{"starts with hyphen", "-worker", true},
		{"contains underscore", "lab_master", true},
		{"contains dot", "lab.master", true},
		{"too long", "a123456789012345678901234567890123456789012345678901234567890123", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateHostname(tt.hostname)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateHostname(%q) error = %v, wantErr %v", tt.hostname, err, tt.wantErr)
			}
		})
	}
}

func TestValidateEnvironmentName(t *testing.T) {
	tests := []struct {
		name    string
		env     string
		wantErr bool
	}{
		{"valid simple name", "staging", false},
		{"valid with numbers", "lab2", false},
		{"valid with hyphen", "qa-cluster", false},
		{"empty name", "", true},
		{"starts with number", "2lab", true},
		{"contains underscore", "qa_cluster", true},
		{"contains space", "qa cluster", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEnvironmentName(tt.env)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEnvironmentName(%q) error = %v, wantErr %v", tt.env, err, tt.wantErr)
			}
		})
	}
}

func TestValidateNetworkName(t *testing.T) {
	tests := []struct {
		name    string
		network string
		wantErr bool
	}{
		{"valid simple name", "lab-net", false},
		{"valid with underscore", "lab_net", false},
		{"valid with dot", "lab.net", false},
		{"valid starts with digit", "0net", false},
		{"empty name", "", true},
		{"starts with hyphen", "-net", true},
		{"contains slash", "lab/net", true},
		{"contains space", "lab net", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNetworkName(tt.network)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateNetworkName(%q) error = %v, wantErr %v", tt.network, err, tt.wantErr)
			}
		})
	}
}

func TestValidateImageRef(t *testing.T) {
	tests := []struct {
		name    string
		ref     string
		wantErr bool
	}{
		{"bare repository", "ubuntu", false},
		{"repository with tag", "ubuntu:22.04", false},
		{"registry and repository", "ghcr.io/acme/lab-node", false},
		{"registry with port", "registry.local:5000/lab-node:latest", false},
		{"digest reference", "ubuntu@sha256:abc123", false},
		{"empty", "", true},
		{"whitespace", "ubuntu latest", true},
		{"uppercase repository", "Ubuntu:22.04", true},
		{"empty tag", "ubuntu:", true},
		{"invalid tag character", "ubuntu:22,04", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateImageRef(tt.ref)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateImageRef(%q) error = %v, wantErr %v", tt.ref, err, tt.wantErr)
			}
		})
	}
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		wantErr bool
	}{
		{"valid IPv4", "172.24.27.5", false},
		{"valid IPv6", "2001:db8::1", false},
		{"empty", "", true},
		{"CIDR not accepted", "172.24.27.0/24", true},
		{"invalid IP", "999.999.999.999", true},
		{"hostname", "lab-master", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAddress(tt.addr)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAddress(%q) error = %v, wantErr %v", tt.addr, err, tt.wantErr)
			}
		})
	}
}

func TestValidateSubnet(t *testing.T) {
	tests := []struct {
		name    string
		subnet  string
		wantErr bool
	}{
		{"valid CIDR v4", "172.24.27.0/24", false},
		{"valid CIDR v6", "2001:db8::/32", false},
		{"empty", "", true},
		{"plain IP", "172.24.27.5", true},
		{"invalid prefix", "172.24.27.0/99", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSubnet(tt.subnet)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSubnet(%q) error = %v, wantErr %v", tt.subnet, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePortBinding(t *testing.T) {
	tests := []struct {
		name    string
		binding string
		wantErr bool
	}{
		{"valid binding", "1514:1514", false},
		{"valid with tcp", "1514:1514/tcp", false},
		{"valid with udp", "1514:1514/udp", false},
		{"valid different ports", "55000:443", false},
		{"empty", "", true},
		{"missing container port", "1514", true},
		{"too many parts", "1:2:3", true},
		{"invalid protocol", "1514:1514/sctp", true},
		{"port zero", "0:1514", true},
		{"port too large", "70000:1514", true},
		{"non-numeric", "ssh:22", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePortBinding(tt.binding)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePortBinding(%q) error = %v, wantErr %v", tt.binding, err, tt.wantErr)
			}
		})
	}
}

func TestValidateRole(t *testing.T) {
	tests := []struct {
		name    string
		role    domain.Role
		wantErr bool
	}{
		{"master", domain.RoleMaster, false},
		{"worker", domain.RoleWorker, false},
		{"agent", domain.RoleAgent, false},
		{"empty", domain.Role(""), true},
		{"unknown", domain.Role("manager"), true},
		{"uppercase", domain.Role("Master"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRole(tt.role)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRole(%q) error = %v, wantErr %v", tt.role, err, tt.wantErr)
			}
		})
	}
}

func TestValidateDelta(t *testing.T) {
	valid := map[string]any{
		"cve_id":    "CVE-2024-12345",
		"data_blob": `{"severity":"high"}`,
		"data_hash": "d2d2...",
		"operation": "insert",
	}

	tests := []struct {
		name     string
		mutate   func(m map[string]any)
		wantErrs int
	}{
		{"valid insert", func(m map[string]any) {}, 0},
		{"valid update", func(m map[string]any) { m["operation"] = "update" }, 0},
		{"valid delete", func(m map[string]any) { m["operation"] = "delete" }, 0},
		{"extra fields ignored", func(m map[string]any) { m["source"] = "nvd" }, 0},
		{"empty strings still valid", func(m map[string]any) { m["cve_id"] = "" }, 0},
		{"missing cve_id", func(m map[string]any) { delete(m, "cve_id") }, 1},
		{"missing data_blob", func(m map[string]any) { delete(m, "data_blob") }, 1},
		{"missing data_hash", func(m map[string]any) { delete(m, "data_hash") }, 1},
		{"missing operation", func(m map[string]any) { delete(m, "operation") }, 1},
		{"numeric cve_id", func(m map[string]any) { m["cve_id"] = 12345 }, 1},
		{"object data_blob", func(m map[string]any) { m["data_blob"] = map[string]any{"k": "v"} }, 1},
		{"null data_hash", func(m map[string]any) { m["data_hash"] = nil }, 1},
		{"boolean operation", func(m map[string]any) { m["operation"] = true }, 1},
		{"unknown operation", func(m map[string]any) { m["operation"] = "upsert" }, 1},
		{"uppercase operation", func(m map[string]any) { m["operation"] = "INSERT" }, 1},
		{"all fields missing", func(m map[string]any) {
			for k := range m {
				delete(m, k)
			}
		}, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := make(map[string]any, len(valid))
			for k, v := range valid {
				m[k] = v
			}
			tt.mutate(m)

			errs := ValidateDelta(m)
			if len(errs) != tt.wantErrs {
				t.Errorf("ValidateDelta() returned %d errors, want %d: %v", len(errs), tt.wantErrs, errs)
			}
		})
	}
}

// The four wire field names are a contract with feed producers. Guard them
// against accidental renames of the domain struct tags.
func TestDeltaWireFieldNames(t *testing.T) {
	d := domain.Delta{
		CVEID:     "CVE-2024-12345",
		DataBlob:  "{}",
		DataHash:  "abc",
		Operation: "insert",
	}
	b, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal delta: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("unmarshal delta: %v", err)
	}

	for _, field := range []string{"cve_id", "data_blob", "data_hash", "operation"} {
		if _, ok := raw[field]; !ok {
			t.Errorf("marshaled delta missing wire field %q", field)
		}
	}
	if len(raw) != 4 {
		t.Errorf("marshaled delta has %d fields, want 4: %v", len(raw), raw)
	}

	if errs := ValidateDelta(raw); errs.HasErrors() {
		t.Errorf("round-tripped delta failed validation: %v", errs)
	}
}
