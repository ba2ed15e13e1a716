package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// DeploymentVersion is the record format version written by the current
// bootstrap tool.
const DeploymentVersion = "1.0.0"

// deploymentCompat is the range of record versions this node can read.
const deploymentCompat = "^1.0.0"

// deploymentSchema validates deployment records on read, so a malformed or
// hand-edited record fails loudly instead of misdirecting the fleet.
const deploymentSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["version", "endpoint", "store_address", "settlement_address"],
	"properties": {
		"version": {"type": "string", "minLength": 1},
		"endpoint": {"type": "string", "minLength": 1},
		"store_address": {"type": "string", "minLength": 1},
		"settlement_address": {"type": "string", "minLength": 1},
		"written_at": {"type": "string"}
	}
}`

// Deployment is the small configuration record the external deployment step
// persists and the client and oracle fleet read: the network endpoint plus
// the two component addresses.
type Deployment struct {
	Version           string    `json:"version"`
	Endpoint          string    `json:"endpoint"`
	StoreAddress      string    `json:"store_address"`
	SettlementAddress string    `json:"settlement_address"`
	WrittenAt         time.Time `json:"written_at"`
}

// WriteDeployment persists the record as JSON at path.
func WriteDeployment(path string, d Deployment) error {
	if d.Version == "" {
		d.Version = DeploymentVersion
	}
	if d.WrittenAt.IsZero() {
		d.WrittenAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("encode deployment record: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write deployment record: %w", err)
	}
	return nil
}

// ReadDeployment loads and validates the record at path: schema shape first,
// then version compatibility.
func ReadDeployment(path string) (*Deployment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read deployment record: %w", err)
	}

	schema, err := jsonschema.CompileString("deployment.schema.json", deploymentSchema)
	if err != nil {
		return nil, fmt.Errorf("compile deployment schema: %w", err)
	}
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse deployment record: %w", err)
	}
	if err := schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("invalid deployment record: %w", err)
	}

	var d Deployment
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode deployment record: %w", err)
	}

	version, err := semver.NewVersion(d.Version)
	if err != nil {
		return nil, fmt.Errorf("deployment record version %q: %w", d.Version, err)
	}
	compat, err := semver.NewConstraint(deploymentCompat)
	if err != nil {
		return nil, err
	}
	if !compat.Check(version) {
		return nil, fmt.Errorf("deployment record version %s outside supported range %s", d.Version, deploymentCompat)
	}
	return &d, nil
}
