package models

import "strings"

type MigrationMode string

// MigrationModeFullLoad copies the whole source into the target on every
// run. Incremental modes would be added here as further values.
const MigrationModeFullLoad MigrationMode = "full-load"

type TargetPrepPolicy string

const (
	PrepDropAndRecreate TargetPrepPolicy = "drop-and-recreate"
	PrepAppend          TargetPrepPolicy = "append"
	PrepFailIfExists    TargetPrepPolicy = "fail-if-exists"
)

// StartType tells the job-control API whether this is the first run of the
// task or a full reload after a previous run ended.
type StartType string

const (
	StartTypeStart  StartType = "start-replication"
	StartTypeReload StartType = "reload-target"
)

const (
	MappingInclude = "include"
	MappingExclude = "exclude"
)

// TableMapping is a single selection rule. Table may use % as a wildcard.
type TableMapping struct {
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Action string `json:"action"`
}

// DefaultTableMappings selects every table of the public schema.
func DefaultTableMappings() []TableMapping {
	return []TableMapping{{Schema: "public", Table: "%", Action: MappingInclude}}
}

// JobDefinition is the static, provisioning-time description of the
// replication task supervised by the orchestrator.
type JobDefinition struct {
	ID            string
	Source        Endpoint
	Target        Endpoint
	MigrationMode MigrationMode
	PrepPolicy    TargetPrepPolicy
	TableMappings []TableMapping
}

// ParseMigrationMode accepts full-load, full_load and FULL_LOAD spellings.
// An empty string selects full load.
func ParseMigrationMode(s string) (MigrationMode, error) {
	switch normalizeEnum(s) {
	case "", string(MigrationModeFullLoad):
		return MigrationModeFullLoad, nil
	default:
		return "", &ConfigurationError{Field: "migration_mode", Reason: "unsupported migration mode " + quote(s)}
	}
}

// ParseTargetPrepPolicy accepts dashed, underscored or upper-case spellings.
// An empty string selects drop-and-recreate.
func ParseTargetPrepPolicy(s string) (TargetPrepPolicy, error) {
	switch p := TargetPrepPolicy(normalizeEnum(s)); p {
	case "":
		return PrepDropAndRecreate, nil
	case PrepDropAndRecreate, PrepAppend, PrepFailIfExists:
		return p, nil
	default:
		return "", &ConfigurationError{Field: "target_prep_policy", Reason: "unsupported target prep policy " + quote(s)}
	}
}

// NewJobDefinition validates the task handle produced at provisioning time.
func NewJobDefinition(id string, source, target Endpoint, mode MigrationMode, policy TargetPrepPolicy, mappings []TableMapping) (JobDefinition, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return JobDefinition{}, &ConfigurationError{Field: "id", Reason: "must not be empty"}
	}
	if source.IsZero() || source.Kind() != EndpointSource {
		return JobDefinition{}, &ConfigurationError{Field: "source", Reason: "exactly one source endpoint is required"}
	}
	if target.IsZero() || target.Kind() != EndpointTarget {
		return JobDefinition{}, &ConfigurationError{Field: "target", Reason: "exactly one target endpoint is required"}
	}

	mode, err := ParseMigrationMode(string(mode))
	if err != nil {
		return JobDefinition{}, err
	}
	policy, err = ParseTargetPrepPolicy(string(policy))
	if err != nil {
		return JobDefinition{}, err
	}

	if len(mappings) == 0 {
		mappings = DefaultTableMappings()
	}
	normalized := make([]TableMapping, 0, len(mappings))
	for _, m := range mappings {
		m.Schema = strings.TrimSpace(m.Schema)
		m.Table = strings.TrimSpace(m.Table)
		m.Action = strings.ToLower(strings.TrimSpace(m.Action))
		if m.Action == "" {
			m.Action = MappingInclude
		}
		if m.Schema == "" || m.Table == "" {
			return JobDefinition{}, &ConfigurationError{Field: "table_mappings", Reason: "schema and table are required"}
		}
		if m.Action != MappingInclude && m.Action != MappingExclude {
			return JobDefinition{}, &ConfigurationError{Field: "table_mappings", Reason: "unsupported action " + quote(m.Action)}
		}
		normalized = append(normalized, m)
	}

	return JobDefinition{
		ID:            id,
		Source:        source,
		Target:        target,
		MigrationMode: mode,
		PrepPolicy:    policy,
		TableMappings: normalized,
	}, nil
}

func normalizeEnum(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
}
