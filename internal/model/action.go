package model

// ActionType identifies the kind of change a request action asks for.
type ActionType string

const (
	ActionSubmit              ActionType = "submit"
	ActionRelease             ActionType = "release"
	ActionMaintenanceIncident ActionType = "maintenance_incident"
	ActionMaintenanceRelease  ActionType = "maintenance_release"
	ActionChangeDevel         ActionType = "change_devel"
	ActionDelete              ActionType = "delete"
)

// RequestAction is one source→target action of a change request. The
// expander consumes a template action and produces zero or more concrete
// actions of the same shape.
type RequestAction struct {
	Type                 ActionType `toml:"type"`
	SourceProject        string     `toml:"source_project"`
	SourcePackage        string     `toml:"source_package"`
	SourceRev            string     `toml:"source_rev"`
	TargetProject        string     `toml:"target_project"`
	TargetPackage        string     `toml:"target_package"`
	TargetRepository     string     `toml:"target_repository"`
	TargetReleaseProject string     `toml:"target_releaseproject"`
}

// IsSubmit reports whether the action submits sources to a target.
func (a RequestAction) IsSubmit() bool { return a.Type == ActionSubmit }

// IsRelease reports whether the action is a plain release.
func (a RequestAction) IsRelease() bool { return a.Type == ActionRelease }

// IsMaintenanceIncident reports whether the action feeds a maintenance
// incident.
func (a RequestAction) IsMaintenanceIncident() bool {
	return a.Type == ActionMaintenanceIncident
}

// IsMaintenanceRelease reports whether the action releases a finished
// incident.
func (a RequestAction) IsMaintenanceRelease() bool {
	return a.Type == ActionMaintenanceRelease
}

// Request is a change request: a number plus its actions.
type Request struct {
	Number  int64           `toml:"number"`
	Actions []RequestAction `toml:"actions"`
}
