package model

// EntityDefinition is the root structure of a definition file. Each file
// declares one dashboard entity: its table, its forms, the jobs fired after
// each operation and the rules that guard deletion.
type EntityDefinition struct {
	Entity      EntityType           `yaml:"entity"       json:"entity"`
	Aliases     []string             `yaml:"aliases"      json:"aliases,omitempty"`
	DisplayName string               `yaml:"display_name" json:"display_name"`
	Version     string               `yaml:"version"      json:"version"`
	Table       string               `yaml:"table"        json:"table"`
	Navigation  NavigationDefinition `yaml:"navigation"   json:"navigation"`

	Columns               []ColumnDefinition `yaml:"columns"                 json:"columns"`
	InitialVisibleColumns []string           `yaml:"initial_visible_columns" json:"initial_visible_columns"`
	StatusOptions         []StaticOption     `yaml:"status_options"          json:"status_options,omitempty"`
	TypeOptions           []StaticOption     `yaml:"type_options"            json:"type_options,omitempty"`
	DefaultSort           string             `yaml:"default_sort"            json:"default_sort,omitempty"`

	// SearchColumns are matched case-insensitively against the table search.
	SearchColumns []string `yaml:"search_columns" json:"search_columns,omitempty"`

	ViewFields    []ViewFieldConfig `yaml:"view_fields"    json:"view_fields"`
	EditFields    []FieldConfig     `yaml:"edit_fields"    json:"edit_fields"`
	AddFields     []FieldConfig     `yaml:"add_fields"     json:"add_fields"`
	DeleteDisplay []ViewFieldConfig `yaml:"delete_display" json:"delete_display,omitempty"`

	// Validation maps a field key to a named validator. It runs after the
	// field's own validator.
	Validation map[string]string `yaml:"validation" json:"validation,omitempty"`

	Jobs         EntityJobConfig     `yaml:"jobs"         json:"jobs"`
	Dependencies []DependencyConfig  `yaml:"dependencies" json:"dependencies,omitempty"`
	StatusBans   map[string]string   `yaml:"status_bans"  json:"status_bans,omitempty"`
	Cascade      []CascadeRule       `yaml:"cascade"      json:"cascade,omitempty"`
	Transitions  map[string][]string `yaml:"transitions"  json:"transitions,omitempty"`
	Lookups      []LookupDefinition  `yaml:"lookups"      json:"lookups,omitempty"`

	// Checksum is computed at load time and not part of the YAML.
	Checksum string `yaml:"-" json:"-"`
	// SourceFile records the originating file path.
	SourceFile string `yaml:"-" json:"-"`
}

// StatusLabel returns the display label of a status value, or the value
// itself when no label is configured.
func (d EntityDefinition) StatusLabel(status string) string {
	for _, o := range d.StatusOptions {
		if o.Value == status {
			return o.Label
		}
	}
	return status
}

// FieldsFor returns the editable fields of op. View and delete have none.
func (d EntityDefinition) FieldsFor(op Operation) []FieldConfig {
	switch op {
	case OpAdd:
		return d.AddFields
	case OpEdit:
		return d.EditFields
	}
	return nil
}

// NavigationDefinition describes an entity's menu entry.
type NavigationDefinition struct {
	Label        string   `yaml:"label"        json:"label"`
	Icon         string   `yaml:"icon"         json:"icon"`
	Route        string   `yaml:"route"        json:"route"`
	Order        int      `yaml:"order"        json:"order"`
	Capabilities []string `yaml:"capabilities" json:"capabilities"`
	// Badge lists the statuses whose row count is shown next to the entry.
	Badge []string `yaml:"badge" json:"badge,omitempty"`
}

// ColumnDefinition describes a table column.
type ColumnDefinition struct {
	Field    string   `yaml:"field"    json:"field"`
	Label    string   `yaml:"label"    json:"label"`
	Kind     ViewKind `yaml:"kind"     json:"kind,omitempty"`
	Sortable bool     `yaml:"sortable" json:"sortable,omitempty"`
}

// LookupDefinition describes an option source for select widgets. Source
// names a registered loader; Static options are served as-is.
type LookupDefinition struct {
	ID     string         `yaml:"id"     json:"id"`
	Source string         `yaml:"source" json:"source,omitempty"`
	Static []StaticOption `yaml:"static" json:"static,omitempty"`
	Cache  *CacheConfig   `yaml:"cache"  json:"cache,omitempty"`
}

// CacheConfig describes caching settings for a lookup.
type CacheConfig struct {
	TTL string `yaml:"ttl" json:"ttl"`
}
