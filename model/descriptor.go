package model

// NavigationTree is the top-level navigation structure returned to the frontend.
type NavigationTree struct {
	Items []NavigationNode `json:"items"`
}

// NavigationNode is a single node in the navigation tree.
type NavigationNode struct {
	ID    string           `json:"id"`
	Label string           `json:"label"`
	Icon  string           `json:"icon"`
	Route string           `json:"route,omitempty"`
	Badge *BadgeDescriptor `json:"badge,omitempty"`
}

// BadgeDescriptor is a count shown next to a navigation entry.
type BadgeDescriptor struct {
	Count int `json:"count"`
}

// TableDescriptor is the resolved table metadata sent to the frontend.
type TableDescriptor struct {
	Entity                EntityType         `json:"entity"`
	Title                 string             `json:"title"`
	Columns               []ColumnDescriptor `json:"columns"`
	InitialVisibleColumns []string           `json:"initial_visible_columns"`
	StatusOptions         []OptionDescriptor `json:"status_options"`
	TypeOptions           []OptionDescriptor `json:"type_options"`
	RowActions            []ActionDescriptor `json:"row_actions,omitempty"`
	AddAction             *ActionDescriptor  `json:"add_action,omitempty"`
	DataEndpoint          string             `json:"data_endpoint"`
	DefaultSort           string             `json:"default_sort"`
	SortDir               string             `json:"sort_dir"`
	PageSize              int                `json:"page_size"`
	PageSizes             []int              `json:"page_sizes"`
}

// ColumnDescriptor describes a table column.
type ColumnDescriptor struct {
	Field    string   `json:"field"`
	Label    string   `json:"label"`
	Kind     ViewKind `json:"kind,omitempty"`
	Sortable bool     `json:"sortable"`
}

// OptionDescriptor is a resolved option for dropdowns and filters.
type OptionDescriptor struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// FormDescriptor is the resolved add or edit form sent to the frontend.
type FormDescriptor struct {
	ID             string            `json:"id"`
	Entity         EntityType        `json:"entity"`
	Operation      Operation         `json:"operation"`
	Title          string            `json:"title"`
	Fields         []FieldDescriptor `json:"fields"`
	SubmitEndpoint string            `json:"submit_endpoint"`
	SubmitMethod   string            `json:"submit_method"`
	Jobs           []JobSpec         `json:"jobs,omitempty"`
}

// FieldDescriptor is a rendered form control.
type FieldDescriptor struct {
	Field       string             `json:"field"`
	Key         string             `json:"key"`
	Label       string             `json:"label"`
	Type        WidgetKind         `json:"type"`
	Required    bool               `json:"required"`
	Placeholder string             `json:"placeholder,omitempty"`
	DigitAware  bool               `json:"digit_aware,omitempty"`
	Rows        int                `json:"rows,omitempty"`
	Unit        string             `json:"unit,omitempty"`
	Options     []OptionDescriptor `json:"options,omitempty"`
	DependsOn   string             `json:"depends_on,omitempty"`
	Value       string             `json:"value,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// ViewDescriptor is a read-only rendering of one entity row.
type ViewDescriptor struct {
	Title  string           `json:"title"`
	ID     string           `json:"id"`
	Status string           `json:"status"`
	Fields []ViewFieldValue `json:"fields"`
}

// ViewFieldValue is one formatted field of a ViewDescriptor.
type ViewFieldValue struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Value string `json:"value"`
}

// ActionDescriptor is a resolved row or page action.
type ActionDescriptor struct {
	ID           string                  `json:"id"`
	Label        string                  `json:"label"`
	Icon         string                  `json:"icon,omitempty"`
	Style        string                  `json:"style,omitempty"`
	Operation    Operation               `json:"operation"`
	Enabled      bool                    `json:"enabled"`
	Visible      bool                    `json:"visible"`
	Endpoint     string                  `json:"endpoint,omitempty"`
	Confirmation *ConfirmationDescriptor `json:"confirmation,omitempty"`
	Conditions   []ConditionDescriptor   `json:"conditions,omitempty"`
}

// ConfirmationDescriptor describes a confirmation dialog.
type ConfirmationDescriptor struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Confirm string `json:"confirm"`
	Cancel  string `json:"cancel,omitempty"`
	Style   string `json:"style,omitempty"`
}

// ConditionDescriptor is a data-dependent rule evaluated per row by the
// frontend. Effects are hide, show, disable and enable.
type ConditionDescriptor struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value,omitempty"`
	Effect   string `json:"effect"`
}

// LookupResponse is the response from a lookup endpoint.
type LookupResponse struct {
	Data LookupPayload  `json:"data"`
	Meta map[string]any `json:"meta,omitempty"`
}

// LookupPayload contains the lookup options.
type LookupPayload struct {
	Options []OptionDescriptor `json:"options"`
}

// SearchResult is one hit of the global search.
type SearchResult struct {
	ID       string         `json:"id"`
	Entity   EntityType     `json:"entity"`
	Title    string         `json:"title"`
	Subtitle string         `json:"subtitle,omitempty"`
	Category string         `json:"category"`
	Icon     string         `json:"icon,omitempty"`
	Route    string         `json:"route"`
	Score    float64        `json:"score"`
}

// SearchResponse is the response of the global search endpoint.
type SearchResponse struct {
	Data SearchPayload  `json:"data"`
	Meta map[string]any `json:"meta,omitempty"`
}

// SearchPayload holds one page of search results.
type SearchPayload struct {
	Results    []SearchResult `json:"results"`
	TotalCount int            `json:"total_count"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
	Query      string         `json:"query"`
}
