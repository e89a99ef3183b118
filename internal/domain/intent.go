package domain

// Category is the classified purpose of a reviewer message.
type Category string

const (
	CategoryAddLocation      Category = "add-location"
	CategoryChangeEventType  Category = "change-event-type"
	CategoryAddScheme        Category = "add-scheme"
	CategoryAddPeople        Category = "add-people"
	CategoryGenerateHashtags Category = "generate-hashtags"
	CategoryValidateData     Category = "validate-data"
	CategoryGetSuggestions   Category = "get-suggestions"
	CategoryEditField        Category = "edit-field"
	CategoryApproveChanges   Category = "approve-changes"
	CategoryRejectChanges    Category = "reject-changes"
	CategoryClearData        Category = "clear-data"
	CategoryHelp             Category = "help"
	CategoryUnknown          Category = "unknown"
)

// IsExplicitChange reports whether the category asks for a concrete edit.
func (c Category) IsExplicitChange() bool {
	switch c {
	case CategoryAddLocation, CategoryChangeEventType, CategoryAddScheme,
		CategoryAddPeople, CategoryEditField, CategoryClearData:
		return true
	}
	return false
}

// Action is a unit of work the tool executor knows how to run.
type Action string

const (
	ActionAddLocation         Action = "addLocation"
	ActionChangeEventType     Action = "changeEventType"
	ActionSuggestEventType    Action = "suggestEventType"
	ActionAddScheme           Action = "addScheme"
	ActionAddPeople           Action = "addPeople"
	ActionGenerateHashtags    Action = "generateHashtags"
	ActionValidateData        Action = "validateData"
	ActionGenerateSuggestions Action = "generateSuggestions"
	ActionLearnFromCorrection Action = "learnFromCorrection"
	ActionApproveChanges      Action = "approveChanges"
	ActionRejectChanges       Action = "rejectChanges"
	ActionClearField          Action = "clearField"
	ActionShowHelp            Action = "showHelp"
)

// EntityType groups extracted entities.
type EntityType string

const (
	EntityLocation  EntityType = "locations"
	EntityEventType EntityType = "event_types"
	EntityScheme    EntityType = "schemes"
	EntityPerson    EntityType = "people"
	EntityHashtag   EntityType = "hashtags"
	EntityNumber    EntityType = "numbers"
	EntityDate      EntityType = "dates"
)

// EntityTypes lists every entity group in a stable order.
var EntityTypes = []EntityType{
	EntityLocation, EntityEventType, EntityScheme, EntityPerson,
	EntityHashtag, EntityNumber, EntityDate,
}

// FieldForEntity maps an entity group to the record field it edits.
func FieldForEntity(t EntityType) (string, bool) {
	switch t {
	case EntityLocation:
		return FieldLocations, true
	case EntityEventType:
		return FieldEventType, true
	case EntityScheme:
		return FieldSchemes, true
	case EntityPerson:
		return FieldPeople, true
	case EntityHashtag:
		return FieldHashtags, true
	}
	return "", false
}

// Entity is a span of the message recognised as a typed value.
// Start and End are byte offsets into the message; both are -1 when the
// entity was supplied by a backend and could not be located in the text.
type Entity struct {
	Text       string  `json:"text"`
	Normalized string  `json:"normalized"`
	Confidence float64 `json:"confidence"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
}

// Language is the detected register of a message.
type Language string

const (
	LanguageHindi   Language = "hindi"
	LanguageEnglish Language = "english"
	LanguageMixed   Language = "mixed"
)

// Complexity decides whether a message is worth a backend pass.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityComplex Complexity = "complex"
)

// Intent is the parsed form of one reviewer message.
type Intent struct {
	Category   Category                `json:"category"`
	Entities   map[EntityType][]Entity `json:"entities"`
	Actions    []Action                `json:"actions"`
	Confidence float64                 `json:"confidence"`
	Language   Language                `json:"language"`
	Complexity Complexity              `json:"complexity"`
	// Fields lists record fields the message refers to by name.
	Fields  []string `json:"fields,omitempty"`
	Backend string   `json:"backend,omitempty"`
}

// EntityCount returns the number of entities across all groups.
func (i *Intent) EntityCount() int {
	n := 0
	for _, list := range i.Entities {
		n += len(list)
	}
	return n
}

// Values returns the normalized values of one entity group.
func (i *Intent) Values(t EntityType) []string {
	var out []string
	for _, e := range i.Entities[t] {
		v := e.Normalized
		if v == "" {
			v = e.Text
		}
		out = append(out, v)
	}
	return out
}

// HasAction reports whether a is among the recommended actions.
func (i *Intent) HasAction(a Action) bool {
	for _, x := range i.Actions {
		if x == a {
			return true
		}
	}
	return false
}
