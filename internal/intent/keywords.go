package intent

import "github.com/ashureev/postreview/internal/domain"

// keywordSet holds the trigger phrases for one category.
type keywordSet struct {
	category domain.Category
	english  []string
	hindi    []string
}

// keywordTable is ordered by priority: on equal scores the earlier
// category wins.
var keywordTable = []keywordSet{
	{
		category: domain.CategoryRejectChanges,
		english:  []string{"reject", "decline", "discard", "undo", "cancel", "don't accept"},
		hindi:    []string{"अस्वीकार", "रद्द", "नामंजूर", "मत करो"},
	},
	{
		category: domain.CategoryApproveChanges,
		english:  []string{"approve", "accept", "confirm", "looks good", "lgtm", "apply changes"},
		hindi:    []string{"स्वीकार", "मंजूर", "ठीक है", "सही है", "पुष्टि"},
	},
	{
		category: domain.CategoryClearData,
		english:  []string{"clear", "remove", "delete", "reset", "erase"},
		hindi:    []string{"हटाएं", "हटाओ", "हटा दो", "साफ", "मिटाएं", "मिटा दो"},
	},
	{
		category: domain.CategoryHelp,
		english:  []string{"help", "how do i", "what can you do", "instructions"},
		hindi:    []string{"मदद", "सहायता", "कैसे करें"},
	},
	{
		category: domain.CategoryValidateData,
		english:  []string{"validate", "validation", "check", "verify", "is this correct", "consistency"},
		hindi:    []string{"जांच", "जाँच", "सत्यापित", "सत्यापन", "जांचें", "जाँचें"},
	},
	{
		category: domain.CategoryGenerateHashtags,
		english:  []string{"hashtag", "hashtags", "tags"},
		hindi:    []string{"हैशटैग", "टैग"},
	},
	{
		category: domain.CategoryAddScheme,
		english:  []string{"scheme", "schemes", "yojana", "programme", "program", "mission"},
		hindi:    []string{"योजना", "योजनाएं", "स्कीम", "मिशन"},
	},
	{
		category: domain.CategoryAddPeople,
		english:  []string{"people", "person", "persons", "attendee", "attendees", "participants", "leader", "leaders"},
		hindi:    []string{"लोग", "लोगों", "व्यक्ति", "नेता", "प्रतिभागी"},
	},
	{
		category: domain.CategoryAddLocation,
		english:  []string{"location", "locations", "place", "city", "district", "venue", "village"},
		hindi:    []string{"स्थान", "जगह", "लोकेशन", "शहर", "जिला", "ज़िला", "गांव", "गाँव"},
	},
	{
		category: domain.CategoryChangeEventType,
		english:  []string{"event type", "event-type", "type of event", "event category", "kind of event"},
		hindi:    []string{"कार्यक्रम का प्रकार", "इवेंट", "प्रकार", "घटना का प्रकार"},
	},
	{
		category: domain.CategoryEditField,
		english:  []string{"edit", "change", "update", "modify", "fix", "replace", "should be", "wrong", "incorrect", "correct it"},
		hindi:    []string{"बदलें", "बदलो", "बदल दो", "सुधार", "सुधारें", "संपादित", "गलत"},
	},
	{
		category: domain.CategoryGetSuggestions,
		english:  []string{"suggest", "suggestion", "suggestions", "recommend", "what should", "ideas"},
		hindi:    []string{"सुझाव", "सुझाएं", "सुझाओ", "बताओ"},
	},
}

// categoryActions maps a primary category to its actions. edit-field is
// resolved from the extracted entities instead.
var categoryActions = map[domain.Category][]domain.Action{
	domain.CategoryAddLocation:      {domain.ActionAddLocation},
	domain.CategoryChangeEventType:  {domain.ActionChangeEventType},
	domain.CategoryAddScheme:        {domain.ActionAddScheme},
	domain.CategoryAddPeople:        {domain.ActionAddPeople},
	domain.CategoryGenerateHashtags: {domain.ActionGenerateHashtags},
	domain.CategoryValidateData:     {domain.ActionValidateData},
	domain.CategoryGetSuggestions:   {domain.ActionGenerateSuggestions},
	domain.CategoryApproveChanges:   {domain.ActionApproveChanges},
	domain.CategoryRejectChanges:    {domain.ActionRejectChanges},
	domain.CategoryClearData:        {domain.ActionClearField},
	domain.CategoryHelp:             {domain.ActionShowHelp},
	domain.CategoryUnknown:          {domain.ActionGenerateSuggestions},
}

// entityActions is the field action for each entity group.
var entityActions = map[domain.EntityType]domain.Action{
	domain.EntityLocation:  domain.ActionAddLocation,
	domain.EntityEventType: domain.ActionChangeEventType,
	domain.EntityScheme:    domain.ActionAddScheme,
	domain.EntityPerson:    domain.ActionAddPeople,
	domain.EntityHashtag:   domain.ActionGenerateHashtags,
}

// entityCategories is the category implied by an entity group when no
// keyword matched.
var entityCategories = map[domain.EntityType]domain.Category{
	domain.EntityLocation:  domain.CategoryAddLocation,
	domain.EntityEventType: domain.CategoryChangeEventType,
	domain.EntityScheme:    domain.CategoryAddScheme,
	domain.EntityPerson:    domain.CategoryAddPeople,
	domain.EntityHashtag:   domain.CategoryGenerateHashtags,
}

// fieldKeywords detects record fields mentioned by name.
var fieldKeywords = []struct {
	field string
	words []string
}{
	{domain.FieldEventType, []string{"event type", "event-type", "type of event", "कार्यक्रम का प्रकार", "प्रकार", "इवेंट"}},
	{domain.FieldLocations, []string{"location", "locations", "place", "स्थान", "जगह", "लोकेशन"}},
	{domain.FieldPeople, []string{"people", "person", "persons", "लोग", "व्यक्ति"}},
	{domain.FieldOrganizations, []string{"organization", "organizations", "organisation", "संगठन"}},
	{domain.FieldSchemes, []string{"scheme", "schemes", "yojana", "योजना", "स्कीम"}},
	{domain.FieldHashtags, []string{"hashtag", "hashtags", "हैशटैग"}},
}

// conjunctions mark multi-item requests in either language.
var conjunctions = []string{"and", "also", "plus", "as well as", "along with", "और", "तथा", "एवं", "भी", "साथ ही"}

// locationMarkers are words whose neighbour is taken as a location
// candidate even when it is not in the gazetteer.
var locationMarkers = []string{"location", "locations", "स्थान", "जगह"}

// stopwords never become location or person candidates.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "add": true, "new": true, "this": true, "that": true,
	"is": true, "as": true, "to": true, "at": true, "in": true, "of": true, "and": true,
	"location": true, "locations": true, "please": true, "set": true, "change": true, "update": true, "remove": true,
	"में": true, "को": true, "की": true, "का": true, "के": true, "पर": true, "है": true,
	"जोड़ें": true, "जोड़ो": true, "स्थान": true, "जगह": true, "और": true, "नया": true,
}

// commandWords are stripped from the front of capitalised-name matches.
var commandWords = map[string]bool{
	"Add": true, "Please": true, "Change": true, "Set": true, "Remove": true, "Update": true,
	"Include": true, "Mark": true, "Tag": true, "Also": true, "The": true, "Event": true,
}
