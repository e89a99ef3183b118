package tools

import (
	"fmt"

	"github.com/ashureev/postreview/internal/domain"
)

type messageKey string

const (
	msgProposed       messageKey = "proposed"
	msgNothingNew     messageKey = "nothing_new"
	msgNoIssues       messageKey = "no_issues"
	msgIssues         messageKey = "issues"
	msgSuggestions    messageKey = "suggestions"
	msgComplete       messageKey = "complete"
	msgLearned        messageKey = "learned"
	msgApprove        messageKey = "approve"
	msgReject         messageKey = "reject"
	msgCleared        messageKey = "cleared"
	msgNothingToClear messageKey = "nothing_to_clear"
	msgNoPeople       messageKey = "no_people"
	msgHelp           messageKey = "help"
	msgUnavailable    messageKey = "unavailable"
	msgIssueScheme    messageKey = "issue_scheme"
	msgIssueLocation  messageKey = "issue_location"
	msgIssueUnknown   messageKey = "issue_location_unknown"
	msgIssueHashtags  messageKey = "issue_hashtags"
)

var catalogs = map[domain.Language]map[messageKey]string{
	domain.LanguageEnglish: {
		msgProposed:       "Proposed %s: %s.",
		msgNothingNew:     "%s already has %s.",
		msgNoIssues:       "No consistency issues found.",
		msgIssues:         "Found %d issue(s) to review.",
		msgSuggestions:    "Here are some suggestions for this post.",
		msgComplete:       "The record looks complete.",
		msgLearned:        "Noted the correction for future extractions.",
		msgApprove:        "Approving the pending changes.",
		msgReject:         "Rejecting the pending changes.",
		msgCleared:        "Proposed clearing %s.",
		msgNothingToClear: "There is nothing to clear.",
		msgNoPeople:       "I could not find any names to add.",
		msgHelp:           "You can ask me to add locations, change the event type, add schemes or people, generate hashtags, validate the record, or approve and reject pending changes.",
		msgUnavailable:    "The service is temporarily unavailable. Please try again shortly.",
		msgIssueScheme:    "Scheme %q is not usually associated with a %s event.",
		msgIssueLocation:  "Location %q was not found; did you mean %s?",
		msgIssueUnknown:   "Location %q was not found in the reference data.",
		msgIssueHashtags:  "The post has %d hashtags, which looks like spam.",
	},
	domain.LanguageHindi: {
		msgProposed:       "प्रस्तावित %s: %s।",
		msgNothingNew:     "%s में पहले से %s है।",
		msgNoIssues:       "कोई असंगति नहीं मिली।",
		msgIssues:         "समीक्षा के लिए %d समस्या मिली।",
		msgSuggestions:    "इस पोस्ट के लिए कुछ सुझाव।",
		msgComplete:       "रिकॉर्ड पूरा दिखता है।",
		msgLearned:        "सुधार दर्ज कर लिया गया है।",
		msgApprove:        "लंबित बदलाव स्वीकार किए जा रहे हैं।",
		msgReject:         "लंबित बदलाव अस्वीकार किए जा रहे हैं।",
		msgCleared:        "%s हटाने का प्रस्ताव।",
		msgNothingToClear: "हटाने के लिए कुछ नहीं है।",
		msgNoPeople:       "जोड़ने के लिए कोई नाम नहीं मिला।",
		msgHelp:           "आप स्थान जोड़ने, कार्यक्रम का प्रकार बदलने, योजना या लोग जोड़ने, हैशटैग बनाने, जांच करने या बदलाव स्वीकार/अस्वीकार करने के लिए कह सकते हैं।",
		msgUnavailable:    "सेवा अभी उपलब्ध नहीं है। कृपया थोड़ी देर बाद प्रयास करें।",
		msgIssueScheme:    "योजना %q आमतौर पर %s कार्यक्रम से संबंधित नहीं होती।",
		msgIssueLocation:  "स्थान %q नहीं मिला; क्या आपका मतलब %s था?",
		msgIssueUnknown:   "स्थान %q संदर्भ डेटा में नहीं मिला।",
		msgIssueHashtags:  "पोस्ट में %d हैशटैग हैं, यह स्पैम जैसा लगता है।",
	},
}

// message renders a catalog entry. Mixed-language reviewers get English.
func message(lang domain.Language, key messageKey, args ...any) string {
	cat, ok := catalogs[lang]
	if !ok {
		cat = catalogs[domain.LanguageEnglish]
	}
	format, ok := cat[key]
	if !ok {
		format = catalogs[domain.LanguageEnglish][key]
	}
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}

// UnavailableMessage is the reviewer-facing text used when every backend
// and fallback has failed.
func UnavailableMessage(lang domain.Language) string {
	return message(lang, msgUnavailable)
}
