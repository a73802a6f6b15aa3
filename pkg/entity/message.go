package entity

// Severity classifies a validation message.
type Severity string

const (
	// SeverityError breaks validity until the producing rule stops firing.
	SeverityError Severity = "error"
	// SeverityWarn surfaces alongside errors but never affects validity.
	SeverityWarn Severity = "warn"
	SeverityInfo Severity = "info"
)

// affectsValidity reports whether a message of this severity makes the
// carrying property invalid. An unset severity counts as an error so that
// rules returning bare messages fail safe.
func (s Severity) affectsValidity() bool {
	return s == SeverityError || s == ""
}

// Message is one validation finding produced by a rule run. Property names
// the wrapper the message attaches to; when a rule leaves it empty the engine
// attributes the message to the rule's first trigger. Rule is always set by
// the engine to the producing rule's name, regardless of what the rule body
// filled in.
type Message struct {
	Rule     string   `json:"rule"`
	Property string   `json:"property"`
	Severity Severity `json:"severity"`
	Text     string   `json:"text"`
}
