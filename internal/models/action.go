package models

// ActionKind identifies one atomic step the executor can perform
type ActionKind string

const (
	ActionFillField ActionKind = "fill_field"
	ActionClick     ActionKind = "click"
	ActionScroll    ActionKind = "scroll"
	ActionWait      ActionKind = "wait"
	ActionComplete  ActionKind = "complete"
)

// Action is one planned step returned by the LLM planner
type Action struct {
	Kind               ActionKind `json:"action"`
	Selector           string     `json:"selector,omitempty"`
	FieldType          string     `json:"field_type,omitempty"`
	Value              string     `json:"value,omitempty"`
	UsePhoneNumberOnly bool       `json:"use_phone_number_only,omitempty"`
	Reasoning          string     `json:"reasoning,omitempty"`
}

// Pattern returns a compact string used for loop detection
func (a Action) Pattern() string {
	return string(a.Kind) + ":" + a.Selector
}

// ActionRecord is the executed form of an Action with its outcome
type ActionRecord struct {
	Kind         ActionKind `json:"action"`
	Selector     string     `json:"selector,omitempty"`
	Value        string     `json:"value,omitempty"`
	FieldType    string     `json:"field_type,omitempty"`
	Success      bool       `json:"success"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Reasoning    string     `json:"reasoning,omitempty"`
}
