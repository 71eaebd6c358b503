package contracts

// Issue kinds.
const (
	IssueAction = "action"
	IssueParam  = "param"
)

// Issue codes reported in Issue.Error.
const (
	ErrNotFound        = "not_found"
	ErrMissingRequired = "missing_required"
	ErrInvalidType     = "invalid_type"
	ErrInvalidFormat   = "invalid_format"
	ErrOutOfRange      = "out_of_range"
)

// Issue is a structured body entry describing why an action or one of its
// parameters was refused.
type Issue struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
