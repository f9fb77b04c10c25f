package action

import "fmt"

// ErrorKind classifies a failed outcome.
type ErrorKind string

const (
	KindValidation     ErrorKind = "VALIDATION_ERROR"
	KindConfig         ErrorKind = "CONFIG_ERROR"
	KindNavigation     ErrorKind = "NAVIGATION_ERROR"
	KindSearch         ErrorKind = "SEARCH_ERROR"
	KindProductMissing ErrorKind = "PRODUCT_NOT_FOUND"
	KindExtraction     ErrorKind = "DATA_EXTRACTION_ERROR"
	KindNoProducts     ErrorKind = "NO_PRODUCTS"
	KindUpdate         ErrorKind = "UPDATE_ERROR"
	KindSave           ErrorKind = "SAVE_ERROR"
	// KindSession marks a task whose tenant session could not be provisioned.
	KindSession        ErrorKind = "SESSION_ERROR"
	KindException      ErrorKind = "EXCEPTION"
)

var validKinds = map[ErrorKind]bool{
	KindValidation:     true,
	KindConfig:         true,
	KindNavigation:     true,
	KindSearch:         true,
	KindProductMissing: true,
	KindExtraction:     true,
	KindNoProducts:     true,
	KindUpdate:         true,
	KindSave:           true,
	KindSession:        true,
	KindException:      true,
}

// Valid reports whether k is part of the taxonomy.
func (k ErrorKind) Valid() bool { return validKinds[k] }

// Evidence holds screenshot paths captured around an action.
type Evidence struct {
	Before string `json:"before,omitempty"`
	After  string `json:"after,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Outcome is the structured result of one action invocation. It is stored
// as the run result.
type Outcome struct {
	OK           bool           `json:"ok"`
	ActionName   string         `json:"action_name"`
	Data         map[string]any `json:"data,omitempty"`
	ErrorKind    ErrorKind      `json:"error_kind,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Evidence     *Evidence      `json:"evidence,omitempty"`
	ElapsedMS    int64          `json:"elapsed_ms"`
}

// Succeed builds a successful outcome.
func Succeed(name string, data map[string]any) Outcome {
	return Outcome{OK: true, ActionName: name, Data: data}
}

// Fail builds a failed outcome.
func Fail(name string, kind ErrorKind, format string, args ...any) Outcome {
	return Outcome{OK: false, ActionName: name, ErrorKind: kind, ErrorMessage: fmt.Sprintf(format, args...)}
}

// Summary renders a failed outcome as "KIND: message".
func (o Outcome) Summary() string {
	if o.OK {
		return ""
	}
	return fmt.Sprintf("%s: %s", o.ErrorKind, o.ErrorMessage)
}
