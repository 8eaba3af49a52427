package models

// Result types used in the envelope.
const (
	ResultTypeHTML  = "html"
	ResultTypeJSON  = "json"
	ResultTypeFile  = "file"
	ResultTypeError = "error"
)

// Cookie is one browser cookie captured after navigation.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
}

// XHRRecord captures one XHR/fetch exchange observed during rendering.
type XHRRecord struct {
	URL        string            `json:"url"`
	Method     string            `json:"method"`
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

// IFrame captures one embedded frame's source and rendered content.
type IFrame struct {
	Src     string `json:"src"`
	Content string `json:"content"`
}

// Envelope is the verbose result produced when json_response is requested.
// Body is a string for html/file results and the extraction value tree for
// json results.
type Envelope struct {
	Body              any               `json:"body"`
	Headers           map[string]string `json:"headers"`
	Cookies           []Cookie          `json:"cookies"`
	EvaluateResults   []string          `json:"evaluateResults"`
	ScenarioReport    *ScenarioReport   `json:"scenarioReport,omitempty"`
	Type              string            `json:"type"`
	IFrames           []IFrame          `json:"iframes"`
	XHR               []XHRRecord       `json:"xhr"`
	InitialStatusCode int               `json:"initialStatusCode"`
	ResolvedURL       string            `json:"resolvedUrl"`
	Screenshot        string            `json:"screenshot,omitempty"`
	RequestErrors     []AttemptError    `json:"requestErrors,omitempty"`
	Measures          []TimeMeasure     `json:"measures,omitempty"`
	Error             *ErrorDetail      `json:"error,omitempty"`
}
