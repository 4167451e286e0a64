// Package astproto hand-codes the binary speech-translation envelope using
// the protobuf wire format. The message shapes are fixed by the vendor, so
// the codec works from field numbers directly instead of generated stubs.
package astproto

// RequestMeta identifies the connection and session a request belongs to.
type RequestMeta struct {
	Endpoint     string // field 1
	AppKey       string // field 2
	AppID        string // field 3
	ResourceID   string // field 4
	ConnectionID string // field 5
	SessionID    string // field 6
	Sequence     int32  // field 7
}

// User describes the calling client.
type User struct {
	UID        string // field 1
	DID        string // field 2
	Platform   string // field 3
	SDKVersion string // field 4
	AppVersion string // field 5
}

// Audio describes an audio payload or stream shape.
type Audio struct {
	Data       string // field 1
	URL        string // field 2
	URLType    string // field 3
	Format     string // field 4
	Codec      string // field 5
	Language   string // field 6
	Rate       int32  // field 7
	Bits       int32  // field 8
	Channel    int32  // field 9
	BinaryData []byte // field 14
}

// ReqParams carries the translation task parameters.
type ReqParams struct {
	Mode           string // field 1
	SourceLanguage string // field 2
	TargetLanguage string // field 3
	SpeakerID      string // field 4
}

// TranslateRequest is the client-to-server envelope.
type TranslateRequest struct {
	RequestMeta *RequestMeta // field 1
	Event       Event        // field 2
	User        *User        // field 3
	SourceAudio *Audio       // field 4
	TargetAudio *Audio       // field 5
	Request     *ReqParams   // field 6
	Denoise     bool         // field 7
}

// BillingItem is one metered unit in a usage report.
type BillingItem struct {
	Unit     string  // field 1
	Quantity float64 // field 2
}

// Billing aggregates session usage.
type Billing struct {
	Items        []BillingItem // field 1
	DurationMsec int64         // field 2
	WordCount    int64         // field 3
}

// ResponseMeta carries per-envelope status and usage.
type ResponseMeta struct {
	SessionID  string   // field 1
	Sequence   int32    // field 2
	StatusCode int32    // field 3
	Message    string   // field 4
	Billing    *Billing // field 5
}

// TranslateResponse is the server-to-client envelope.
type TranslateResponse struct {
	ResponseMeta    *ResponseMeta // field 1
	Event           Event         // field 2
	Data            []byte        // field 3
	Text            string        // field 4
	StartTime       int32         // field 5
	EndTime         int32         // field 6
	SpeakerChanged  bool          // field 7
	MutedDurationMs int32         // field 8
}

// Status codes treated as success. The service reports both the legacy
// zero and the namespaced twenty-million code for healthy envelopes.
const (
	StatusOK          = 0
	StatusOKNamespace = 20000000
)

// StatusSuccess reports whether a response status code is healthy.
func StatusSuccess(code int32) bool {
	return code == StatusOK || code == StatusOKNamespace
}
