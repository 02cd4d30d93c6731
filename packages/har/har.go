// Package har records stage requests and responses as an HTTP Archive
// (HAR 1.2) file for external analysis.
package har

import (
	"encoding/base64"
	"encoding/json"
	neturl "net/url"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/abdul-hamid-achik/chainspec/packages/http"
)

// Log is the root HAR object.
type Log struct {
	Log LogBody `json:"log"`
}

// LogBody holds the archive metadata and entries.
type LogBody struct {
	Version string  `json:"version"`
	Creator Creator `json:"creator"`
	Entries []Entry `json:"entries"`
}

// Creator identifies the producing tool.
type Creator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Entry is one request/response pair.
type Entry struct {
	StartedDateTime string   `json:"startedDateTime"`
	Time            float64  `json:"time"`
	Comment         string   `json:"comment,omitempty"`
	Request         Request  `json:"request"`
	Response        Response `json:"response"`
	Cache           struct{} `json:"cache"`
	Timings         Timings  `json:"timings"`
}

// Request is the HAR request record.
type Request struct {
	Method      string    `json:"method"`
	URL         string    `json:"url"`
	HTTPVersion string    `json:"httpVersion"`
	Headers     []NameVal `json:"headers"`
	QueryString []NameVal `json:"queryString"`
	Cookies     []NameVal `json:"cookies"`
	PostData    *PostData `json:"postData,omitempty"`
	HeadersSize int       `json:"headersSize"`
	BodySize    int       `json:"bodySize"`
}

// Response is the HAR response record.
type Response struct {
	Status      int       `json:"status"`
	StatusText  string    `json:"statusText"`
	HTTPVersion string    `json:"httpVersion"`
	Headers     []NameVal `json:"headers"`
	Cookies     []NameVal `json:"cookies"`
	Content     Content   `json:"content"`
	RedirectURL string    `json:"redirectURL"`
	HeadersSize int       `json:"headersSize"`
	BodySize    int       `json:"bodySize"`
}

// NameVal is a HAR name/value pair.
type NameVal struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PostData is the request body record.
type PostData struct {
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
	Encoding string `json:"encoding,omitempty"`
}

// Content is the response body record.
type Content struct {
	Size     int    `json:"size"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
	Encoding string `json:"encoding,omitempty"`
}

// Timings breaks the total time down; only wait is known here.
type Timings struct {
	Send    float64 `json:"send"`
	Wait    float64 `json:"wait"`
	Receive float64 `json:"receive"`
}

// Writer accumulates entries across stages.
type Writer struct {
	entries []Entry
	version string
}

// NewWriter creates an archive writer.
func NewWriter(version string) *Writer {
	return &Writer{version: version}
}

// Record appends one stage call. A nil response records the request with
// an empty response block.
func (w *Writer) Record(stage string, started time.Time, req *http.Request, resp *http.Response) {
	if req == nil {
		return
	}

	entry := Entry{
		StartedDateTime: started.UTC().Format(time.RFC3339Nano),
		Comment:         stage,
		Request:         buildRequest(req),
		Timings:         Timings{Send: 0, Wait: 0, Receive: 0},
	}

	if resp != nil {
		entry.Time = float64(resp.Duration.Microseconds()) / 1000
		entry.Timings.Wait = entry.Time
		entry.Response = buildResponse(resp)
	} else {
		entry.Response = Response{HTTPVersion: "HTTP/1.1", Content: Content{MimeType: "x-unknown"}}
	}

	w.entries = append(w.entries, entry)
}

// Len returns the number of recorded entries.
func (w *Writer) Len() int {
	return len(w.entries)
}

// WriteFile writes the archive.
func (w *Writer) WriteFile(path string) error {
	doc := Log{Log: LogBody{
		Version: "1.2",
		Creator: Creator{Name: "chainspec", Version: w.version},
		Entries: w.entries,
	}}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func buildRequest(req *http.Request) Request {
	out := Request{
		Method:      req.Method,
		URL:         req.URL,
		HTTPVersion: "HTTP/1.1",
		Headers:     make([]NameVal, 0, len(req.Headers)),
		QueryString: queryPairs(req.URL),
		Cookies:     []NameVal{},
		HeadersSize: -1,
		BodySize:    len(req.Body),
	}
	for name, value := range req.Headers {
		out.Headers = append(out.Headers, NameVal{Name: name, Value: value})
	}
	if len(req.Body) > 0 {
		mime := req.Headers["Content-Type"]
		if mime == "" {
			mime = "application/octet-stream"
		}
		out.PostData = encodeBody(req.Body, mime)
	}
	return out
}

func buildResponse(resp *http.Response) Response {
	out := Response{
		Status:      resp.StatusCode,
		StatusText:  statusText(resp.Status),
		HTTPVersion: "HTTP/1.1",
		Headers:     make([]NameVal, 0, len(resp.Headers)),
		Cookies:     []NameVal{},
		RedirectURL: resp.Header("Location"),
		HeadersSize: -1,
		BodySize:    len(resp.Body),
	}
	for name, values := range resp.Headers {
		for _, value := range values {
			out.Headers = append(out.Headers, NameVal{Name: name, Value: value})
		}
	}

	mime := resp.ContentType()
	if mime == "" {
		mime = "x-unknown"
	}
	body := encodeBody(resp.Body, mime)
	out.Content = Content{Size: len(resp.Body), MimeType: mime, Text: body.Text, Encoding: body.Encoding}
	return out
}

// encodeBody stores text bodies verbatim and binary ones base64-encoded.
func encodeBody(data []byte, mime string) *PostData {
	if utf8.Valid(data) {
		return &PostData{MimeType: mime, Text: string(data)}
	}
	return &PostData{
		MimeType: mime,
		Text:     base64.StdEncoding.EncodeToString(data),
		Encoding: "base64",
	}
}

// statusText strips the numeric code from a "200 OK" status line.
func statusText(status string) string {
	if _, text, found := strings.Cut(status, " "); found {
		return text
	}
	return status
}

func queryPairs(rawURL string) []NameVal {
	out := []NameVal{}
	u, err := neturl.Parse(rawURL)
	if err != nil {
		return out
	}
	for name, values := range u.Query() {
		for _, value := range values {
			out = append(out, NameVal{Name: name, Value: value})
		}
	}
	return out
}
