package inbox

import "github.com/teemow/inboxrelay/internal/gmail"

// NoSubject replaces a missing Subject header.
const NoSubject = "(No Subject)"

// Summary is the client-facing view of one message.
type Summary struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	From    string `json:"from"`
	Date    string `json:"date"`
	Snippet string `json:"snippet"`
}

// Summarize reduces message metadata to a Summary. Header names match
// exactly; the first occurrence of a header wins.
func Summarize(md gmail.Metadata) Summary {
	s := Summary{
		ID:      md.ID,
		Subject: header(md.Headers, "Subject"),
		From:    header(md.Headers, "From"),
		Date:    header(md.Headers, "Date"),
		Snippet: md.Snippet,
	}
	if s.Subject == "" {
		s.Subject = NoSubject
	}
	return s
}

func header(headers []gmail.Header, name string) string {
	for _, h := range headers {
		if h.Name == name {
			return h.Value
		}
	}
	return ""
}
