package gvm

import (
	"encoding/xml"
	"strings"
)

// Handle is what can be scraped from a GMP response without knowing its schema.
type Handle struct {
	Command    string `json:"command"`
	ID         string `json:"id"`
	Status     string `json:"status"`
	StatusText string `json:"statusText"`
}

// OK reports a 2xx GMP status.
func (h Handle) OK() bool {
	return len(h.Status) == 3 && h.Status[0] == '2'
}

// ExtractHandle reads the response root's id/status/status_text attributes.
// Without an id attribute, the text of the first descendant element named
// "*_id" is used (start_task answers with <report_id>). Decoding stops at the
// first error; ok is false when no id was found by then.
func ExtractHandle(raw string) (Handle, bool) {
	var h Handle

	dec := xml.NewDecoder(strings.NewReader(raw))
	dec.Strict = false

	capture := false
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if h.Command == "" {
				h.Command = t.Name.Local
				for _, a := range t.Attr {
					switch a.Name.Local {
					case "id":
						h.ID = strings.TrimSpace(a.Value)
					case "status":
						h.Status = a.Value
					case "status_text":
						h.StatusText = a.Value
					}
				}
				continue
			}
			if h.ID == "" && strings.HasSuffix(t.Name.Local, "_id") {
				capture = true
			}
		case xml.CharData:
			if capture {
				h.ID = strings.TrimSpace(string(t))
				capture = false
			}
		case xml.EndElement:
			capture = false
		}
	}

	return h, h.ID != ""
}

// statusOf reads only the root status attributes; used for commands that
// return no identifier.
func statusOf(raw string) Handle {
	h, _ := ExtractHandle(raw)
	return h
}
