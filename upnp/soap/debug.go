package soap

import (
	"bytes"
	"encoding/xml"
)

// PrettyXML re-indents a document for debug logging. Unparseable input
// is returned as far as it decoded.
func PrettyXML(raw []byte) string {
	var out bytes.Buffer
	dec := xml.NewDecoder(bytes.NewReader(raw))
	enc := xml.NewEncoder(&out)
	enc.Indent("", "  ")
	for {
		t, err := dec.Token()
		if err != nil {
			break
		}
		if err := enc.EncodeToken(t); err != nil {
			break
		}
	}
	enc.Flush()
	return out.String()
}
