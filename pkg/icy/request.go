package icy

import (
	"bytes"
	"encoding/base64"
)

// BuildRequest returns the raw HTTP/1.0 request asking t for inline ICY metadata.
func BuildRequest(t Target, userAgent string) []byte {
	var b bytes.Buffer

	b.WriteString("GET " + t.Path + " HTTP/1.0\r\n")
	b.WriteString("Icy-Metadata: 1\r\n")
	b.WriteString("User-Agent: " + userAgent + "\r\n")
	b.WriteString("host: " + t.Host + "\r\n")

	// Basic auth from user:pass@host
	if t.User != nil {
		pass, _ := t.User.Password()
		creds := base64.StdEncoding.EncodeToString([]byte(t.User.Username() + ":" + pass))
		b.WriteString("Authorization: Basic " + creds + "\r\n")
	}

	b.WriteString("\r\n")

	return b.Bytes()
}
