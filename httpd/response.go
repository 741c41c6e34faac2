// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package httpd

import (
	"bytes"
	"fmt"
)

// statusText covers the status codes this package ever emits.
var statusText = map[int]string{
	200: "OK",
	204: "No Content",
	400: "Bad Request",
	404: "Not Found",
	405: "Method Not Allowed",
	500: "Internal Server Error",
	501: "Not Implemented",
}

// buildResponse renders a complete HTTP/1.1 response with the given
// status, extra headers (already "Key: value" formatted, CRLF-free),
// and body. Content-Length and Connection: keep-alive are always set.
func buildResponse(status int, extraHeaders []string, body []byte) []byte {
	text, ok := statusText[status]
	if !ok {
		text = "Unknown"
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "HTTP/1.1 %d %s\r\n", status, text)
	fmt.Fprintf(&buf, "Content-Length: %d\r\n", len(body))
	buf.WriteString("Connection: keep-alive\r\n")
	for _, h := range extraHeaders {
		buf.WriteString(h)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	buf.Write(body)
	return buf.Bytes()
}

// buildHeaderOnlyResponse renders the response line and headers with an
// accurate Content-Length for a body of contentLength bytes that will be
// streamed separately (used by GET/HEAD so the file's bytes need not be
// buffered in memory to compute the response).
func buildHeaderOnlyResponse(status int, extraHeaders []string, contentLength int64) []byte {
	text, ok := statusText[status]
	if !ok {
		text = "Unknown"
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "HTTP/1.1 %d %s\r\n", status, text)
	fmt.Fprintf(&buf, "Content-Length: %d\r\n", contentLength)
	buf.WriteString("Connection: keep-alive\r\n")
	for _, h := range extraHeaders {
		buf.WriteString(h)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	return buf.Bytes()
}
