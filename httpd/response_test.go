package httpd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildResponse_FormatsStatusLineHeadersAndBody(t *testing.T) {
	out := string(buildResponse(200, []string{"Content-Type: text/plain"}, []byte("hi")))

	assert.Equal(t, "HTTP/1.1 200 OK\r\n"+
		"Content-Length: 2\r\n"+
		"Connection: keep-alive\r\n"+
		"Content-Type: text/plain\r\n"+
		"\r\n"+
		"hi", out)
}

func TestBuildResponse_UnknownStatusFallsBackToUnknownText(t *testing.T) {
	out := string(buildResponse(599, nil, nil))
	assert.Contains(t, out, "HTTP/1.1 599 Unknown\r\n")
	assert.Contains(t, out, "Content-Length: 0\r\n")
}

func TestBuildHeaderOnlyResponse_OmitsBodyButReportsLength(t *testing.T) {
	out := string(buildHeaderOnlyResponse(200, []string{"Content-Type: application/octet-stream"}, 4096))

	assert.Equal(t, "HTTP/1.1 200 OK\r\n"+
		"Content-Length: 4096\r\n"+
		"Connection: keep-alive\r\n"+
		"Content-Type: application/octet-stream\r\n"+
		"\r\n", out)
}
