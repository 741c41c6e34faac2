package httpd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest_CompleteNoBody(t *testing.T) {
	buf := []byte("GET /index.html HTTP/1.1\r\nHost: example.com\r\n\r\n")

	req, consumed, err := parseRequest(buf)
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, len(buf), consumed)
	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "/index.html", req.Path)
	assert.Equal(t, "HTTP/1.1", req.Proto)
	assert.Equal(t, "example.com", req.Headers["host"])
	assert.Empty(t, req.Body)
}

func TestParseRequest_IncompleteHeaderBlockWaitsForMore(t *testing.T) {
	buf := []byte("GET / HTTP/1.1\r\nHost: example.com\r\n")

	req, consumed, err := parseRequest(buf)
	require.NoError(t, err)
	assert.Nil(t, req)
	assert.Zero(t, consumed)
}

func TestParseRequest_BodyNotYetFullyBufferedWaitsForMore(t *testing.T) {
	buf := []byte("POST /submit HTTP/1.1\r\nContent-Length: 10\r\n\r\nabc")

	req, consumed, err := parseRequest(buf)
	require.NoError(t, err)
	assert.Nil(t, req)
	assert.Zero(t, consumed)
}

func TestParseRequest_WithBody(t *testing.T) {
	buf := []byte("POST /submit HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello")

	req, consumed, err := parseRequest(buf)
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, len(buf), consumed)
	assert.Equal(t, []byte("hello"), req.Body)
}

func TestParseRequest_MalformedRequestLine(t *testing.T) {
	buf := []byte("GET\r\nHost: example.com\r\n\r\n")

	_, _, err := parseRequest(buf)
	assert.Error(t, err)
}

func TestParseRequest_EmptyRequestLine(t *testing.T) {
	buf := []byte("\r\nHost: example.com\r\n\r\n")

	_, _, err := parseRequest(buf)
	assert.Error(t, err)
}

func TestParseRequest_InvalidContentLength(t *testing.T) {
	buf := []byte("POST /submit HTTP/1.1\r\nContent-Length: not-a-number\r\n\r\n")

	_, _, err := parseRequest(buf)
	assert.Error(t, err)
}

func TestParseRequest_NegativeContentLength(t *testing.T) {
	buf := []byte("POST /submit HTTP/1.1\r\nContent-Length: -1\r\n\r\n")

	_, _, err := parseRequest(buf)
	assert.Error(t, err)
}

func TestParseRequest_PipelinedRequestsParseOneAtATime(t *testing.T) {
	first := "GET /a HTTP/1.1\r\n\r\n"
	second := "GET /b HTTP/1.1\r\n\r\n"
	buf := []byte(first + second)

	req, consumed, err := parseRequest(buf)
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, "/a", req.Path)
	assert.Equal(t, len(first), consumed)

	req2, consumed2, err := parseRequest(buf[consumed:])
	require.NoError(t, err)
	require.NotNil(t, req2)
	assert.Equal(t, "/b", req2.Path)
	assert.Equal(t, len(second), consumed2)
}
