package cmi

import (
	"bufio"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventReader_Framing(t *testing.T) {
	body := ": keepalive\n" +
		"event: order\n" +
		"data: {\"a\":1}\n" +
		"\n" +
		"event: trade\r\n" +
		"data: [1,\r\n" +
		"data: 2]\r\n" +
		"id: 7\r\n" +
		"\r\n" +
		"data: plain\n" +
		"\n"

	r := NewEventReader(strings.NewReader(body))

	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "order", ev.Type)
	assert.Equal(t, `{"a":1}`, ev.Data)

	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, "trade", ev.Type)
	assert.Equal(t, "[1,\n2]", ev.Data)
	assert.Equal(t, "7", ev.ID)

	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, "message", ev.Type)
	assert.Equal(t, "plain", ev.Data)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestEventReader_SkipsEmptyAndTruncated(t *testing.T) {
	body := "event: order\n\n" +
		"event: order\ndata: x\n\n" +
		"event: trade\ndata: partial"

	r := NewEventReader(strings.NewReader(body))

	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "order", ev.Type)
	assert.Equal(t, "x", ev.Data)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestEventReader_LoneCRLineEndings(t *testing.T) {
	body := "event: order\rdata: a\rdata: b\r\r" +
		"event: trade\r\ndata: c\r\n\r\n" +
		"data: d\n\n"

	r := NewEventReader(strings.NewReader(body))

	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "order", ev.Type)
	assert.Equal(t, "a\nb", ev.Data)

	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, "trade", ev.Type)
	assert.Equal(t, "c", ev.Data)

	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, "message", ev.Type)
	assert.Equal(t, "d", ev.Data)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestEventReader_LineTooLong(t *testing.T) {
	body := "data: " + strings.Repeat("x", maxEventLine+1) + "\n\n"

	_, err := NewEventReader(strings.NewReader(body)).Next()
	assert.ErrorIs(t, err, bufio.ErrTooLong)
}
