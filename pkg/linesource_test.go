package sse

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByteLineSourceNextLine(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	type testCase struct {
		name          string
		input         string
		expectedLines []string
	}
	testCases := []testCase{
		{
			name:          "lf terminators",
			input:         "one\ntwo\n",
			expectedLines: []string{"one", "two"},
		},
		{
			name:          "crlf terminators",
			input:         "one\r\ntwo\r\n",
			expectedLines: []string{"one", "two"},
		},
		{
			name:          "bare cr terminators",
			input:         "one\rtwo\r",
			expectedLines: []string{"one", "two"},
		},
		{
			name:          "mixed terminators never emit extra empty lines",
			input:         "one\r\ntwo\nthree\r",
			expectedLines: []string{"one", "two", "three"},
		},
		{
			name:          "leading utf-8 bom is consumed once",
			input:         "\xef\xbb\xbfdata: foo\n\n",
			expectedLines: []string{"data: foo", ""},
		},
	}

	runTestCase := func(tc testCase) func(*testing.T) {
		return func(t *testing.T) {
			src := NewByteLineSource(strings.NewReader(tc.input), 0)
			var got []string
			for {
				line, err := src.NextLine()
				if IsEndOfInput(err) {
					break
				}
				require.NoError(err)
				got = append(got, line)
			}
			assert.Equal(tc.expectedLines, got)
		}
	}

	for _, tc := range testCases {
		t.Run(tc.name, runTestCase(tc))
	}
}

func TestByteLineSourceLongLineOverflow(t *testing.T) {
	require := require.New(t)
	long := strings.Repeat("x", 10)
	src := NewByteLineSource(strings.NewReader(long+"\n"), 4)
	line, err := src.NextLine()
	require.NoError(err)
	require.Equal(long, line)
	_, err = src.NextLine()
	require.True(IsEndOfInput(err))
}

func TestByteLineSourceInvalidUTF8(t *testing.T) {
	src := NewByteLineSource(strings.NewReader("\x80"), 0)
	_, err := src.NextLine()
	var readErr *ReadError
	assert.ErrorAs(t, err, &readErr)
}

func TestStreamingLineHandleChainsAcrossDataLines(t *testing.T) {
	require := require.New(t)
	src := NewByteLineSource(strings.NewReader("data: chunk1\ndata: chunk2\n\n"), 0)

	name, _, complete := src.peekFieldName()
	require.True(complete)
	require.Equal("data", name)
	require.NoError(src.consumeDataPrefixAndGetValueStart())

	handle := src.newStreamingHandle()
	got, err := io.ReadAll(handle)
	require.NoError(err)
	require.Equal("chunk1\nchunk2", string(got))

	line, err := src.NextLine()
	require.NoError(err)
	require.Equal("", line)
}

func TestStreamingLineHandleStopsAtNonDataLine(t *testing.T) {
	require := require.New(t)
	src := NewByteLineSource(strings.NewReader("data: chunk1\nevent: big\n\n"), 0)

	require.NoError(src.consumeDataPrefixAndGetValueStart())
	handle := src.newStreamingHandle()
	got, err := io.ReadAll(handle)
	require.NoError(err)
	require.Equal("chunk1", string(got))

	line, err := src.NextLine()
	require.NoError(err)
	require.Equal("event: big", line)
}
