package mdc

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/go-go-golems/ctxrelay/pkg/local"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRemove(t *testing.T) {
	s := local.New("test")

	Put(s, "REQUEST_ID", "r-1")
	Put(s, "", "ignored")
	assert.Equal(t, "r-1", Get(s, "REQUEST_ID"))
	assert.Equal(t, []string{"REQUEST_ID"}, Keys(s))

	Remove(s, "REQUEST_ID")
	_, ok := Lookup(s, "REQUEST_ID")
	assert.False(t, ok)
	assert.True(t, s.Empty(), "removing the last key frees the slot")
}

func TestCopyOfContextMapIsDetached(t *testing.T) {
	s := local.New("test")
	assert.Nil(t, CopyOfContextMap(s))

	Put(s, "a", "1")
	cp := CopyOfContextMap(s)
	cp["a"] = "changed"
	assert.Equal(t, "1", Get(s, "a"))
}

func TestSetContextMapCopiesInput(t *testing.T) {
	s := local.New("test")
	in := map[string]string{"k": "v"}
	SetContextMap(s, in)
	in["k"] = "mutated"
	assert.Equal(t, "v", Get(s, "k"))

	SetContextMap(s, nil)
	assert.Empty(t, Keys(s))
}

func TestNilStorageIsSafe(t *testing.T) {
	Put(nil, "a", "b")
	assert.Equal(t, "", Get(nil, "a"))
	Remove(nil, "a")
	Clear(nil)
	assert.Nil(t, CopyOfContextMap(nil))
}

func TestLoggerCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	defer func() { log.Logger = prev }()

	s := local.New("test")
	Put(s, "CORRELATION_ID", "c-42")
	l := Logger(s)
	l.Info().Msg("hello")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "c-42", line["CORRELATION_ID"])
}
