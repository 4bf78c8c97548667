package ptyrun

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachStreamsCommandOutput(t *testing.T) {
	var out bytes.Buffer
	err := Attach("/bin/echo", []string{"hello-from-pty"}, nil, "", strings.NewReader(""), &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "hello-from-pty")
}

func TestAttachPropagatesExitError(t *testing.T) {
	var out bytes.Buffer
	err := Attach("/bin/sh", []string{"-c", "exit 3"}, nil, "", strings.NewReader(""), &out)
	assert.Error(t, err)
}
