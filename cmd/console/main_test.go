package main

import (
	"bytes"
	"testing"
	"time"

	"softphone-queue/internal/calls"
	"softphone-queue/internal/reconciler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	v := reconciler.View{
		Queue: []calls.CallEntry{
			{CallID: "HELD", Status: calls.CallStatusOnHold},
			{CallID: "CA1", Status: calls.CallStatusQueued},
			{CallID: "CA2", Status: calls.CallStatusQueued},
		},
		Current: &calls.CallEntry{CallID: "CUR", Status: calls.CallStatusInProgress},
	}

	kind, id, err := parseCommand("answer CA2", v)
	require.NoError(t, err)
	assert.Equal(t, calls.ActionAnswer, kind)
	assert.Equal(t, "CA2", id)

	kind, id, err = parseCommand("ANSWER", v)
	require.NoError(t, err)
	assert.Equal(t, calls.ActionAnswer, kind)
	assert.Equal(t, "CA1", id, "oldest queued caller, skipping held calls")

	kind, id, err = parseCommand("hold", v)
	require.NoError(t, err)
	assert.Equal(t, calls.ActionHold, kind)
	assert.Equal(t, "CUR", id)

	_, _, err = parseCommand("transfer CA1", v)
	assert.Error(t, err)
	_, _, err = parseCommand("end a b", v)
	assert.Error(t, err)

	_, _, err = parseCommand("end", reconciler.View{})
	assert.Error(t, err)
	_, _, err = parseCommand("decline", reconciler.View{})
	assert.Error(t, err)
}

func TestDeriveWSURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8080/ws", deriveWSURL("http://localhost:8080/"))
	assert.Equal(t, "wss://queue.example.com/ws", deriveWSURL("https://queue.example.com"))
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	render(&buf, reconciler.View{Queue: []calls.CallEntry{{CallID: "CA1", CallerNumber: "+15550001", Status: calls.CallStatusQueued, CreatedAt: time.Now()}}})
	assert.Contains(t, buf.String(), "queue (1)")
	assert.Contains(t, buf.String(), "CA1")
	assert.Contains(t, buf.String(), "current: none")
}
