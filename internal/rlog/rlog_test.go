package rlog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfofWritesMessageWhenNotQuiet(t *testing.T) {
	SetQuiet(false)
	l := Stage("reflo")
	var buf bytes.Buffer
	l.SetOutput(&buf)

	l.Infof("recovered %d functions", 3)

	assert.Contains(t, buf.String(), "recovered 3 functions")
}

func TestInfofIsSilencedWhenQuiet(t *testing.T) {
	SetQuiet(true)
	defer SetQuiet(false)
	l := Stage("reflo")
	var buf bytes.Buffer
	l.SetOutput(&buf)

	l.Infof("recovered %d functions", 3)

	assert.Empty(t, buf.String())
}

func TestWarnfIgnoresQuiet(t *testing.T) {
	SetQuiet(true)
	defer SetQuiet(false)
	l := Stage("recontex")
	var buf bytes.Buffer
	l.SetOutput(&buf)

	l.Warnf("skipping flo %x: unresolved control flow", 0x1000)

	assert.Contains(t, buf.String(), "skipping flo 1000")
}

func TestStagePrefixesIncludeStageName(t *testing.T) {
	l := Stage("restruc")
	var buf bytes.Buffer
	l.SetOutput(&buf)

	l.Infof("done")

	assert.True(t, strings.Contains(buf.String(), "restruc:"))
}
