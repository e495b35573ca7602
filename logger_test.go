package synctree

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConsoleJournalEnabled(t *testing.T) {
	var buf bytes.Buffer
	j := NewConsoleJournal("synctree", "", true)
	j.Output = &buf

	j.Info("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.Contains(t, buf.String(), "INFO")
}

func TestConsoleJournalDisabled(t *testing.T) {
	var buf bytes.Buffer
	j := NewConsoleJournal("synctree", "", false)
	j.Output = &buf

	j.Error("should not appear")
	assert.Empty(t, buf.String())
}
