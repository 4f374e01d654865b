package archive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyLayout(t *testing.T) {
	at := time.Date(2026, 3, 9, 23, 30, 0, 0, time.FixedZone("UTC+2", 2*60*60))
	assert.Equal(t, "webhook-events/2026/03/09/pull_request/abc.json", Key(at, "pull_request", "abc"))
}

func TestNopArchiver(t *testing.T) {
	var a Archiver = Nop{}
	assert.NoError(t, a.Archive(context.Background(), "k", []byte("{}")))
}
