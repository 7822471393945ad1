package events

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/sheikh-saqib/stakes-ledger/internal/testutil"
)

func TestOutboxFlushPublishesInOrder(t *testing.T) {
	pub := &testutil.Publisher{}
	var o Outbox
	o.Add("task_missed", 1)
	o.Add("task_forgiven", 2)
	o.Flush(context.Background(), pub, nil)

	got := pub.Topics()
	if len(got) != 2 || got[0] != "task_missed" || got[1] != "task_forgiven" {
		t.Fatalf("topics = %v", got)
	}
	if o.Len() != 0 {
		t.Fatal("flush must empty the outbox")
	}
}

func TestOutboxFlushSwallowsPublishErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf)
	pub := &testutil.Publisher{Err: errors.New("broker down")}

	var o Outbox
	o.Add("task_missed", 1)
	o.Flush(context.Background(), pub, logger)

	if !strings.Contains(buf.String(), "broker down") {
		t.Fatalf("expected warning in log, got %q", buf.String())
	}
}
