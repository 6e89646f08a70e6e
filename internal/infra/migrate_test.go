package infra

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/classbank/classbank/internal/logging"
)

func TestEmbeddedSchemaDefinesActiveClaimIndex(t *testing.T) {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil || len(names) == 0 {
		t.Fatalf("expected embedded migrations, got %v (%v)", names, err)
	}
	raw, err := migrations.ReadFile(names[0])
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	schema := string(raw)
	for _, want := range []string{
		"CREATE TABLE IF NOT EXISTS ledger_entries",
		"CREATE TABLE IF NOT EXISTS claims",
		"claims_active_transaction_uidx",
		"WHERE status IN ('pending', 'approved', 'reimbursed')",
	} {
		if !strings.Contains(schema, want) {
			t.Fatalf("schema is missing %q", want)
		}
	}
}

func TestEventPublisherFallsBackToLogger(t *testing.T) {
	pub, closeFn := NewEventPublisher(nil, "topic", logging.Discard())
	if pub == nil || closeFn == nil {
		t.Fatal("expected publisher and close func")
	}
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
