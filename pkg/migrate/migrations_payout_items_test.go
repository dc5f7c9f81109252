package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPayoutItemsMigrationAllowsReuseAfterRejection(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_payout_request_items.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no payout_request_items migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE payout_request_items",
		"PRIMARY KEY (payout_id, transaction_id)",
		"CREATE INDEX idx_payout_request_items_transaction",
		"DROP TABLE IF EXISTS payout_request_items",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}

	// Rejected requests keep their join rows while the transactions return to
	// the selectable pool; a global unique index on transaction_id would make
	// the released cashback permanently unwithdrawable.
	if strings.Contains(content, "CREATE UNIQUE INDEX") {
		t.Errorf("transaction_id index must not be unique; rejected requests retain join rows")
	}
}
