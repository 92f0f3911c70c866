package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/tableserve-backend/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no %s migration file found", suffix)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func TestCouponMigrationGuardsUsageLimit(t *testing.T) {
	content := readMigration(t, "create_coupons")
	for _, check := range []string{
		"CREATE TABLE IF NOT EXISTS coupons",
		"CONSTRAINT ux_coupons_code UNIQUE (code)",
		"CHECK (max_total_usage IS NULL OR usage_count <= max_total_usage)",
		"CHECK (usage_count >= 0)",
		"DROP TABLE IF EXISTS coupons",
	} {
		if !strings.Contains(content, check) {
			t.Fatalf("coupon migration missing %q", check)
		}
	}
}

func TestPaymentMigrationKeepsNullableRelations(t *testing.T) {
	content := readMigration(t, "create_payments")
	for _, check := range []string{
		"CONSTRAINT ux_payments_transaction_ref UNIQUE (transaction_ref)",
		"guest_id uuid,",
		"coupon_id uuid REFERENCES coupons(id),",
		"CONSTRAINT ux_coupon_usages_payment UNIQUE (payment_id)",
		"PRIMARY KEY (payment_id, order_id)",
	} {
		if !strings.Contains(content, check) {
			t.Fatalf("payment migration missing %q", check)
		}
	}
}

func TestOutboxMigrationDedupesEventsPerAggregate(t *testing.T) {
	content := readMigration(t, "create_outbox_events")
	for _, check := range []string{
		"ux_outbox_events_event_aggregate ON outbox_events (event_type, aggregate_type, aggregate_id)",
		"CREATE TABLE IF NOT EXISTS outbox_dlq",
		"DROP TABLE IF EXISTS outbox_dlq",
	} {
		if !strings.Contains(content, check) {
			t.Fatalf("outbox migration missing %q", check)
		}
	}
}

func TestMigrationDirectoryValidates(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations: %v", err)
	}
}
