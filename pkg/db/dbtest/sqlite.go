// Package dbtest provides an in-memory sqlite schema mirroring the goose
// migrations closely enough for repository tests.
package dbtest

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		price NUMERIC NOT NULL,
		stock INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
		category TEXT,
		gst_percent NUMERIC,
		weight REAL,
		weight_unit TEXT,
		height REAL,
		width REAL,
		length REAL,
		dimension_unit TEXT,
		created_by_email TEXT,
		seller_state TEXT,
		is_admin_product BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS seller_profiles (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		business_name TEXT NOT NULL,
		contact_name TEXT,
		phone TEXT,
		address_line1 TEXT,
		address_line2 TEXT,
		city TEXT,
		state TEXT,
		pincode TEXT,
		country TEXT,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS marketplace_users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		phone TEXT,
		address TEXT,
		city TEXT,
		state TEXT,
		pincode TEXT,
		country TEXT,
		created_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		order_number TEXT NOT NULL UNIQUE,
		buyer_email TEXT NOT NULL,
		buyer_user_id TEXT,
		shipping_address TEXT NOT NULL,
		country TEXT NOT NULL,
		subtotal NUMERIC NOT NULL,
		tax_total NUMERIC NOT NULL,
		delivery_fee NUMERIC NOT NULL DEFAULT 0,
		total_before_discount NUMERIC NOT NULL,
		promo_discount NUMERIC NOT NULL DEFAULT 0,
		amount NUMERIC NOT NULL,
		promo_code TEXT,
		promo_type TEXT,
		promo_value NUMERIC,
		item_count INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		idempotency_key TEXT,
		payment_reference TEXT,
		failure_reason TEXT,
		completed_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME,
		CONSTRAINT ux_orders_buyer_idempotency_key UNIQUE (buyer_email, idempotency_key)
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		line_no INTEGER NOT NULL,
		product_id TEXT NOT NULL,
		seller_key TEXT NOT NULL,
		name TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		list_price NUMERIC NOT NULL,
		unit_price NUMERIC NOT NULL,
		offer_id TEXT,
		offer_title TEXT,
		offer_discount_percent NUMERIC NOT NULL DEFAULT 0,
		size TEXT,
		color TEXT,
		line_total NUMERIC NOT NULL,
		gst_percent NUMERIC NOT NULL,
		gst_amount NUMERIC NOT NULL,
		cgst NUMERIC NOT NULL DEFAULT 0,
		sgst NUMERIC NOT NULL DEFAULT 0,
		igst NUMERIC NOT NULL DEFAULT 0,
		created_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS promo_codes (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		value NUMERIC NOT NULL,
		active BOOLEAN NOT NULL DEFAULT 1,
		starts_at DATETIME,
		ends_at DATETIME,
		max_redemptions INTEGER,
		max_redemptions_per_user INTEGER,
		country TEXT,
		usage_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS promo_code_usages (
		id TEXT PRIMARY KEY,
		promo_code_id TEXT NOT NULL,
		code TEXT NOT NULL,
		buyer_email TEXT NOT NULL,
		order_id TEXT NOT NULL,
		discount NUMERIC NOT NULL,
		created_at DATETIME,
		CONSTRAINT ux_promo_code_usages_order UNIQUE (promo_code_id, order_id)
	)`,
	`CREATE TABLE IF NOT EXISTS shipments (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		seller_key TEXT NOT NULL,
		item_ids TEXT,
		pickup_location TEXT,
		carrier_order_id TEXT,
		carrier_shipment_id TEXT,
		tracking_number TEXT,
		courier_name TEXT,
		invoice_url TEXT,
		chargeable_weight_kg REAL NOT NULL DEFAULT 0,
		length_cm REAL NOT NULL DEFAULT 0,
		breadth_cm REAL NOT NULL DEFAULT 0,
		height_cm REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		manual BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME,
		updated_at DATETIME,
		CONSTRAINT ux_shipments_order_seller UNIQUE (order_id, seller_key)
	)`,
	`CREATE TABLE IF NOT EXISTS pickup_locations (
		id TEXT PRIMARY KEY,
		seller_key TEXT NOT NULL UNIQUE,
		location_name TEXT NOT NULL,
		created_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME,
		published_at DATETIME,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		terminal_at DATETIME
	)`,
}

// Open returns a private in-memory database with the checkout schema applied.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return conn
}
