package workflow

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"mesaops/bus"
	"mesaops/config"
	"mesaops/models"
	"mesaops/pii"
)

func setupWorkflowTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func testCodec(t *testing.T) *pii.Codec {
	t.Helper()
	codec, err := pii.NewCodec([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	return codec
}

type testEnv struct {
	engine *Engine
	db     *gorm.DB
	stream *bus.MemoryStream
	now    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := setupWorkflowTestDB(t)
	stream := bus.NewMemoryStream()
	now := time.Now().UTC().Truncate(time.Second)
	env := &testEnv{db: db, stream: stream, now: now}
	env.engine = New(Options{
		DB:     db,
		Stream: stream,
		Codec:  testCodec(t),
		Config: &config.Config{
			TaxRate:              decimal.RequireFromString("0.16"),
			SessionTTL:           4 * time.Hour,
			ClosedSessionsWindow: 24 * time.Hour,
			StoreCancelReason:    true,
			AutoAssignDefault:    true,
		},
		Now: func() time.Time { return env.now },
	})
	return env
}

func (env *testEnv) advance(d time.Duration) { env.now = env.now.Add(d) }

// drainEvents reads everything published so far.
func (env *testEnv) drainEvents(t *testing.T) []bus.Event {
	t.Helper()
	events, _, err := env.stream.Read(context.Background(), bus.StartID, 1000)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	return events
}

func eventTypes(events []bus.Event) []string {
	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	return types
}

func hasEventType(events []bus.Event, eventType string) bool {
	for _, e := range events {
		if e.Type == eventType {
			return true
		}
	}
	return false
}

func (env *testEnv) seedTable(t *testing.T, code string) models.Table {
	t.Helper()
	table := models.Table{
		Code:      code,
		QRToken:   uuid.NewString(),
		Capacity:  4,
		Active:    true,
		CreatedAt: env.now,
		UpdatedAt: env.now,
	}
	if err := env.db.Create(&table).Error; err != nil {
		t.Fatalf("create table %s: %v", code, err)
	}
	return table
}

func (env *testEnv) seedEmployee(t *testing.T, name string, scopes string) models.Employee {
	t.Helper()
	codec := testCodec(t)
	nameEnc, err := codec.Encrypt(name)
	if err != nil {
		t.Fatalf("encrypt name: %v", err)
	}
	email := name + "@staff.local"
	emailEnc, err := codec.Encrypt(email)
	if err != nil {
		t.Fatalf("encrypt email: %v", err)
	}
	employee := models.Employee{
		NameEnc:       nameEnc,
		EmailEnc:      emailEnc,
		EmailHash:     pii.EmailHash(email),
		AllowedScopes: scopes,
		Active:        true,
		CreatedAt:     env.now,
		UpdatedAt:     env.now,
	}
	if err := env.db.Create(&employee).Error; err != nil {
		t.Fatalf("create employee %s: %v", name, err)
	}
	return employee
}

func (env *testEnv) seedMenuItem(t *testing.T, name string, price string, quickServe bool) models.MenuItem {
	t.Helper()
	item := models.MenuItem{
		Name:       name,
		Price:      decimal.RequireFromString(price),
		QuickServe: quickServe,
		Active:     true,
		CreatedAt:  env.now,
		UpdatedAt:  env.now,
	}
	if err := env.db.Create(&item).Error; err != nil {
		t.Fatalf("create menu item %s: %v", name, err)
	}
	return item
}

func (env *testEnv) seedModifier(t *testing.T, name string, delta string) models.Modifier {
	t.Helper()
	modifier := models.Modifier{
		Name:       name,
		PriceDelta: decimal.RequireFromString(delta),
		Active:     true,
		CreatedAt:  env.now,
		UpdatedAt:  env.now,
	}
	if err := env.db.Create(&modifier).Error; err != nil {
		t.Fatalf("create modifier %s: %v", name, err)
	}
	return modifier
}

// placeOrder creates an order for an anonymous guest at the given table.
func (env *testEnv) placeOrder(t *testing.T, tableCode string, items ...OrderItemInput) *CreateOrderResult {
	t.Helper()
	result, err := env.engine.CreateOrder(context.Background(), CreateOrderInput{
		TableCode: tableCode,
		Items:     items,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return result
}

func (env *testEnv) reloadOrder(t *testing.T, orderID uint) models.Order {
	t.Helper()
	var order models.Order
	if err := env.db.Preload("Items.Modifiers").First(&order, "id = ?", orderID).Error; err != nil {
		t.Fatalf("reload order %d: %v", orderID, err)
	}
	return order
}

func (env *testEnv) reloadSession(t *testing.T, sessionID uint) models.DiningSession {
	t.Helper()
	var session models.DiningSession
	if err := env.db.First(&session, "id = ?", sessionID).Error; err != nil {
		t.Fatalf("reload session %d: %v", sessionID, err)
	}
	return session
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decEq(t *testing.T, want string, got decimal.Decimal, what string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Fatalf("%s = %s, want %s", what, got, want)
	}
}
