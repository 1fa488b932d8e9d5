package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/malaysiangroceries/kopikopi-be/internal/database"
	"github.com/malaysiangroceries/kopikopi-be/internal/models"
)

// newTestDB returns a migrated in-memory database private to the test. A
// single connection serializes transactions the way row locks would.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	database.ConfigurePool(sqlDB, 1, 0)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(conn))
	return conn
}

func seedMenu(t *testing.T, db *gorm.DB, items ...models.MenuItem) {
	t.Helper()
	for i := range items {
		require.NoError(t, db.Create(&items[i]).Error)
		if !items[i].IsAvailable {
			// Explicit update: a false zero value would otherwise be replaced by the column default.
			require.NoError(t, db.Model(&models.MenuItem{}).Where("id = ?", items[i].ID).Update("is_available", false).Error)
		}
	}
}

func menuItem(id int, name, price string, available bool) models.MenuItem {
	return models.MenuItem{
		ID:          id,
		Name:        name,
		Category:    "Drinks",
		Price:       decimal.RequireFromString(price),
		Description: name + " made fresh",
		IsAvailable: available,
		SortOrder:   id,
	}
}

// testClock is a manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// sequence returns an IdentifierFunc that yields values in order and then
// repeats the last one.
func sequence(values ...string) IdentifierFunc {
	var mu sync.Mutex
	i := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		v := values[i]
		if i < len(values)-1 {
			i++
		}
		return v, nil
	}
}

// recordingNotifier captures outgoing mail instead of sending it.
type recordingNotifier struct {
	mu            sync.Mutex
	codes         map[string]string
	confirmations []OrderConfirmation
	codeErr       error
	confirmErr    error
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{codes: map[string]string{}}
}

func (n *recordingNotifier) SendVerificationCode(_ context.Context, to, code string, _ time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.codeErr != nil {
		return n.codeErr
	}
	n.codes[to] = code
	return nil
}

func (n *recordingNotifier) SendOrderConfirmation(_ context.Context, msg OrderConfirmation) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.confirmErr != nil {
		return n.confirmErr
	}
	n.confirmations = append(n.confirmations, msg)
	return nil
}
