package services

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/malaysiangroceries/kopikopi-be/internal/models"
)

var refPattern = regexp.MustCompile(`^KK260314[0-9]{6}$`)

type orderFixture struct {
	db       *gorm.DB
	clock    *testClock
	notifier *recordingNotifier
	alerts   *recordingAlerter
	otp      *OTPService
	orders   *OrderService
	tracking *TrackingService
}

type fixtureOptions struct {
	codes       IdentifierFunc
	refs        IdentifierFunc
	maxAttempts int
}

func newOrderFixture(t *testing.T, opts fixtureOptions) *orderFixture {
	t.Helper()
	if opts.codes == nil {
		opts.codes = sequence("1234")
	}

	f := &orderFixture{
		db:       newTestDB(t),
		clock:    newTestClock(),
		notifier: newRecordingNotifier(),
		alerts:   &recordingAlerter{},
	}
	f.otp = NewOTPService(OTPServiceDeps{
		DB:       f.db,
		Notifier: f.notifier,
		TTL:      5 * time.Minute,
		Now:      f.clock.Now,
		NewCode:  opts.codes,
	})
	f.orders = NewOrderService(OrderServiceDeps{
		DB:              f.db,
		OTP:             f.otp,
		Menu:            NewMenuService(f.db, time.Minute),
		Notifier:        f.notifier,
		Alerts:          f.alerts,
		Now:             f.clock.Now,
		NewRef:          opts.refs,
		MaxAttempts:     opts.maxAttempts,
		FrontendBaseURL: "https://kopikopi.example",
		ShopAddress:     "2/36 Rossmore Ave, Punchbowl NSW 2196",
		MapsURL:         "https://maps.example/kopikopi",
	})
	f.tracking = NewTrackingService(f.db)

	seedMenu(t, f.db,
		menuItem(1, "Kopi O", "5.00", true),
		menuItem(2, "Nasi Lemak", "16.90", true),
		menuItem(3, "Roti Canai", "9.50", false),
	)
	return f
}

func (f *orderFixture) requestCode(t *testing.T, email string) string {
	t.Helper()
	issued, err := f.otp.Request(context.Background(), email)
	require.NoError(t, err)
	require.NoError(t, f.otp.SendCode(context.Background(), issued))
	return f.notifier.codes[issued.Identifier]
}

func (f *orderFixture) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Count(&n).Error)
	return n
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []OrderNotification
}

func (a *recordingAlerter) NotifyNewOrder(_ context.Context, order OrderNotification) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, order)
	return nil
}

func kopiCart(qty string) []CartLine {
	return []CartLine{line("1", qty)}
}

func TestPlaceOrderEndToEnd(t *testing.T) {
	f := newOrderFixture(t, fixtureOptions{})
	ctx := context.Background()

	code := f.requestCode(t, "a@b.com")
	require.Equal(t, "1234", code)

	placed, err := f.orders.PlaceOrder(ctx, PlaceOrderCommand{
		Email: "A@B.com",
		Code:  code,
		Lines: kopiCart("2"),
	})
	require.NoError(t, err)
	require.Equal(t, "10.00", placed.Amount.StringFixed(2))
	require.Equal(t, StatusPending, placed.Status)
	require.Regexp(t, refPattern, placed.RefNum)
	require.Equal(t, "https://kopikopi.example/track-order?ref="+placed.RefNum, placed.TrackURL)
	require.True(t, placed.EmailSent)
	require.NoError(t, placed.EmailError)

	require.Len(t, f.notifier.confirmations, 1)
	confirmation := f.notifier.confirmations[0]
	require.Equal(t, "a@b.com", confirmation.To)
	require.Equal(t, placed.RefNum, confirmation.RefNum)
	require.Equal(t, "2/36 Rossmore Ave, Punchbowl NSW 2196", confirmation.PickupAddress)

	f.orders.Wait()
	require.Len(t, f.alerts.alerts, 1)
	require.Equal(t, placed.RefNum, f.alerts.alerts[0].RefNum)

	view, err := f.tracking.Track(ctx, placed.RefNum)
	require.NoError(t, err)
	require.Equal(t, 0, view.CurrentIndex)
	require.False(t, view.IsCancelled)
	require.Equal(t, StatusPending, view.Order.Status)
	require.Equal(t, "Pending", *view.Order.DBStatus)
	require.Equal(t, "A", view.Order.CustomerName)
	require.Equal(t, "a@b.com", *view.Order.Email)
	require.Equal(t, []TrackedItem{{Name: "Kopi O", Qty: 2, LineTotal: decimal.RequireFromString("10.00")}}, view.Items)
}

func TestPlaceOrderStoresFrozenSnapshot(t *testing.T) {
	f := newOrderFixture(t, fixtureOptions{})
	code := f.requestCode(t, "siti@example.com")

	placed, err := f.orders.PlaceOrder(context.Background(), PlaceOrderCommand{
		Email: "siti@example.com",
		Code:  code,
		Lines: []CartLine{line("1", "1"), line(`"2"`, "3")},
	})
	require.NoError(t, err)
	require.Equal(t, "55.70", placed.Amount.StringFixed(2))

	require.NoError(t, f.db.Model(&models.MenuItem{}).Where("id = ?", 2).Update("price", decimal.RequireFromString("99.00")).Error)

	var order models.Order
	require.NoError(t, f.db.Where("ref_num = ?", placed.RefNum).First(&order).Error)
	require.Equal(t, "55.70", order.Amount.StringFixed(2))

	var snapshot []map[string]any
	require.NoError(t, json.Unmarshal(order.Items, &snapshot))
	require.Len(t, snapshot, 2)
	require.Equal(t, "Nasi Lemak", snapshot[1]["name"])
	require.EqualValues(t, 16.9, snapshot[1]["price"])
	require.EqualValues(t, 50.7, snapshot[1]["line_total"])
	require.EqualValues(t, 3, snapshot[1]["qty"])
}

func TestPlaceOrderOnlyLatestCodeWorks(t *testing.T) {
	f := newOrderFixture(t, fixtureOptions{codes: sequence("1111", "2222")})
	ctx := context.Background()

	first := f.requestCode(t, "bob@example.com")
	f.clock.Advance(time.Second)
	second := f.requestCode(t, "bob@example.com")

	_, err := f.orders.PlaceOrder(ctx, PlaceOrderCommand{Email: "bob@example.com", Code: first, Lines: kopiCart("1")})
	require.ErrorIs(t, err, ErrInvalidOrExpiredCode)

	_, err = f.orders.PlaceOrder(ctx, PlaceOrderCommand{Email: "bob@example.com", Code: second, Lines: kopiCart("1")})
	require.NoError(t, err)
}

// The test database has a single connection, so these checkouts run one
// transaction at a time. What is covered here is the guarded
// status = 'pending' transition; the FOR UPDATE row lock is a no-op on SQLite
// and is only exercised against Postgres.
func TestPlaceOrderConsumesCodeOnce(t *testing.T) {
	f := newOrderFixture(t, fixtureOptions{})
	code := f.requestCode(t, "race@example.com")

	const attempts = 6
	var (
		mu        sync.Mutex
		successes int
		rejected  int
	)
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < attempts; i++ {
		g.Go(func() error {
			_, err := f.orders.PlaceOrder(ctx, PlaceOrderCommand{Email: "race@example.com", Code: code, Lines: kopiCart("1")})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrInvalidOrExpiredCode):
				rejected++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, 1, successes)
	require.Equal(t, attempts-1, rejected)
	require.EqualValues(t, 1, f.count(t, &models.Order{}))
}

func TestPlaceOrderRejectsExpiredCode(t *testing.T) {
	f := newOrderFixture(t, fixtureOptions{})
	code := f.requestCode(t, "late@example.com")

	f.clock.Advance(5*time.Minute + time.Second)

	_, err := f.orders.PlaceOrder(context.Background(), PlaceOrderCommand{Email: "late@example.com", Code: code, Lines: kopiCart("1")})
	require.ErrorIs(t, err, ErrInvalidOrExpiredCode)
	require.Zero(t, f.count(t, &models.Order{}))
	require.Zero(t, f.count(t, &models.Customer{}))
}

func TestPlaceOrderRollsBackOnUnavailableItem(t *testing.T) {
	f := newOrderFixture(t, fixtureOptions{})
	ctx := context.Background()
	code := f.requestCode(t, "cart@example.com")

	for _, id := range []string{"3", "42"} {
		_, err := f.orders.PlaceOrder(ctx, PlaceOrderCommand{
			Email: "cart@example.com",
			Code:  code,
			Lines: []CartLine{line("1", "1"), line(id, "1")},
		})
		var unavailable *UnavailableItemError
		require.ErrorAs(t, err, &unavailable)
	}

	require.Zero(t, f.count(t, &models.Order{}))
	require.Zero(t, f.count(t, &models.Customer{}))

	var challenge models.OtpChallenge
	require.NoError(t, f.db.Where("identifier = ?", "cart@example.com").First(&challenge).Error)
	require.Equal(t, models.ChallengePending, challenge.Status)

	_, err := f.orders.PlaceOrder(ctx, PlaceOrderCommand{Email: "cart@example.com", Code: code, Lines: kopiCart("1")})
	require.NoError(t, err)
}

func TestPlaceOrderRejectsMalformedCart(t *testing.T) {
	f := newOrderFixture(t, fixtureOptions{})
	code := f.requestCode(t, "shape@example.com")

	_, err := f.orders.PlaceOrder(context.Background(), PlaceOrderCommand{
		Email: "shape@example.com",
		Code:  code,
		Lines: []CartLine{line(`"kopi"`, "1")},
	})
	var invalid *InvalidCartError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, "Invalid menu item in cart.", invalid.Error())

	_, err = f.orders.PlaceOrder(context.Background(), PlaceOrderCommand{
		Email: "shape@example.com",
		Code:  code,
		Lines: kopiCart("0"),
	})
	require.ErrorAs(t, err, &invalid)
	require.Zero(t, f.count(t, &models.Order{}))
}

func TestPlaceOrderRetriesReferenceCollisions(t *testing.T) {
	f := newOrderFixture(t, fixtureOptions{
		codes: sequence("1111", "2222"),
		refs:  sequence("KK260314000001", "KK260314000001", "KK260314000001", "KK260314000002"),
	})
	ctx := context.Background()

	code := f.requestCode(t, "first@example.com")
	first, err := f.orders.PlaceOrder(ctx, PlaceOrderCommand{Email: "first@example.com", Code: code, Lines: kopiCart("1")})
	require.NoError(t, err)
	require.Equal(t, "KK260314000001", first.RefNum)

	code = f.requestCode(t, "second@example.com")
	second, err := f.orders.PlaceOrder(ctx, PlaceOrderCommand{Email: "second@example.com", Code: code, Lines: kopiCart("1")})
	require.NoError(t, err)
	require.Equal(t, "KK260314000002", second.RefNum)
	require.EqualValues(t, 2, f.count(t, &models.Order{}))
}

func TestPlaceOrderFailsWhenReferencesExhausted(t *testing.T) {
	f := newOrderFixture(t, fixtureOptions{
		codes:       sequence("1111", "2222"),
		refs:        sequence("KK260314000001"),
		maxAttempts: 3,
	})
	ctx := context.Background()

	code := f.requestCode(t, "first@example.com")
	_, err := f.orders.PlaceOrder(ctx, PlaceOrderCommand{Email: "first@example.com", Code: code, Lines: kopiCart("1")})
	require.NoError(t, err)

	code = f.requestCode(t, "second@example.com")
	_, err = f.orders.PlaceOrder(ctx, PlaceOrderCommand{Email: "second@example.com", Code: code, Lines: kopiCart("1")})
	require.ErrorIs(t, err, ErrIdentifierExhausted)
	require.False(t, IsClientError(err))

	require.EqualValues(t, 1, f.count(t, &models.Order{}))
	require.EqualValues(t, 1, f.count(t, &models.Customer{}))

	var challenge models.OtpChallenge
	require.NoError(t, f.db.Where("identifier = ?", "second@example.com").First(&challenge).Error)
	require.Equal(t, models.ChallengePending, challenge.Status)
}

func TestPlaceOrderReusesCustomer(t *testing.T) {
	f := newOrderFixture(t, fixtureOptions{codes: sequence("1111", "2222")})
	ctx := context.Background()

	code := f.requestCode(t, "john.doe@example.com")
	first, err := f.orders.PlaceOrder(ctx, PlaceOrderCommand{Email: "john.doe@example.com", Code: code, Lines: kopiCart("1")})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	code = f.requestCode(t, "john.doe@example.com")
	second, err := f.orders.PlaceOrder(ctx, PlaceOrderCommand{
		Email:        "john.doe@example.com",
		Code:         code,
		Lines:        kopiCart("1"),
		CustomerName: "<b>Johnny</b>",
		Phone:        "0412 345 678",
	})
	require.NoError(t, err)

	require.EqualValues(t, 1, f.count(t, &models.Customer{}))

	var customer models.Customer
	require.NoError(t, f.db.First(&customer).Error)
	require.Equal(t, "John Doe", customer.Name)
	require.Equal(t, "N/A", customer.Phone)
	require.Equal(t, "2/36 Rossmore Ave, Punchbowl NSW 2196", customer.Address)

	var orders []models.Order
	require.NoError(t, f.db.Order("customer_name").Find(&orders).Error)
	require.Len(t, orders, 2)
	require.Equal(t, "John Doe", orders[0].CustomerName)
	require.Equal(t, "Johnny", orders[1].CustomerName)
	require.Equal(t, customer.ID, orders[0].CustomerID)
	require.Equal(t, customer.ID, orders[1].CustomerID)
	require.NotEqual(t, first.RefNum, second.RefNum)
}

func TestPlaceOrderSurvivesEmailFailure(t *testing.T) {
	f := newOrderFixture(t, fixtureOptions{})
	code := f.requestCode(t, "mailfail@example.com")
	f.notifier.confirmErr = errors.New("smtp: connection refused")

	placed, err := f.orders.PlaceOrder(context.Background(), PlaceOrderCommand{Email: "mailfail@example.com", Code: code, Lines: kopiCart("1")})
	require.NoError(t, err)
	require.False(t, placed.EmailSent)
	require.EqualError(t, placed.EmailError, "smtp: connection refused")
	require.EqualValues(t, 1, f.count(t, &models.Order{}))
}

func TestPlaceOrderSurvivesCancelledContext(t *testing.T) {
	f := newOrderFixture(t, fixtureOptions{})
	code := f.requestCode(t, "gone@example.com")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.orders.PlaceOrder(ctx, PlaceOrderCommand{Email: "gone@example.com", Code: code, Lines: kopiCart("1")})
	require.NoError(t, err)
	require.EqualValues(t, 1, f.count(t, &models.Order{}))
}

func TestCustomerDisplayName(t *testing.T) {
	tests := []struct {
		raw, email, want string
	}{
		{"  Mei Ling ", "mei@example.com", "Mei Ling"},
		{"<script>x</script>", "nur.aisyah@example.com", "Nur Aisyah"},
		{"", "john.doe@example.com", "John Doe"},
		{"", "@example.com", "Guest"},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, customerDisplayName(tc.raw, tc.email), tc.raw+"|"+tc.email)
	}
}
