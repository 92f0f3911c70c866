package routes

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/tableserve-backend/internal/coupons"
	"github.com/angelmondragon/tableserve-backend/internal/orders"
	"github.com/angelmondragon/tableserve-backend/internal/payments"
	"github.com/angelmondragon/tableserve-backend/internal/payments/providers"
	"github.com/angelmondragon/tableserve-backend/internal/payments/providers/cash"
	"github.com/angelmondragon/tableserve-backend/internal/payments/providers/vnpay"
	"github.com/angelmondragon/tableserve-backend/internal/realtime"
	"github.com/angelmondragon/tableserve-backend/internal/settlement"
	pkgAuth "github.com/angelmondragon/tableserve-backend/pkg/auth"
	"github.com/angelmondragon/tableserve-backend/pkg/config"
	"github.com/angelmondragon/tableserve-backend/pkg/db"
	"github.com/angelmondragon/tableserve-backend/pkg/db/dbtest"
	"github.com/angelmondragon/tableserve-backend/pkg/db/models"
	"github.com/angelmondragon/tableserve-backend/pkg/enums"
	"github.com/angelmondragon/tableserve-backend/pkg/logger"
	"github.com/angelmondragon/tableserve-backend/pkg/outbox"
)

const (
	returnSecret = "return-secret"
	ipnSecret    = "ipn-secret"
)

type testServer struct {
	handler http.Handler
	conn    *gorm.DB
	cfg     *config.Config
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conn := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})

	cfg := &config.Config{
		App: config.AppConfig{Env: "test"},
		JWT: config.JWTConfig{Secret: "secret", Issuer: "tableserve", ExpirationMinutes: 60},
		Settlement: config.SettlementConfig{
			ClientRedirectURL: "https://app.example.com/payment-result",
			StaffRoom:         realtime.DefaultStaffRoom,
		},
	}

	vn, err := vnpay.New(config.VNPayConfig{
		TmnCode:      "TMN01",
		ReturnSecret: returnSecret,
		IPNSecret:    ipnSecret,
		PaymentURL:   "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
	}, "https://api.example.com/api/v1/payments/vnpay/return")
	require.NoError(t, err)
	registry, err := providers.NewRegistry(cash.New(), vn)
	require.NoError(t, err)
	ledger, err := coupons.NewLedger(coupons.NewRepository(conn))
	require.NoError(t, err)

	hub := realtime.NewHub()
	client := db.NewFromConn(conn)
	svc, err := settlement.NewService(
		client,
		orders.NewRepository(conn),
		payments.NewRepository(conn),
		ledger,
		registry,
		outbox.NewService(outbox.NewRepository(conn), logg),
		hub,
		logg,
	)
	require.NoError(t, err)

	return &testServer{
		handler: NewRouter(cfg, logg, client, nil, svc, hub, nil),
		conn:    conn,
		cfg:     cfg,
	}
}

func (s *testServer) token(t *testing.T, subject uuid.UUID, role enums.ActorRole) string {
	t.Helper()
	token, err := pkgAuth.Issue(s.cfg.JWT, time.Now(), pkgAuth.Identity{SubjectID: subject, Role: role})
	require.NoError(t, err)
	return token
}

func (s *testServer) do(req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

type initiateEnvelope struct {
	Data struct {
		Payment    payments.PaymentView `json:"payment"`
		PaymentURL string               `json:"paymentUrl"`
		Orders     []orders.OrderView   `json:"orders"`
	} `json:"data"`
}

func signedVNPay(ref string, amount int64, code, secret string) url.Values {
	values := url.Values{
		"vnp_TxnRef":            {ref},
		"vnp_Amount":            {strconv.FormatInt(amount*100, 10)},
		"vnp_ResponseCode":      {code},
		"vnp_TransactionStatus": {code},
		"vnp_TransactionNo":     {"14123456"},
		"vnp_BankCode":          {"NCB"},
		"vnp_TmnCode":           {"TMN01"},
	}
	values.Set("vnp_SecureHash", vnpay.SignValues(secret, values))
	return values
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/health/live", "/health/ready", "/metrics"} {
		rec := srv.do(httptest.NewRequest(http.MethodGet, path, nil), "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
	assert.NotEmpty(t, srv.do(httptest.NewRequest(http.MethodGet, "/health/live", nil), "").Header().Get("X-Request-Id"))
}

func TestInitiateRequiresToken(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(`{"paymentMethod":"cash"}`))
	rec := srv.do(req, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestInitiateCashSettlesGuestOrders(t *testing.T) {
	srv := newTestServer(t)
	guestID := uuid.New()
	dbtest.SeedOrder(t, srv.conn, guestID, 4, 50000, 2, enums.OrderStatusDelivered)
	dbtest.SeedOrder(t, srv.conn, guestID, 4, 30000, 1, enums.OrderStatusPending)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(`{"paymentMethod":"cash","note":"  split later  "}`))
	rec := srv.do(req, srv.token(t, guestID, enums.ActorRoleGuest))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var body initiateEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, enums.PaymentStatusSuccess, body.Data.Payment.Status)
	assert.Equal(t, int64(130000), body.Data.Payment.Amount)
	require.NotNil(t, body.Data.Payment.Note)
	assert.Equal(t, "split later", *body.Data.Payment.Note)
	require.Len(t, body.Data.Orders, 2)
	for _, o := range body.Data.Orders {
		assert.Equal(t, enums.OrderStatusPaid, o.Status)
	}

	again := srv.do(httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(`{"paymentMethod":"cash"}`)), srv.token(t, guestID, enums.ActorRoleGuest))
	assert.Equal(t, http.StatusUnprocessableEntity, again.Code)
}

func TestInitiateRejectsUnknownMethodAndFields(t *testing.T) {
	srv := newTestServer(t)
	token := srv.token(t, uuid.New(), enums.ActorRoleGuest)

	rec := srv.do(httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(`{"paymentMethod":"barter"}`)), token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(`{"paymentMethod":"cash","tip":5}`)), token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStaffRoutesRequireStaff(t *testing.T) {
	srv := newTestServer(t)
	guestID := uuid.New()
	dbtest.SeedOrder(t, srv.conn, guestID, 2, 10000, 1, enums.OrderStatusDelivered)
	rec := srv.do(httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(`{"paymentMethod":"cash"}`)), srv.token(t, guestID, enums.ActorRoleGuest))
	require.Equal(t, http.StatusCreated, rec.Code)

	guestList := srv.do(httptest.NewRequest(http.MethodGet, "/api/v1/payments", nil), srv.token(t, guestID, enums.ActorRoleGuest))
	assert.Equal(t, http.StatusForbidden, guestList.Code)

	staffToken := srv.token(t, uuid.New(), enums.ActorRoleStaff)
	staffList := srv.do(httptest.NewRequest(http.MethodGet, "/api/v1/payments?status=success&method=cash", nil), staffToken)
	require.Equal(t, http.StatusOK, staffList.Code)
	var list struct {
		Data payments.ListResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(staffList.Body.Bytes(), &list))
	require.Len(t, list.Data.Items, 1)

	detail := srv.do(httptest.NewRequest(http.MethodGet, "/api/v1/payments/"+list.Data.Items[0].ID.String(), nil), staffToken)
	assert.Equal(t, http.StatusOK, detail.Code)

	bad := srv.do(httptest.NewRequest(http.MethodGet, "/api/v1/payments?status=paid-ish", nil), staffToken)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestVNPayReturnRedirectsToClient(t *testing.T) {
	srv := newTestServer(t)
	guestID := uuid.New()
	dbtest.SeedOrder(t, srv.conn, guestID, 9, 75000, 2, enums.OrderStatusDelivered)

	rec := srv.do(httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(`{"paymentMethod":"card_redirect"}`)), srv.token(t, guestID, enums.ActorRoleGuest))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var body initiateEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.Data.PaymentURL)
	assert.Equal(t, enums.PaymentStatusPending, body.Data.Payment.Status)
	ref := body.Data.Payment.TransactionRef

	query := signedVNPay(ref, 150000, "00", returnSecret)
	ret := srv.do(httptest.NewRequest(http.MethodGet, "/api/v1/payments/vnpay/return?"+query.Encode(), nil), "")
	require.Equal(t, http.StatusFound, ret.Code)

	location, err := url.Parse(ret.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "app.example.com", location.Host)
	assert.Equal(t, "true", location.Query().Get("success"))
	assert.Equal(t, ref, location.Query().Get("transactionRef"))
	assert.Equal(t, "150000", location.Query().Get("amount"))
	assert.Equal(t, string(enums.PaymentMethodCardRedirect), location.Query().Get("method"))

	var payment models.Payment
	require.NoError(t, srv.conn.Where("transaction_ref = ?", ref).First(&payment).Error)
	assert.Equal(t, enums.PaymentStatusSuccess, payment.Status)
}

func TestVNPayWebhookAcknowledgesEveryOutcome(t *testing.T) {
	srv := newTestServer(t)
	guestID := uuid.New()
	dbtest.SeedOrder(t, srv.conn, guestID, 3, 20000, 1, enums.OrderStatusDelivered)

	rec := srv.do(httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(`{"paymentMethod":"card_redirect"}`)), srv.token(t, guestID, enums.ActorRoleGuest))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var body initiateEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	ref := body.Data.Payment.TransactionRef

	post := func(values url.Values) map[string]string {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/vnpay/webhook", strings.NewReader(values.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		res := srv.do(req, "")
		require.Equal(t, http.StatusOK, res.Code, res.Body.String())
		var ack map[string]string
		require.NoError(t, json.Unmarshal(res.Body.Bytes(), &ack))
		return ack
	}

	// Signed with the browser secret, so it is not a valid IPN.
	assert.Equal(t, "97", post(signedVNPay(ref, 20000, "00", returnSecret))["RspCode"])
	assert.Equal(t, "01", post(signedVNPay("unknown-ref", 20000, "00", ipnSecret))["RspCode"])

	fresh := uuid.New()
	dbtest.SeedOrder(t, srv.conn, fresh, 5, 20000, 1, enums.OrderStatusDelivered)
	rec = srv.do(httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(`{"paymentMethod":"card_redirect"}`)), srv.token(t, fresh, enums.ActorRoleGuest))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	freshRef := body.Data.Payment.TransactionRef

	assert.Equal(t, "00", post(signedVNPay(freshRef, 20000, "00", ipnSecret))["RspCode"])
	assert.Equal(t, "02", post(signedVNPay(freshRef, 20000, "00", ipnSecret))["RspCode"])
}

func TestWebhookUnknownProvider(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(httptest.NewRequest(http.MethodPost, "/api/v1/payments/paypal/webhook", strings.NewReader("{}")), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCouponPreviewDoesNotRedeem(t *testing.T) {
	srv := newTestServer(t)
	guestID := uuid.New()
	dbtest.SeedOrder(t, srv.conn, guestID, 1, 100000, 1, enums.OrderStatusDelivered)
	coupon := dbtest.SeedCoupon(t, srv.conn, "WELCOME", nil)

	rec := srv.do(httptest.NewRequest(http.MethodGet, "/api/v1/coupons/validate?code=WELCOME", nil), srv.token(t, guestID, enums.ActorRoleGuest))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Data coupons.Validation `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Data.Valid)
	assert.Equal(t, body.Data.DiscountAmount+body.Data.FinalAmount, int64(100000))

	var stored models.Coupon
	require.NoError(t, srv.conn.First(&stored, "id = ?", coupon.ID).Error)
	assert.Equal(t, coupon.UsageCount, stored.UsageCount)

	missing := srv.do(httptest.NewRequest(http.MethodGet, "/api/v1/coupons/validate", nil), srv.token(t, guestID, enums.ActorRoleGuest))
	assert.Equal(t, http.StatusBadRequest, missing.Code)
}

func TestStaffCancelReleasesPendingPayment(t *testing.T) {
	srv := newTestServer(t)
	guestID := uuid.New()
	dbtest.SeedOrder(t, srv.conn, guestID, 6, 40000, 1, enums.OrderStatusDelivered)

	rec := srv.do(httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(`{"paymentMethod":"card_redirect"}`)), srv.token(t, guestID, enums.ActorRoleGuest))
	require.Equal(t, http.StatusCreated, rec.Code)
	var body initiateEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	path := "/api/v1/payments/" + body.Data.Payment.ID.String() + "/cancel"

	assert.Equal(t, http.StatusForbidden, srv.do(httptest.NewRequest(http.MethodPost, path, nil), srv.token(t, guestID, enums.ActorRoleGuest)).Code)

	staffToken := srv.token(t, uuid.New(), enums.ActorRoleStaff)
	cancelled := srv.do(httptest.NewRequest(http.MethodPost, path, nil), staffToken)
	require.Equal(t, http.StatusOK, cancelled.Code, cancelled.Body.String())
	var detail struct {
		Data settlement.PaymentDetail `json:"data"`
	}
	require.NoError(t, json.Unmarshal(cancelled.Body.Bytes(), &detail))
	assert.Equal(t, enums.PaymentStatusCancelled, detail.Data.Payment.Status)

	twice := srv.do(httptest.NewRequest(http.MethodPost, path, nil), staffToken)
	assert.Equal(t, http.StatusUnprocessableEntity, twice.Code)
}
