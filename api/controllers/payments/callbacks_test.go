package payments

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalpayments "github.com/angelmondragon/tableserve-backend/internal/payments"
	"github.com/angelmondragon/tableserve-backend/internal/settlement"
	"github.com/angelmondragon/tableserve-backend/pkg/enums"
)

func TestResultURLCarriesOutcome(t *testing.T) {
	res := &settlement.CallbackResult{
		ProcessResult: &settlement.ProcessResult{
			TransactionRef: "ref-1",
			Payment:        &internalpayments.PaymentView{Amount: 120000, Status: enums.PaymentStatusSuccess},
		},
		Method: enums.PaymentMethodCardRedirect,
	}

	u, err := url.Parse(resultURL("https://app.example.com/result?lang=vi", res))
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "vi", q.Get("lang"))
	assert.Equal(t, "true", q.Get("success"))
	assert.Equal(t, "120000", q.Get("amount"))
	assert.Equal(t, "ref-1", q.Get("transactionRef"))
	assert.Equal(t, "card_redirect", q.Get("method"))
}

func TestResultURLOnFailure(t *testing.T) {
	u, err := url.Parse(resultURL("https://app.example.com/result", nil))
	require.NoError(t, err)
	assert.Equal(t, "false", u.Query().Get("success"))
	assert.Empty(t, u.Query().Get("transactionRef"))

	assert.Equal(t, "/?success=false", resultURL("", nil))
}
