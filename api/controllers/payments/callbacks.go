package payments

import (
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/tableserve-backend/api/responses"
	"github.com/angelmondragon/tableserve-backend/internal/settlement"
	pkgerrors "github.com/angelmondragon/tableserve-backend/pkg/errors"
	"github.com/angelmondragon/tableserve-backend/pkg/logger"
)

const maxWebhookBody = 1 << 20

// Return handles the browser coming back from a provider. The outcome is
// applied, then the browser is sent on to the client result page.
func Return(svc settlement.Service, clientRedirectURL string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := strings.TrimSpace(chi.URLParam(r, "provider"))
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}

		res, err := svc.HandleReturn(r.Context(), provider, r.URL.Query())
		if err != nil {
			if logg != nil {
				logg.Error(logg.WithField(r.Context(), "provider", provider), "payment return failed", err)
			}
			http.Redirect(w, r, resultURL(clientRedirectURL, nil), http.StatusFound)
			return
		}
		http.Redirect(w, r, resultURL(clientRedirectURL, res), http.StatusFound)
	}
}

// Webhook applies a server-to-server provider notification. Every outcome the
// provider should not retry is answered 200 with the provider's ack body.
func Webhook(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		provider := strings.TrimSpace(chi.URLParam(r, "provider"))
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		res, err := svc.HandleWebhook(ctx, provider, body, r.Header)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(logg.WithFields(ctx, map[string]any{
				"provider":        res.Provider,
				"transaction_ref": res.TransactionRef,
				"ack":             string(res.Ack),
				"replayed":        res.Replayed,
			}), "payment webhook processed")
		}
		responses.WriteRaw(w, http.StatusOK, res.AckBody)
	}
}

func resultURL(base string, res *settlement.CallbackResult) string {
	values := url.Values{}
	values.Set("success", "false")
	if res != nil && res.ProcessResult != nil {
		values.Set("success", strconv.FormatBool(res.Succeeded()))
		values.Set("transactionRef", res.TransactionRef)
		values.Set("method", string(res.Method))
		if res.Payment != nil {
			values.Set("amount", strconv.FormatInt(res.Payment.Amount, 10))
		}
	}

	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil || base == "" {
		return "/?" + values.Encode()
	}
	q := u.Query()
	for key, vals := range values {
		q[key] = vals
	}
	u.RawQuery = q.Encode()
	return u.String()
}
