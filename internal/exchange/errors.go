package exchange

import (
	"net/http"

	"github.com/betbot/unitrade/internal/domain"
	"github.com/betbot/unitrade/pkg/rest"
)

// TransportError classifies a pkg/rest failure. Transient failures keep the
// cause reachable; anything else is returned unchanged. resp may be nil.
func TransportError(ex domain.Exchange, resp *rest.Response, err error) error {
	if err == nil {
		return nil
	}
	if rest.IsTransient(err) {
		code := ""
		switch {
		case resp != nil && resp.StatusCode == http.StatusTooManyRequests:
			code = domain.CodeRateLimited
		case rest.IsTimeout(err):
			code = domain.CodeTimeout
		}
		return domain.TransientNetworkError(ex, code, err, "")
	}
	return err
}

// Rejected builds the REJECTED result that accompanies an ExchangeRejected
// error so the raw response reaches the journal.
func Rejected(clientOrderID string, raw []byte, e *domain.Error) domain.ExchangeOrderResult {
	return domain.ExchangeOrderResult{
		ClientOrderID:       clientOrderID,
		Status:              domain.OrderStatusRejected,
		RawExchangeResponse: Raw(raw),
		NormalizedError:     e,
	}
}

// CancelOutcome maps an adapter error into the cancel result. OrderNotFound
// is a normal outcome, not an error.
func CancelOutcome(req domain.CancelRequest, raw []byte, err error) (domain.CancelResult, error) {
	res := domain.CancelResult{OrderID: req.OrderID, ClientOrderID: req.OrigClientOrderID, Raw: Raw(raw)}
	if err == nil {
		res.Status = domain.CancelStatusCancelled
		return res, nil
	}
	e, ok := domain.AsError(err)
	if ok && e.Kind == domain.KindExchangeRejected && e.Code == domain.CodeOrderNotFound {
		res.Status = domain.CancelStatusNotFound
		res.NormalizedError = e
		return res, nil
	}
	res.Status = domain.CancelStatusFailed
	if ok {
		res.NormalizedError = e
	}
	return res, err
}
