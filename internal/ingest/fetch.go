package ingest

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/thotem-cli/internal/model"
	"github.com/sells-group/thotem-cli/internal/normalize"
	"github.com/sells-group/thotem-cli/internal/resilience"
	"github.com/sells-group/thotem-cli/pkg/thotem"
)

// PointFetcher turns a point id into a normalized contact record.
type PointFetcher struct {
	client  thotem.Client
	breaker *resilience.CircuitBreaker
}

// NewPointFetcher wraps client. breaker may be nil.
func NewPointFetcher(client thotem.Client, breaker *resilience.CircuitBreaker) *PointFetcher {
	return &PointFetcher{client: client, breaker: breaker}
}

// Fetch requests the correspondent of id once. Transport failures are
// KindTransport and are not retried here. A reply without a usable
// correspondent, or without a name, is KindNoData. A malformed address is
// logged and the record comes back with invalid address fields.
func (f *PointFetcher) Fetch(ctx context.Context, id model.PointID) (*model.ContactRecord, error) {
	op := "fetch point " + string(id)

	resp, err := f.request(ctx, op, id)
	if err != nil {
		return nil, err
	}

	name, corr, absence := resp.Correspondent()
	if absence != thotem.AbsenceNone {
		return nil, resilience.E(resilience.KindNoData, op, errors.New(absence.String()))
	}

	rec := model.ContactRecord{
		Name:  normalize.Text(name),
		Phone: normalize.Phone(corr.Phone),
		Email: normalize.Text(corr.Email),
	}
	if rec.Name == "" {
		return nil, resilience.E(resilience.KindNoData, op, errors.New("empty name"))
	}

	addr, err := normalize.ParseAddress(*corr.Address)
	if err != nil {
		kind := resilience.KindMalformedAddress
		if errors.Is(err, normalize.ErrMalformedStreet) {
			kind = resilience.KindMalformedStreet
		}
		zap.L().Warn("malformed address stored as invalid",
			zap.String("component", "ingest"),
			zap.String("point_id", string(id)),
			zap.String("kind", kind.String()),
			zap.String("address", *corr.Address),
			zap.Error(err),
		)
	}
	addr.TownName = normalize.Text(addr.TownName)
	addr.Apply(&rec)
	return &rec, nil
}

func (f *PointFetcher) request(ctx context.Context, op string, id model.PointID) (*thotem.DetailResponse, error) {
	call := func(ctx context.Context) (*thotem.DetailResponse, error) {
		resp, err := f.client.Correspondent(ctx, string(id))
		if err != nil {
			return nil, resilience.E(resilience.KindTransport, op, err)
		}
		return resp, nil
	}
	if f.breaker == nil {
		return call(ctx)
	}
	resp, err := resilience.ExecuteVal(ctx, f.breaker, call)
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, eris.Wrap(err, op)
	}
	return resp, err
}
