package sales

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"blankpos/backend/internal/domain"
	"blankpos/backend/internal/locallog"
	"blankpos/backend/internal/period"
	"blankpos/backend/internal/store"
	"blankpos/backend/internal/xid"
)

type AggregatorDeps struct {
	Remote   store.SalesStore
	Local    *locallog.Log
	Logger   *zap.Logger
	Now      func() time.Time
	Location *time.Location
}

// Aggregator reads sales back from both backends. Reads never fail; a
// missing backend only makes the result incomplete.
type Aggregator struct {
	remote store.SalesStore
	local  *locallog.Log
	logger *zap.Logger
	now    func() time.Time
	loc    *time.Location
	group  singleflight.Group
}

type loadResult struct {
	sales    []domain.Sale
	complete bool
}

func NewAggregator(deps AggregatorDeps) *Aggregator {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Location == nil {
		deps.Location = time.Local
	}
	return &Aggregator{
		remote: deps.Remote,
		local:  deps.Local,
		logger: deps.Logger.Named("sales.aggregate"),
		now:    deps.Now,
		loc:    deps.Location,
	}
}

// LoadAllSales returns every sale owned by userID from both backends,
// deduplicated by id and newest first. complete is false when either
// backend could not be read.
func (a *Aggregator) LoadAllSales(ctx context.Context, userID string) ([]domain.Sale, bool) {
	owner := strings.TrimSpace(userID)
	if owner == "" {
		owner = domain.GuestUserID
	}

	// Concurrent report requests for one user share a single backend read.
	v, _, _ := a.group.Do(owner, func() (any, error) {
		return a.load(context.WithoutCancel(ctx), owner), nil
	})
	res := v.(loadResult)

	out := make([]domain.Sale, len(res.sales))
	copy(out, res.sales)
	return out, res.complete
}

func (a *Aggregator) load(ctx context.Context, owner string) loadResult {
	complete := true
	logger := a.logger.With(zap.String("user_id", owner))

	var rows []store.SaleRow
	if owner != domain.GuestUserID && a.remote != nil {
		var err error
		rows, err = a.remote.ListSalesByUser(ctx, owner)
		if err != nil {
			logger.Warn("remote sales read failed, showing local sales only", zap.Error(err))
			rows = nil
			complete = false
		}
	}

	var records []locallog.Record
	if a.local != nil {
		var err error
		records, err = a.local.ForUser(ctx, owner)
		if err != nil {
			logger.Warn("local sales read failed", zap.Error(err))
			records = nil
			complete = false
		}
	}

	return loadResult{sales: Merge(rows, records), complete: complete}
}

// Report loads, filters and aggregates one user's sales for the current
// window of p.
func (a *Aggregator) Report(ctx context.Context, userID string, p domain.Period) domain.SalesReport {
	now := a.now().In(a.loc)
	all, complete := a.LoadAllSales(ctx, userID)
	filtered := FilterByPeriod(all, p, now)

	owner := strings.TrimSpace(userID)
	if owner == "" {
		owner = domain.GuestUserID
	}
	return domain.SalesReport{
		UserID:      owner,
		Period:      p,
		GeneratedAt: now,
		Sales:       filtered,
		Summary:     Summarize(filtered),
		Days:        GroupByDay(filtered, a.loc),
		Degraded:    !complete,
	}
}

// FindSale looks a single sale up by id. Local ids are only ever in the
// local log; any other id is tried remotely first.
func (a *Aggregator) FindSale(ctx context.Context, id string) (domain.Sale, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Sale{}, store.ErrNotFound
	}

	var remoteErr error
	var remote *domain.Sale
	if !xid.IsLocal(id) && a.remote != nil {
		row, err := a.remote.GetSale(ctx, id)
		switch {
		case err == nil:
			sale := NormalizeRemote(row)
			remote = &sale
		case errors.Is(err, store.ErrNotFound):
		default:
			remoteErr = err
			a.logger.Warn("remote sale lookup failed", zap.String("sale_id", id), zap.Error(err))
		}
	}

	var local *domain.Sale
	if a.local != nil {
		rec, ok, err := a.local.Find(ctx, id)
		if err != nil {
			a.logger.Warn("local sale lookup failed", zap.String("sale_id", id), zap.Error(err))
		} else if ok {
			sale := NormalizeLocal(rec)
			local = &sale
		}
	}

	switch {
	case remote != nil && local != nil:
		remote.LineItems = local.LineItems
		remote.CustomAmount = local.CustomAmount
		return *remote, nil
	case remote != nil:
		return *remote, nil
	case local != nil:
		return *local, nil
	case remoteErr != nil:
		return domain.Sale{}, store.ErrUnavailable
	default:
		return domain.Sale{}, store.ErrNotFound
	}
}

// FilterByPeriod keeps the sales inside the current calendar window of p.
// Order is preserved.
func FilterByPeriod(sales []domain.Sale, p domain.Period, now time.Time) []domain.Sale {
	out := make([]domain.Sale, 0, len(sales))
	for _, sale := range sales {
		if period.Contains(p, sale.CreatedAt, now) {
			out = append(out, sale)
		}
	}
	return out
}

func Summarize(sales []domain.Sale) domain.Summary {
	total := decimal.Zero
	for _, sale := range sales {
		total = total.Add(sale.TotalAmount)
	}
	summary := domain.Summary{TotalAmount: total, Count: len(sales), Average: decimal.Zero}
	if summary.Count > 0 {
		summary.Average = total.DivRound(decimal.NewFromInt(int64(summary.Count)), 2)
	}
	return summary
}

// GroupByDay buckets sales by calendar date in loc. Buckets appear in the
// order their first sale appears.
func GroupByDay(sales []domain.Sale, loc *time.Location) []domain.DayBucket {
	if loc == nil {
		loc = time.Local
	}
	index := make(map[string]int)
	buckets := make([]domain.DayBucket, 0)
	for _, sale := range sales {
		day := sale.CreatedAt.In(loc).Format(time.DateOnly)
		i, ok := index[day]
		if !ok {
			i = len(buckets)
			index[day] = i
			buckets = append(buckets, domain.DayBucket{Date: day, Total: decimal.Zero})
		}
		buckets[i].Total = buckets[i].Total.Add(sale.TotalAmount)
		buckets[i].Count++
	}
	return buckets
}
