package service

import (
	"context"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/rentledger/internal/billingcycle"
	"github.com/smallbiznis/rentledger/internal/economicindex/domain"
	"github.com/smallbiznis/rentledger/pkg/db/option"
	"github.com/smallbiznis/rentledger/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Source domain.Source `optional:"true"`
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	source domain.Source
}

func NewService(p Params) domain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("economicindex.service"),
		genID:  p.GenID,
		source: p.Source,
	}
}

type txLookup struct {
	db *gorm.DB
}

func (s *Service) WithTx(tx *gorm.DB) domain.Lookup {
	return txLookup{db: tx}
}

func (s *Service) ValueOnOrBefore(ctx context.Context, date time.Time, kind domain.Kind) (decimal.Decimal, error) {
	return valueOnOrBefore(ctx, s.db, date, kind)
}

func (l txLookup) ValueOnOrBefore(ctx context.Context, date time.Time, kind domain.Kind) (decimal.Decimal, error) {
	return valueOnOrBefore(ctx, l.db, date, kind)
}

func valueOnOrBefore(ctx context.Context, db *gorm.DB, date time.Time, kind domain.Kind) (decimal.Decimal, error) {
	column, ok := kind.Column()
	if !ok {
		return decimal.Zero, domain.ErrInvalidKind
	}

	row, err := repository.ProvideStore[domain.EconomicIndex](db).FindOne(ctx, nil,
		option.WithWhere("index_date <= ?", billingcycle.DateOf(date, time.UTC)),
		option.WithWhere(column+" IS NOT NULL"),
		option.WithSortBy("index_date", "desc"),
	)
	if err != nil {
		return decimal.Zero, err
	}
	if row == nil {
		return decimal.Zero, domain.ErrIndexNotFound
	}

	value := row.IndexAValue
	if kind == domain.KindIndexB {
		value = row.IndexBValue
	}
	if !value.Valid {
		return decimal.Zero, domain.ErrIndexNotFound
	}
	return value.Decimal, nil
}

func (s *Service) Append(ctx context.Context, points []domain.Point) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([]domain.EconomicIndex, 0, len(points))
	for _, point := range points {
		if point.Date.IsZero() || (!point.IndexA.Valid && !point.IndexB.Valid) {
			continue
		}
		rows = append(rows, domain.EconomicIndex{
			ID:          s.genID.Generate(),
			IndexDate:   billingcycle.DateOf(point.Date, time.UTC),
			IndexAValue: point.IndexA,
			IndexBValue: point.IndexB,
			CreatedAt:   now,
		})
	}
	if len(rows) == 0 {
		return 0, nil
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "index_date"}},
			DoNothing: true,
		}).
		CreateInBatches(rows, 500)
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

// Sync pulls both series from the configured source and appends the days not
// stored yet. A failed series is logged and skipped.
func (s *Service) Sync(ctx context.Context) (int, error) {
	if s.source == nil {
		return 0, nil
	}

	merged := map[time.Time]*domain.Point{}
	fetched := 0
	for _, kind := range []domain.Kind{domain.KindIndexA, domain.KindIndexB} {
		series, err := s.source.Fetch(ctx, kind)
		if err != nil {
			s.log.Warn("index source fetch failed", zap.String("kind", string(kind)), zap.Error(err))
			continue
		}
		fetched++
		for date, value := range series {
			day := billingcycle.DateOf(date, time.UTC)
			point, ok := merged[day]
			if !ok {
				point = &domain.Point{Date: day}
				merged[day] = point
			}
			if kind == domain.KindIndexA {
				point.IndexA = decimal.NewNullDecimal(value)
			} else {
				point.IndexB = decimal.NewNullDecimal(value)
			}
		}
	}
	if fetched == 0 {
		return 0, domain.ErrSourceFailed
	}

	points := make([]domain.Point, 0, len(merged))
	for _, point := range merged {
		points = append(points, *point)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })

	inserted, err := s.Append(ctx, points)
	if err != nil {
		return 0, err
	}
	s.log.Info("index sync finished", zap.Int("points", len(points)), zap.Int("inserted", inserted))
	return inserted, nil
}
