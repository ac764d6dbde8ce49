package services

import (
	"sort"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"cloutdash/internal/models"
	"cloutdash/internal/providers"
)

const (
	leaderboardSize = 10
	bountyWindow    = 24 * time.Hour
)

// hourlyActions are the actions summed into the time-of-day distribution.
var hourlyActions = map[models.Action]struct{}{
	models.ActionLike: {},
	models.ActionTip:  {},
}

type Input struct {
	Events           []*models.Event
	Bounties         map[string][]models.Bounty
	UntaggedBounties []models.Bounty
	Filter           models.FilterMode
	Now              time.Time
}

type StatisticServiceInterface interface {
	// Dashboard computes statistics for in, reusing a cached result stored under key.
	Dashboard(key string, in Input) *models.Dashboard
}

type StatisticService struct {
	cache  providers.CacheProviderInterface
	logger providers.Logger
}

func NewStatisticService(cache providers.CacheProviderInterface, logger providers.Logger) StatisticServiceInterface {
	return &StatisticService{cache: cache, logger: logger}
}

func (ss *StatisticService) Dashboard(key string, in Input) *models.Dashboard {
	if key != "" {
		if data, ok := ss.cache.Get(key); ok {
			var d models.Dashboard
			if err := json.Unmarshal(data, &d); err == nil {
				return &d
			}
		}
	}

	d := Compute(in)

	if key != "" {
		data, err := json.Marshal(d)
		if err != nil {
			ss.logger.Warnf(providers.TypeApp, "Unable to cache dashboard %s: %s", key, err)
			return d
		}
		ss.cache.Set(key, data)
	}
	return d
}

// Compute derives every statistic from scratch.
func Compute(in Input) *models.Dashboard {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	filter := in.Filter
	if filter == "" {
		filter = models.FilterAll
	}
	events := FilterEvents(in.Events, filter, now)

	d := &models.Dashboard{
		Filter:           filter,
		EventCount:       len(events),
		Actions:          make(map[models.Action]int),
		UntaggedBounties: append([]models.Bounty{}, in.UntaggedBounties...),
	}
	for _, e := range events {
		d.TotalAmount += e.Amount
		d.Actions[e.Action]++
	}
	d.Concepts = conceptStats(events, in.Bounties, now)
	d.TopUsersByCount, d.TopUsersByAmount = leaderboards(events)
	d.Hourly = hourly(events)
	d.Cumulative = CumulativeFlow(events)
	return d
}

// FilterEvents applies the time filter. Under the 24h filter, events whose timestamp
// can't be parsed are excluded; under "all" every event is kept.
func FilterEvents(events []*models.Event, filter models.FilterMode, now time.Time) []*models.Event {
	out := make([]*models.Event, 0, len(events))
	for _, e := range events {
		if e == nil {
			continue
		}
		if filter == models.FilterLast24h {
			t, ok := models.ParseTimestamp(e.Timestamp, now)
			if !ok || t.Before(now.Add(-24*time.Hour)) || t.After(now) {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

// ROI is the percentage return of earnings over a bounty's cost, 0 for a free bounty.
func ROI(amount, earnings int64) float64 {
	if amount <= 0 {
		return 0
	}
	a := decimal.NewFromInt(amount)
	roi := decimal.NewFromInt(earnings).Sub(a).Div(a).Mul(decimal.NewFromInt(100))
	return roi.Round(2).InexactFloat64()
}

func conceptStats(events []*models.Event, bounties map[string][]models.Bounty, now time.Time) []models.ConceptStats {
	byConcept := make(map[string]*models.ConceptStats)
	get := func(name string) *models.ConceptStats {
		cs, ok := byConcept[name]
		if !ok {
			cs = &models.ConceptStats{Concept: name, Bounties: make([]models.BountyWindow, 0)}
			byConcept[name] = cs
		}
		return cs
	}

	type timed struct {
		at     time.Time
		amount int64
	}
	timedByConcept := make(map[string][]timed)

	for _, e := range events {
		name := e.ConceptName()
		if name == "" {
			continue
		}
		cs := get(name)
		cs.Income += e.Amount
		cs.Events++
		if e.Action == models.ActionUse {
			cs.Uses++
		}
		if t, ok := models.ParseTimestamp(e.Timestamp, now); ok {
			timedByConcept[name] = append(timedByConcept[name], timed{at: t, amount: e.Amount})
		}
	}

	for name, list := range bounties {
		if len(list) == 0 {
			continue
		}
		cs := get(name)
		for _, b := range list {
			w := models.BountyWindow{Amount: b.Amount, Timestamp: b.Timestamp}
			if start, ok := models.ParseTimestamp(b.Timestamp, now); ok {
				w.Start = start
				end := start.Add(bountyWindow)
				for _, te := range timedByConcept[name] {
					if !te.at.Before(start) && !te.at.After(end) {
						w.WindowEarnings += te.amount
					}
				}
			}
			w.ROI = ROI(b.Amount, w.WindowEarnings)
			cs.BountyCost += b.Amount
			cs.Bounties = append(cs.Bounties, w)
		}
	}

	out := make([]models.ConceptStats, 0, len(byConcept))
	for _, cs := range byConcept {
		cs.NetIncome = cs.Income - cs.BountyCost
		cs.Profitable = cs.NetIncome > 0
		out = append(out, *cs)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Income != out[j].Income {
			return out[i].Income > out[j].Income
		}
		return out[i].Concept < out[j].Concept
	})
	return out
}

func leaderboards(events []*models.Event) (byCount, byAmount []models.UserScore) {
	scores := make(map[string]*models.UserScore)
	for _, e := range events {
		if e.User == "" || e.User == models.SelfUser {
			continue
		}
		s, ok := scores[e.User]
		if !ok {
			s = &models.UserScore{User: e.User}
			scores[e.User] = s
		}
		s.Count++
		s.Amount += e.Amount
	}

	all := make([]models.UserScore, 0, len(scores))
	for _, s := range scores {
		all = append(all, *s)
	}

	byCount = append([]models.UserScore(nil), all...)
	sort.Slice(byCount, func(i, j int) bool {
		if byCount[i].Count != byCount[j].Count {
			return byCount[i].Count > byCount[j].Count
		}
		return byCount[i].User < byCount[j].User
	})
	byAmount = append([]models.UserScore(nil), all...)
	sort.Slice(byAmount, func(i, j int) bool {
		if byAmount[i].Amount != byAmount[j].Amount {
			return byAmount[i].Amount > byAmount[j].Amount
		}
		return byAmount[i].User < byAmount[j].User
	})
	return truncate(byCount), truncate(byAmount)
}

func truncate(scores []models.UserScore) []models.UserScore {
	if len(scores) > leaderboardSize {
		return scores[:leaderboardSize]
	}
	return scores
}

func hourly(events []*models.Event) []models.HourAmount {
	sums := make(map[int]int64)
	for _, e := range events {
		if _, ok := hourlyActions[e.Action]; !ok {
			continue
		}
		h, ok := models.HourOfDay(e.Timestamp)
		if !ok {
			continue
		}
		sums[h] += e.Amount
	}
	out := make([]models.HourAmount, 0, len(sums))
	for h, amount := range sums {
		out = append(out, models.HourAmount{Hour: h, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hour < out[j].Hour })
	return out
}

// CumulativeFlow reverses newest-first events into chronological order and pairs each
// amount with the running total.
func CumulativeFlow(events []*models.Event) []models.FlowPoint {
	out := make([]models.FlowPoint, 0, len(events))
	var total int64
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		total += e.Amount
		out = append(out, models.FlowPoint{
			Index:     len(out),
			Timestamp: e.Timestamp,
			Amount:    e.Amount,
			Total:     total,
		})
	}
	return out
}
