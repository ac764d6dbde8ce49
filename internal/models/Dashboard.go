package models

import (
	"fmt"
	"strings"
	"time"
)

type FilterMode string

const (
	FilterAll     FilterMode = "all"
	FilterLast24h FilterMode = "24h"
)

// ParseFilter accepts "all", "24h" and a few spellings of both; empty means all.
func ParseFilter(s string) (FilterMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all", "all time", "all_time", "alltime":
		return FilterAll, nil
	case "24h", "last 24h", "last_24h", "day":
		return FilterLast24h, nil
	default:
		return "", &ValidationError{Field: "filter", Reason: fmt.Sprintf("unknown value %q", s)}
	}
}

type BountyWindow struct {
	Amount         int64     `json:"amount"`
	Timestamp      string    `json:"timestamp"`
	Start          time.Time `json:"start,omitempty"`
	WindowEarnings int64     `json:"windowEarnings"`
	ROI            float64   `json:"roi"`
}

type ConceptStats struct {
	Concept    string         `json:"concept"`
	Income     int64          `json:"income"`
	Uses       int            `json:"uses"`
	Events     int            `json:"events"`
	BountyCost int64          `json:"bountyCost"`
	NetIncome  int64          `json:"netIncome"`
	Profitable bool           `json:"profitable"`
	Bounties   []BountyWindow `json:"bounties"`
}

type UserScore struct {
	User   string `json:"user"`
	Count  int    `json:"count"`
	Amount int64  `json:"amount"`
}

type HourAmount struct {
	Hour   int   `json:"hour"`
	Amount int64 `json:"amount"`
}

type FlowPoint struct {
	Index     int    `json:"index"`
	Timestamp string `json:"timestamp"`
	Amount    int64  `json:"amount"`
	Total     int64  `json:"total"`
}

type Dashboard struct {
	Filter           FilterMode     `json:"filter"`
	EventCount       int            `json:"eventCount"`
	TotalAmount      int64          `json:"totalAmount"`
	Concepts         []ConceptStats `json:"concepts"`
	TopUsersByCount  []UserScore    `json:"topUsersByCount"`
	TopUsersByAmount []UserScore    `json:"topUsersByAmount"`
	Actions          map[Action]int `json:"actions"`
	Hourly           []HourAmount   `json:"hourly"`
	Cumulative       []FlowPoint    `json:"cumulative"`
	UntaggedBounties []Bounty       `json:"untaggedBounties"`
}
