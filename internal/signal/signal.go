// Package signal parses the semicolon-delimited signal feed and pairs raw
// open/close events into ordered trading signals.
package signal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Media-refocus/trading-saas-sub000/pkg/domain"
)

// DefaultConfidence is assigned to signals whose feed line omits the
// confidence column.
const DefaultConfidence = 0.95

// ParseResult carries the paired signals plus counts of feed lines that
// could not be used, so callers can report data quality instead of silently
// shrinking the signal set.
type ParseResult struct {
	Signals       []domain.TradingSignal
	MalformedRows int
	UnpairedOpens int
	OrphanCloses  int
}

// Parse reads the semicolon-delimited feed from r and returns paired trading
// signals ordered by open timestamp.
//
// Line format: ts_utc;kind;side;price_hint;range_id;message_id;confidence
// A header line starting with "ts_utc" is skipped.
func Parse(r io.Reader) (*ParseResult, error) {
	res := &ParseResult{}

	var raws []domain.RawSignal
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if lineNo == 1 && strings.HasPrefix(line, "ts_utc") {
			continue
		}

		raw, ok := parseLine(line)
		if !ok {
			res.MalformedRows++
			continue
		}
		raws = append(raws, raw)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading signal feed: %w", err)
	}

	pair(raws, res)
	return res, nil
}

// LoadFile parses the signal feed at path.
func LoadFile(path string) (*ParseResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening signal feed: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// parseLine splits one feed line into a RawSignal. Lines with fewer than
// seven fields or an unparseable timestamp are rejected.
func parseLine(line string) (domain.RawSignal, bool) {
	parts := strings.Split(line, ";")
	if len(parts) < 7 {
		return domain.RawSignal{}, false
	}

	ts, err := parseTimestamp(strings.TrimSpace(parts[0]))
	if err != nil {
		return domain.RawSignal{}, false
	}

	kind := domain.SignalKind(strings.TrimSpace(parts[1]))
	if kind != domain.KindRangeOpen && kind != domain.KindRangeClose {
		return domain.RawSignal{}, false
	}

	raw := domain.RawSignal{
		Timestamp: ts,
		Kind:      kind,
		RangeID:   strings.TrimSpace(parts[4]),
	}

	if side := domain.Side(strings.TrimSpace(parts[2])); side.Valid() {
		raw.Side = side
	}
	if v := strings.TrimSpace(parts[3]); v != "" {
		if price, err := strconv.ParseFloat(v, 64); err == nil {
			raw.PriceHint = price
		}
	}
	if v := strings.TrimSpace(parts[5]); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			raw.MessageID = id
		}
	}
	if v := strings.TrimSpace(parts[6]); v != "" {
		if c, err := strconv.ParseFloat(v, 64); err == nil {
			raw.Confidence = c
		}
	}

	return raw, true
}

// parseTimestamp accepts RFC 3339 or "YYYY-MM-DD HH:MM:SS" (assumed UTC).
func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02 15:04:05", s)
}

// pair matches range_open events with their range_close by range ID. Opens
// with no side or no matching close do not become signals; they are counted
// so that data gaps stay visible.
func pair(raws []domain.RawSignal, res *ParseResult) {
	type pending struct {
		open  domain.RawSignal
		close *domain.RawSignal
	}

	byRange := make(map[string]*pending)
	var order []string

	for i := range raws {
		raw := &raws[i]
		switch raw.Kind {
		case domain.KindRangeOpen:
			if _, seen := byRange[raw.RangeID]; !seen {
				order = append(order, raw.RangeID)
			}
			byRange[raw.RangeID] = &pending{open: *raw}
		case domain.KindRangeClose:
			p, ok := byRange[raw.RangeID]
			if !ok {
				res.OrphanCloses++
				continue
			}
			p.close = raw
		}
	}

	for _, rangeID := range order {
		p := byRange[rangeID]
		if p.open.Side == "" || p.close == nil {
			res.UnpairedOpens++
			continue
		}

		confidence := p.open.Confidence
		if confidence == 0 {
			confidence = DefaultConfidence
		}

		closeTS := p.close.Timestamp
		res.Signals = append(res.Signals, domain.TradingSignal{
			ID:             rangeID,
			Timestamp:      p.open.Timestamp,
			Side:           p.open.Side,
			EntryPrice:     p.open.PriceHint,
			CloseTimestamp: &closeTS,
			RangeID:        rangeID,
			Confidence:     confidence,
		})
	}

	sort.Slice(res.Signals, func(i, j int) bool {
		return res.Signals[i].Timestamp.Before(res.Signals[j].Timestamp)
	})
}
