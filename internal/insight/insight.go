// Package insight implements the subject/metric/value insight store:
// a bounded per-customer in-memory ring backed by
// write-through persistence via the connection manager's named templates,
// plus a provenance hash cache for query reproducibility.
package insight

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/connmanager"
	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/driver"
)

// Named templates consumed via the connection manager.
const (
	TemplateLogInsight               = "LOG_INSIGHT"
	TemplateLogProvenance            = "LOG_PROVENANCE"
	TemplateGetProvenance            = "GET_PROVENANCE"
	TemplateGetInsightsByCustomer    = "GET_INSIGHTS_BY_CUSTOMER"
	TemplateGetInsightsBySubject     = "GET_INSIGHTS_BY_SUBJECT"
	TemplateGetInsightsBySubjectMetric = "GET_INSIGHTS_BY_SUBJECT_METRIC"
)

const (
	ringCapacity         = 100
	provenanceCapacity   = 1000
	provenanceEvictShare = 0.2
	sweepInterval        = 5 * time.Minute
	defaultQueryLimit    = 100
)

// Atom is one subject/metric/value observation.
type Atom struct {
	AtomID          string
	CustomerID      string
	Subject         string
	Metric          string
	Value           interface{}
	ProvenanceHash  string
	Ts              time.Time
	TTLSeconds      *int64
}

func (a Atom) expired(now time.Time) bool {
	if a.TTLSeconds == nil {
		return false
	}
	return now.Sub(a.Ts) > time.Duration(*a.TTLSeconds)*time.Second
}

// AggKind names a derived numeric aggregation.
type AggKind string

const (
	AggCount AggKind = "count"
	AggSum   AggKind = "sum"
	AggAvg   AggKind = "avg"
	AggMin   AggKind = "min"
	AggMax   AggKind = "max"
)

// Store is the insight store. Safe for concurrent use.
type Store struct {
	conn *connmanager.Manager
	log  logr.Logger

	mu    sync.Mutex
	rings map[string][]Atom // per customer, oldest first, bounded at ringCapacity

	provenance      map[string]string // hash -> normalized template text
	provenanceOrder []string          // insertion order, oldest first

	group  *errgroup.Group
	cancel context.CancelFunc
}

// New constructs an insight store over conn. Call Start to begin the TTL
// sweep.
func New(conn *connmanager.Manager, log logr.Logger) *Store {
	return &Store{
		conn:       conn,
		log:        log,
		rings:      make(map[string][]Atom),
		provenance: make(map[string]string),
	}
}

// Start begins the 5-minute TTL sweep in a background goroutine.
func (s *Store) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	group, gctx := errgroup.WithContext(ctx)
	s.group = group
	group.Go(func() error {
		s.sweepLoop(gctx)
		return nil
	})
}

func (s *Store) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for customer, ring := range s.rings {
		kept := ring[:0:0]
		for _, a := range ring {
			if !a.expired(now) {
				kept = append(kept, a)
			}
		}
		s.rings[customer] = kept
	}
}

// Record appends atom to the in-memory ring and writes it through via
// LOG_INSIGHT.
func (s *Store) Record(ctx context.Context, customer, subject, metric string, value interface{}, provenanceHash string, ttlSeconds *int64) (string, error) {
	atom := Atom{
		AtomID:         uuid.NewString(),
		CustomerID:     customer,
		Subject:        subject,
		Metric:         metric,
		Value:          value,
		ProvenanceHash: provenanceHash,
		Ts:             time.Now(),
		TTLSeconds:     ttlSeconds,
	}

	s.mu.Lock()
	ring := append(s.rings[customer], atom)
	if len(ring) > ringCapacity {
		ring = ring[len(ring)-ringCapacity:]
	}
	s.rings[customer] = ring
	s.mu.Unlock()

	_, err := s.conn.ExecuteTemplate(ctx, TemplateLogInsight, map[string]interface{}{
		"atom_id":  atom.AtomID,
		"customer": customer,
		"subject":  subject,
		"metric":   metric,
		"value":    value,
	}, connmanager.Options{})
	if err != nil {
		return atom.AtomID, err
	}
	return atom.AtomID, nil
}

// Query filters the in-memory ring first; if that yields fewer than limit
// atoms it falls back to a named-template query and repopulates the cache.
func (s *Store) Query(ctx context.Context, customer string, subject, metric *string, limit int) ([]Atom, error) {
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	cached := s.filterRing(customer, subject, metric)
	if len(cached) >= limit {
		return lastN(cached, limit), nil
	}

	template, params := s.selectQueryTemplate(customer, subject, metric, limit)
	result, err := s.conn.ExecuteTemplate(ctx, template, params, connmanager.Options{})
	if err != nil {
		return cached, err
	}

	fetched := rowsToAtoms(result, customer)
	s.repopulate(customer, fetched)
	return lastN(fetched, limit), nil
}

func (s *Store) selectQueryTemplate(customer string, subject, metric *string, limit int) (string, map[string]interface{}) {
	switch {
	case subject != nil && metric != nil:
		return TemplateGetInsightsBySubjectMetric, map[string]interface{}{
			"customer": customer, "subject": *subject, "metric": *metric, "limit": limit,
		}
	case subject != nil:
		return TemplateGetInsightsBySubject, map[string]interface{}{
			"customer": customer, "subject": *subject, "limit": limit,
		}
	default:
		return TemplateGetInsightsByCustomer, map[string]interface{}{
			"customer": customer, "limit": limit,
		}
	}
}

func (s *Store) filterRing(customer string, subject, metric *string) []Atom {
	now := time.Now()
	s.mu.Lock()
	ring := append([]Atom{}, s.rings[customer]...)
	s.mu.Unlock()

	out := make([]Atom, 0, len(ring))
	for _, a := range ring {
		if a.expired(now) {
			continue
		}
		if subject != nil && a.Subject != *subject {
			continue
		}
		if metric != nil && a.Metric != *metric {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (s *Store) repopulate(customer string, atoms []Atom) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ring := append(s.rings[customer], atoms...)
	if len(ring) > ringCapacity {
		ring = ring[len(ring)-ringCapacity:]
	}
	s.rings[customer] = ring
}

// GetLatest returns the most recent matching atom, if any.
func (s *Store) GetLatest(ctx context.Context, customer string, subject, metric *string) (*Atom, error) {
	atoms, err := s.Query(ctx, customer, subject, metric, defaultQueryLimit)
	if err != nil && len(atoms) == 0 {
		return nil, err
	}
	if len(atoms) == 0 {
		return nil, nil
	}
	latest := atoms[len(atoms)-1]
	return &latest, nil
}

// GetTrend returns matching atoms observed within the last `days` days.
func (s *Store) GetTrend(ctx context.Context, customer string, subject, metric *string, days int) ([]Atom, error) {
	atoms, err := s.Query(ctx, customer, subject, metric, defaultQueryLimit)
	if err != nil && len(atoms) == 0 {
		return nil, err
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	out := make([]Atom, 0, len(atoms))
	for _, a := range atoms {
		if a.Ts.After(cutoff) {
			out = append(out, a)
		}
	}
	return out, nil
}

// Aggregate reduces atoms' values per kind. Non-numeric values coerce to 0.
func Aggregate(atoms []Atom, kind AggKind) float64 {
	if kind == AggCount {
		return float64(len(atoms))
	}
	if len(atoms) == 0 {
		return 0
	}

	values := make([]float64, len(atoms))
	for i, a := range atoms {
		values[i] = toNumeric(a.Value)
	}

	switch kind {
	case AggSum:
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum
	case AggAvg:
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values))
	case AggMin:
		min := values[0]
		for _, v := range values[1:] {
			if v < min {
				min = v
			}
		}
		return min
	case AggMax:
		max := values[0]
		for _, v := range values[1:] {
			if v > max {
				max = v
			}
		}
		return max
	default:
		return 0
	}
}

func toNumeric(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// StoreProvenance normalizes template+params, hashes them, writes through
// LOG_PROVENANCE, and caches the result.
func (s *Store) StoreProvenance(ctx context.Context, template string, params map[string]interface{}) (string, error) {
	hash := ProvenanceHash(template, params)
	normalized := normalizeTemplate(template)

	_, err := s.conn.ExecuteTemplate(ctx, TemplateLogProvenance, map[string]interface{}{
		"hash":        hash,
		"template":    normalized,
		"text":        normalized,
		"params_json": canonicalParams(params),
		"created_by":  "core",
	}, connmanager.Options{})
	if err != nil {
		return hash, err
	}

	s.cacheProvenance(hash, normalized)
	return hash, nil
}

func (s *Store) cacheProvenance(hash, normalized string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.provenance[hash]; ok {
		return
	}
	s.provenance[hash] = normalized
	s.provenanceOrder = append(s.provenanceOrder, hash)

	if len(s.provenanceOrder) > provenanceCapacity {
		evict := int(float64(provenanceCapacity) * provenanceEvictShare)
		if evict < 1 {
			evict = 1
		}
		for _, h := range s.provenanceOrder[:evict] {
			delete(s.provenance, h)
		}
		s.provenanceOrder = append([]string{}, s.provenanceOrder[evict:]...)
	}
}

// GetProvenance resolves hash to its normalized template text, consulting
// the local cache before issuing GET_PROVENANCE.
func (s *Store) GetProvenance(ctx context.Context, hash string) (string, error) {
	s.mu.Lock()
	cached, ok := s.provenance[hash]
	s.mu.Unlock()
	if ok {
		return cached, nil
	}

	result, err := s.conn.ExecuteTemplate(ctx, TemplateGetProvenance, map[string]interface{}{"hash": hash}, connmanager.Options{})
	if err != nil {
		return "", err
	}
	text := firstStringColumn(result, "template")
	if text != "" {
		s.cacheProvenance(hash, text)
	}
	return text, nil
}

// Close stops the TTL sweep and joins its goroutine.
func (s *Store) Close() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	return s.group.Wait()
}

func lastN(atoms []Atom, n int) []Atom {
	if len(atoms) <= n {
		return atoms
	}
	return atoms[len(atoms)-n:]
}

func rowsToAtoms(result *driver.Result, customer string) []Atom {
	if result == nil {
		return nil
	}
	idx := make(map[string]int, len(result.Columns))
	for i, c := range result.Columns {
		idx[c] = i
	}

	atoms := make([]Atom, 0, len(result.Rows))
	for _, row := range result.Rows {
		a := Atom{CustomerID: customer}
		if i, ok := idx["atom_id"]; ok && i < len(row) {
			a.AtomID, _ = row[i].(string)
		}
		if i, ok := idx["subject"]; ok && i < len(row) {
			a.Subject, _ = row[i].(string)
		}
		if i, ok := idx["metric"]; ok && i < len(row) {
			a.Metric, _ = row[i].(string)
		}
		if i, ok := idx["value"]; ok && i < len(row) {
			a.Value = row[i]
		}
		if i, ok := idx["provenance_hash"]; ok && i < len(row) {
			a.ProvenanceHash, _ = row[i].(string)
		}
		if i, ok := idx["ts"]; ok && i < len(row) {
			if t, ok := row[i].(time.Time); ok {
				a.Ts = t
			}
		}
		atoms = append(atoms, a)
	}
	sort.Slice(atoms, func(i, j int) bool { return atoms[i].Ts.Before(atoms[j].Ts) })
	return atoms
}

func firstStringColumn(result *driver.Result, column string) string {
	if result == nil || len(result.Rows) == 0 {
		return ""
	}
	for i, c := range result.Columns {
		if c == column && i < len(result.Rows[0]) {
			s, _ := result.Rows[0][i].(string)
			return s
		}
	}
	return ""
}
