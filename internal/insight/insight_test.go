package insight_test

import (
	"context"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/breaker"
	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/config"
	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/connmanager"
	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/driver"
	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/insight"
	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/vault"
)

func seedVault(path string, secrets []byte, specs ...vault.Spec) *vault.Vault {
	Expect(vault.Seal(path, secrets, 100_000, specs)).To(Succeed())
	v, err := vault.Load(context.Background(), config.VaultConfig{Path: path, KDFIterations: 100_000}, secrets, logr.Discard())
	Expect(err).ToNot(HaveOccurred())
	return v
}

func newTestManager(d *recordingDriver, path string) *connmanager.Manager {
	v := seedVault(path, []byte("insight-secret"), vault.Spec{Username: "acct_a", Priority: 1, DSN: "a"})
	breakers := breaker.NewManager(config.DefaultBreakerConfig())
	poolCfg := config.PoolConfig{
		MinPoolSize: 0, MaxPoolSize: 2,
		ConnectionTimeout: time.Second, HealthCheckInterval: time.Hour, HealthCheckTimeout: time.Second, MaxIdleTime: time.Hour,
	}
	return connmanager.New(v, breakers, d, poolCfg, logr.Discard())
}

var _ = Describe("Store", func() {
	var (
		ctx  context.Context
		d    *recordingDriver
		path string
	)

	BeforeEach(func() {
		ctx = context.Background()
		d = newRecordingDriver()
		path = filepath.Join(GinkgoT().TempDir(), "accounts.vault")
	})

	It("records an atom to the ring and writes it through LOG_INSIGHT", func() {
		mgr := newTestManager(d, path)
		defer mgr.Close(ctx)
		store := insight.New(mgr, logr.Discard())

		atomID, err := store.Record(ctx, "cust1", "queries", "latency_ms", 42.0, "", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(atomID).NotTo(BeEmpty())
		Expect(d.callsFor(insight.TemplateLogInsight)).To(Equal(1))

		atoms, err := store.Query(ctx, "cust1", nil, nil, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(atoms).To(HaveLen(1))
		Expect(atoms[0].Value).To(Equal(42.0))
	})

	It("serves Query from the in-memory ring without a template round trip once enough atoms are cached", func() {
		mgr := newTestManager(d, path)
		defer mgr.Close(ctx)
		store := insight.New(mgr, logr.Discard())

		for i := 0; i < 3; i++ {
			_, err := store.Record(ctx, "cust1", "queries", "latency_ms", float64(i), "", nil)
			Expect(err).NotTo(HaveOccurred())
		}

		atoms, err := store.Query(ctx, "cust1", nil, nil, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(atoms).To(HaveLen(3))
		Expect(d.callsFor(insight.TemplateGetInsightsByCustomer)).To(Equal(0))
	})

	It("falls back to GET_INSIGHTS_BY_SUBJECT_METRIC when the ring is insufficient", func() {
		mgr := newTestManager(d, path)
		defer mgr.Close(ctx)
		store := insight.New(mgr, logr.Discard())

		d.setResult(insight.TemplateGetInsightsBySubjectMetric, &driver.Result{
			Columns: []string{"atom_id", "subject", "metric", "value"},
			Rows: [][]interface{}{
				{"remote-atom-1", "queries", "latency_ms", 99.0},
			},
		})

		subject := "queries"
		metric := "latency_ms"
		atoms, err := store.Query(ctx, "cust1", &subject, &metric, 5)
		Expect(err).NotTo(HaveOccurred())
		Expect(atoms).To(HaveLen(1))
		Expect(atoms[0].AtomID).To(Equal("remote-atom-1"))
		Expect(d.callsFor(insight.TemplateGetInsightsBySubjectMetric)).To(Equal(1))
	})

	It("excludes TTL-expired atoms from ring filtering", func() {
		mgr := newTestManager(d, path)
		defer mgr.Close(ctx)
		store := insight.New(mgr, logr.Discard())

		ttl := int64(0) // expires immediately
		_, err := store.Record(ctx, "cust1", "queries", "latency_ms", 1.0, "", &ttl)
		Expect(err).NotTo(HaveOccurred())

		time.Sleep(5 * time.Millisecond)

		d.setResult(insight.TemplateGetInsightsByCustomer, &driver.Result{Columns: []string{"atom_id"}, Rows: nil})
		atoms, err := store.Query(ctx, "cust1", nil, nil, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(atoms).To(BeEmpty())
	})

	DescribeTable("Aggregate coerces non-numeric values to 0",
		func(values []interface{}, kind insight.AggKind, expected float64) {
			atoms := make([]insight.Atom, len(values))
			for i, v := range values {
				atoms[i] = insight.Atom{Value: v}
			}
			Expect(insight.Aggregate(atoms, kind)).To(Equal(expected))
		},
		Entry("sum with a non-numeric value coerced to 0", []interface{}{1.0, "not-a-number", 2.0}, insight.AggSum, 3.0),
		Entry("avg over three values", []interface{}{2.0, 4.0, 6.0}, insight.AggAvg, 4.0),
		Entry("min", []interface{}{5.0, 1.0, 3.0}, insight.AggMin, 1.0),
		Entry("max", []interface{}{5.0, 1.0, 3.0}, insight.AggMax, 5.0),
		Entry("count ignores value entirely", []interface{}{"x", "y"}, insight.AggCount, 2.0),
	)

	It("caches provenance hashes and writes through LOG_PROVENANCE", func() {
		mgr := newTestManager(d, path)
		defer mgr.Close(ctx)
		store := insight.New(mgr, logr.Discard())

		hash, err := store.StoreProvenance(ctx, "SELECT * FROM t WHERE id = :id", map[string]interface{}{"id": 1})
		Expect(err).NotTo(HaveOccurred())
		Expect(hash).To(HaveLen(16))
		Expect(d.callsFor(insight.TemplateLogProvenance)).To(Equal(1))

		text, err := store.GetProvenance(ctx, hash)
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(Equal("SELECT * FROM t WHERE id = :id"))
		// Served from cache: no GET_PROVENANCE round trip needed.
		Expect(d.callsFor(insight.TemplateGetProvenance)).To(Equal(0))
	})

	It("produces the same provenance hash for semantically identical but differently-ordered params", func() {
		h1 := insight.ProvenanceHash("SELECT 1", map[string]interface{}{"a": 1, "b": 2})
		h2 := insight.ProvenanceHash("SELECT  1", map[string]interface{}{"b": 2, "a": 1})
		Expect(h1).To(Equal(h2))
	})
})
