package connmanager_test

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
	coreerrors "github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/errors"
	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/driver"
	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/vault"
)

func seedVault(path string, secrets []byte, specs ...vault.Spec) *vault.Vault {
	Expect(vault.Seal(path, secrets, 100_000, specs)).To(Succeed())
	v, err := vault.Load(context.Background(), config.VaultConfig{Path: path, KDFIterations: 100_000}, secrets, logr.Discard())
	Expect(err).ToNot(HaveOccurred())
	return v
}

var _ = Describe("Manager", func() {
	var (
		ctx     context.Context
		poolCfg config.PoolConfig
		secret  = []byte("it-secret")
		path    string
	)

	BeforeEach(func() {
		ctx = context.Background()
		path = filepath.Join(GinkgoT().TempDir(), "accounts.vault")
		poolCfg = config.PoolConfig{
			MinPoolSize: 0, MaxPoolSize: 2,
			ConnectionTimeout: time.Second, HealthCheckInterval: time.Hour, HealthCheckTimeout: time.Second, MaxIdleTime: time.Hour,
		}
	})

	It("fails over to the next account on auth rejection (scenario 2)", func() {
		v := seedVault(path, secret,
			vault.Spec{Username: "acct_a", Priority: 1, DSN: "a"},
			vault.Spec{Username: "acct_b", Priority: 2, DSN: "b"},
		)
		defer v.Close()

		d := newScriptedDriver()
		d.script("acct_a", &classifiedErr{class: driver.ErrorClassAuth, msg: "auth rejected"})

		breakers := breaker.NewManager(config.DefaultBreakerConfig())
		mgr := connmanager.New(v, breakers, d, poolCfg, logr.Discard())
		defer mgr.Close(ctx)

		res, err := mgr.ExecuteTemplate(ctx, "SELECT 1", nil, connmanager.Options{})
		Expect(err).ToNot(HaveOccurred())
		Expect(res.RowCount).To(Equal(int64(1)))

		snapA := breakers.For("acct_a").Snapshot()
		Expect(snapA.TotalFailures).To(Equal(int64(1)))
		snapB := breakers.For("acct_b").Snapshot()
		Expect(snapB.TotalSuccesses).To(Equal(int64(1)))
	})

	It("does not fail over on a query-level error (scenario 3)", func() {
		v := seedVault(path, secret,
			vault.Spec{Username: "acct_a", Priority: 1, DSN: "a"},
			vault.Spec{Username: "acct_b", Priority: 2, DSN: "b"},
		)
		defer v.Close()

		d := newScriptedDriver()
		d.script("acct_a", &classifiedErr{class: driver.ErrorClassQuery, msg: "syntax error"})

		breakers := breaker.NewManager(config.DefaultBreakerConfig())
		mgr := connmanager.New(v, breakers, d, poolCfg, logr.Discard())
		defer mgr.Close(ctx)

		_, err := mgr.ExecuteTemplate(ctx, "SELECT bad", nil, connmanager.Options{})
		Expect(err).To(HaveOccurred())
		Expect(coreerrors.Is(err, coreerrors.KindQueryError)).To(BeTrue())

		Expect(d.attemptsFor("acct_b")).To(Equal(0)) // never tried
		snapA := breakers.For("acct_a").Snapshot()
		Expect(snapA.TotalFailures).To(Equal(int64(0))) // breaker untouched
	})

	It("returns NoAccountsAvailable once every candidate is excluded", func() {
		v := seedVault(path, secret, vault.Spec{Username: "acct_a", Priority: 1, DSN: "a"})
		defer v.Close()
		v.MarkInactive("acct_a")

		d := newScriptedDriver()
		breakers := breaker.NewManager(config.DefaultBreakerConfig())
		mgr := connmanager.New(v, breakers, d, poolCfg, logr.Discard())
		defer mgr.Close(ctx)

		_, err := mgr.ExecuteTemplate(ctx, "SELECT 1", nil, connmanager.Options{})
		Expect(coreerrors.Is(err, coreerrors.KindNoAccountsAvailable)).To(BeTrue())
	})

	It("falls through to the next candidate when the preferred account is unavailable", func() {
		v := seedVault(path, secret,
			vault.Spec{Username: "acct_a", Priority: 1, DSN: "a"},
			vault.Spec{Username: "acct_b", Priority: 2, DSN: "b"},
		)
		defer v.Close()
		v.MarkInactive("acct_b")

		d := newScriptedDriver()
		breakers := breaker.NewManager(config.DefaultBreakerConfig())
		mgr := connmanager.New(v, breakers, d, poolCfg, logr.Discard())
		defer mgr.Close(ctx)

		res, err := mgr.ExecuteTemplate(ctx, "SELECT 1", nil, connmanager.Options{PreferredAccount: "acct_b"})
		Expect(err).ToNot(HaveOccurred())
		Expect(res).ToNot(BeNil())
		Expect(d.attemptsFor("acct_a")).To(Equal(1))
		Expect(d.attemptsFor("acct_b")).To(Equal(0))
	})
})
