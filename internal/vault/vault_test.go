package vault_test

import (
	"context"
	"path/filepath"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/config"
	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/vault"
)

var _ = Describe("Vault", func() {
	var (
		ctx    context.Context
		path   string
		secret = []byte("unit-test-secret")
		cfg    config.VaultConfig
	)

	BeforeEach(func() {
		ctx = context.Background()
		path = filepath.Join(GinkgoT().TempDir(), "accounts.vault")
		cfg = config.VaultConfig{Path: path, KDFIterations: 100_000, WatchForChange: false}
	})

	It("round-trips Seal/Load and enforces priority uniqueness", func() {
		specs := []vault.Spec{
			{Username: "svc_a", Priority: 1, DSN: "dsn-a"},
			{Username: "svc_b", Priority: 2, DSN: "dsn-b"},
		}
		Expect(vault.Seal(path, secret, cfg.KDFIterations, specs)).To(Succeed())

		v, err := vault.Load(ctx, cfg, secret, logr.Discard())
		Expect(err).ToNot(HaveOccurred())
		defer v.Close()

		accounts := v.ListAccounts()
		Expect(accounts).To(HaveLen(2))
		Expect(accounts[0].Username).To(Equal("svc_a")) // priority-ordered
		Expect(accounts[0].IsActive()).To(BeTrue())      // default isActive=true
		Expect(accounts[0].HealthScore()).To(Equal(100.0))
	})

	It("rejects a vault file with a duplicate priority", func() {
		specs := []vault.Spec{
			{Username: "svc_a", Priority: 1, DSN: "dsn-a"},
			{Username: "svc_b", Priority: 1, DSN: "dsn-b"},
		}
		Expect(vault.Seal(path, secret, cfg.KDFIterations, specs)).To(Succeed())

		_, err := vault.Load(ctx, cfg, secret, logr.Discard())
		Expect(err).To(HaveOccurred())
	})

	It("fails to decrypt under the wrong secret", func() {
		specs := []vault.Spec{{Username: "svc_a", Priority: 1, DSN: "dsn-a"}}
		Expect(vault.Seal(path, secret, cfg.KDFIterations, specs)).To(Succeed())

		_, err := vault.Load(ctx, cfg, []byte("wrong-secret"), logr.Discard())
		Expect(err).To(HaveOccurred())
	})

	It("marks an account inactive so it is excluded regardless of breaker state", func() {
		specs := []vault.Spec{{Username: "svc_a", Priority: 1, DSN: "dsn-a"}}
		Expect(vault.Seal(path, secret, cfg.KDFIterations, specs)).To(Succeed())

		v, err := vault.Load(ctx, cfg, secret, logr.Discard())
		Expect(err).ToNot(HaveOccurred())
		defer v.Close()

		v.MarkInactive("svc_a")
		a, ok := v.Get("svc_a")
		Expect(ok).To(BeTrue())
		Expect(a.IsActive()).To(BeFalse())
	})
})
