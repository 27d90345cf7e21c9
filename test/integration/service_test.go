//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/dupguard/internal/api"
	"github.com/eliteGoblin/dupguard/internal/config"
	"github.com/eliteGoblin/dupguard/internal/domain"
	"github.com/eliteGoblin/dupguard/internal/guard"
	"github.com/eliteGoblin/dupguard/internal/infra"
	"github.com/eliteGoblin/dupguard/internal/policy"
	"github.com/eliteGoblin/dupguard/internal/usecase"
)

const testPolicy = `
accounts:
  dev1: acct_1
  dev2: acct_1
  dev3: acct_3
rateLimit:
  perMinute: 2
  burst: 0
sensitiveWords: [giveaway]
`

// service is the full stack behind an httptest server.
type service struct {
	dir     string
	store   *infra.Store
	policy  *config.Holder
	redis   *miniredis.Miniredis
	metrics *infra.Metrics
	http    *httptest.Server
}

func startService() *service {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	logger := zap.NewNop()

	dir, err := os.MkdirTemp("", "dupguard-integration-*")
	Expect(err).NotTo(HaveOccurred())

	store, err := infra.OpenStore(dir, infra.NewFileKeySource(dir))
	Expect(err).NotTo(HaveOccurred())

	policyPath := filepath.Join(dir, config.PolicyFileName)
	Expect(os.WriteFile(policyPath, []byte(testPolicy), 0600)).To(Succeed())
	holder, err := config.NewHolder(policyPath, logger)
	Expect(err).NotTo(HaveOccurred())

	groups := infra.NewStaticGroupResolver(holder)
	rules, err := infra.NewSQLRuleStore(ctx, store.DB(), policy.NewRegistry(), groups, holder, logger)
	Expect(err).NotTo(HaveOccurred())
	history := infra.NewSQLHistoryStore(store.DB())
	audit := infra.NewSQLAuditLog(store.DB(), logger)
	metrics := infra.NewMetrics("integration")
	detector := usecase.NewDetector(rules, history, audit, holder, groups, logger, usecase.WithMetrics(metrics))

	mr := miniredis.NewMiniRedis()
	Expect(mr.Start()).To(Succeed())
	client, err := infra.NewRedisClientFromURL(ctx, "redis://"+mr.Addr())
	Expect(err).NotTo(HaveOccurred())

	guards := []guard.Guard{
		guard.NewPermissionGuard(),
		guard.NewRateLimitGuard(infra.NewRedisRateLimiter(client), holder, guard.DefaultRateLimitGuardConfig(), metrics, logger),
		guard.NewDeduplicationGuard(detector, logger),
		guard.NewSensitiveContentGuard(guard.NewConfigMatcher(holder)),
	}
	prechecker := usecase.NewPrechecker(guards, detector, history, audit, usecase.DefaultPrecheckerConfig(), logger,
		usecase.WithMetrics(metrics), usecase.WithConfig(holder))

	server := api.NewServer(api.DefaultServerConfig("127.0.0.1:0"), api.Dependencies{
		Prechecker: prechecker,
		Rules:      rules,
		Audit:      audit,
		Policy:     holder,
		Exporter:   infra.NewExporter(),
		Metrics:    metrics,
	}, logger)

	return &service{
		dir:     dir,
		store:   store,
		policy:  holder,
		redis:   mr,
		metrics: metrics,
		http:    httptest.NewServer(server.Handler()),
	}
}

func (s *service) stop() {
	s.http.Close()
	s.redis.Close()
	s.store.Close()
	os.RemoveAll(s.dir)
}

func (s *service) post(path string, body interface{}, out interface{}) int {
	raw, err := json.Marshal(body)
	Expect(err).NotTo(HaveOccurred())
	resp, err := http.Post(s.http.URL+path, "application/json", bytes.NewReader(raw))
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		Expect(json.NewDecoder(resp.Body).Decode(out)).To(Succeed())
	}
	return resp.StatusCode
}

func (s *service) get(path string, out interface{}) int {
	resp, err := http.Get(s.http.URL + path)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		Expect(json.NewDecoder(resp.Body).Decode(out)).To(Succeed())
	}
	return resp.StatusCode
}

func candidate(target, device string) domain.CandidateAction {
	return domain.CandidateAction{
		TargetID:     target,
		TargetType:   "user",
		ActionType:   domain.ActionFollow,
		DeviceID:     device,
		ExecutorMode: domain.ExecutorAPI,
	}
}

func checkByKey(res domain.PrecheckResult, key string) domain.PrecheckCheck {
	for _, c := range res.Checks {
		if c.Key == key {
			return c
		}
	}
	Fail("no check " + key)
	return domain.PrecheckCheck{}
}

var _ = Describe("Precheck service", func() {
	var svc *service

	BeforeEach(func() {
		svc = startService()
	})

	AfterEach(func() {
		svc.stop()
	})

	Describe("duplicate follows", func() {
		It("should block a second follow of the same target from another device", func() {
			var res domain.PrecheckResult
			Expect(svc.post("/v1/precheck", candidate("user_a", "dev1"), &res)).To(Equal(http.StatusOK))
			Expect(res.AllPassed).To(BeTrue(), res.Summary())

			Expect(svc.post("/v1/precheck/record", map[string]interface{}{
				"action":  candidate("user_a", "dev1"),
				"outcome": domain.OutcomeSuccess,
			}, nil)).To(Equal(http.StatusNoContent))

			Expect(svc.post("/v1/precheck", candidate("user_a", "dev3"), &res)).To(Equal(http.StatusOK))
			Expect(res.AllPassed).To(BeFalse())
			Expect(checkByKey(res, guard.KeyDeduplication).Status).To(Equal(domain.StatusBlocked))

			var history domain.DuplicationHistory
			Expect(svc.get("/v1/history/user_a", &history)).To(Equal(http.StatusOK))
			Expect(history.TotalActions).To(Equal(1))
		})

		It("should let exactly one of many racing executors through", func() {
			const executors = 12
			var (
				wg     sync.WaitGroup
				mu     sync.Mutex
				passes int
			)
			for i := 0; i < executors; i++ {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					var verdict usecase.DuplicationVerdict
					code := svc.post("/v1/duplication/check", map[string]string{
						"actionType": "follow",
						"targetId":   "user_race",
						"deviceId":   fmt.Sprintf("dev-%d", i),
					}, &verdict)
					Expect(code).To(Equal(http.StatusOK))
					if verdict.Result == domain.ResultPass {
						mu.Lock()
						passes++
						mu.Unlock()
					}
				}(i)
			}
			wg.Wait()
			Expect(passes).To(Equal(1))
		})
	})

	Describe("rate limits", func() {
		It("should warn once the account is over its limit", func() {
			var res domain.PrecheckResult
			for i := 0; i < 2; i++ {
				Expect(svc.post("/v1/precheck", candidate(fmt.Sprintf("user_%d", i), "dev1"), &res)).To(Equal(http.StatusOK))
				Expect(checkByKey(res, guard.KeyRateLimit).Status).To(Equal(domain.StatusPass))
			}

			// dev2 shares acct_1.
			Expect(svc.post("/v1/precheck", candidate("user_9", "dev2"), &res)).To(Equal(http.StatusOK))
			limited := checkByKey(res, guard.KeyRateLimit)
			Expect(limited.Status).To(Equal(domain.StatusWarning))
			Expect(limited.WaitSeconds).To(BeNumerically(">", 0))
		})

		It("should fail open when redis is down", func() {
			svc.redis.Close()

			var res domain.PrecheckResult
			Expect(svc.post("/v1/precheck", candidate("user_a", "dev3"), &res)).To(Equal(http.StatusOK))
			Expect(checkByKey(res, guard.KeyRateLimit).Status).To(Equal(domain.StatusWarning))
			Expect(checkByKey(res, guard.KeyDeduplication).Status).To(Equal(domain.StatusPass))
		})
	})

	Describe("policy hot reload", func() {
		It("should pick up sensitive words written to the policy file", func() {
			action := candidate("user_a", "dev3")
			action.ActionType = domain.ActionReply
			action.Content = "buy crypto now"

			var res domain.PrecheckResult
			Expect(svc.post("/v1/precheck", action, &res)).To(Equal(http.StatusOK))
			Expect(checkByKey(res, guard.KeySensitiveContent).Status).To(Equal(domain.StatusPass))

			updated := strings.Replace(testPolicy, "[giveaway]", "[giveaway, crypto]", 1)
			Expect(os.WriteFile(svc.policy.Path(), []byte(updated), 0600)).To(Succeed())
			var reload map[string]bool
			Expect(svc.post("/v1/config/reload", nil, &reload)).To(Equal(http.StatusOK))
			Expect(reload["changed"]).To(BeTrue())

			action.TargetID = "user_b"
			Expect(svc.post("/v1/precheck", action, &res)).To(Equal(http.StatusOK))
			Expect(checkByKey(res, guard.KeySensitiveContent).Status).To(Equal(domain.StatusBlocked))
		})
	})

	Describe("rule administration", func() {
		It("should stop blocking once the preset rule is disabled", func() {
			Expect(svc.post("/v1/duplication/record", map[string]string{
				"actionType": "follow", "targetId": "user_a", "deviceId": "dev1",
			}, nil)).To(Equal(http.StatusNoContent))

			var verdict usecase.DuplicationVerdict
			svc.post("/v1/duplication/check", map[string]string{
				"actionType": "follow", "targetId": "user_a", "deviceId": "dev3",
			}, &verdict)
			Expect(verdict.Result).To(Equal(domain.ResultBlocked))

			Expect(svc.post("/v1/rules/default_follow_24h/enabled", map[string]bool{"enabled": false}, nil)).
				To(Equal(http.StatusOK))

			svc.post("/v1/duplication/check", map[string]string{
				"actionType": "follow", "targetId": "user_a", "deviceId": "dev3",
			}, &verdict)
			Expect(verdict.Result).To(Equal(domain.ResultPass))
		})
	})

	Describe("metrics", func() {
		It("should expose check counters", func() {
			svc.post("/v1/precheck", candidate("user_a", "dev1"), &domain.PrecheckResult{})

			resp, err := http.Get(svc.http.URL + "/metrics")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			var buf bytes.Buffer
			_, err = buf.ReadFrom(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(buf.String()).To(ContainSubstring("dupguard_duplication_checks_total"))
			Expect(buf.String()).To(ContainSubstring("dupguard_precheck_duration_seconds"))
		})
	})
})
