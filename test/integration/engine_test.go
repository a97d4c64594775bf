//go:build integration

package integration

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/netgate/internal/daemon"
	"github.com/eliteGoblin/focusd/netgate/internal/domain"
	"github.com/eliteGoblin/focusd/netgate/test/fixtures"
)

const (
	appA = "com.example.game"
	appB = "com.example.reader"
	tel  = "com.android.phone"
)

var _ = Describe("Engine", func() {
	var (
		catalog     *fixtures.FakeCatalog
		usage       *fixtures.FakeUsage
		selection   *fixtures.FakeSelection
		interceptor *fixtures.FakeInterceptor
		svc         *daemon.Service
	)

	all := func() domain.AppSet { return catalog.Names() }
	blocked := func() domain.AppSet { return interceptor.Blocked(all()) }

	start := func() {
		svc = daemon.NewService(fastConfig(), daemon.Deps{
			Catalog:     catalog,
			Usage:       usage,
			Selection:   selection,
			Interceptor: interceptor,
		}, zap.NewNop())
		Expect(svc.Start(context.Background())).To(Succeed())
	}

	BeforeEach(func() {
		svc = nil
		catalog = fixtures.NewFakeCatalog(appA, appB, tel)
		usage = &fixtures.FakeUsage{}
		selection = fixtures.NewFakeSelection(appA, appB)
		interceptor = fixtures.NewFakeInterceptor()
	})

	AfterEach(func() {
		if svc != nil {
			Expect(svc.Stop()).To(Succeed())
			Expect(interceptor.Live()).To(BeEmpty())
		}
	})

	Describe("foreground gating", func() {
		Context("when a selected app is in the foreground", func() {
			It("bypasses it and blocks the other selected apps", func() {
				usage.SetForeground(appA)
				start()

				Eventually(blocked).Should(Equal(domain.NewAppSet(appB)))
				excluded := interceptor.Last().Excluded()
				Expect(excluded.Has(appA)).To(BeTrue())
				Expect(excluded.Has(tel)).To(BeTrue())
			})
		})

		Context("when nothing is in the foreground", func() {
			It("blocks every selected app and keeps protected services open", func() {
				start()

				Eventually(blocked).Should(Equal(domain.NewAppSet(appA, appB)))
				Expect(interceptor.Last().Excluded().Has(tel)).To(BeTrue())
			})
		})

		Context("when the foreground switches", func() {
			It("follows the new foreground app", func() {
				usage.SetForeground(appA)
				start()
				Eventually(blocked).Should(Equal(domain.NewAppSet(appB)))

				usage.SetForeground(appB)
				Eventually(blocked).Should(Equal(domain.NewAppSet(appA)))
				Eventually(func() string { return svc.Status().Foreground }).Should(Equal(appB))
			})
		})

		Context("when the usage signal is unavailable", func() {
			It("treats nothing as foreground and reports degradation", func() {
				usage.SetUnavailable(true)
				start()

				Eventually(blocked).Should(Equal(domain.NewAppSet(appA, appB)))
				Eventually(func() []string { return svc.Status().Degraded }).Should(ContainElement("usage"))
			})
		})
	})

	Describe("protection", func() {
		Context("when a protected service is selected", func() {
			It("never blocks it", func() {
				selection.Replace(tel, appB)
				start()

				Eventually(blocked).Should(Equal(domain.NewAppSet(appB)))
				Consistently(func() bool { return blocked().Has(tel) }, 200*time.Millisecond).Should(BeFalse())
			})
		})

		Context("when the interception handle drops a protected exclusion", func() {
			It("tears down, then recovers once the handle behaves", func() {
				interceptor.DropExclusion(tel)
				start()

				Eventually(func() int { return len(interceptor.Attempts()) }).Should(BeNumerically(">=", 2))
				Expect(svc.Status().TunnelState).NotTo(Equal(domain.TunnelActive))

				interceptor.DropExclusion()
				Eventually(func() domain.TunnelState { return svc.Status().TunnelState }).Should(Equal(domain.TunnelActive))
				Expect(blocked().Has(tel)).To(BeFalse())
			})
		})
	})

	Describe("selection changes", func() {
		It("applies a changed selection immediately", func() {
			start()
			Eventually(blocked).Should(Equal(domain.NewAppSet(appA, appB)))

			selection.Replace(appB)
			svc.SelectionChanged()

			Eventually(blocked).Should(Equal(domain.NewAppSet(appB)))
			Eventually(func() int { return svc.Status().Selected }).Should(Equal(1))
		})

		It("does not reconfigure when nothing changed", func() {
			start()
			Eventually(blocked).Should(Equal(domain.NewAppSet(appA, appB)))
			established := interceptor.Established()

			Consistently(interceptor.Established, 150*time.Millisecond).Should(Equal(established))
		})
	})

	Describe("failure handling", func() {
		Context("when establishment fails repeatedly", func() {
			It("retries with growing delays and then succeeds", func() {
				interceptor.FailNext(3)
				start()

				Eventually(func() domain.TunnelState { return svc.Status().TunnelState }).Should(Equal(domain.TunnelActive))
				attempts := interceptor.Attempts()
				Expect(len(attempts)).To(BeNumerically(">=", 4))
				Expect(attempts[1].Sub(attempts[0])).To(BeNumerically(">=", 35*time.Millisecond))
				Expect(attempts[2].Sub(attempts[1])).To(BeNumerically(">=", 70*time.Millisecond))
				Expect(svc.Status().Failures).To(Equal(0))
			})
		})

		Context("when the platform revokes the handle", func() {
			It("re-establishes on the next health check", func() {
				start()
				Eventually(interceptor.Established).Should(Equal(1))
				first := interceptor.Last()

				first.Invalidate()

				Eventually(interceptor.Established).Should(BeNumerically(">=", 2))
				Eventually(func() bool { return interceptor.Last().Valid() }).Should(BeTrue())
				Eventually(blocked).Should(Equal(domain.NewAppSet(appA, appB)))
			})
		})
	})
})
