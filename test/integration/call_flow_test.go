//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/netgate/internal/daemon"
	"github.com/eliteGoblin/focusd/netgate/internal/domain"
	"github.com/eliteGoblin/focusd/netgate/internal/infra"
	"github.com/eliteGoblin/focusd/netgate/test/fixtures"
)

const chat = "com.whatsapp"

var _ = Describe("Engine on the encrypted store", func() {
	var (
		tmpDir      string
		store       *infra.EncryptedStore
		statusFile  *infra.StatusFile
		catalog     *fixtures.FakeCatalog
		usage       *fixtures.FakeUsage
		interceptor *fixtures.FakeInterceptor
		svc         *daemon.Service
	)

	status := func() domain.EngineStatus { return svc.Status() }
	tunnelState := func() domain.TunnelState { return svc.Status().TunnelState }

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "netgate-integration-*")
		Expect(err).NotTo(HaveOccurred())

		mode := infra.NewExecModeConfigWithDir(infra.ExecModeUser, tmpDir)
		key, err := infra.EnsureKey(infra.NewFileKeyProvider(mode.KeyPath()))
		Expect(err).NotTo(HaveOccurred())
		store, err = infra.NewEncryptedStore(mode.StorePath(), key)
		Expect(err).NotTo(HaveOccurred())
		Expect(store.ReplaceSelection(domain.NewAppSet(appA, appB, chat))).To(Succeed())

		statusFile = infra.NewStatusFile(mode.StatusPath(), infra.NewProcessManager())
		catalog = fixtures.NewFakeCatalog(appA, appB, chat, tel)
		usage = &fixtures.FakeUsage{}
		interceptor = fixtures.NewFakeInterceptor()

		svc = daemon.NewService(fastConfig(), daemon.Deps{
			Catalog:     catalog,
			Usage:       usage,
			Telephony:   infra.NewStoreTelephonySource(store, 5*time.Millisecond, zap.NewNop()),
			Selection:   store,
			Interceptor: interceptor,
			Status:      statusFile,
		}, zap.NewNop())
		Expect(svc.Start(context.Background())).To(Succeed())
		Eventually(tunnelState).Should(Equal(domain.TunnelActive))
	})

	AfterEach(func() {
		Expect(svc.Stop()).To(Succeed())
		Expect(interceptor.Live()).To(BeEmpty())
		Expect(store.Close()).To(Succeed())
		os.RemoveAll(tmpDir)
	})

	Describe("status file", func() {
		It("publishes a live snapshot for other processes", func() {
			Eventually(func() int {
				st, err := statusFile.Live()
				if err != nil {
					return 0
				}
				return st.Blocked
			}).Should(Equal(3))

			st, err := statusFile.Live()
			Expect(err).NotTo(HaveOccurred())
			Expect(st.PID).To(Equal(os.Getpid()))
			Expect(st.Text).To(Equal("3 selected apps blocked in background"))
		})

		It("reports not running after stop", func() {
			Expect(svc.Stop()).To(Succeed())
			_, err := statusFile.Live()
			Expect(err).To(MatchError(domain.ErrNotRunning))
			Expect(filepath.Join(tmpDir, "status.json")).To(BeAnExistingFile())
		})
	})

	Describe("selection written by another process", func() {
		It("is picked up by the periodic refresh", func() {
			Expect(store.RemoveSelected(appA)).To(Succeed())

			Eventually(func() domain.AppSet { return interceptor.Blocked(catalog.Names()) }).
				Should(Equal(domain.NewAppSet(appB, chat)))
		})
	})

	Describe("call flow", func() {
		It("drops interception, enters call-safe mode and restores after the call", func() {
			Eventually(func() int { return status().Blocked }).Should(Equal(3))
			before := interceptor.Established()

			Expect(store.SetCallState(domain.TelephonyRinging)).To(Succeed())

			Eventually(func() string { return status().CallState }).Should(Equal("active"))
			Eventually(tunnelState).Should(Equal(domain.TunnelCallSafeActive))

			h := interceptor.Last()
			Expect(interceptor.Established()).To(BeNumerically(">", before))
			Expect(h.Routing()).To(BeFalse(), "call-safe mode routes nothing")
			Expect(h.Excluded().Has(chat)).To(BeTrue())
			Eventually(func() int { return status().Blocked }).Should(Equal(2), "communication app leaves the blocked set")
			Expect(status().Text).To(HavePrefix("Call active"))

			// offhook continues the same call
			Expect(store.SetCallState(domain.TelephonyOffHook)).To(Succeed())
			Consistently(tunnelState, 100*time.Millisecond).Should(Equal(domain.TunnelCallSafeActive))

			Expect(store.SetCallState(domain.TelephonyIdle)).To(Succeed())
			Eventually(func() string { return status().CallState }).Should(Equal("idle"))
			Eventually(tunnelState).Should(Equal(domain.TunnelActive))
			Expect(interceptor.Last().Routing()).To(BeTrue())
			Eventually(func() int { return status().Blocked }).Should(Equal(3))
		})

		It("does not retry failed establishments while a call is active", func() {
			Expect(store.SetCallState(domain.TelephonyRinging)).To(Succeed())
			Eventually(tunnelState).Should(Equal(domain.TunnelCallSafeActive))

			interceptor.FailNext(100)
			Expect(store.RemoveSelected(appB)).To(Succeed())
			svc.SelectionChanged()

			attempts := len(interceptor.Attempts())
			Consistently(func() int { return len(interceptor.Attempts()) }, 200*time.Millisecond).
				Should(Equal(attempts))
			interceptor.FailNext(0)
		})
	})
})
