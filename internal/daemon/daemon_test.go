package daemon_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lumactl/lumactl/internal/config"
	"github.com/lumactl/lumactl/internal/daemon"
	"github.com/lumactl/lumactl/internal/device"
	"github.com/lumactl/lumactl/internal/device/devicetest"
	"github.com/lumactl/lumactl/internal/dispatch"
	"github.com/lumactl/lumactl/internal/hotplug"
	"github.com/lumactl/lumactl/internal/ipc"
)

type brokenProber struct{}

func (brokenProber) Name() string { return "broken" }

func (brokenProber) Probe(context.Context) ([]device.Probed, error) {
	return nil, errors.New("i2c adapter gone")
}

var _ = Describe("Daemon", func() {
	var (
		cfg    *config.Config
		prober *devicetest.Prober
		panel  *devicetest.Fake
	)

	BeforeEach(func() {
		dir, err := os.MkdirTemp("", "lumad")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(os.RemoveAll, dir)

		cfg = config.Default()
		cfg.Socket = filepath.Join(dir, "lumad.sock")
		cfg.Hotplug.Source = config.HotplugPoll
		cfg.Hotplug.PollInterval = time.Hour

		panel = devicetest.New("eDP-1", device.Backlight{}, 0, 1000, 300)
		prober = devicetest.NewProber(panel)
	})

	It("probes before serving and drains on shutdown", func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		d := daemon.New(cfg, prober)
		Expect(d.Start(ctx)).To(Succeed())
		Expect(d.Registry().Snapshot().Generation).To(BeEquivalentTo(1))

		var wg sync.WaitGroup
		done := make(chan error, 1)
		go func() { done <- d.Serve(ctx, &wg) }()

		resp, err := ipc.Do(ctx, cfg.Socket, dispatch.Request{Op: dispatch.OpSetRelative, Value: -10, Unit: dispatch.Percent, Display: "eDP"})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Results).To(ConsistOf(HaveField("Raw", 200)))
		Expect(panel.Value()).To(Equal(200))

		cancel()
		Eventually(done).Should(Receive(BeNil()))
		wg.Wait()
		Expect(d.Close()).To(Succeed())
		Expect(cfg.Socket).NotTo(BeAnExistingFile())
	})

	It("keeps serving the working backends when one prober fails at startup", func() {
		ctx := context.Background()
		d := daemon.New(cfg, brokenProber{}, prober)
		Expect(d.Start(ctx)).To(Succeed())
		DeferCleanup(d.Close)
		Expect(d.Registry().Snapshot().Names()).To(Equal([]string{"eDP-1"}))
		Expect(cfg.Socket).To(BeAnExistingFile())
	})

	It("listens even when every prober fails at startup", func() {
		ctx := context.Background()
		d := daemon.New(cfg, brokenProber{})
		Expect(d.Start(ctx)).To(Succeed())
		DeferCleanup(d.Close)
		Expect(d.Registry().Snapshot().Generation).To(BeZero())
		Expect(cfg.Socket).To(BeAnExistingFile())
	})

	It("serves one connection in one-shot mode", func() {
		ctx := context.Background()
		d := daemon.New(cfg, prober)
		Expect(d.Start(ctx)).To(Succeed())

		done := make(chan error, 1)
		go func() { done <- d.ServeOnce(ctx) }()

		resp, err := ipc.Do(ctx, cfg.Socket, dispatch.Request{Op: dispatch.OpGet, All: true})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Results).To(ConsistOf(HaveField("Value", 300)))
		Eventually(done).Should(Receive(BeNil()))

		_, err = ipc.Do(ctx, cfg.Socket, dispatch.Request{Op: dispatch.OpGet, All: true})
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Sources", func() {
	It("pairs the fsnotify watcher with polling", func() {
		cfg := config.Default()
		cfg.Hotplug.Source = config.HotplugFSNotify
		names := []string{}
		for _, src := range daemon.Sources(cfg) {
			names = append(names, src.Name())
		}
		Expect(names).To(Equal([]string{"fsnotify", "poll"}))
	})

	It("uses the udev monitor by default, falling back to polling", func() {
		sources := daemon.Sources(config.Default())
		Expect(sources).To(HaveLen(1))
		Expect(sources[0].Name()).To(Equal("udev|poll"))
		fallback, ok := sources[0].(*hotplug.FallbackSource)
		Expect(ok).To(BeTrue())
		Expect(fallback.Secondary).To(Equal(&hotplug.PollSource{Interval: config.Default().Hotplug.PollInterval}))
	})
})
