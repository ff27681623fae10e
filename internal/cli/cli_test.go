package cli_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lumactl/lumactl/internal/cli"
	"github.com/lumactl/lumactl/internal/device"
	"github.com/lumactl/lumactl/internal/device/devicetest"
	"github.com/lumactl/lumactl/internal/displays"
	"github.com/lumactl/lumactl/internal/ipc"
	"github.com/lumactl/lumactl/internal/registry"
)

type failingHelper struct{}

func (failingHelper) CurrentDisplays(context.Context) ([]displays.Display, error) {
	return nil, errors.New("wmctl: executable file not found in $PATH")
}

var _ = Describe("lumactl", func() {
	var (
		socket   string
		panel    *devicetest.Fake
		dell     *devicetest.Fake
		stdout   *bytes.Buffer
		stderr   *bytes.Buffer
		helper   displays.Helper
		run      func(args ...string) error
		ctx      context.Context
		cancel   context.CancelFunc
		finished chan error
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		dir, err := os.MkdirTemp("", "lumactl")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(os.RemoveAll, dir)
		socket = filepath.Join(dir, "lumactl.sock")

		panel = devicetest.New("eDP-1", device.Backlight{}, 0, 255, 128)
		dell = devicetest.New("DP-1", device.DDC{}, 0, 100, 40).WithInfo(device.Info{Model: "DELL U2720Q"})
		reg := registry.New(devicetest.NewProber(panel, dell))
		_, err = reg.Refresh(ctx)
		Expect(err).NotTo(HaveOccurred())

		srv := ipc.NewServer(ipc.Config{Path: socket}, reg)
		Expect(srv.Listen()).To(Succeed())
		finished = make(chan error, 1)
		go func() { finished <- srv.Serve(ctx) }()
		DeferCleanup(func() {
			cancel()
			Eventually(finished).Should(Receive())
		})

		stdout, stderr = &bytes.Buffer{}, &bytes.Buffer{}
		helper = displays.Static{{Name: "DP-1"}}
		run = func(args ...string) error {
			opts := cli.Options{Helper: helper, Out: stdout, Err: stderr}
			return cli.Execute(ctx, opts, append(args, "--socket", socket))
		}
	})

	It("prints only the value for a single display", func() {
		Expect(run("get", "--display", "eDP-1")).To(Succeed())
		Expect(stdout.String()).To(Equal("128\n"))
	})

	It("prints one line per display for --all", func() {
		Expect(run("get", "--all", "--percentage")).To(Succeed())
		Expect(stdout.String()).To(Equal("DP-1: 40%\neDP-1: 50%\n"))
	})

	It("uses the helper's current display when no target is given", func() {
		Expect(run("set", "75")).To(Succeed())
		Expect(stdout.String()).To(Equal("75\n"))
		Expect(dell.Value()).To(Equal(75))
		Expect(panel.Value()).To(Equal(128))
	})

	It("falls back to every display when the helper fails", func() {
		helper = failingHelper{}
		Expect(run("set", "100%")).To(Succeed())
		Expect(dell.Value()).To(Equal(100))
		Expect(panel.Value()).To(Equal(255))
	})

	It("accepts negative relative values without --", func() {
		Expect(run("set", "-10%", "--all")).To(Succeed())
		Expect(dell.Value()).To(Equal(30))
		Expect(panel.Value()).To(Equal(128 - 26))
	})

	It("prints successes and fails when one display errors", func() {
		dell.Fail(errors.New("i2c: remote I/O error"))
		err := run("get", "--all")
		Expect(err).To(MatchError(cli.ErrFailed))
		Expect(cli.ExitCode(err)).To(Equal(1))
		Expect(stdout.String()).To(Equal("eDP-1: 128/255\n"))
		Expect(stderr.String()).To(ContainSubstring("DP-1: Unreachable"))
	})

	It("fails for an unknown display", func() {
		err := run("get", "--display", "HDMI-A-3")
		Expect(cli.ExitCode(err)).To(Equal(1))
		Expect(stderr.String()).To(ContainSubstring("DeviceNotFound"))
	})

	It("rejects malformed values before contacting the daemon", func() {
		err := run("set", "bright")
		Expect(err).To(MatchError(device.ErrInvalidRequest))
		Expect(cli.ExitCode(err)).To(Equal(2))
		Expect(dell.Writes.Load()).To(BeZero())
	})

	It("rejects --display together with --all", func() {
		Expect(run("get", "--all", "--display", "DP-1")).NotTo(Succeed())
	})

	It("reports an unreachable daemon", func() {
		err := cli.Execute(ctx, cli.Options{Helper: helper, Out: stdout, Err: stderr}, []string{"get", "--all", "--socket", socket + ".missing"})
		Expect(err).To(MatchError(ContainSubstring("failed to connect")))
	})
})

var _ = Describe("NormalizeArgs", func() {
	DescribeTable("moves negative values behind --",
		func(in, expected []string) {
			Expect(cli.NormalizeArgs(in)).To(Equal(expected))
		},
		Entry("no negatives", []string{"set", "50%", "--all"}, []string{"set", "50%", "--all"}),
		Entry("negative percent", []string{"set", "-10%", "--all"}, []string{"set", "--all", "--", "-10%"}),
		Entry("negative raw", []string{"set", "-5"}, []string{"set", "--", "-5"}),
		Entry("explicit separator", []string{"set", "--", "-5"}, []string{"set", "--", "-5"}),
	)
})
